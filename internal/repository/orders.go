package repository

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
)

var ErrOrderNotFound = errors.New("order not found")

// OrdersRepository is the narrow slice of the back office's order records the
// webhook pipeline touches. Everything else about orders lives elsewhere.
type OrdersRepository interface {
	MarkOrderPaid(ctx context.Context, orderID, sessionID string) error
}

type OrdersRepositoryImpl struct {
	db *sqlx.DB
}

func NewOrdersRepository(db *sqlx.DB) *OrdersRepositoryImpl {
	return &OrdersRepositoryImpl{db: db}
}

func (r *OrdersRepositoryImpl) MarkOrderPaid(ctx context.Context, orderID, sessionID string) error {
	const q = `
		UPDATE orders
		SET payment_status = 'paid', checkout_session_id = ?, updated_at = NOW()
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, q, sessionID, orderID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

var _ OrdersRepository = (*OrdersRepositoryImpl)(nil)
