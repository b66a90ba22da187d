package repository

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

const mysqlErrDuplicateEntry = 1062

// ProcessedEventsRepository is the durable idempotency record for
// externally-sourced events. Rows are inserted at most once and never
// updated; a duplicate-key rejection means the event was already handled
// (or is being handled by a concurrent duplicate delivery — both cases are
// treated identically on purpose).
type ProcessedEventsRepository interface {
	// Claim inserts the event marker. Returns claimed=false when a row with
	// the same event_id already exists.
	Claim(ctx context.Context, eventID, eventType string) (claimed bool, err error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type ProcessedEventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewProcessedEventsRepository(db *sqlx.DB) *ProcessedEventsRepositoryImpl {
	return &ProcessedEventsRepositoryImpl{db: db}
}

func (r *ProcessedEventsRepositoryImpl) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	const q = `
		INSERT INTO processed_events (event_id, event_type, processed_at)
		VALUES (?, ?, NOW())
	`
	_, err := r.db.ExecContext(ctx, q, eventID, eventType)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlErrDuplicateEntry {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *ProcessedEventsRepositoryImpl) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM processed_events WHERE processed_at < ?`
	res, err := r.db.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
