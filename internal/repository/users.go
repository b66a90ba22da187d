package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// UsersRepository resolves user identifiers to email addresses. Both methods
// query fresh on every call: operator membership and user identity change
// underneath us, so nothing here is cached.
type UsersRepository interface {
	// EmailsByIDs batch-resolves user IDs to addresses in one round trip.
	// IDs absent from the result simply did not resolve; that is a signal,
	// not an error.
	EmailsByIDs(ctx context.Context, ids []string) (map[string]string, error)
	// AdminEmails returns the addresses of every user holding the admin
	// role, used for operator fan-out and escalation alerts.
	AdminEmails(ctx context.Context) ([]string, error)
	// AdminIDs returns the user IDs of every admin, for enqueue fan-out
	// where resolution is deferred to processing time.
	AdminIDs(ctx context.Context) ([]string, error)
}

type UsersRepositoryImpl struct {
	db *sqlx.DB
}

func NewUsersRepository(db *sqlx.DB) *UsersRepositoryImpl {
	return &UsersRepositoryImpl{db: db}
}

func (r *UsersRepositoryImpl) EmailsByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	const base = `SELECT id, email FROM users WHERE id IN (?)`
	query, args, err := sqlx.In(base, ids)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	rows := []struct {
		ID    string `db:"id"`
		Email string `db:"email"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		if row.Email != "" {
			out[row.ID] = row.Email
		}
	}
	return out, nil
}

func (r *UsersRepositoryImpl) AdminEmails(ctx context.Context) ([]string, error) {
	const q = `
		SELECT u.email
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.id
		WHERE ur.role = 'admin' AND u.email <> ''
	`
	var emails []string
	if err := r.db.SelectContext(ctx, &emails, q); err != nil {
		return nil, err
	}
	return emails, nil
}

func (r *UsersRepositoryImpl) AdminIDs(ctx context.Context) ([]string, error) {
	const q = `SELECT user_id FROM user_roles WHERE role = 'admin'`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, q); err != nil {
		return nil, err
	}
	return ids, nil
}
