package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/webq/notify-gateway/internal/model"
)

// QueueRepository defines persistence for the notification_queue table.
// Items are created pending by the enqueuer and mutated only by the queue
// processor.
type QueueRepository interface {
	Insert(ctx context.Context, item model.QueueItem) error
	// FetchPending returns up to limit items with status=pending and
	// attempts<max_attempts, oldest first.
	FetchPending(ctx context.Context, limit int) ([]model.QueueItem, error)
	// Claim is the compare-and-swap preventing two overlapping processor
	// runs from picking up the same item: a single conditional UPDATE that
	// moves pending -> processing and increments attempts. claimed=false
	// means another run won.
	Claim(ctx context.Context, id string) (claimed bool, err error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkSkipped(ctx context.Context, id string, reason string, at time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string, at time.Time) error
	// RevertPending moves a non-terminal failure back to pending; the
	// attempts increment from Claim is kept, so max_attempts stays an
	// absolute ceiling.
	RevertPending(ctx context.Context, id string, errMsg string) error
	// RecentTerminal returns the n most recently processed terminal items,
	// newest first.
	RecentTerminal(ctx context.Context, n int) ([]model.QueueItem, error)
	// Cleanup deletes terminal items processed before terminalBefore and
	// pending items created before pendingBefore.
	Cleanup(ctx context.Context, terminalBefore, pendingBefore time.Time) (int64, error)
}

type QueueRepositoryImpl struct {
	db *sqlx.DB
}

func NewQueueRepository(db *sqlx.DB) *QueueRepositoryImpl {
	return &QueueRepositoryImpl{db: db}
}

func (r *QueueRepositoryImpl) Insert(ctx context.Context, item model.QueueItem) error {
	const q = `
		INSERT INTO notification_queue
		    (id, template_slug, recipients, variables, metadata, status, attempts, max_attempts, dedup_key, created_by, created_at)
		VALUES
		    (?,  ?,             ?,          ?,         ?,        'pending', 0,     ?,            ?,         ?,          NOW())
	`
	_, err := r.db.ExecContext(ctx, q,
		item.ID, item.TemplateSlug, item.Recipients, item.Variables, item.Metadata,
		item.MaxAttempts, item.DedupKey, item.CreatedBy,
	)
	return err
}

func (r *QueueRepositoryImpl) FetchPending(ctx context.Context, limit int) ([]model.QueueItem, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, template_slug, recipients, variables, metadata, status,
		       attempts, max_attempts, dedup_key, error_message, created_by,
		       created_at, processed_at
		FROM notification_queue
		WHERE status = 'pending' AND attempts < max_attempts
		ORDER BY created_at ASC
		LIMIT ?
	`
	var items []model.QueueItem
	if err := r.db.SelectContext(ctx, &items, q, limit); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *QueueRepositoryImpl) Claim(ctx context.Context, id string) (bool, error) {
	const q = `
		UPDATE notification_queue
		SET status = 'processing', attempts = attempts + 1
		WHERE id = ? AND status = 'pending'
	`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *QueueRepositoryImpl) MarkSent(ctx context.Context, id string, at time.Time) error {
	const q = `
		UPDATE notification_queue
		SET status = 'sent', error_message = '', processed_at = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, at, id)
	return err
}

func (r *QueueRepositoryImpl) MarkSkipped(ctx context.Context, id string, reason string, at time.Time) error {
	const q = `
		UPDATE notification_queue
		SET status = 'skipped', error_message = ?, processed_at = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, reason, at, id)
	return err
}

func (r *QueueRepositoryImpl) MarkFailed(ctx context.Context, id string, errMsg string, at time.Time) error {
	const q = `
		UPDATE notification_queue
		SET status = 'failed', error_message = ?, processed_at = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, errMsg, at, id)
	return err
}

func (r *QueueRepositoryImpl) RevertPending(ctx context.Context, id string, errMsg string) error {
	const q = `
		UPDATE notification_queue
		SET status = 'pending', error_message = ?, processed_at = NULL
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, errMsg, id)
	return err
}

func (r *QueueRepositoryImpl) RecentTerminal(ctx context.Context, n int) ([]model.QueueItem, error) {
	if n <= 0 {
		n = 5
	}
	const q = `
		SELECT id, template_slug, recipients, variables, metadata, status,
		       attempts, max_attempts, dedup_key, error_message, created_by,
		       created_at, processed_at
		FROM notification_queue
		WHERE processed_at IS NOT NULL
		ORDER BY processed_at DESC
		LIMIT ?
	`
	var items []model.QueueItem
	if err := r.db.SelectContext(ctx, &items, q, n); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *QueueRepositoryImpl) Cleanup(ctx context.Context, terminalBefore, pendingBefore time.Time) (int64, error) {
	const q = `
		DELETE FROM notification_queue
		WHERE (status IN ('sent', 'failed', 'skipped') AND processed_at < ?)
		   OR (status = 'pending' AND created_at < ?)
	`
	res, err := r.db.ExecContext(ctx, q, terminalBefore, pendingBefore)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
