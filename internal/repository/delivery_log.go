package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/webq/notify-gateway/internal/model"
)

// DeliveryLogRepository is the append-only email_logs table: audit trail and
// dedup lookup source in one.
type DeliveryLogRepository interface {
	Insert(ctx context.Context, entry model.DeliveryLogEntry) error
	// HasRecentDedup reports whether a same-template entry carrying dedupKey
	// was created at or after since. The check is read-then-write relative
	// to the caller's following Insert; that gives at-most-one delivery per
	// window, not strict mutual exclusion, which is all the business needs.
	HasRecentDedup(ctx context.Context, templateSlug, dedupKey string, since time.Time) (bool, error)
}

type DeliveryLogRepositoryImpl struct {
	db *sqlx.DB
}

func NewDeliveryLogRepository(db *sqlx.DB) *DeliveryLogRepositoryImpl {
	return &DeliveryLogRepositoryImpl{db: db}
}

func (r *DeliveryLogRepositoryImpl) Insert(ctx context.Context, entry model.DeliveryLogEntry) error {
	const q = `
		INSERT INTO email_logs
		    (template_slug, template_name, recipient_email, subject, status,
		     provider_id, error_message, variables, metadata, triggered_by,
		     dedup_key, created_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())
	`
	_, err := r.db.ExecContext(ctx, q,
		entry.TemplateSlug, entry.TemplateName, entry.RecipientEmail,
		entry.Subject, entry.Status.String(), entry.ProviderID,
		entry.ErrorMessage, entry.Variables, entry.Metadata,
		entry.TriggeredBy, entry.Metadata["dedup_key"],
	)
	return err
}

func (r *DeliveryLogRepositoryImpl) HasRecentDedup(ctx context.Context, templateSlug, dedupKey string, since time.Time) (bool, error) {
	// dedup_key is denormalized out of metadata into its own indexed column
	// so this lookup does not scan JSON.
	const q = `
		SELECT COUNT(*) FROM email_logs
		WHERE template_slug = ? AND dedup_key = ? AND created_at >= ?
	`
	var n int
	if err := r.db.GetContext(ctx, &n, q, templateSlug, dedupKey, since); err != nil {
		return false, err
	}
	return n > 0, nil
}
