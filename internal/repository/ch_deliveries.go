package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/webq/notify-gateway/internal/model"
)

// CHDeliveriesRepository mirrors delivery-log entries into ClickHouse and
// serves the operator reports endpoint. MySQL email_logs stays authoritative;
// this mirror is best-effort and write failures are only logged by callers.
type CHDeliveriesRepository interface {
	Insert(ctx context.Context, entry model.DeliveryLogEntry) error
	List(ctx context.Context, templateSlug string, status model.DeliveryStatus, limit, offset int) ([]model.DeliveryReportRow, error)
}

type chDeliveriesRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHDeliveriesRepository(ch *sqlx.DB) CHDeliveriesRepository {
	return &chDeliveriesRepository{ch: ch}
}

func (r *chDeliveriesRepository) Insert(ctx context.Context, entry model.DeliveryLogEntry) error {
	const q = `
		INSERT INTO notifygw.deliveries
		    (template_slug, recipient_email, subject, status, error_message, dedup_key, triggered_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, now())
	`
	_, err := r.ch.ExecContext(ctx, q,
		entry.TemplateSlug, entry.RecipientEmail, entry.Subject,
		entry.Status.String(), entry.ErrorMessage, entry.Metadata["dedup_key"],
		entry.TriggeredBy,
	)
	return err
}

func (r *chDeliveriesRepository) List(ctx context.Context, templateSlug string, status model.DeliveryStatus, limit, offset int) ([]model.DeliveryReportRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT template_slug, recipient_email, subject, status, error_message, triggered_by, created_at
		FROM notifygw.deliveries
		WHERE 1 = 1
	`
	args := []any{}

	if templateSlug != "" {
		q += " AND template_slug = ?"
		args = append(args, templateSlug)
	}
	if status != "" {
		q += " AND status = ?"
		args = append(args, status.String())
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.DeliveryReportRow
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
