package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/webq/notify-gateway/internal/model"
)

var ErrTemplateNotFound = errors.New("template not found")

type TemplatesRepository interface {
	GetBySlug(ctx context.Context, slug string) (model.EmailTemplate, error)
}

type TemplatesRepositoryImpl struct {
	db *sqlx.DB
}

func NewTemplatesRepository(db *sqlx.DB) *TemplatesRepositoryImpl {
	return &TemplatesRepositoryImpl{db: db}
}

func (r *TemplatesRepositoryImpl) GetBySlug(ctx context.Context, slug string) (model.EmailTemplate, error) {
	const q = `
		SELECT id, slug, name, subject, html_template, sender_email,
		       sender_name, is_active, copy_to_admins, created_at, updated_at
		FROM email_templates
		WHERE slug = ?
	`
	var t model.EmailTemplate
	err := r.db.GetContext(ctx, &t, q, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EmailTemplate{}, ErrTemplateNotFound
	}
	return t, err
}
