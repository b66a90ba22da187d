package model

import "time"

// EmailTemplate is a row in email_templates. Subject and HTML carry literal
// {{key}} placeholders substituted from a queue item's variables.
type EmailTemplate struct {
	ID           int64     `db:"id"`
	Slug         string    `db:"slug"`
	Name         string    `db:"name"`
	Subject      string    `db:"subject"`
	HTML         string    `db:"html_template"`
	SenderEmail  string    `db:"sender_email"`
	SenderName   string    `db:"sender_name"`
	Active       bool      `db:"is_active"`
	CopyToAdmins bool      `db:"copy_to_admins"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}
