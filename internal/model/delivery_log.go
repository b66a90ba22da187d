package model

import "time"

type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliverySkipped DeliveryStatus = "skipped"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) Valid() bool {
	return s == DeliverySent || s == DeliveryFailed || s == DeliverySkipped
}

// Why a delivery was skipped; stored in metadata under "reason".
const (
	SkipReasonDuplicate        = "duplicate"
	SkipReasonUserNotFound     = "user_not_found"
	SkipReasonInvalidRecipient = "invalid_recipient_format"
	SkipReasonTemplateInactive = "template_inactive"
)

// DeliveryReportRow is the flattened shape served by the ClickHouse-backed
// reports endpoint.
type DeliveryReportRow struct {
	TemplateSlug   string    `db:"template_slug" json:"template_slug"`
	RecipientEmail string    `db:"recipient_email" json:"recipient_email"`
	Subject        string    `db:"subject" json:"subject"`
	Status         string    `db:"status" json:"status"`
	ErrorMessage   string    `db:"error_message" json:"error_message,omitempty"`
	TriggeredBy    string    `db:"triggered_by" json:"triggered_by"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// DeliveryLogEntry is an append-only row in email_logs. It doubles as the
// audit trail and as the dedup lookup source: a recent entry carrying the
// same template and dedup_key blocks a duplicate send.
type DeliveryLogEntry struct {
	ID             int64          `db:"id"`
	TemplateSlug   string         `db:"template_slug"`
	TemplateName   string         `db:"template_name"`
	RecipientEmail string         `db:"recipient_email"`
	Subject        string         `db:"subject"`
	Status         DeliveryStatus `db:"status"`
	ProviderID     string         `db:"provider_id"`
	ErrorMessage   string         `db:"error_message"`
	Variables      StringMap      `db:"variables"`
	Metadata       StringMap      `db:"metadata"`
	TriggeredBy    string         `db:"triggered_by"`
	CreatedAt      time.Time      `db:"created_at"`
}
