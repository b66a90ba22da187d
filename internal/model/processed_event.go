package model

import "time"

// ProcessedEvent records an externally-sourced event that has already been
// handled. Existence of a row is the sole idempotency signal: rows are
// inserted at most once, never updated, and purged only after a long
// retention window.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
