package model

import "time"

// OutcomeEnvelope is the payload published to Kafka after a queue item
// reaches a terminal state, consumed by back-office read models.
type OutcomeEnvelope struct {
	QueueID      string      `json:"queue_id"`
	TemplateSlug string      `json:"template_slug"`
	Status       QueueStatus `json:"status"`
	Attempts     int         `json:"attempts"`
	ProcessedAt  time.Time   `json:"processed_at"`
}
