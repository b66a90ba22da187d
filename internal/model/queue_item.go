package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueSent       QueueStatus = "sent"
	QueueFailed     QueueStatus = "failed"
	QueueSkipped    QueueStatus = "skipped"
)

func (s QueueStatus) String() string {
	return string(s)
}

func (s QueueStatus) Valid() bool {
	switch s {
	case QueuePending, QueueProcessing, QueueSent, QueueFailed, QueueSkipped:
		return true
	}
	return false
}

// Terminal reports whether a queue item in this status never transitions
// further without manual re-enqueue.
func (s QueueStatus) Terminal() bool {
	return s == QueueSent || s == QueueFailed || s == QueueSkipped
}

// QueueItem is the DB entity persisted in the notification_queue table.
// Recipients, Variables and Metadata are stored as JSON columns.
type QueueItem struct {
	ID           string      `db:"id"`
	TemplateSlug string      `db:"template_slug"`
	Recipients   StringList  `db:"recipients"`
	Variables    StringMap   `db:"variables"`
	Metadata     StringMap   `db:"metadata"`
	Status       QueueStatus `db:"status"`
	Attempts     int         `db:"attempts"`
	MaxAttempts  int         `db:"max_attempts"`
	DedupKey     string      `db:"dedup_key"`
	ErrorMessage string      `db:"error_message"`
	CreatedBy    string      `db:"created_by"`
	CreatedAt    time.Time   `db:"created_at"`
	ProcessedAt  *time.Time  `db:"processed_at"`
}

// StringList is a []string stored as a JSON column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(src any) error {
	return scanJSON(src, l)
}

// StringMap is a map[string]string stored as a JSON column.
type StringMap map[string]string

func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		m = StringMap{}
	}
	return json.Marshal(m)
}

func (m *StringMap) Scan(src any) error {
	return scanJSON(src, m)
}

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported column type %T", src)
	}
}
