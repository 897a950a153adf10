package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification уведомление стороне о событии журнала аудита.
// AuditSeq пуст у уведомлений, созданных не из журнала.
type Notification struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	UserID     uuid.UUID       `db:"user_id" json:"user_id"`
	Event      string          `db:"event" json:"event"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	EntityID   uuid.UUID       `db:"entity_id" json:"entity_id"`
	AuditSeq   *int64          `db:"audit_seq" json:"audit_seq,omitempty"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	IsRead     bool            `db:"is_read" json:"is_read"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
