package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEvent неизменяемая запись журнала аудита. Seq задаёт общий порядок событий.
type AuditEvent struct {
	Seq        int64           `db:"seq" json:"seq"`
	ID         uuid.UUID       `db:"id" json:"id"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	EntityID   uuid.UUID       `db:"entity_id" json:"entity_id"`
	ActorID    *uuid.UUID      `db:"actor_id" json:"actor_id,omitempty"`
	Verb       string          `db:"verb" json:"verb"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
