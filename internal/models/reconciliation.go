package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReconciliationItem задача ручной сверки после исчерпания повторов.
type ReconciliationItem struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	Kind      string          `db:"kind" json:"kind"`
	RefID     string          `db:"ref_id" json:"ref_id"`
	Reason    string          `db:"reason" json:"reason"`
	Payload   json.RawMessage `db:"payload" json:"payload,omitempty"`
	Attempts  int             `db:"attempts" json:"attempts"`
	Status    string          `db:"status" json:"status"`
	LastError *string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}
