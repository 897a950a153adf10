package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Withdrawal struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	UserID          uuid.UUID       `db:"user_id" json:"user_id"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	Destination     string          `db:"destination" json:"destination"`
	Status          string          `db:"status" json:"status"`
	Reference       string          `db:"reference" json:"reference"`
	RejectionReason *string         `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ProcessedBy     *uuid.UUID      `db:"processed_by" json:"processed_by,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt     *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}
