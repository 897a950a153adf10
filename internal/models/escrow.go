package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
)

// Escrow удержание средств по контракту.
// Комиссия фиксируется при создании и больше не пересчитывается.
type Escrow struct {
	ID                 uuid.UUID                `db:"id" json:"id"`
	ContractID         uuid.UUID                `db:"contract_id" json:"contract_id"`
	BuyerID            uuid.UUID                `db:"buyer_id" json:"buyer_id"`
	FreelancerID       uuid.UUID                `db:"freelancer_id" json:"freelancer_id"`
	Amount             decimal.Decimal          `db:"amount" json:"amount"`
	Commission         decimal.Decimal          `db:"commission" json:"commission"`
	ReleasedAmount     decimal.Decimal          `db:"released_amount" json:"released_amount"`
	CommissionReleased decimal.Decimal          `db:"commission_released" json:"commission_released"`
	Status             valueobject.EscrowStatus `db:"status" json:"status"`
	IsFrozen           bool                     `db:"is_frozen" json:"is_frozen"`
	FreezeReason       *string                  `db:"freeze_reason" json:"freeze_reason,omitempty"`
	FundingReference   *string                  `db:"funding_reference" json:"funding_reference,omitempty"`
	CreatedAt          time.Time                `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time                `db:"updated_at" json:"updated_at"`
	ReleasedAt         *time.Time               `db:"released_at" json:"released_at,omitempty"`
}

// Remaining возвращает ещё не выплаченную часть удержания.
func (e *Escrow) Remaining() decimal.Decimal {
	return e.Amount.Sub(e.ReleasedAmount)
}

// RemainingCommission возвращает ещё не удержанную часть комиссии.
func (e *Escrow) RemainingCommission() decimal.Decimal {
	return e.Commission.Sub(e.CommissionReleased)
}

// IsParty проверяет, что пользователь участник сделки.
func (e *Escrow) IsParty(userID uuid.UUID) bool {
	return e.BuyerID == userID || e.FreelancerID == userID
}
