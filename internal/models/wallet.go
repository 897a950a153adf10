package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet баланс пользователя. Меняется только через операции леджера.
type Wallet struct {
	UserID      uuid.UUID       `db:"user_id" json:"user_id"`
	Balance     decimal.Decimal `db:"balance" json:"balance"`
	TotalEarned decimal.Decimal `db:"total_earned" json:"total_earned"`
	TotalSpent  decimal.Decimal `db:"total_spent" json:"total_spent"`
	Currency    string          `db:"currency" json:"currency"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Transaction запись журнала леджера. Reference служит ключом идемпотентности.
type Transaction struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	UserID      uuid.UUID       `db:"user_id" json:"user_id"`
	Type        string          `db:"type" json:"type"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	PlatformFee decimal.Decimal `db:"platform_fee" json:"platform_fee"`
	Status      string          `db:"status" json:"status"`
	Reference   string          `db:"reference" json:"reference"`
	Gateway     *string         `db:"gateway" json:"gateway,omitempty"`
	ExternalID  *string         `db:"external_id" json:"external_id,omitempty"`
	Remarks     *string         `db:"remarks" json:"remarks,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// IsTerminal сообщает, что транзакция больше не меняется.
func (t *Transaction) IsTerminal() bool {
	return t.Status != TransactionStatusPending
}

// IsCreditType сообщает, увеличивает ли транзакция этого типа баланс.
func IsCreditType(txType string) bool {
	switch txType {
	case TransactionTypeDeposit, TransactionTypeEscrowRelease, TransactionTypeRefund:
		return true
	}
	return false
}

// IsValidTransactionType проверяет тип транзакции.
func IsValidTransactionType(txType string) bool {
	switch txType {
	case TransactionTypeDeposit, TransactionTypeWithdraw, TransactionTypeEscrowHold,
		TransactionTypeEscrowRelease, TransactionTypeRefund:
		return true
	}
	return false
}
