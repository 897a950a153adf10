package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
)

// Contract соглашение между заказчиком и фрилансером по проекту.
type Contract struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	ProjectID    uuid.UUID       `db:"project_id" json:"project_id"`
	BuyerID      uuid.UUID       `db:"buyer_id" json:"buyer_id"`
	FreelancerID uuid.UUID       `db:"freelancer_id" json:"freelancer_id"`
	TotalAmount  decimal.Decimal `db:"total_amount" json:"total_amount"`
	Commission   decimal.Decimal `db:"commission" json:"commission"`
	Status       string          `db:"status" json:"status"`
	StartedAt    time.Time       `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	Milestones   []Milestone     `db:"-" json:"milestones,omitempty"`
}

// IsParty проверяет, что пользователь участник контракта.
func (c *Contract) IsParty(userID uuid.UUID) bool {
	return c.BuyerID == userID || c.FreelancerID == userID
}

// Milestone этап контракта с собственной суммой оплаты.
type Milestone struct {
	ID          uuid.UUID                   `db:"id" json:"id"`
	ContractID  uuid.UUID                   `db:"contract_id" json:"contract_id"`
	Title       string                      `db:"title" json:"title"`
	Amount      decimal.Decimal             `db:"amount" json:"amount"`
	Status      valueobject.MilestoneStatus `db:"status" json:"status"`
	DueDate     *time.Time                  `db:"due_date" json:"due_date,omitempty"`
	Feedback    *string                     `db:"feedback" json:"feedback,omitempty"`
	CreatedAt   time.Time                   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time                   `db:"updated_at" json:"updated_at"`
	SubmittedAt *time.Time                  `db:"submitted_at" json:"submitted_at,omitempty"`
	PaidAt      *time.Time                  `db:"paid_at" json:"paid_at,omitempty"`
}
