package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-escrow/internal/repository/common"
)

// ContractRepository хранит контракты и их этапы.
type ContractRepository struct {
	db *sqlx.DB
}

func NewContractRepository(db *sqlx.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

// Create сохраняет контракт. Контракт по проекту один: при повторе вернёт false.
func (r *ContractRepository) Create(ctx context.Context, c *models.Contract) (bool, error) {
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, `
		INSERT INTO contracts (project_id, buyer_id, freelancer_id, total_amount, commission, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id) DO NOTHING
		RETURNING id, started_at
	`, c.ProjectID, c.BuyerID, c.FreelancerID, c.TotalAmount, c.Commission, c.Status).
		Scan(&c.ID, &c.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, common.Classify(err, "contract repository: create", nil)
	}
	return true, nil
}

func (r *ContractRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	var c models.Contract
	err := common.Conn(ctx, r.db).GetContext(ctx, &c, `SELECT * FROM contracts WHERE id = $1`, id)
	if err != nil {
		return nil, common.Classify(err, "contract repository: get by id", apperror.ErrContractNotFound)
	}
	return &c, nil
}

func (r *ContractRepository) GetByProjectID(ctx context.Context, projectID uuid.UUID) (*models.Contract, error) {
	var c models.Contract
	err := common.Conn(ctx, r.db).GetContext(ctx, &c, `SELECT * FROM contracts WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, common.Classify(err, "contract repository: get by project", apperror.ErrContractNotFound)
	}
	return &c, nil
}

// LockByID блокирует контракт, чтобы сериализовать изменения списка этапов.
func (r *ContractRepository) LockByID(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	var c models.Contract
	err := common.Conn(ctx, r.db).GetContext(ctx, &c, `SELECT * FROM contracts WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, common.Classify(err, "contract repository: lock", apperror.ErrContractNotFound)
	}
	return &c, nil
}

// MarkCompleted закрывает контракт.
func (r *ContractRepository) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := common.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE contracts SET status = 'completed', completed_at = $2 WHERE id = $1 AND completed_at IS NULL
	`, id, at)
	return common.Classify(err, "contract repository: mark completed", nil)
}

// CreateMilestone добавляет этап контракта.
func (r *ContractRepository) CreateMilestone(ctx context.Context, m *models.Milestone) error {
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, `
		INSERT INTO milestones (contract_id, title, amount, status, due_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, m.ContractID, m.Title, m.Amount, m.Status, m.DueDate).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	return common.Classify(err, "contract repository: create milestone", nil)
}

func (r *ContractRepository) GetMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	var m models.Milestone
	err := common.Conn(ctx, r.db).GetContext(ctx, &m, `SELECT * FROM milestones WHERE id = $1`, id)
	if err != nil {
		return nil, common.Classify(err, "contract repository: get milestone", apperror.ErrMilestoneNotFound)
	}
	return &m, nil
}

// LockMilestone блокирует этап до конца транзакции.
func (r *ContractRepository) LockMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	var m models.Milestone
	err := common.Conn(ctx, r.db).GetContext(ctx, &m, `SELECT * FROM milestones WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, common.Classify(err, "contract repository: lock milestone", apperror.ErrMilestoneNotFound)
	}
	return &m, nil
}

// UpdateMilestone сохраняет статус этапа и связанные отметки времени.
func (r *ContractRepository) UpdateMilestone(ctx context.Context, m *models.Milestone) error {
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, `
		UPDATE milestones
		SET status = $2, feedback = $3, submitted_at = $4, paid_at = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, m.ID, m.Status, m.Feedback, m.SubmittedAt, m.PaidAt).Scan(&m.UpdatedAt)
	return common.Classify(err, "contract repository: update milestone", apperror.ErrMilestoneNotFound)
}

// ListMilestones возвращает этапы контракта в порядке создания.
func (r *ContractRepository) ListMilestones(ctx context.Context, contractID uuid.UUID) ([]models.Milestone, error) {
	milestones := []models.Milestone{}
	err := common.Conn(ctx, r.db).SelectContext(ctx, &milestones, `
		SELECT * FROM milestones WHERE contract_id = $1 ORDER BY created_at ASC
	`, contractID)
	if err != nil {
		return nil, common.Classify(err, "contract repository: list milestones", nil)
	}
	return milestones, nil
}

// SumMilestones возвращает сумму всех этапов контракта.
func (r *ContractRepository) SumMilestones(ctx context.Context, contractID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := common.Conn(ctx, r.db).GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount), 0) FROM milestones WHERE contract_id = $1
	`, contractID)
	if err != nil {
		return decimal.Zero, common.Classify(err, "contract repository: sum milestones", nil)
	}
	return sum, nil
}

// CountUnpaid возвращает число этапов контракта, ещё не оплаченных.
func (r *ContractRepository) CountUnpaid(ctx context.Context, contractID uuid.UUID) (int, error) {
	var n int
	err := common.Conn(ctx, r.db).GetContext(ctx, &n, `
		SELECT COUNT(*) FROM milestones WHERE contract_id = $1 AND status <> $2
	`, contractID, valueobject.MilestoneStatusPaid)
	if err != nil {
		return 0, common.Classify(err, "contract repository: count unpaid", nil)
	}
	return n, nil
}
