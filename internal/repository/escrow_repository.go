package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-escrow/internal/repository/common"
)

type EscrowRepository struct {
	db *sqlx.DB
}

func NewEscrowRepository(db *sqlx.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

// Create сохраняет escrow. На контракт допускается один escrow: при повторе вернёт false.
func (r *EscrowRepository) Create(ctx context.Context, e *models.Escrow) (bool, error) {
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, `
		INSERT INTO escrows (contract_id, buyer_id, freelancer_id, amount, commission, status, funding_reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (contract_id) DO NOTHING
		RETURNING id, created_at, updated_at
	`, e.ContractID, e.BuyerID, e.FreelancerID, e.Amount, e.Commission, e.Status, e.FundingReference).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, common.Classify(err, "escrow repository: create", nil)
	}
	return true, nil
}

func (r *EscrowRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	var e models.Escrow
	err := common.Conn(ctx, r.db).GetContext(ctx, &e, `SELECT * FROM escrows WHERE id = $1`, id)
	if err != nil {
		return nil, common.Classify(err, "escrow repository: get by id", apperror.ErrEscrowNotFound)
	}
	return &e, nil
}

func (r *EscrowRepository) GetByContractID(ctx context.Context, contractID uuid.UUID) (*models.Escrow, error) {
	var e models.Escrow
	err := common.Conn(ctx, r.db).GetContext(ctx, &e, `SELECT * FROM escrows WHERE contract_id = $1`, contractID)
	if err != nil {
		return nil, common.Classify(err, "escrow repository: get by contract", apperror.ErrEscrowNotFound)
	}
	return &e, nil
}

// LockByID блокирует строку escrow до конца транзакции.
func (r *EscrowRepository) LockByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	var e models.Escrow
	err := common.Conn(ctx, r.db).GetContext(ctx, &e, `SELECT * FROM escrows WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, common.Classify(err, "escrow repository: lock", apperror.ErrEscrowNotFound)
	}
	return &e, nil
}

// Update сохраняет изменяемые поля escrow.
func (r *EscrowRepository) Update(ctx context.Context, e *models.Escrow) error {
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, `
		UPDATE escrows
		SET status = $2, is_frozen = $3, freeze_reason = $4, released_amount = $5,
		    commission_released = $6, released_at = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, e.ID, e.Status, e.IsFrozen, e.FreezeReason, e.ReleasedAmount, e.CommissionReleased, e.ReleasedAt).
		Scan(&e.UpdatedAt)
	if err != nil {
		return common.Classify(err, "escrow repository: update", apperror.ErrEscrowNotFound)
	}
	return nil
}
