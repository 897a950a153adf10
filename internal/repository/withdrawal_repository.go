package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-escrow/internal/repository/common"
)

type WithdrawalRepository struct {
	db *sqlx.DB
}

func NewWithdrawalRepository(db *sqlx.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

// Create сохраняет заявку. Списание баланса выполняет леджер в той же транзакции.
func (r *WithdrawalRepository) Create(ctx context.Context, w *models.Withdrawal) error {
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, `
		INSERT INTO withdrawals (id, user_id, amount, destination, status, reference)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, w.ID, w.UserID, w.Amount, w.Destination, w.Status, w.Reference).Scan(&w.CreatedAt)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return apperror.New(apperror.ErrCodeConflict, "заявка на вывод уже создана")
		}
		return common.Classify(err, "withdrawal repository: create", nil)
	}
	return nil
}

func (r *WithdrawalRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := common.Conn(ctx, r.db).GetContext(ctx, &w, `SELECT * FROM withdrawals WHERE id = $1`, id)
	if err != nil {
		return nil, common.Classify(err, "withdrawal repository: get by id", apperror.ErrWithdrawalNotFound)
	}
	return &w, nil
}

// LockByID блокирует заявку до конца транзакции.
func (r *WithdrawalRepository) LockByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := common.Conn(ctx, r.db).GetContext(ctx, &w, `SELECT * FROM withdrawals WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, common.Classify(err, "withdrawal repository: lock", apperror.ErrWithdrawalNotFound)
	}
	return &w, nil
}

func (r *WithdrawalRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Withdrawal, error) {
	withdrawals := []models.Withdrawal{}
	err := common.Conn(ctx, r.db).SelectContext(ctx, &withdrawals, `
		SELECT * FROM withdrawals WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, common.Classify(err, "withdrawal repository: list by user", nil)
	}
	return withdrawals, nil
}

// ListPending возвращает заявки, ожидающие обработки администратором.
func (r *WithdrawalRepository) ListPending(ctx context.Context, limit, offset int) ([]models.Withdrawal, error) {
	withdrawals := []models.Withdrawal{}
	err := common.Conn(ctx, r.db).SelectContext(ctx, &withdrawals, `
		SELECT * FROM withdrawals WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, common.Classify(err, "withdrawal repository: list pending", nil)
	}
	return withdrawals, nil
}

func (r *WithdrawalRepository) Update(ctx context.Context, w *models.Withdrawal) error {
	_, err := common.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE withdrawals SET status = $2, rejection_reason = $3, processed_by = $4, processed_at = $5 WHERE id = $1
	`, w.ID, w.Status, w.RejectionReason, w.ProcessedBy, w.ProcessedAt)
	return common.Classify(err, "withdrawal repository: update", nil)
}
