package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-escrow/internal/repository/common"
)

// LedgerRepository хранит кошельки и журнал транзакций.
type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// EnsureWallet создаёт кошелёк пользователя, если его ещё нет.
func (r *LedgerRepository) EnsureWallet(ctx context.Context, userID uuid.UUID, currency string) error {
	_, err := common.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO wallets (user_id, currency) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, currency)
	return common.Classify(err, "ledger repository: ensure wallet", nil)
}

// GetWallet возвращает кошелёк пользователя.
func (r *LedgerRepository) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := common.Conn(ctx, r.db).GetContext(ctx, &w, `SELECT * FROM wallets WHERE user_id = $1`, userID)
	if err != nil {
		return nil, common.Classify(err, "ledger repository: get wallet", apperror.ErrWalletNotFound)
	}
	return &w, nil
}

// LockWallet блокирует строку кошелька до конца транзакции.
func (r *LedgerRepository) LockWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := common.Conn(ctx, r.db).GetContext(ctx, &w, `SELECT * FROM wallets WHERE user_id = $1 FOR UPDATE`, userID)
	if err != nil {
		return nil, common.Classify(err, "ledger repository: lock wallet", apperror.ErrWalletNotFound)
	}
	return &w, nil
}

// ApplyDelta меняет баланс и накопительные счётчики кошелька.
func (r *LedgerRepository) ApplyDelta(ctx context.Context, userID uuid.UUID, delta, earned, spent decimal.Decimal) error {
	res, err := common.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE wallets
		SET balance = balance + $2,
		    total_earned = total_earned + $3,
		    total_spent = total_spent + $4,
		    updated_at = NOW()
		WHERE user_id = $1
	`, userID, delta, earned, spent)
	if err != nil {
		if common.IsCheckViolation(err) {
			return apperror.ErrInsufficientFunds
		}
		return common.Classify(err, "ledger repository: apply delta", nil)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.ErrWalletNotFound
	}
	return nil
}

// InsertTransaction добавляет транзакцию. Если reference уже занят, возвращает false.
func (r *LedgerRepository) InsertTransaction(ctx context.Context, t *models.Transaction) (bool, error) {
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, `
		INSERT INTO transactions (user_id, type, amount, platform_fee, status, reference, gateway, external_id, remarks, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (reference) DO NOTHING
		RETURNING id, created_at
	`, t.UserID, t.Type, t.Amount, t.PlatformFee, t.Status, t.Reference, t.Gateway, t.ExternalID, t.Remarks, t.CompletedAt).
		Scan(&t.ID, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, common.Classify(err, "ledger repository: insert transaction", nil)
	}
	return true, nil
}

// MarkTransaction переводит pending транзакцию в терминальный статус.
func (r *LedgerRepository) MarkTransaction(ctx context.Context, t *models.Transaction) error {
	res, err := common.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE transactions SET status = $2, external_id = COALESCE($3, external_id), completed_at = $4
		WHERE id = $1 AND status = 'pending'
	`, t.ID, t.Status, t.ExternalID, t.CompletedAt)
	if err != nil {
		return common.Classify(err, "ledger repository: mark transaction", nil)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.New(apperror.ErrCodeConflict, fmt.Sprintf("транзакция %s уже завершена", t.ID))
	}
	return nil
}

// GetTransaction возвращает транзакцию по ID.
func (r *LedgerRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var t models.Transaction
	err := common.Conn(ctx, r.db).GetContext(ctx, &t, `SELECT * FROM transactions WHERE id = $1`, id)
	if err != nil {
		return nil, common.Classify(err, "ledger repository: get transaction", apperror.ErrTransactionNotFound)
	}
	return &t, nil
}

// GetTransactionByReference возвращает транзакцию по ключу идемпотентности.
func (r *LedgerRepository) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var t models.Transaction
	err := common.Conn(ctx, r.db).GetContext(ctx, &t, `SELECT * FROM transactions WHERE reference = $1`, reference)
	if err != nil {
		return nil, common.Classify(err, "ledger repository: get by reference", apperror.ErrTransactionNotFound)
	}
	return &t, nil
}

// LockTransactionByReference блокирует транзакцию по ключу идемпотентности.
func (r *LedgerRepository) LockTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var t models.Transaction
	err := common.Conn(ctx, r.db).GetContext(ctx, &t, `SELECT * FROM transactions WHERE reference = $1 FOR UPDATE`, reference)
	if err != nil {
		return nil, common.Classify(err, "ledger repository: lock by reference", apperror.ErrTransactionNotFound)
	}
	return &t, nil
}

// ListTransactions возвращает историю транзакций пользователя.
func (r *LedgerRepository) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	transactions := []models.Transaction{}
	err := common.Conn(ctx, r.db).SelectContext(ctx, &transactions, `
		SELECT * FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, common.Classify(err, "ledger repository: list transactions", nil)
	}
	return transactions, nil
}
