package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/metrics"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

type LedgerRepository interface {
	EnsureWallet(ctx context.Context, userID uuid.UUID, currency string) error
	GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	LockWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	ApplyDelta(ctx context.Context, userID uuid.UUID, delta, earned, spent decimal.Decimal) error
	InsertTransaction(ctx context.Context, t *models.Transaction) (bool, error)
	MarkTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error)
	LockTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error)
}

// LedgerEntry описывает одно движение по кошельку.
type LedgerEntry struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Type        string
	Reference   string
	PlatformFee decimal.Decimal
	Gateway     *string
	Remarks     *string
}

// LedgerService единственное место, где меняется баланс кошелька.
// Каждая операция идемпотентна по reference.
type LedgerService struct {
	repo     LedgerRepository
	tx       Transactor
	audit    AuditAppender
	currency string
	now      func() time.Time
}

func NewLedgerService(repo LedgerRepository, tx Transactor, audit AuditAppender, currency string) *LedgerService {
	if currency == "" {
		currency = models.DefaultCurrency
	}
	return &LedgerService{repo: repo, tx: tx, audit: audit, currency: currency, now: utcNow}
}

// Credit зачисляет сумму на кошелёк. Повтор с тем же reference возвращает
// существующую транзакцию и applied=false.
func (s *LedgerService) Credit(ctx context.Context, in LedgerEntry) (*models.Transaction, bool, error) {
	if !models.IsCreditType(in.Type) {
		return nil, false, apperror.New(apperror.ErrCodeValidation, "тип транзакции не является зачислением")
	}
	return s.apply(ctx, in)
}

// Debit списывает сумму с кошелька. Баланс не может стать отрицательным.
func (s *LedgerService) Debit(ctx context.Context, in LedgerEntry) (*models.Transaction, bool, error) {
	if !models.IsValidTransactionType(in.Type) || models.IsCreditType(in.Type) {
		return nil, false, apperror.New(apperror.ErrCodeValidation, "тип транзакции не является списанием")
	}
	return s.apply(ctx, in)
}

func (s *LedgerService) apply(ctx context.Context, in LedgerEntry) (*models.Transaction, bool, error) {
	if err := validateEntry(in); err != nil {
		return nil, false, err
	}

	var (
		result  *models.Transaction
		applied bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.findExisting(ctx, in)
		if err != nil || existing != nil {
			result = existing
			return err
		}

		if err := s.repo.EnsureWallet(ctx, in.UserID, s.currency); err != nil {
			return err
		}
		wallet, err := s.repo.LockWallet(ctx, in.UserID)
		if err != nil {
			return err
		}
		credit := models.IsCreditType(in.Type)
		if !credit && wallet.Balance.LessThan(in.Amount) {
			return apperror.ErrInsufficientFunds
		}

		t := newTransaction(in, models.TransactionStatusPending)
		inserted, err := s.repo.InsertTransaction(ctx, t)
		if err != nil {
			return err
		}
		if !inserted {
			// Параллельная операция с тем же reference успела раньше
			result, err = s.repo.GetTransactionByReference(ctx, in.Reference)
			return err
		}

		delta := in.Amount
		if !credit {
			delta = delta.Neg()
		}
		earned, spent := counters(in.Type, in.Amount)
		if err := s.repo.ApplyDelta(ctx, in.UserID, delta, earned, spent); err != nil {
			return err
		}

		completed := s.now()
		t.Status = models.TransactionStatusSuccess
		t.CompletedAt = &completed
		if err := s.repo.MarkTransaction(ctx, t); err != nil {
			return err
		}
		result, applied = t, true
		return nil
	})

	metrics.LedgerTransactions.WithLabelValues(in.Type, metrics.Outcome(applied, err)).Inc()
	if err != nil {
		return nil, false, err
	}
	if applied {
		logger.With("ledger").WithFields(logrus.Fields{
			"user_id":   in.UserID,
			"type":      in.Type,
			"amount":    in.Amount.StringFixed(2),
			"reference": in.Reference,
		}).Info("транзакция проведена")
	}
	return result, applied, nil
}

// findExisting возвращает транзакцию с тем же reference, если она уже есть.
func (s *LedgerService) findExisting(ctx context.Context, in LedgerEntry) (*models.Transaction, error) {
	existing, err := s.repo.GetTransactionByReference(ctx, in.Reference)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if existing.UserID != in.UserID || !existing.Amount.Equal(in.Amount) || existing.Type != in.Type {
		logger.With("ledger").WithFields(logrus.Fields{
			"reference": in.Reference,
			"existing":  existing.ID,
		}).Warn("reference уже использован для другой операции")
	}
	return existing, nil
}

// RecordPending создаёт pending транзакцию без движения средств.
// Используется для пополнений, которые подтверждает платёжный шлюз.
func (s *LedgerService) RecordPending(ctx context.Context, in LedgerEntry) (*models.Transaction, bool, error) {
	if err := validateEntry(in); err != nil {
		return nil, false, err
	}

	var (
		result  *models.Transaction
		created bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.findExisting(ctx, in)
		if err != nil || existing != nil {
			result = existing
			return err
		}
		if err := s.repo.EnsureWallet(ctx, in.UserID, s.currency); err != nil {
			return err
		}
		t := newTransaction(in, models.TransactionStatusPending)
		inserted, err := s.repo.InsertTransaction(ctx, t)
		if err != nil {
			return err
		}
		if !inserted {
			result, err = s.repo.GetTransactionByReference(ctx, in.Reference)
			return err
		}
		result, created = t, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// Settle завершает pending транзакцию. При ok=true средства проводятся по кошельку,
// иначе транзакция помечается failed. Повторный вызов для завершённой
// транзакции ничего не меняет.
func (s *LedgerService) Settle(ctx context.Context, reference string, ok bool, externalID string) (*models.Transaction, bool, error) {
	var (
		result  *models.Transaction
		applied bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.LockTransactionByReference(ctx, reference)
		if err != nil {
			return err
		}
		result = t
		if t.IsTerminal() {
			return nil
		}

		if ok {
			wallet, err := s.repo.LockWallet(ctx, t.UserID)
			if err != nil {
				return err
			}
			delta := t.Amount
			if !models.IsCreditType(t.Type) {
				if wallet.Balance.LessThan(t.Amount) {
					return apperror.ErrInsufficientFunds
				}
				delta = delta.Neg()
			}
			earned, spent := counters(t.Type, t.Amount)
			if err := s.repo.ApplyDelta(ctx, t.UserID, delta, earned, spent); err != nil {
				return err
			}
			t.Status = models.TransactionStatusSuccess
		} else {
			t.Status = models.TransactionStatusFailed
		}

		completed := s.now()
		t.CompletedAt = &completed
		if externalID != "" {
			t.ExternalID = &externalID
		}
		if err := s.repo.MarkTransaction(ctx, t); err != nil {
			return err
		}
		applied = true
		return nil
	})

	outcome := metrics.Outcome(applied, err)
	if result != nil {
		metrics.LedgerTransactions.WithLabelValues(result.Type, outcome).Inc()
	}
	if err != nil {
		return nil, false, err
	}
	if applied {
		logger.With("ledger").WithFields(logrus.Fields{
			"reference": reference,
			"status":    result.Status,
		}).Info("pending транзакция завершена")
	}
	return result, applied, nil
}

// Reverse создаёт компенсирующую транзакцию со статусом reversed.
// Исходная транзакция не меняется. Повторный вызов возвращает ту же компенсацию.
func (s *LedgerService) Reverse(ctx context.Context, actor Actor, transactionID uuid.UUID, reason string) (*models.Transaction, bool, error) {
	var (
		result  *models.Transaction
		applied bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		orig, err := s.repo.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if orig.Status != models.TransactionStatusSuccess {
			return apperror.New(apperror.ErrCodeConflict, "отменить можно только успешную транзакцию")
		}

		reference := "reversal:" + orig.Reference
		existing, err := s.repo.GetTransactionByReference(ctx, reference)
		if err == nil {
			result = existing
			return nil
		}
		if !apperror.IsNotFound(err) {
			return err
		}

		wallet, err := s.repo.LockWallet(ctx, orig.UserID)
		if err != nil {
			return err
		}
		delta := orig.Amount
		if models.IsCreditType(orig.Type) {
			if wallet.Balance.LessThan(orig.Amount) {
				return apperror.ErrInsufficientFunds
			}
			delta = delta.Neg()
		}

		completed := s.now()
		t := &models.Transaction{
			UserID:      orig.UserID,
			Type:        orig.Type,
			Amount:      orig.Amount,
			PlatformFee: decimal.Zero,
			Status:      models.TransactionStatusReversed,
			Reference:   reference,
			Gateway:     orig.Gateway,
			CompletedAt: &completed,
		}
		if reason != "" {
			t.Remarks = &reason
		}
		inserted, err := s.repo.InsertTransaction(ctx, t)
		if err != nil {
			return err
		}
		if !inserted {
			result, err = s.repo.GetTransactionByReference(ctx, reference)
			return err
		}

		earned, spent := counters(orig.Type, orig.Amount)
		if err := s.repo.ApplyDelta(ctx, orig.UserID, delta, earned.Neg(), spent.Neg()); err != nil {
			return err
		}
		if err := appendAudit(ctx, s.audit, models.EntityTransaction, orig.ID, actorRef(actor), models.VerbTransactionReversed, map[string]any{
			"reference":   orig.Reference,
			"reversal_id": t.ID.String(),
			"amount":      orig.Amount.StringFixed(2),
			"reason":      reason,
			partiesKey:    parties(orig.UserID),
		}); err != nil {
			return err
		}
		result, applied = t, true
		return nil
	})

	metrics.LedgerTransactions.WithLabelValues(models.TransactionStatusReversed, metrics.Outcome(applied, err)).Inc()
	if err != nil {
		return nil, false, err
	}
	return result, applied, nil
}

// GetByReference возвращает транзакцию по ключу идемпотентности.
func (s *LedgerService) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	return s.repo.GetTransactionByReference(ctx, reference)
}

// GetWallet возвращает кошелёк пользователя, создавая пустой при первом обращении.
func (s *LedgerService) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	if err := s.repo.EnsureWallet(ctx, userID, s.currency); err != nil {
		return nil, err
	}
	return s.repo.GetWallet(ctx, userID)
}

func (s *LedgerService) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	limit, offset = normalizePage(limit, offset)
	return s.repo.ListTransactions(ctx, userID, limit, offset)
}

func validateEntry(in LedgerEntry) error {
	if in.UserID == uuid.Nil {
		return apperror.New(apperror.ErrCodeValidation, "не указан пользователь")
	}
	if !models.IsValidTransactionType(in.Type) {
		return apperror.New(apperror.ErrCodeValidation, "некорректный тип транзакции")
	}
	if strings.TrimSpace(in.Reference) == "" {
		return apperror.New(apperror.ErrCodeValidation, "не указан reference транзакции")
	}
	if err := valueobject.ValidateAmount(in.Amount); err != nil {
		return err
	}
	if in.PlatformFee.IsNegative() {
		return apperror.New(apperror.ErrCodeValidation, "комиссия не может быть отрицательной")
	}
	return nil
}

func newTransaction(in LedgerEntry, status string) *models.Transaction {
	return &models.Transaction{
		UserID:      in.UserID,
		Type:        in.Type,
		Amount:      in.Amount,
		PlatformFee: in.PlatformFee,
		Status:      status,
		Reference:   in.Reference,
		Gateway:     in.Gateway,
		Remarks:     in.Remarks,
	}
}

// counters: total_earned растёт только от выплат из escrow, total_spent только от удержаний.
func counters(txType string, amount decimal.Decimal) (earned, spent decimal.Decimal) {
	switch txType {
	case models.TransactionTypeEscrowRelease:
		return amount, decimal.Zero
	case models.TransactionTypeEscrowHold:
		return decimal.Zero, amount
	}
	return decimal.Zero, decimal.Zero
}
