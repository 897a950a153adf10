package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/gateway"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-escrow/internal/retry"
	"github.com/ignatzorin/freelance-escrow/internal/validation"
)

// MinWithdrawalAmount минимальная сумма вывода.
var MinWithdrawalAmount = decimal.NewFromInt(100)

type WithdrawalRepository interface {
	Create(ctx context.Context, w *models.Withdrawal) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Withdrawal, error)
	ListPending(ctx context.Context, limit, offset int) ([]models.Withdrawal, error)
	Update(ctx context.Context, w *models.Withdrawal) error
}

// PaymentLedger операции леджера для пополнений и выводов.
type PaymentLedger interface {
	Debit(ctx context.Context, in LedgerEntry) (*models.Transaction, bool, error)
	RecordPending(ctx context.Context, in LedgerEntry) (*models.Transaction, bool, error)
	Settle(ctx context.Context, reference string, ok bool, externalID string) (*models.Transaction, bool, error)
	Reverse(ctx context.Context, actor Actor, transactionID uuid.UUID, reason string) (*models.Transaction, bool, error)
	GetByReference(ctx context.Context, reference string) (*models.Transaction, error)
}

type GatewayRegistry interface {
	Get(name string) (gateway.Adapter, error)
}

// DepositResult ответ на запрос пополнения.
type DepositResult struct {
	RedirectURL string              `json:"redirect_url"`
	Reference   string              `json:"reference"`
	Transaction *models.Transaction `json:"transaction"`
}

// callbackPayload callback шлюза, сохранённый для ручной сверки.
type callbackPayload struct {
	Gateway   string `json:"gateway"`
	Body      []byte `json:"body"`
	Signature string `json:"signature"`
}

// PaymentService пополнения через платёжные шлюзы и выводы средств.
type PaymentService struct {
	ledger      PaymentLedger
	withdrawals WithdrawalRepository
	gateways    GatewayRegistry
	recon       ReconciliationQueue
	tx          Transactor
	audit       AuditAppender
	retry       retry.Policy
	timeout     time.Duration
	currency    string
	now         func() time.Time
}

func NewPaymentService(
	ledger PaymentLedger,
	withdrawals WithdrawalRepository,
	gateways GatewayRegistry,
	recon ReconciliationQueue,
	tx Transactor,
	audit AuditAppender,
	policy retry.Policy,
	timeout time.Duration,
	currency string,
) *PaymentService {
	if currency == "" {
		currency = models.DefaultCurrency
	}
	return &PaymentService{
		ledger:      ledger,
		withdrawals: withdrawals,
		gateways:    gateways,
		recon:       recon,
		tx:          tx,
		audit:       audit,
		retry:       policy,
		timeout:     timeout,
		currency:    currency,
		now:         utcNow,
	}
}

// InitiateDeposit создаёт платёж в шлюзе и pending транзакцию пополнения.
func (s *PaymentService) InitiateDeposit(ctx context.Context, actor Actor, gatewayName string, amount decimal.Decimal) (*DepositResult, error) {
	if err := valueobject.ValidateAmount(amount); err != nil {
		return nil, err
	}
	adapter, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}

	var res *gateway.InitiateResult
	err = retry.Do(ctx, s.retry, "gateway_initiate", func(ctx context.Context) error {
		gctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		var err error
		res, err = adapter.Initiate(gctx, gateway.InitiateRequest{
			UserID:   actor.ID,
			Amount:   amount,
			Currency: s.currency,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	name := adapter.Name()
	t, _, err := s.ledger.RecordPending(ctx, LedgerEntry{
		UserID:    actor.ID,
		Amount:    amount,
		Type:      models.TransactionTypeDeposit,
		Reference: res.Reference,
		Gateway:   &name,
	})
	if err != nil {
		return nil, err
	}

	logger.With("payments").WithFields(logrus.Fields{
		"user_id":   actor.ID,
		"gateway":   name,
		"reference": res.Reference,
		"amount":    amount.StringFixed(2),
	}).Info("пополнение инициировано")
	return &DepositResult{RedirectURL: res.RedirectURL, Reference: res.Reference, Transaction: t}, nil
}

// HandleCallback проверяет callback шлюза и завершает pending пополнение.
// Если шлюз недоступен после повторов, callback уходит в очередь сверки.
func (s *PaymentService) HandleCallback(ctx context.Context, gatewayName string, cb gateway.Callback) (*models.Transaction, error) {
	t, err := s.handleCallback(ctx, gatewayName, cb)
	if err != nil && apperror.IsTransient(err) {
		sum := sha256.Sum256(cb.Body)
		if _, qerr := s.recon.Enqueue(context.WithoutCancel(ctx), EnqueueInput{
			Kind:    models.ReconKindGatewayCallback,
			RefID:   strings.ToLower(gatewayName) + ":" + hex.EncodeToString(sum[:8]),
			Reason:  "не удалось подтвердить callback платёжного шлюза",
			Payload: callbackPayload{Gateway: gatewayName, Body: cb.Body, Signature: cb.Signature},
			Cause:   err,
		}); qerr != nil {
			logger.With("payments").WithError(qerr).Error("не удалось поставить callback в очередь сверки")
		}
	}
	return t, err
}

// RetryCallback повторяет обработку callback из задачи сверки.
func (s *PaymentService) RetryCallback(ctx context.Context, item *models.ReconciliationItem) error {
	var p callbackPayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeValidation, "повреждены данные callback")
	}
	_, err := s.handleCallback(ctx, p.Gateway, gateway.Callback{Body: p.Body, Signature: p.Signature})
	return err
}

func (s *PaymentService) handleCallback(ctx context.Context, gatewayName string, cb gateway.Callback) (*models.Transaction, error) {
	adapter, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}

	var vr *gateway.VerifyResult
	err = retry.Do(ctx, s.retry, "gateway_verify", func(ctx context.Context) error {
		gctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		var err error
		vr, err = adapter.Verify(gctx, cb)
		return err
	})
	if err != nil {
		return nil, err
	}

	t, applied, err := s.ledger.Settle(ctx, vr.Reference, vr.Status == gateway.StatusSuccess, vr.ExternalID)
	if err != nil {
		return nil, err
	}
	if t.Gateway != nil && !strings.EqualFold(*t.Gateway, adapter.Name()) {
		logger.With("payments").WithFields(logrus.Fields{
			"reference": vr.Reference,
			"expected":  *t.Gateway,
			"gateway":   adapter.Name(),
		}).Warn("callback пришёл от другого шлюза")
	}
	logger.With("payments").WithFields(logrus.Fields{
		"reference": vr.Reference,
		"status":    t.Status,
		"applied":   applied,
	}).Info("callback шлюза обработан")
	return t, nil
}

// RequestWithdrawal резервирует сумму вывода списанием с кошелька.
func (s *PaymentService) RequestWithdrawal(ctx context.Context, actor Actor, amount decimal.Decimal, destination string) (*models.Withdrawal, error) {
	if err := valueobject.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if amount.LessThan(MinWithdrawalAmount) {
		return nil, apperror.New(apperror.ErrCodeValidation, "минимальная сумма вывода 100")
	}
	destination, err := validation.Destination(destination)
	if err != nil {
		return nil, invalid(err)
	}

	id := uuid.New()
	w := &models.Withdrawal{
		ID:          id,
		UserID:      actor.ID,
		Amount:      amount,
		Destination: destination,
		Status:      models.WithdrawalStatusPending,
		Reference:   "withdrawal:" + id.String(),
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, _, err := s.ledger.Debit(ctx, LedgerEntry{
			UserID:    actor.ID,
			Amount:    amount,
			Type:      models.TransactionTypeWithdraw,
			Reference: w.Reference,
		}); err != nil {
			return err
		}
		if err := s.withdrawals.Create(ctx, w); err != nil {
			return err
		}
		return appendAudit(ctx, s.audit, models.EntityWithdrawal, w.ID, &actor.ID, models.VerbWithdrawalRequest, map[string]any{
			"amount":   amount.StringFixed(2),
			partiesKey: parties(actor.ID),
		})
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// CompleteWithdrawal отмечает вывод выполненным. Повтор ничего не меняет.
func (s *PaymentService) CompleteWithdrawal(ctx context.Context, actor Actor, id uuid.UUID) (*models.Withdrawal, error) {
	return s.processWithdrawal(ctx, actor, id, models.WithdrawalStatusCompleted, "")
}

// RejectWithdrawal отклоняет вывод и возвращает сумму на кошелёк.
func (s *PaymentService) RejectWithdrawal(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*models.Withdrawal, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "укажите причину отклонения")
	}
	return s.processWithdrawal(ctx, actor, id, models.WithdrawalStatusRejected, strings.TrimSpace(reason))
}

func (s *PaymentService) processWithdrawal(ctx context.Context, actor Actor, id uuid.UUID, status, reason string) (*models.Withdrawal, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}

	var w *models.Withdrawal
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		w, err = s.withdrawals.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if w.Status == status {
			return nil
		}
		if w.Status != models.WithdrawalStatusPending {
			return apperror.New(apperror.ErrCodeConflict, "заявка на вывод уже обработана")
		}

		verb := models.VerbWithdrawalDone
		if status == models.WithdrawalStatusRejected {
			t, err := s.ledger.GetByReference(ctx, w.Reference)
			if err != nil {
				return err
			}
			if _, _, err := s.ledger.Reverse(ctx, actor, t.ID, reason); err != nil {
				return err
			}
			w.RejectionReason = &reason
			verb = models.VerbWithdrawalReject
		}

		now := s.now()
		w.Status = status
		w.ProcessedBy = &actor.ID
		w.ProcessedAt = &now
		if err := s.withdrawals.Update(ctx, w); err != nil {
			return err
		}
		return appendAudit(ctx, s.audit, models.EntityWithdrawal, w.ID, &actor.ID, verb, map[string]any{
			"amount":   w.Amount.StringFixed(2),
			"reason":   reason,
			partiesKey: parties(w.UserID),
		})
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (s *PaymentService) ListWithdrawals(ctx context.Context, actor Actor, limit, offset int) ([]models.Withdrawal, error) {
	limit, offset = normalizePage(limit, offset)
	return s.withdrawals.ListByUser(ctx, actor.ID, limit, offset)
}

// ListPendingWithdrawals очередь заявок для администратора.
func (s *PaymentService) ListPendingWithdrawals(ctx context.Context, actor Actor, limit, offset int) ([]models.Withdrawal, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	limit, offset = normalizePage(limit, offset)
	return s.withdrawals.ListPending(ctx, limit, offset)
}
