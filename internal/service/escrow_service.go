package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/commission"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/lock"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/metrics"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

type EscrowRepository interface {
	Create(ctx context.Context, e *models.Escrow) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error)
	GetByContractID(ctx context.Context, contractID uuid.UUID) (*models.Escrow, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error)
	Update(ctx context.Context, e *models.Escrow) error
}

// EscrowLedger операции леджера, нужные escrow.
type EscrowLedger interface {
	Credit(ctx context.Context, in LedgerEntry) (*models.Transaction, bool, error)
	Debit(ctx context.Context, in LedgerEntry) (*models.Transaction, bool, error)
	GetByReference(ctx context.Context, reference string) (*models.Transaction, error)
}

// HoldInput параметры удержания средств по контракту.
type HoldInput struct {
	ContractID   uuid.UUID
	BuyerID      uuid.UUID
	FreelancerID uuid.UUID
	Amount       decimal.Decimal
	// FundFromWallet списывает сумму удержания с кошелька заказчика.
	FundFromWallet bool
}

// ReleaseRequest закрытие escrow целиком.
type ReleaseRequest struct {
	Target valueobject.ReleaseTarget
	// Ratio доля фрилансера при Target=split.
	Ratio decimal.Decimal
	// Unfreeze снимает заморозку в той же операции (решение по спору).
	Unfreeze bool
}

// DisputeLookup читает спор, которому принадлежит заморозка escrow.
type DisputeLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
}

// disputeFreezePrefix причина заморозки, поставленной открытием спора.
const disputeFreezePrefix = "dispute:"

type heldLockKey struct{ key string }

// EscrowService управляет удержаниями. Все изменения escrow выполняются под
// блокировкой escrow:<id>, а затем в транзакции БД.
type EscrowService struct {
	repo     EscrowRepository
	disputes DisputeLookup
	ledger   EscrowLedger
	tx       Transactor
	audit    AuditAppender
	locker   lock.Locker
	policy   commission.Policy
	lockTTL  time.Duration
	lockWait time.Duration
	now      func() time.Time
}

func NewEscrowService(
	repo EscrowRepository,
	disputes DisputeLookup,
	ledger EscrowLedger,
	tx Transactor,
	audit AuditAppender,
	locker lock.Locker,
	policy commission.Policy,
	lockTTL, lockWait time.Duration,
) *EscrowService {
	return &EscrowService{
		repo:     repo,
		disputes: disputes,
		ledger:   ledger,
		tx:       tx,
		audit:    audit,
		locker:   locker,
		policy:   policy,
		lockTTL:  lockTTL,
		lockWait: lockWait,
		now:      utcNow,
	}
}

// Commission возвращает комиссию платформы для суммы контракта.
func (s *EscrowService) Commission(amount decimal.Decimal) decimal.Decimal {
	return s.policy.Commission(amount)
}

// WithLock выполняет fn под блокировкой escrow. Повторный захват той же
// блокировки внутри fn не выполняется.
func (s *EscrowService) WithLock(ctx context.Context, escrowID uuid.UUID, fn func(ctx context.Context) error) error {
	key := "escrow:" + escrowID.String()
	if held, _ := ctx.Value(heldLockKey{key}).(bool); held {
		return fn(ctx)
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	unlock, err := s.locker.Lock(lockCtx, key, s.lockTTL)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return apperror.Wrap(err, apperror.ErrCodeConcurrency, apperror.ErrLockTimeout.Message)
		}
		return apperror.Wrap(err, apperror.ErrCodeConcurrency, "не удалось захватить блокировку escrow")
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.With("escrow").WithField("key", key).WithError(err).Warn("не удалось освободить блокировку")
		}
	}()

	return fn(context.WithValue(ctx, heldLockKey{key}, true))
}

// CreateHold создаёт удержание по контракту. Повтор для того же контракта
// возвращает существующий escrow и applied=false.
func (s *EscrowService) CreateHold(ctx context.Context, in HoldInput) (*models.Escrow, bool, error) {
	if err := valueobject.ValidateAmount(in.Amount); err != nil {
		return nil, false, err
	}
	if in.BuyerID == in.FreelancerID {
		return nil, false, apperror.New(apperror.ErrCodeValidation, "заказчик и исполнитель должны различаться")
	}

	var (
		result  *models.Escrow
		applied bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetByContractID(ctx, in.ContractID)
		if err == nil {
			result = existing
			return nil
		}
		if !apperror.IsNotFound(err) {
			return err
		}

		e := &models.Escrow{
			ID:                 uuid.New(),
			ContractID:         in.ContractID,
			BuyerID:            in.BuyerID,
			FreelancerID:       in.FreelancerID,
			Amount:             in.Amount,
			Commission:         s.policy.Commission(in.Amount),
			ReleasedAmount:     decimal.Zero,
			CommissionReleased: decimal.Zero,
			Status:             valueobject.EscrowStatusHeld,
		}

		if in.FundFromWallet {
			ref := fmt.Sprintf("escrow:%s:hold", in.ContractID)
			if _, _, err := s.ledger.Debit(ctx, LedgerEntry{
				UserID:    in.BuyerID,
				Amount:    in.Amount,
				Type:      models.TransactionTypeEscrowHold,
				Reference: ref,
			}); err != nil {
				return err
			}
			e.FundingReference = &ref
		}

		created, err := s.repo.Create(ctx, e)
		if err != nil {
			return err
		}
		if !created {
			result, err = s.repo.GetByContractID(ctx, in.ContractID)
			return err
		}

		if err := appendAudit(ctx, s.audit, models.EntityEscrow, e.ID, &in.BuyerID, models.VerbEscrowCreated, map[string]any{
			"contract_id": in.ContractID.String(),
			"amount":      e.Amount.StringFixed(2),
			"commission":  e.Commission.StringFixed(2),
			partiesKey:    parties(e.BuyerID, e.FreelancerID),
		}); err != nil {
			return err
		}
		result, applied = e, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if applied {
		logger.With("escrow").WithFields(logrus.Fields{
			"escrow_id":   result.ID,
			"contract_id": result.ContractID,
			"amount":      result.Amount.StringFixed(2),
		}).Info("средства удержаны")
	}
	return result, applied, nil
}

// ReleaseMilestone выплачивает фрилансеру сумму этапа за вычетом
// пропорциональной доли комиссии. Повтор для оплаченного этапа ничего не меняет.
func (s *EscrowService) ReleaseMilestone(ctx context.Context, escrowID, milestoneID uuid.UUID, amount decimal.Decimal, actor *uuid.UUID) (*models.Escrow, bool, error) {
	if err := valueobject.ValidateAmount(amount); err != nil {
		return nil, false, err
	}

	var (
		result  *models.Escrow
		applied bool
	)
	err := s.WithLock(ctx, escrowID, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			e, err := s.repo.LockByID(ctx, escrowID)
			if err != nil {
				return err
			}
			result = e

			ref := fmt.Sprintf("escrow:%s:freelancer:%s", escrowID, milestoneID)
			if _, err := s.ledger.GetByReference(ctx, ref); err == nil {
				return nil
			} else if !apperror.IsNotFound(err) {
				return err
			}

			if e.Status != valueobject.EscrowStatusHeld {
				logger.With("escrow").WithFields(logrus.Fields{
					"escrow_id":    e.ID,
					"milestone_id": milestoneID,
					"status":       e.Status,
				}).Warn("выплата этапа по закрытому escrow")
				return apperror.ErrEscrowNotHeld
			}
			if e.IsFrozen {
				return apperror.ErrEscrowFrozen
			}

			remaining := e.Remaining()
			if amount.GreaterThan(remaining) {
				return apperror.New(apperror.ErrCodeValidation, "сумма этапа превышает остаток удержания")
			}
			fee := valueobject.Share(e.Commission, amount, e.Amount)
			if amount.Equal(remaining) || fee.GreaterThan(e.RemainingCommission()) {
				fee = e.RemainingCommission()
			}
			payout := amount.Sub(fee)
			if !payout.IsPositive() {
				return apperror.New(apperror.ErrCodeValidation, "сумма этапа не покрывает комиссию")
			}

			if _, _, err := s.ledger.Credit(ctx, LedgerEntry{
				UserID:      e.FreelancerID,
				Amount:      payout,
				Type:        models.TransactionTypeEscrowRelease,
				Reference:   ref,
				PlatformFee: fee,
			}); err != nil {
				return err
			}

			e.ReleasedAmount = e.ReleasedAmount.Add(amount)
			e.CommissionReleased = e.CommissionReleased.Add(fee)
			verb := models.VerbEscrowPartiallyReleased
			if e.ReleasedAmount.Equal(e.Amount) {
				now := s.now()
				e.Status = valueobject.EscrowStatusReleased
				e.ReleasedAt = &now
				verb = models.VerbEscrowReleased
			}
			if err := s.repo.Update(ctx, e); err != nil {
				return err
			}
			if err := appendAudit(ctx, s.audit, models.EntityEscrow, e.ID, actor, verb, escrowPayload(e, map[string]any{
				"milestone_id": milestoneID.String(),
				"amount":       amount.StringFixed(2),
				"payout":       payout.StringFixed(2),
				"fee":          fee.StringFixed(2),
			})); err != nil {
				return err
			}
			applied = true
			return nil
		})
	})

	metrics.EscrowReleases.WithLabelValues("milestone", metrics.Outcome(applied, err)).Inc()
	if err != nil {
		return nil, false, err
	}
	return result, applied, nil
}

// Release закрывает escrow, выплачивая весь остаток получателю.
// Для уже закрытого escrow возвращает его без изменений и applied=false.
func (s *EscrowService) Release(ctx context.Context, escrowID uuid.UUID, req ReleaseRequest, actor *uuid.UUID) (*models.Escrow, bool, error) {
	if _, err := valueobject.NewReleaseTarget(string(req.Target)); err != nil {
		return nil, false, err
	}
	if req.Target == valueobject.ReleaseTargetSplit {
		if err := valueobject.ValidateRatio(req.Ratio); err != nil {
			return nil, false, err
		}
	}

	var (
		result  *models.Escrow
		applied bool
	)
	err := s.WithLock(ctx, escrowID, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			e, err := s.repo.LockByID(ctx, escrowID)
			if err != nil {
				return err
			}
			result = e

			if e.Status != valueobject.EscrowStatusHeld {
				logger.With("escrow").WithFields(logrus.Fields{
					"escrow_id": e.ID,
					"status":    e.Status,
					"target":    req.Target,
				}).Warn("повторное закрытие escrow пропущено")
				return nil
			}
			if e.IsFrozen && !req.Unfreeze {
				return apperror.ErrEscrowFrozen
			}

			payload, err := s.disburse(ctx, e, req)
			if err != nil {
				return err
			}

			wasFrozen := e.IsFrozen
			now := s.now()
			e.IsFrozen = false
			e.FreezeReason = nil
			e.ReleasedAt = &now
			if err := s.repo.Update(ctx, e); err != nil {
				return err
			}

			if wasFrozen {
				if err := appendAudit(ctx, s.audit, models.EntityEscrow, e.ID, actor, models.VerbEscrowUnfrozen, escrowPayload(e, nil)); err != nil {
					return err
				}
			}
			if err := appendAudit(ctx, s.audit, models.EntityEscrow, e.ID, actor, releaseVerb(e.Status), escrowPayload(e, payload)); err != nil {
				return err
			}
			applied = true
			return nil
		})
	})

	metrics.EscrowReleases.WithLabelValues(string(req.Target), metrics.Outcome(applied, err)).Inc()
	if err != nil {
		return nil, false, err
	}
	if applied {
		logger.With("escrow").WithFields(logrus.Fields{
			"escrow_id": result.ID,
			"status":    result.Status,
		}).Info("escrow закрыт")
	}
	return result, applied, nil
}

// disburse проводит выплаты по остатку и выставляет итоговый статус escrow.
func (s *EscrowService) disburse(ctx context.Context, e *models.Escrow, req ReleaseRequest) (map[string]any, error) {
	rem := e.Remaining()
	remComm := e.RemainingCommission()
	prefix := "escrow:" + e.ID.String()

	var freelancerAmount, buyerAmount, fee decimal.Decimal
	switch req.Target {
	case valueobject.ReleaseTargetFreelancer:
		fee = remComm
		freelancerAmount = rem.Sub(remComm)
		if err := s.credit(ctx, e.FreelancerID, freelancerAmount, fee, models.TransactionTypeEscrowRelease, prefix+":freelancer"); err != nil {
			return nil, err
		}
		e.Status = valueobject.EscrowStatusReleased
	case valueobject.ReleaseTargetBuyer:
		buyerAmount = rem
		if err := s.credit(ctx, e.BuyerID, buyerAmount, decimal.Zero, models.TransactionTypeRefund, prefix+":buyer"); err != nil {
			return nil, err
		}
		e.Status = valueobject.EscrowStatusRefunded
	case valueobject.ReleaseTargetSplit:
		gross := valueobject.Round(rem.Mul(req.Ratio))
		fee = valueobject.Round(remComm.Mul(req.Ratio))
		freelancerAmount = gross.Sub(fee)
		buyerAmount = rem.Sub(gross)
		if err := s.credit(ctx, e.FreelancerID, freelancerAmount, fee, models.TransactionTypeEscrowRelease, prefix+":split:freelancer"); err != nil {
			return nil, err
		}
		if err := s.credit(ctx, e.BuyerID, buyerAmount, decimal.Zero, models.TransactionTypeRefund, prefix+":split:buyer"); err != nil {
			return nil, err
		}
		e.Status = valueobject.EscrowStatusSplitResolved
	}

	e.ReleasedAmount = e.Amount
	e.CommissionReleased = e.CommissionReleased.Add(fee)

	return map[string]any{
		"target":            string(req.Target),
		"ratio":             req.Ratio.String(),
		"freelancer_amount": freelancerAmount.StringFixed(2),
		"buyer_amount":      buyerAmount.StringFixed(2),
		"fee":               fee.StringFixed(2),
	}, nil
}

// credit пропускает нулевые выплаты.
func (s *EscrowService) credit(ctx context.Context, userID uuid.UUID, amount, fee decimal.Decimal, txType, ref string) error {
	if !amount.IsPositive() {
		return nil
	}
	_, _, err := s.ledger.Credit(ctx, LedgerEntry{
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Reference:   ref,
		PlatformFee: fee,
	})
	return err
}

// escrowPayload дополняет событие escrow контрактом и сторонами сделки.
func escrowPayload(e *models.Escrow, fields map[string]any) map[string]any {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["contract_id"] = e.ContractID.String()
	fields[partiesKey] = parties(e.BuyerID, e.FreelancerID)
	return fields
}

func releaseVerb(status valueobject.EscrowStatus) string {
	switch status {
	case valueobject.EscrowStatusRefunded:
		return models.VerbEscrowRefunded
	case valueobject.EscrowStatusSplitResolved:
		return models.VerbEscrowSplitResolved
	default:
		return models.VerbEscrowReleased
	}
}

// Freeze замораживает escrow. Повторная заморозка ничего не меняет.
func (s *EscrowService) Freeze(ctx context.Context, escrowID uuid.UUID, reason string, actor *uuid.UUID) (*models.Escrow, bool, error) {
	var (
		result  *models.Escrow
		applied bool
	)
	err := s.WithLock(ctx, escrowID, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			e, err := s.repo.LockByID(ctx, escrowID)
			if err != nil {
				return err
			}
			result = e
			if e.Status.IsTerminal() {
				return apperror.New(apperror.ErrCodeConflict, "escrow уже закрыт")
			}
			if e.IsFrozen {
				return nil
			}

			e.IsFrozen = true
			e.FreezeReason = &reason
			if err := s.repo.Update(ctx, e); err != nil {
				return err
			}
			if err := appendAudit(ctx, s.audit, models.EntityEscrow, e.ID, actor, models.VerbEscrowFrozen, escrowPayload(e, map[string]any{
				"reason": reason,
			})); err != nil {
				return err
			}
			applied = true
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	if applied {
		metrics.EscrowFreezes.Inc()
	}
	return result, applied, nil
}

// Unfreeze снимает заморозку. Для закрытого или не замороженного escrow ничего не делает.
// Заморозку открытого спора снимают только его отмена или решение.
func (s *EscrowService) Unfreeze(ctx context.Context, escrowID uuid.UUID, actor *uuid.UUID) (*models.Escrow, bool, error) {
	var (
		result  *models.Escrow
		applied bool
	)
	err := s.WithLock(ctx, escrowID, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			e, err := s.repo.LockByID(ctx, escrowID)
			if err != nil {
				return err
			}
			result = e
			if e.Status.IsTerminal() || !e.IsFrozen {
				return nil
			}
			if err := s.checkDisputeFreeze(ctx, e); err != nil {
				return err
			}

			e.IsFrozen = false
			e.FreezeReason = nil
			if err := s.repo.Update(ctx, e); err != nil {
				return err
			}
			if err := appendAudit(ctx, s.audit, models.EntityEscrow, e.ID, actor, models.VerbEscrowUnfrozen, escrowPayload(e, nil)); err != nil {
				return err
			}
			applied = true
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return result, applied, nil
}

// checkDisputeFreeze отказывает, пока спор, заморозивший escrow, не закрыт.
func (s *EscrowService) checkDisputeFreeze(ctx context.Context, e *models.Escrow) error {
	if e.FreezeReason == nil || !strings.HasPrefix(*e.FreezeReason, disputeFreezePrefix) {
		return nil
	}
	disputeID, err := uuid.Parse(strings.TrimPrefix(*e.FreezeReason, disputeFreezePrefix))
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "повреждена причина заморозки escrow")
	}
	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil
		}
		return err
	}
	if !d.Status.IsClosed() {
		return apperror.New(apperror.ErrCodeConflict,
			fmt.Sprintf("escrow заморожен открытым спором %s", d.ID))
	}
	return nil
}

func (s *EscrowService) Get(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *EscrowService) GetByContract(ctx context.Context, contractID uuid.UUID) (*models.Escrow, error) {
	return s.repo.GetByContractID(ctx, contractID)
}
