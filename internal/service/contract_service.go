package service

import (
	"context"
	"fmt"
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
	"github.com/ignatzorin/freelance-escrow/internal/retry"
	"github.com/ignatzorin/freelance-escrow/internal/validation"
)

type ContractRepository interface {
	Create(ctx context.Context, c *models.Contract) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	GetByProjectID(ctx context.Context, projectID uuid.UUID) (*models.Contract, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error
	CreateMilestone(ctx context.Context, m *models.Milestone) error
	GetMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
	LockMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
	UpdateMilestone(ctx context.Context, m *models.Milestone) error
	ListMilestones(ctx context.Context, contractID uuid.UUID) ([]models.Milestone, error)
	SumMilestones(ctx context.Context, contractID uuid.UUID) (decimal.Decimal, error)
	CountUnpaid(ctx context.Context, contractID uuid.UUID) (int, error)
}

// ContractEscrow операции escrow, нужные контрактам.
type ContractEscrow interface {
	Commission(amount decimal.Decimal) decimal.Decimal
	CreateHold(ctx context.Context, in HoldInput) (*models.Escrow, bool, error)
	ReleaseMilestone(ctx context.Context, escrowID, milestoneID uuid.UUID, amount decimal.Decimal, actor *uuid.UUID) (*models.Escrow, bool, error)
	Release(ctx context.Context, escrowID uuid.UUID, req ReleaseRequest, actor *uuid.UUID) (*models.Escrow, bool, error)
	GetByContract(ctx context.Context, contractID uuid.UUID) (*models.Escrow, error)
	WithLock(ctx context.Context, escrowID uuid.UUID, fn func(ctx context.Context) error) error
}

// ReconciliationQueue ставит задачи ручной сверки.
type ReconciliationQueue interface {
	Enqueue(ctx context.Context, in EnqueueInput) (*models.ReconciliationItem, error)
}

// MilestoneInput этап при создании контракта.
type MilestoneInput struct {
	Title   string
	Amount  decimal.Decimal
	DueDate *time.Time
}

// AcceptInput параметры принятия предложения и создания контракта.
type AcceptInput struct {
	ProjectID    uuid.UUID
	BuyerID      uuid.UUID
	FreelancerID uuid.UUID
	TotalAmount  decimal.Decimal
	Milestones   []MilestoneInput
	// FundFromWallet списывает сумму контракта с кошелька заказчика.
	FundFromWallet bool
}

type ContractService struct {
	repo    ContractRepository
	escrows ContractEscrow
	recon   ReconciliationQueue
	tx      Transactor
	audit   AuditAppender
	retry   retry.Policy
	now     func() time.Time
}

func NewContractService(
	repo ContractRepository,
	escrows ContractEscrow,
	recon ReconciliationQueue,
	tx Transactor,
	audit AuditAppender,
	policy retry.Policy,
) *ContractService {
	return &ContractService{
		repo:    repo,
		escrows: escrows,
		recon:   recon,
		tx:      tx,
		audit:   audit,
		retry:   policy,
		now:     utcNow,
	}
}

// Accept создаёт контракт, его этапы и удержание на полную сумму.
func (s *ContractService) Accept(ctx context.Context, actor Actor, in AcceptInput) (*models.Contract, error) {
	if !actor.IsAdmin() && actor.ID != in.BuyerID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "принять предложение может только заказчик")
	}
	if err := valueobject.ValidateAmount(in.TotalAmount); err != nil {
		return nil, err
	}
	if in.BuyerID == in.FreelancerID {
		return nil, apperror.New(apperror.ErrCodeValidation, "заказчик и исполнитель должны различаться")
	}
	sum := decimal.Zero
	for _, m := range in.Milestones {
		if err := validateMilestone(m); err != nil {
			return nil, err
		}
		sum = sum.Add(m.Amount)
	}
	if sum.GreaterThan(in.TotalAmount) {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма этапов превышает сумму контракта")
	}

	c := &models.Contract{
		ID:           uuid.New(),
		ProjectID:    in.ProjectID,
		BuyerID:      in.BuyerID,
		FreelancerID: in.FreelancerID,
		TotalAmount:  in.TotalAmount,
		Commission:   s.escrows.Commission(in.TotalAmount),
		Status:       models.ContractStatusActive,
		StartedAt:    s.now(),
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		created, err := s.repo.Create(ctx, c)
		if err != nil {
			return err
		}
		if !created {
			return apperror.New(apperror.ErrCodeConflict, "контракт по проекту уже создан")
		}

		if _, _, err := s.escrows.CreateHold(ctx, HoldInput{
			ContractID:     c.ID,
			BuyerID:        c.BuyerID,
			FreelancerID:   c.FreelancerID,
			Amount:         c.TotalAmount,
			FundFromWallet: in.FundFromWallet,
		}); err != nil {
			return err
		}

		for _, mi := range in.Milestones {
			m := &models.Milestone{
				ID:         uuid.New(),
				ContractID: c.ID,
				Title:      strings.TrimSpace(mi.Title),
				Amount:     mi.Amount,
				Status:     valueobject.MilestoneStatusPending,
				DueDate:    mi.DueDate,
			}
			if err := s.repo.CreateMilestone(ctx, m); err != nil {
				return err
			}
			c.Milestones = append(c.Milestones, *m)
		}

		return appendAudit(ctx, s.audit, models.EntityContract, c.ID, actorRef(actor), models.VerbContractAccepted, map[string]any{
			"project_id":   c.ProjectID.String(),
			"total_amount": c.TotalAmount.StringFixed(2),
			"commission":   c.Commission.StringFixed(2),
			partiesKey:     parties(c.BuyerID, c.FreelancerID),
		})
	})
	if err != nil {
		return nil, err
	}

	logger.With("contracts").WithFields(logrus.Fields{
		"contract_id": c.ID,
		"project_id":  c.ProjectID,
		"milestones":  len(c.Milestones),
	}).Info("контракт создан")
	return c, nil
}

// AddMilestone добавляет этап в активный контракт.
func (s *ContractService) AddMilestone(ctx context.Context, actor Actor, contractID uuid.UUID, in MilestoneInput) (*models.Milestone, error) {
	if err := validateMilestone(in); err != nil {
		return nil, err
	}

	var m *models.Milestone
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.LockByID(ctx, contractID)
		if err != nil {
			return err
		}
		if c.BuyerID != actor.ID && !actor.IsAdmin() {
			return apperror.New(apperror.ErrCodeForbidden, "добавлять этапы может только заказчик")
		}
		if c.Status != models.ContractStatusActive {
			return apperror.New(apperror.ErrCodeConflict, "контракт уже завершён")
		}

		sum, err := s.repo.SumMilestones(ctx, contractID)
		if err != nil {
			return err
		}
		if sum.Add(in.Amount).GreaterThan(c.TotalAmount) {
			return apperror.New(apperror.ErrCodeValidation, "сумма этапов превышает сумму контракта")
		}

		m = &models.Milestone{
			ID:         uuid.New(),
			ContractID: contractID,
			Title:      strings.TrimSpace(in.Title),
			Amount:     in.Amount,
			Status:     valueobject.MilestoneStatusPending,
			DueDate:    in.DueDate,
		}
		if err := s.repo.CreateMilestone(ctx, m); err != nil {
			return err
		}
		return appendAudit(ctx, s.audit, models.EntityMilestone, m.ID, actorRef(actor), models.VerbMilestoneAdded, map[string]any{
			"contract_id": contractID.String(),
			"title":       m.Title,
			"amount":      m.Amount.StringFixed(2),
			partiesKey:    parties(c.BuyerID, c.FreelancerID),
		})
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// SubmitMilestone фрилансер сдаёт работу по этапу.
func (s *ContractService) SubmitMilestone(ctx context.Context, actor Actor, milestoneID uuid.UUID) (*models.Milestone, error) {
	return s.moveMilestone(ctx, actor, milestoneID, valueobject.MilestoneStatusSubmitted, models.VerbMilestoneSubmit, "",
		func(c *models.Contract) bool { return c.FreelancerID == actor.ID })
}

// RejectMilestone заказчик возвращает этап на доработку.
func (s *ContractService) RejectMilestone(ctx context.Context, actor Actor, milestoneID uuid.UUID, feedback string) (*models.Milestone, error) {
	feedback, err := validation.Feedback(feedback)
	if err != nil {
		return nil, invalid(err)
	}
	return s.moveMilestone(ctx, actor, milestoneID, valueobject.MilestoneStatusRejected, models.VerbMilestoneRejected, feedback,
		func(c *models.Contract) bool { return c.BuyerID == actor.ID })
}

func (s *ContractService) moveMilestone(
	ctx context.Context,
	actor Actor,
	milestoneID uuid.UUID,
	to valueobject.MilestoneStatus,
	verb, feedback string,
	allowed func(c *models.Contract) bool,
) (*models.Milestone, error) {
	var m *models.Milestone
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		m, err = s.repo.LockMilestone(ctx, milestoneID)
		if err != nil {
			return err
		}
		c, err := s.repo.GetByID(ctx, m.ContractID)
		if err != nil {
			return err
		}
		if !allowed(c) {
			return apperror.ErrForbidden
		}
		if !m.Status.CanTransitionTo(to) {
			return apperror.New(apperror.ErrCodeConflict, fmt.Sprintf("переход этапа %s -> %s запрещён", m.Status, to))
		}

		m.Status = to
		switch to {
		case valueobject.MilestoneStatusSubmitted:
			now := s.now()
			m.SubmittedAt = &now
		case valueobject.MilestoneStatusRejected:
			m.Feedback = &feedback
		}
		if err := s.repo.UpdateMilestone(ctx, m); err != nil {
			return err
		}
		payload := map[string]any{
			"contract_id": c.ID.String(),
			partiesKey:    parties(c.BuyerID, c.FreelancerID),
		}
		if feedback != "" {
			payload["feedback"] = feedback
		}
		return appendAudit(ctx, s.audit, models.EntityMilestone, m.ID, actorRef(actor), verb, payload)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ApproveMilestone подтверждает этап и выплачивает его из escrow.
// Временные сбои выплаты повторяются; после исчерпания попыток этап остаётся
// approved, а выплата уходит в очередь ручной сверки.
func (s *ContractService) ApproveMilestone(ctx context.Context, actor Actor, milestoneID uuid.UUID) (*models.Milestone, error) {
	var (
		m *models.Milestone
		c *models.Contract
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		m, err = s.repo.LockMilestone(ctx, milestoneID)
		if err != nil {
			return err
		}
		c, err = s.repo.GetByID(ctx, m.ContractID)
		if err != nil {
			return err
		}
		if c.BuyerID != actor.ID {
			return apperror.New(apperror.ErrCodeForbidden, "подтвердить этап может только заказчик")
		}

		switch m.Status {
		case valueobject.MilestoneStatusPaid, valueobject.MilestoneStatusApproved:
			// Повтор: выплата либо уже прошла, либо будет повторена ниже
			return nil
		case valueobject.MilestoneStatusSubmitted:
		default:
			return apperror.New(apperror.ErrCodeConflict, fmt.Sprintf("этап в статусе %s нельзя подтвердить", m.Status))
		}

		m.Status = valueobject.MilestoneStatusApproved
		if err := s.repo.UpdateMilestone(ctx, m); err != nil {
			return err
		}
		return appendAudit(ctx, s.audit, models.EntityMilestone, m.ID, actorRef(actor), models.VerbMilestoneApproved, map[string]any{
			"contract_id": c.ID.String(),
			"amount":      m.Amount.StringFixed(2),
			partiesKey:    parties(c.BuyerID, c.FreelancerID),
		})
	})
	if err != nil {
		return nil, err
	}
	if m.Status == valueobject.MilestoneStatusPaid {
		return m, nil
	}

	if err := s.releaseWithRetry(ctx, c, m.ID, actorRef(actor)); err != nil {
		if apperror.IsTransient(err) {
			if _, qerr := s.recon.Enqueue(context.WithoutCancel(ctx), EnqueueInput{
				Kind:   models.ReconKindMilestoneRelease,
				RefID:  m.ID.String(),
				Reason: "выплата этапа не прошла после повторов",
				Cause:  err,
			}); qerr != nil {
				logger.With("contracts").WithField("milestone_id", m.ID).WithError(qerr).Error("не удалось поставить выплату в очередь сверки")
			}
		}
		return nil, err
	}
	return s.repo.GetMilestone(ctx, m.ID)
}

// RetryMilestoneRelease повторяет выплату подтверждённого этапа.
func (s *ContractService) RetryMilestoneRelease(ctx context.Context, milestoneID uuid.UUID) error {
	m, err := s.repo.GetMilestone(ctx, milestoneID)
	if err != nil {
		return err
	}
	switch m.Status {
	case valueobject.MilestoneStatusPaid:
		return nil
	case valueobject.MilestoneStatusApproved:
	default:
		return apperror.New(apperror.ErrCodeConflict, fmt.Sprintf("этап в статусе %s не ожидает выплаты", m.Status))
	}
	c, err := s.repo.GetByID(ctx, m.ContractID)
	if err != nil {
		return err
	}
	return s.releaseWithRetry(ctx, c, m.ID, nil)
}

func (s *ContractService) releaseWithRetry(ctx context.Context, c *models.Contract, milestoneID uuid.UUID, actor *uuid.UUID) error {
	e, err := s.escrows.GetByContract(ctx, c.ID)
	if err != nil {
		return err
	}

	start := time.Now()
	err = retry.Do(ctx, s.retry, "milestone_release", func(ctx context.Context) error {
		return s.payMilestone(ctx, c, e.ID, milestoneID, actor)
	})
	metrics.ReleaseAttemptDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		logger.With("contracts").WithFields(logrus.Fields{
			"contract_id":  c.ID,
			"milestone_id": milestoneID,
			"transient":    apperror.IsTransient(err),
		}).WithError(err).Error("выплата этапа не прошла")
	}
	return err
}

// payMilestone выплачивает этап и переводит его в paid одной транзакцией.
// Последний оплаченный этап завершает контракт и закрывает escrow.
func (s *ContractService) payMilestone(ctx context.Context, c *models.Contract, escrowID, milestoneID uuid.UUID, actor *uuid.UUID) error {
	return s.escrows.WithLock(ctx, escrowID, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			m, err := s.repo.LockMilestone(ctx, milestoneID)
			if err != nil {
				return err
			}
			if m.Status == valueobject.MilestoneStatusPaid {
				return nil
			}
			if m.Status != valueobject.MilestoneStatusApproved {
				return apperror.New(apperror.ErrCodeConflict, "этап не подтверждён")
			}

			if _, _, err := s.escrows.ReleaseMilestone(ctx, escrowID, m.ID, m.Amount, actor); err != nil {
				return err
			}

			now := s.now()
			m.Status = valueobject.MilestoneStatusPaid
			m.PaidAt = &now
			if err := s.repo.UpdateMilestone(ctx, m); err != nil {
				return err
			}
			if err := appendAudit(ctx, s.audit, models.EntityMilestone, m.ID, actor, models.VerbMilestonePaid, map[string]any{
				"contract_id": c.ID.String(),
				"amount":      m.Amount.StringFixed(2),
				partiesKey:    parties(c.BuyerID, c.FreelancerID),
			}); err != nil {
				return err
			}

			unpaid, err := s.repo.CountUnpaid(ctx, c.ID)
			if err != nil {
				return err
			}
			if unpaid > 0 {
				return nil
			}
			if err := s.repo.MarkCompleted(ctx, c.ID, now); err != nil {
				return err
			}
			if err := appendAudit(ctx, s.audit, models.EntityContract, c.ID, actor, models.VerbContractCompleted, map[string]any{
				partiesKey: parties(c.BuyerID, c.FreelancerID),
			}); err != nil {
				return err
			}
			// Нераспределённый по этапам остаток возвращается заказчику.
			_, _, err = s.escrows.Release(ctx, escrowID, ReleaseRequest{Target: valueobject.ReleaseTargetBuyer}, actor)
			return err
		})
	})
}

// GetContract возвращает контракт с этапами участнику или администратору.
func (s *ContractService) GetContract(ctx context.Context, actor Actor, id uuid.UUID) (*models.Contract, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsParty(actor.ID) && !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	c.Milestones, err = s.repo.ListMilestones(ctx, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ContractService) ListMilestones(ctx context.Context, actor Actor, contractID uuid.UUID) ([]models.Milestone, error) {
	c, err := s.GetContract(ctx, actor, contractID)
	if err != nil {
		return nil, err
	}
	return c.Milestones, nil
}

// GetEscrow возвращает удержание по контракту.
func (s *ContractService) GetEscrow(ctx context.Context, actor Actor, contractID uuid.UUID) (*models.Escrow, error) {
	c, err := s.repo.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !c.IsParty(actor.ID) && !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	return s.escrows.GetByContract(ctx, contractID)
}

// ReviewEligible сообщает, можно ли оставить отзыв: только после завершения контракта.
func (s *ContractService) ReviewEligible(ctx context.Context, contractID uuid.UUID) (bool, error) {
	c, err := s.repo.GetByID(ctx, contractID)
	if err != nil {
		return false, err
	}
	return c.CompletedAt != nil, nil
}

func validateMilestone(m MilestoneInput) error {
	if _, err := validation.MilestoneTitle(m.Title); err != nil {
		return invalid(err)
	}
	return valueobject.ValidateAmount(m.Amount)
}
