package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/metrics"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-escrow/internal/repository"
	"github.com/ignatzorin/freelance-escrow/internal/storage"
	"github.com/ignatzorin/freelance-escrow/internal/validation"
)

type DisputeRepository interface {
	Create(ctx context.Context, d *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetByContractID(ctx context.Context, contractID uuid.UUID) (*models.Dispute, error)
	Update(ctx context.Context, d *models.Dispute) error
	List(ctx context.Context, f repository.DisputeFilter) ([]models.Dispute, error)
	ClaimOverdue(ctx context.Context, now time.Time, limit int) ([]models.Dispute, error)
	CreateDecision(ctx context.Context, d *models.ArbitrationDecision) (bool, error)
	GetDecision(ctx context.Context, disputeID uuid.UUID) (*models.ArbitrationDecision, error)
	AddEvidence(ctx context.Context, e *models.Evidence) error
	ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]models.Evidence, error)
}

// ContractReader чтение контрактов для проверки сторон спора.
type ContractReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error)
}

// DisputeEscrow операции escrow, нужные спорам.
type DisputeEscrow interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Escrow, error)
	GetByContract(ctx context.Context, contractID uuid.UUID) (*models.Escrow, error)
	Freeze(ctx context.Context, escrowID uuid.UUID, reason string, actor *uuid.UUID) (*models.Escrow, bool, error)
	Unfreeze(ctx context.Context, escrowID uuid.UUID, actor *uuid.UUID) (*models.Escrow, bool, error)
	Release(ctx context.Context, escrowID uuid.UUID, req ReleaseRequest, actor *uuid.UUID) (*models.Escrow, bool, error)
	WithLock(ctx context.Context, escrowID uuid.UUID, fn func(ctx context.Context) error) error
}

// OpenDisputeInput параметры открытия спора.
type OpenDisputeInput struct {
	ContractID  uuid.UUID
	Reason      string
	Description string
}

// ProposalInput предложение стороны по урегулированию.
type ProposalInput struct {
	Decision string
	Ratio    *decimal.Decimal
	Amount   *decimal.Decimal
	Note     string
}

// EvidenceInput файл или текст доказательства. Если File задан, Text игнорируется.
type EvidenceInput struct {
	FileName    string
	File        io.Reader
	Text        string
	Description string
}

// ResolveInput решение администратора по спору.
type ResolveInput struct {
	Decision string
	Details  map[string]any
}

// ResolutionDetails разобранные детали решения.
type ResolutionDetails struct {
	Ratio decimal.Decimal `mapstructure:"ratio" json:"ratio"`
	Notes string          `mapstructure:"notes" json:"notes,omitempty"`
}

type DisputeService struct {
	repo      DisputeRepository
	contracts ContractReader
	escrows   DisputeEscrow
	evidence  storage.EvidenceStore
	tx        Transactor
	audit     AuditLog
	sla       time.Duration
	now       func() time.Time
}

func NewDisputeService(
	repo DisputeRepository,
	contracts ContractReader,
	escrows DisputeEscrow,
	evidence storage.EvidenceStore,
	tx Transactor,
	audit AuditLog,
	sla time.Duration,
) *DisputeService {
	return &DisputeService{
		repo:      repo,
		contracts: contracts,
		escrows:   escrows,
		evidence:  evidence,
		tx:        tx,
		audit:     audit,
		sla:       sla,
		now:       utcNow,
	}
}

// Open открывает спор по контракту и замораживает его escrow.
func (s *DisputeService) Open(ctx context.Context, actor Actor, in OpenDisputeInput) (*models.Dispute, error) {
	reason, err := validation.DisputeReason(in.Reason)
	if err != nil {
		return nil, invalid(err)
	}

	c, err := s.contracts.GetByID(ctx, in.ContractID)
	if err != nil {
		return nil, err
	}
	if !c.IsParty(actor.ID) {
		return nil, apperror.New(apperror.ErrCodeForbidden, "открыть спор может только участник контракта")
	}
	e, err := s.escrows.GetByContract(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	var d *models.Dispute
	err = s.escrows.WithLock(ctx, e.ID, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			if _, err := s.repo.GetByContractID(ctx, c.ID); err == nil {
				return repository.ErrDisputeExists
			} else if !apperror.IsNotFound(err) {
				return err
			}

			current, err := s.escrows.Get(ctx, e.ID)
			if err != nil {
				return err
			}
			if current.Status != valueobject.EscrowStatusHeld {
				return apperror.New(apperror.ErrCodeConflict, "escrow уже закрыт, спор невозможен")
			}

			now := s.now()
			d = &models.Dispute{
				ID:           uuid.New(),
				ContractID:   c.ID,
				EscrowID:     e.ID,
				OpenerID:     actor.ID,
				BuyerID:      c.BuyerID,
				FreelancerID: c.FreelancerID,
				Reason:       reason,
				Description:  strings.TrimSpace(in.Description),
				Status:       valueobject.DisputeStatusOpen,
				SLADeadline:  now.Add(s.sla),
				Meta:         json.RawMessage(`{}`),
			}
			if err := s.repo.Create(ctx, d); err != nil {
				return err
			}
			if _, _, err := s.escrows.Freeze(ctx, e.ID, disputeFreezePrefix+d.ID.String(), &actor.ID); err != nil {
				return err
			}
			return appendAudit(ctx, s.audit, models.EntityDispute, d.ID, &actor.ID, models.VerbDisputeOpened, map[string]any{
				"contract_id":  c.ID.String(),
				"escrow_id":    e.ID.String(),
				"reason":       reason,
				"sla_deadline": d.SLADeadline,
				partiesKey:     parties(d.BuyerID, d.FreelancerID),
			})
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.DisputeTransitions.WithLabelValues(string(valueobject.DisputeStatusOpen)).Inc()
	logger.With("disputes").WithFields(logrus.Fields{
		"dispute_id":  d.ID,
		"contract_id": d.ContractID,
	}).Info("спор открыт")
	return d, nil
}

// AssignMediator назначает медиатора. Из open спор переходит в under_review,
// в under_review медиатора можно сменить.
func (s *DisputeService) AssignMediator(ctx context.Context, actor Actor, id, mediatorID uuid.UUID) (*models.Dispute, error) {
	if !actor.IsAdmin() {
		return nil, apperror.New(apperror.ErrCodeForbidden, "назначить медиатора может только администратор")
	}

	var d *models.Dispute
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if d.Status != valueobject.DisputeStatusOpen && d.Status != valueobject.DisputeStatusUnderReview {
			return apperror.New(apperror.ErrCodeConflict, fmt.Sprintf("нельзя назначить медиатора в статусе %s", d.Status))
		}

		from := d.Status
		d.Status = valueobject.DisputeStatusUnderReview
		d.AssignedMediator = &mediatorID
		if err := s.repo.Update(ctx, d); err != nil {
			return err
		}
		return appendAudit(ctx, s.audit, models.EntityDispute, d.ID, &actor.ID, models.VerbMediatorAssigned, map[string]any{
			"mediator_id": mediatorID.String(),
			"from":        string(from),
			"to":          string(d.Status),
			partiesKey:    parties(d.BuyerID, d.FreelancerID, mediatorID),
		})
	})
	if err != nil {
		return nil, err
	}
	metrics.DisputeTransitions.WithLabelValues(string(d.Status)).Inc()
	return d, nil
}

// StartMediation переводит спор в mediation. Обе стороны должны к этому
// моменту высказаться предложением или ответом.
func (s *DisputeService) StartMediation(ctx context.Context, actor Actor, id uuid.UUID) (*models.Dispute, error) {
	if !actor.IsAdmin() {
		return nil, apperror.New(apperror.ErrCodeForbidden, "начать медиацию может только администратор")
	}

	var d *models.Dispute
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if !d.Status.CanTransitionTo(valueobject.DisputeStatusMediation) {
			return transitionError(d.Status, valueobject.DisputeStatusMediation)
		}

		events, err := s.audit.ListByEntity(ctx, models.EntityDispute, d.ID)
		if err != nil {
			return err
		}
		if !bothPartiesSpoke(d, events) {
			return apperror.New(apperror.ErrCodeConflict, "обе стороны должны обменяться предложениями")
		}

		return s.transition(ctx, d, valueobject.DisputeStatusMediation, &actor.ID, models.VerbMediationStarted, nil)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func bothPartiesSpoke(d *models.Dispute, events []models.AuditEvent) bool {
	var buyer, freelancer bool
	for _, ev := range events {
		if ev.ActorID == nil || (ev.Verb != models.VerbProposalMade && ev.Verb != models.VerbPartyResponse) {
			continue
		}
		switch *ev.ActorID {
		case d.BuyerID:
			buyer = true
		case d.FreelancerID:
			freelancer = true
		}
	}
	return buyer && freelancer
}

// Propose сохраняет последнее предложение стороны. История предложений в журнале.
func (s *DisputeService) Propose(ctx context.Context, actor Actor, id uuid.UUID, in ProposalInput) (*models.Dispute, error) {
	decision, err := valueobject.NewDecision(in.Decision)
	if err != nil {
		return nil, err
	}
	proposal := models.Proposal{
		Decision:   decision,
		Note:       strings.TrimSpace(in.Note),
		ProposedBy: actor.ID,
		ProposedAt: s.now(),
	}
	if decision == valueobject.DecisionSplit {
		if in.Ratio == nil {
			return nil, apperror.New(apperror.ErrCodeValidation, "для раздела укажите долю фрилансера")
		}
		if err := valueobject.ValidateRatio(*in.Ratio); err != nil {
			return nil, err
		}
		proposal.Ratio = in.Ratio
	}
	if in.Amount != nil {
		if err := valueobject.ValidateAmount(*in.Amount); err != nil {
			return nil, err
		}
		proposal.Amount = in.Amount
	}

	var d *models.Dispute
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.lockOpenForActor(ctx, actor, id)
		if err != nil {
			return err
		}
		meta, err := d.DecodeMeta()
		if err != nil {
			return apperror.Wrap(err, apperror.ErrCodeInternal, "повреждены метаданные спора")
		}
		meta.LatestProposal = &proposal
		if err := d.SetMeta(meta); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сохранить предложение")
		}
		if err := s.repo.Update(ctx, d); err != nil {
			return err
		}

		payload := map[string]any{
			"decision": string(decision),
			"note":     proposal.Note,
			partiesKey: parties(d.BuyerID, d.FreelancerID),
		}
		if proposal.Ratio != nil {
			payload["ratio"] = proposal.Ratio.String()
		}
		if proposal.Amount != nil {
			payload["amount"] = proposal.Amount.StringFixed(2)
		}
		return appendAudit(ctx, s.audit, models.EntityDispute, d.ID, &actor.ID, models.VerbProposalMade, payload)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Respond записывает ответ стороны в журнал спора.
func (s *DisputeService) Respond(ctx context.Context, actor Actor, id uuid.UUID, message string) error {
	message, err := validation.Message(message)
	if err != nil {
		return invalid(err)
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.lockOpenForActor(ctx, actor, id)
		if err != nil {
			return err
		}
		if !d.IsParty(actor.ID) {
			return apperror.New(apperror.ErrCodeForbidden, "отвечать могут только стороны спора")
		}
		return appendAudit(ctx, s.audit, models.EntityDispute, d.ID, &actor.ID, models.VerbPartyResponse, map[string]any{
			"message":  message,
			partiesKey: parties(d.BuyerID, d.FreelancerID),
		})
	})
}

// UploadEvidence сохраняет доказательство. Файл пишется в хранилище до
// транзакции; повторная загрузка того же содержимого даёт тот же ключ.
func (s *DisputeService) UploadEvidence(ctx context.Context, actor Actor, id uuid.UUID, in EvidenceInput) (*models.Evidence, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.IsParty(actor.ID) && !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	if d.Status.IsClosed() {
		return nil, apperror.New(apperror.ErrCodeConflict, "спор уже закрыт")
	}

	ev := &models.Evidence{
		ID:          uuid.New(),
		DisputeID:   d.ID,
		UploadedBy:  actor.ID,
		Description: strings.TrimSpace(in.Description),
	}
	if in.File != nil {
		obj, err := s.evidence.Save(ctx, d.ID, in.FileName, in.File)
		if err != nil {
			return nil, err
		}
		ev.Kind = models.EvidenceKindFile
		ev.StorageKey = &obj.Key
		ev.MimeType = &obj.MimeType
		ev.SizeBytes = obj.Size
		ev.SHA256 = &obj.SHA256
	} else {
		text, err := validation.EvidenceText(in.Text)
		if err != nil {
			return nil, invalid(err)
		}
		sum := sha256.Sum256([]byte(text))
		digest := hex.EncodeToString(sum[:])
		ev.Kind = models.EvidenceKindText
		ev.Text = &text
		ev.SizeBytes = int64(len(text))
		ev.SHA256 = &digest
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status.IsClosed() {
			return apperror.New(apperror.ErrCodeConflict, "спор уже закрыт")
		}
		if err := s.repo.AddEvidence(ctx, ev); err != nil {
			return err
		}
		return appendAudit(ctx, s.audit, models.EntityDispute, d.ID, &actor.ID, models.VerbEvidenceUploaded, map[string]any{
			"evidence_id": ev.ID.String(),
			"kind":        ev.Kind,
			"sha256":      *ev.SHA256,
			partiesKey:    parties(d.BuyerID, d.FreelancerID),
		})
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// Cancel отзывает спор по инициативе открывшей стороны и размораживает escrow.
func (s *DisputeService) Cancel(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*models.Dispute, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.OpenerID != actor.ID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "отозвать спор может только открывшая его сторона")
	}

	err = s.escrows.WithLock(ctx, d.EscrowID, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			var err error
			d, err = s.repo.LockByID(ctx, id)
			if err != nil {
				return err
			}
			if !d.Status.CanTransitionTo(valueobject.DisputeStatusCancelled) {
				return transitionError(d.Status, valueobject.DisputeStatusCancelled)
			}
			meta, err := d.DecodeMeta()
			if err != nil {
				return apperror.Wrap(err, apperror.ErrCodeInternal, "повреждены метаданные спора")
			}
			meta.CancelReason = strings.TrimSpace(reason)
			if err := d.SetMeta(meta); err != nil {
				return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сохранить метаданные спора")
			}
			now := s.now()
			d.ResolvedAt = &now
			if err := s.transition(ctx, d, valueobject.DisputeStatusCancelled, &actor.ID, models.VerbDisputeCancelled, map[string]any{
				"reason": meta.CancelReason,
			}); err != nil {
				return err
			}
			_, _, err = s.escrows.Unfreeze(ctx, d.EscrowID, &actor.ID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Resolve выносит решение по спору и закрывает escrow в одной транзакции.
// Повторный вызов возвращает уже вынесенное решение и applied=false.
func (s *DisputeService) Resolve(ctx context.Context, actor Actor, id uuid.UUID, in ResolveInput) (*models.ArbitrationDecision, bool, error) {
	if !actor.IsAdmin() {
		return nil, false, apperror.New(apperror.ErrCodeForbidden, "решение выносит только администратор")
	}
	decision, err := valueobject.NewDecision(in.Decision)
	if err != nil {
		return nil, false, err
	}
	details, err := decodeResolution(in.Details)
	if err != nil {
		return nil, false, err
	}
	if decision == valueobject.DecisionSplit {
		if _, ok := in.Details["ratio"]; !ok {
			return nil, false, apperror.New(apperror.ErrCodeValidation, "для раздела укажите долю фрилансера")
		}
		if err := valueobject.ValidateRatio(details.Ratio); err != nil {
			return nil, false, err
		}
	} else {
		details.Ratio = decimal.Zero
	}

	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}

	var (
		result  *models.ArbitrationDecision
		applied bool
	)
	err = s.escrows.WithLock(ctx, d.EscrowID, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			existing, err := s.repo.GetDecision(ctx, id)
			if err != nil {
				return err
			}
			if existing != nil {
				result = existing
				return nil
			}

			d, err = s.repo.LockByID(ctx, id)
			if err != nil {
				return err
			}
			to := decision.ResolvedStatus()
			if !d.Status.CanTransitionTo(to) {
				return transitionError(d.Status, to)
			}

			raw, err := json.Marshal(details)
			if err != nil {
				return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сериализовать решение")
			}
			dec := &models.ArbitrationDecision{
				ID:        uuid.New(),
				DisputeID: id,
				DecidedBy: actor.ID,
				Decision:  decision,
				Details:   raw,
			}
			inserted, err := s.repo.CreateDecision(ctx, dec)
			if err != nil {
				return err
			}
			if !inserted {
				result, err = s.repo.GetDecision(ctx, id)
				return err
			}

			now := s.now()
			d.ResolvedAt = &now
			if err := s.transition(ctx, d, to, &actor.ID, models.VerbDisputeResolved, map[string]any{
				"decision":    string(decision),
				"ratio":       details.Ratio.String(),
				"notes":       details.Notes,
				"decision_id": dec.ID.String(),
			}); err != nil {
				return err
			}

			_, released, err := s.escrows.Release(ctx, d.EscrowID, ReleaseRequest{
				Target:   decision.Target(),
				Ratio:    details.Ratio,
				Unfreeze: true,
			}, &actor.ID)
			if err != nil {
				return err
			}
			if !released {
				return apperror.ErrEscrowNotHeld
			}
			result, applied = dec, true
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	if applied {
		logger.With("disputes").WithFields(logrus.Fields{
			"dispute_id": id,
			"decision":   decision,
		}).Info("спор разрешён")
	}
	return result, applied, nil
}

// decodeResolution разбирает детали решения. ratio принимается строкой или числом.
func decodeResolution(raw map[string]any) (ResolutionDetails, error) {
	var out ResolutionDetails
	if len(raw) == 0 {
		return out, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: decimalHook,
		Result:     &out,
	})
	if err != nil {
		return out, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось создать декодер решения")
	}
	if err := dec.Decode(raw); err != nil {
		return out, apperror.Wrap(err, apperror.ErrCodeValidation, "некорректные детали решения")
	}
	return out, nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalHook(from, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case decimal.Decimal:
		return v, nil
	}
	return nil, fmt.Errorf("значение %v (%s) не является числом", data, from)
}

// SweepOverdue эскалирует споры с истёкшим SLA. Безопасен при нескольких
// одновременных воркерах: каждая строка забирается ровно одним из них.
func (s *DisputeService) SweepOverdue(ctx context.Context, limit int) ([]models.Dispute, error) {
	if limit <= 0 {
		limit = 100
	}

	var claimed []models.Dispute
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		claimed, err = s.repo.ClaimOverdue(ctx, s.now(), limit)
		if err != nil {
			return err
		}
		for _, d := range claimed {
			if err := appendAudit(ctx, s.audit, models.EntityDispute, d.ID, nil, models.VerbAutoEscalated, map[string]any{
				"sla_deadline": d.SLADeadline,
				"to":           string(valueobject.DisputeStatusEscalated),
				partiesKey:     parties(d.BuyerID, d.FreelancerID),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(claimed) > 0 {
		metrics.DisputesEscalated.Add(float64(len(claimed)))
		metrics.DisputeTransitions.WithLabelValues(string(valueobject.DisputeStatusEscalated)).Add(float64(len(claimed)))
		logger.With("disputes").WithField("count", len(claimed)).Info("споры эскалированы по SLA")
	}
	return claimed, nil
}

// Get возвращает спор сторонам, назначенному медиатору и администраторам.
func (s *DisputeService) Get(ctx context.Context, actor Actor, id uuid.UUID) (*models.Dispute, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, d) {
		return nil, apperror.ErrForbidden
	}
	return d, nil
}

// ListForUser возвращает споры пользователя; администратор видит все.
func (s *DisputeService) ListForUser(ctx context.Context, actor Actor, status string, limit, offset int) ([]models.Dispute, error) {
	if status != "" {
		if _, err := valueobject.NewDisputeStatus(status); err != nil {
			return nil, err
		}
	}
	limit, offset = normalizePage(limit, offset)
	filter := repository.DisputeFilter{Status: status, Limit: limit, Offset: offset}
	if !actor.IsAdmin() {
		userID := actor.ID
		filter.UserID = &userID
	}
	return s.repo.List(ctx, filter)
}

// Timeline история спора из журнала аудита.
func (s *DisputeService) Timeline(ctx context.Context, actor Actor, id uuid.UUID) ([]models.AuditEvent, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.audit.ListByEntity(ctx, models.EntityDispute, id)
}

func (s *DisputeService) Evidence(ctx context.Context, actor Actor, id uuid.UUID) ([]models.Evidence, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.ListEvidence(ctx, id)
}

// Decision возвращает решение по спору или nil, если его ещё нет.
func (s *DisputeService) Decision(ctx context.Context, actor Actor, id uuid.UUID) (*models.ArbitrationDecision, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.GetDecision(ctx, id)
}

// lockOpenForActor блокирует незакрытый спор, доступный стороне или администратору.
func (s *DisputeService) lockOpenForActor(ctx context.Context, actor Actor, id uuid.UUID) (*models.Dispute, error) {
	d, err := s.repo.LockByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.IsParty(actor.ID) && !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	if d.Status.IsClosed() {
		return nil, apperror.New(apperror.ErrCodeConflict, "спор уже закрыт")
	}
	return d, nil
}

// transition меняет статус спора и пишет событие журнала.
func (s *DisputeService) transition(ctx context.Context, d *models.Dispute, to valueobject.DisputeStatus, actor *uuid.UUID, verb string, payload map[string]any) error {
	if !d.Status.CanTransitionTo(to) {
		return transitionError(d.Status, to)
	}
	from := d.Status
	d.Status = to
	if err := s.repo.Update(ctx, d); err != nil {
		return err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["from"] = string(from)
	payload["to"] = string(to)
	payload[partiesKey] = parties(d.BuyerID, d.FreelancerID)
	if err := appendAudit(ctx, s.audit, models.EntityDispute, d.ID, actor, verb, payload); err != nil {
		return err
	}
	metrics.DisputeTransitions.WithLabelValues(string(to)).Inc()
	return nil
}

func transitionError(from, to valueobject.DisputeStatus) error {
	return apperror.New(apperror.ErrCodeConflict, fmt.Sprintf("переход спора %s -> %s запрещён", from, to))
}

func canView(actor Actor, d *models.Dispute) bool {
	if actor.IsAdmin() || d.IsParty(actor.ID) {
		return true
	}
	return d.AssignedMediator != nil && *d.AssignedMediator == actor.ID
}
