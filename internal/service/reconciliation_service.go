package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/metrics"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

type ReconciliationRepository interface {
	Enqueue(ctx context.Context, item *models.ReconciliationItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationItem, error)
	ListOpen(ctx context.Context, limit int) ([]models.ReconciliationItem, error)
	MarkResolved(ctx context.Context, id uuid.UUID) error
	RecordFailure(ctx context.Context, id uuid.UUID, lastErr string) error
}

// ReconHandler повторно выполняет операцию задачи сверки.
type ReconHandler func(ctx context.Context, item *models.ReconciliationItem) error

// EnqueueInput новая задача сверки.
type EnqueueInput struct {
	Kind    string
	RefID   string
	Reason  string
	Payload any
	Cause   error
}

// ReconciliationService очередь операций, не прошедших после всех повторов.
type ReconciliationService struct {
	repo ReconciliationRepository

	mu       sync.RWMutex
	handlers map[string]ReconHandler
}

func NewReconciliationService(repo ReconciliationRepository) *ReconciliationService {
	return &ReconciliationService{repo: repo, handlers: make(map[string]ReconHandler)}
}

// Handle регистрирует обработчик для вида задач.
func (s *ReconciliationService) Handle(kind string, h ReconHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

func (s *ReconciliationService) handler(kind string) (ReconHandler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[kind]
	return h, ok
}

// Enqueue ставит задачу. Повтор для открытой задачи увеличивает число попыток.
func (s *ReconciliationService) Enqueue(ctx context.Context, in EnqueueInput) (*models.ReconciliationItem, error) {
	item := &models.ReconciliationItem{
		Kind:   in.Kind,
		RefID:  in.RefID,
		Reason: in.Reason,
	}
	if in.Payload != nil {
		raw, err := json.Marshal(in.Payload)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сериализовать задачу сверки")
		}
		item.Payload = raw
	}
	if in.Cause != nil {
		msg := in.Cause.Error()
		item.LastError = &msg
	}

	if err := s.repo.Enqueue(ctx, item); err != nil {
		return nil, err
	}
	metrics.ReconciliationEnqueued.WithLabelValues(in.Kind).Inc()
	logger.With("reconciliation").WithFields(logrus.Fields{
		"kind":     item.Kind,
		"ref_id":   item.RefID,
		"attempts": item.Attempts,
	}).WithError(in.Cause).Error("операция передана на ручную сверку")
	return item, nil
}

func (s *ReconciliationService) ListOpen(ctx context.Context, limit int) ([]models.ReconciliationItem, error) {
	limit, _ = normalizePage(limit, 0)
	return s.repo.ListOpen(ctx, limit)
}

// Retry повторяет операцию задачи. При успехе задача закрывается,
// при ошибке фиксируется попытка.
func (s *ReconciliationService) Retry(ctx context.Context, id uuid.UUID) (*models.ReconciliationItem, error) {
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status == models.ReconStatusResolved {
		return item, nil
	}
	h, ok := s.handler(item.Kind)
	if !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("нет обработчика для задач %s", item.Kind))
	}

	if err := h(ctx, item); err != nil {
		msg := err.Error()
		if rerr := s.repo.RecordFailure(context.WithoutCancel(ctx), item.ID, msg); rerr != nil {
			logger.With("reconciliation").WithField("item_id", item.ID).WithError(rerr).Error("не удалось записать неудачную попытку")
		}
		item.Attempts++
		item.LastError = &msg
		return item, err
	}

	if err := s.repo.MarkResolved(ctx, item.ID); err != nil {
		return nil, err
	}
	item.Status = models.ReconStatusResolved
	logger.With("reconciliation").WithFields(logrus.Fields{
		"item_id": item.ID,
		"kind":    item.Kind,
	}).Info("задача сверки закрыта")
	return item, nil
}

// RetryOpen проходит по открытым задачам и возвращает число закрытых.
func (s *ReconciliationService) RetryOpen(ctx context.Context, limit int) (int, error) {
	items, err := s.ListOpen(ctx, limit)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		if _, err := s.Retry(ctx, item.ID); err != nil {
			logger.With("reconciliation").WithField("item_id", item.ID).WithError(err).Warn("повтор задачи не удался")
			continue
		}
		resolved++
	}
	return resolved, nil
}

// MarkResolved закрывает задачу вручную.
func (s *ReconciliationService) MarkResolved(ctx context.Context, actor Actor, id uuid.UUID) error {
	if !actor.IsAdmin() {
		return apperror.ErrForbidden
	}
	return s.repo.MarkResolved(ctx, id)
}
