package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// Transactor выполняет fn в одной транзакции БД. Вложенные вызовы
// переиспользуют транзакцию из ctx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AuditAppender дописывает события в журнал аудита.
type AuditAppender interface {
	Append(ctx context.Context, e *models.AuditEvent) error
}

// AuditLog журнал аудита с чтением истории сущности.
type AuditLog interface {
	AuditAppender
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditEvent, error)
}

// Actor пользователь, от имени которого выполняется операция.
type Actor struct {
	ID   uuid.UUID
	Role string
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// Ключ payload со списком получателей уведомлений о событии.
const partiesKey = "parties"

// appendAudit пишет событие журнала. Вызывается внутри транзакции операции,
// поэтому событие появляется только вместе с изменением состояния.
func appendAudit(ctx context.Context, audit AuditAppender, entityType string, entityID uuid.UUID, actorID *uuid.UUID, verb string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сериализовать событие журнала")
	}
	return audit.Append(ctx, &models.AuditEvent{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Verb:       verb,
		Payload:    raw,
	})
}

func parties(ids ...uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func actorRef(a Actor) *uuid.UUID {
	if a.ID == uuid.Nil {
		return nil
	}
	id := a.ID
	return &id
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// invalid переводит ошибку валидации ввода в VALIDATION_ERROR.
func invalid(err error) error {
	return apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
}
