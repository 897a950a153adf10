package events

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/models"
)

// Notifier сохраняет уведомление. Повтор того же (user, audit_seq) ничего не создаёт.
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification, data any) (bool, error)
}

// NotifierSink уведомляет стороны события, кроме его автора.
type NotifierSink struct {
	notifier Notifier
}

// NewNotifierSink создаёт sink уведомлений.
func NewNotifierSink(n Notifier) *NotifierSink {
	return &NotifierSink{notifier: n}
}

func (s *NotifierSink) Name() string { return "notifier" }

func (s *NotifierSink) Handle(ctx context.Context, ev models.AuditEvent) error {
	env, fields, err := decodeEnvelope(ev)
	if err != nil {
		return err
	}
	delete(fields, "parties")

	name := EventName(ev)
	var errs []error
	seen := make(map[uuid.UUID]struct{}, len(env.Parties))
	for _, userID := range env.Parties {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		if ev.ActorID != nil && *ev.ActorID == userID {
			continue
		}
		seq := ev.Seq
		n := &models.Notification{
			UserID:     userID,
			Event:      name,
			EntityType: ev.EntityType,
			EntityID:   ev.EntityID,
			AuditSeq:   &seq,
		}
		if _, err := s.notifier.Notify(ctx, n, fields); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
