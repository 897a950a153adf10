package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// NotificationRepository хранилище уведомлений.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) (bool, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, userID, id uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// Pusher доставляет событие подключённым клиентам пользователя.
type Pusher interface {
	PushToUser(userID uuid.UUID, event string, data any) error
}

// NotificationService сохраняет уведомления сторон и дублирует их в WebSocket.
type NotificationService struct {
	repo   NotificationRepository
	pusher Pusher
}

// NewNotificationService создаёт сервис. pusher может быть nil.
func NewNotificationService(repo NotificationRepository, pusher Pusher) *NotificationService {
	return &NotificationService{repo: repo, pusher: pusher}
}

// Notify сохраняет уведомление n с данными data и отправляет его в открытые
// соединения пользователя. Повторная доставка того же события журнала
// возвращает false и ничего не отправляет.
func (s *NotificationService) Notify(ctx context.Context, n *models.Notification, data any) (bool, error) {
	if n.UserID == uuid.Nil || n.Event == "" {
		return false, apperror.New(apperror.ErrCodeValidation, "уведомлению нужны получатель и тип события")
	}
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("notification service: marshal payload %w", err)
	}
	n.Payload = payload

	created, err := s.repo.Create(ctx, n)
	if err != nil || !created {
		return false, err
	}

	if s.pusher != nil {
		push := map[string]any{
			"id":          n.ID,
			"entity_type": n.EntityType,
			"entity_id":   n.EntityID,
			"data":        data,
		}
		if err := s.pusher.PushToUser(n.UserID, n.Event, push); err != nil {
			// уведомление сохранено, клиент получит его из списка
			logger.With("notifications").WithField("user_id", n.UserID).WithError(err).Warn("не удалось отправить уведомление в WebSocket")
		}
	}
	return true, nil
}

// ListNotifications возвращает уведомления пользователя.
func (s *NotificationService) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	limit, offset = normalizePage(limit, offset)
	return s.repo.List(ctx, userID, limit, offset, unreadOnly)
}

// MarkAsRead отмечает уведомление прочитанным.
func (s *NotificationService) MarkAsRead(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	return s.repo.MarkAsRead(ctx, userID, id)
}

// MarkAllAsRead отмечает прочитанными все уведомления и возвращает их число.
func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.MarkAllAsRead(ctx, userID)
}

func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}
