package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-escrow/internal/repository/common"
)

// NotificationRepository хранит уведомления сторон.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository создаёт экземпляр репозитория.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create сохраняет уведомление. Если пользователь уже получил уведомление
// о том же событии журнала, ничего не пишет и возвращает false.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) (bool, error) {
	query := `
		INSERT INTO notifications (user_id, event, entity_type, entity_id, audit_seq, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, audit_seq) WHERE audit_seq IS NOT NULL DO NOTHING
		RETURNING id, is_read, created_at
	`

	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, query,
		n.UserID, n.Event, n.EntityType, n.EntityID, n.AuditSeq, n.Payload,
	).Scan(&n.ID, &n.IsRead, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, common.Classify(err, "notification repository: create", nil)
	}
	return true, nil
}

// List возвращает уведомления пользователя, новые первыми.
func (r *NotificationRepository) List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	conds := []string{"user_id = $1"}
	if unreadOnly {
		conds = append(conds, "NOT is_read")
	}
	query := fmt.Sprintf(`
		SELECT * FROM notifications
		WHERE %s
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, strings.Join(conds, " AND "))

	notifications := []models.Notification{}
	if err := common.Conn(ctx, r.db).SelectContext(ctx, &notifications, query, userID, limit, offset); err != nil {
		return nil, common.Classify(err, "notification repository: list", nil)
	}
	return notifications, nil
}

// MarkAsRead отмечает уведомление прочитанным. Чужое уведомление не находится.
func (r *NotificationRepository) MarkAsRead(ctx context.Context, userID, id uuid.UUID) error {
	result, err := common.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return common.Classify(err, "notification repository: mark as read", nil)
	}
	if n, err := result.RowsAffected(); err != nil {
		return common.Classify(err, "notification repository: mark as read", nil)
	} else if n == 0 {
		return apperror.ErrNotificationNotFound
	}
	return nil
}

// MarkAllAsRead отмечает все уведомления пользователя прочитанными и возвращает их число.
func (r *NotificationRepository) MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	result, err := common.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, common.Classify(err, "notification repository: mark all as read", nil)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, common.Classify(err, "notification repository: mark all as read", nil)
	}
	return n, nil
}

// CountUnread возвращает число непрочитанных уведомлений.
func (r *NotificationRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	if err := common.Conn(ctx, r.db).GetContext(ctx, &count,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID); err != nil {
		return 0, common.Classify(err, "notification repository: count unread", nil)
	}
	return count, nil
}
