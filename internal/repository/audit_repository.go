package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/repository/common"
)

// AuditRepository журнал аудита. Записи только добавляются.
type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append добавляет событие в журнал в текущей транзакции.
func (r *AuditRepository) Append(ctx context.Context, e *models.AuditEvent) error {
	if len(e.Payload) == 0 {
		e.Payload = []byte(`{}`)
	}
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, `
		INSERT INTO audit_events (entity_type, entity_id, actor_id, verb, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq, id, created_at
	`, e.EntityType, e.EntityID, e.ActorID, e.Verb, e.Payload).Scan(&e.Seq, &e.ID, &e.CreatedAt)
	return common.Classify(err, "audit repository: append", nil)
}

// ListByEntity возвращает историю сущности в порядке записи.
func (r *AuditRepository) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditEvent, error) {
	events := []models.AuditEvent{}
	err := common.Conn(ctx, r.db).SelectContext(ctx, &events, `
		SELECT * FROM audit_events WHERE entity_type = $1 AND entity_id = $2 ORDER BY seq ASC
	`, entityType, entityID)
	if err != nil {
		return nil, common.Classify(err, "audit repository: list by entity", nil)
	}
	return events, nil
}

// ListAfter возвращает события с seq больше заданного.
func (r *AuditRepository) ListAfter(ctx context.Context, seq int64, limit int) ([]models.AuditEvent, error) {
	events := []models.AuditEvent{}
	err := common.Conn(ctx, r.db).SelectContext(ctx, &events, `
		SELECT * FROM audit_events WHERE seq > $1 ORDER BY seq ASC LIMIT $2
	`, seq, limit)
	if err != nil {
		return nil, common.Classify(err, "audit repository: list after", nil)
	}
	return events, nil
}

// GetCursor возвращает позицию потребителя журнала, 0 если её ещё нет.
func (r *AuditRepository) GetCursor(ctx context.Context, name string) (int64, error) {
	var seq []int64
	err := common.Conn(ctx, r.db).SelectContext(ctx, &seq, `SELECT last_seq FROM event_cursors WHERE name = $1`, name)
	if err != nil {
		return 0, common.Classify(err, "audit repository: get cursor", nil)
	}
	if len(seq) == 0 {
		return 0, nil
	}
	return seq[0], nil
}

// SaveCursor сохраняет позицию потребителя журнала.
func (r *AuditRepository) SaveCursor(ctx context.Context, name string, seq int64) error {
	_, err := common.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO event_cursors (name, last_seq) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET last_seq = EXCLUDED.last_seq, updated_at = NOW()
	`, name, seq)
	return common.Classify(err, "audit repository: save cursor", nil)
}
