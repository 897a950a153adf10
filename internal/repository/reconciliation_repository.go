package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-escrow/internal/repository/common"
)

// ReconciliationRepository очередь задач ручной сверки.
type ReconciliationRepository struct {
	db *sqlx.DB
}

func NewReconciliationRepository(db *sqlx.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

// Enqueue добавляет задачу. Для уже открытой задачи с тем же (kind, ref_id)
// увеличивает счётчик попыток и обновляет причину.
func (r *ReconciliationRepository) Enqueue(ctx context.Context, item *models.ReconciliationItem) error {
	var payload interface{}
	if len(item.Payload) > 0 {
		payload = json.RawMessage(item.Payload)
	}
	err := common.Conn(ctx, r.db).GetContext(ctx, item, `
		INSERT INTO reconciliation_items (kind, ref_id, reason, payload, last_error)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, ref_id) WHERE status = 'open'
		DO UPDATE SET attempts = reconciliation_items.attempts + 1,
		              reason = EXCLUDED.reason,
		              last_error = EXCLUDED.last_error,
		              updated_at = NOW()
		RETURNING *
	`, item.Kind, item.RefID, item.Reason, payload, item.LastError)
	return common.Classify(err, "reconciliation repository: enqueue", nil)
}

func (r *ReconciliationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationItem, error) {
	var item models.ReconciliationItem
	err := common.Conn(ctx, r.db).GetContext(ctx, &item, `SELECT * FROM reconciliation_items WHERE id = $1`, id)
	if err != nil {
		return nil, common.Classify(err, "reconciliation repository: get by id", apperror.ErrReconNotFound)
	}
	return &item, nil
}

// ListOpen возвращает открытые задачи, старые первыми.
func (r *ReconciliationRepository) ListOpen(ctx context.Context, limit int) ([]models.ReconciliationItem, error) {
	items := []models.ReconciliationItem{}
	err := common.Conn(ctx, r.db).SelectContext(ctx, &items, `
		SELECT * FROM reconciliation_items WHERE status = 'open' ORDER BY created_at ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, common.Classify(err, "reconciliation repository: list open", nil)
	}
	return items, nil
}

func (r *ReconciliationRepository) MarkResolved(ctx context.Context, id uuid.UUID) error {
	res, err := common.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE reconciliation_items SET status = 'resolved', updated_at = NOW() WHERE id = $1 AND status = 'open'
	`, id)
	if err != nil {
		return common.Classify(err, "reconciliation repository: mark resolved", nil)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.ErrReconNotFound
	}
	return nil
}

// RecordFailure фиксирует неудачную попытку повторной обработки.
func (r *ReconciliationRepository) RecordFailure(ctx context.Context, id uuid.UUID, lastErr string) error {
	_, err := common.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE reconciliation_items SET attempts = attempts + 1, last_error = $2, updated_at = NOW() WHERE id = $1
	`, id, lastErr)
	return common.Classify(err, "reconciliation repository: record failure", nil)
}
