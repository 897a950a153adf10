package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-escrow/internal/repository/common"
)

// ErrDisputeExists возвращается при попытке открыть второй спор по контракту.
var ErrDisputeExists = apperror.New(apperror.ErrCodeConflict, "по контракту уже открыт спор")

// DisputeFilter параметры выборки споров.
type DisputeFilter struct {
	UserID *uuid.UUID
	Status string
	Limit  int
	Offset int
}

type DisputeRepository struct {
	db *sqlx.DB
}

func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

func (r *DisputeRepository) Create(ctx context.Context, d *models.Dispute) error {
	if len(d.Meta) == 0 {
		d.Meta = []byte(`{}`)
	}
	query := `
		INSERT INTO disputes (contract_id, escrow_id, opener_id, buyer_id, freelancer_id, reason, description, status, sla_deadline, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, query,
		d.ContractID, d.EscrowID, d.OpenerID, d.BuyerID, d.FreelancerID,
		d.Reason, d.Description, d.Status, d.SLADeadline, d.Meta,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return ErrDisputeExists
		}
		return common.Classify(err, "dispute repository: create", nil)
	}
	return nil
}

func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := common.Conn(ctx, r.db).GetContext(ctx, &d, `SELECT * FROM disputes WHERE id = $1`, id)
	if err != nil {
		return nil, common.Classify(err, "dispute repository: get by id", apperror.ErrDisputeNotFound)
	}
	return &d, nil
}

// LockByID блокирует спор до конца транзакции.
func (r *DisputeRepository) LockByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := common.Conn(ctx, r.db).GetContext(ctx, &d, `SELECT * FROM disputes WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, common.Classify(err, "dispute repository: lock", apperror.ErrDisputeNotFound)
	}
	return &d, nil
}

func (r *DisputeRepository) GetByContractID(ctx context.Context, contractID uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := common.Conn(ctx, r.db).GetContext(ctx, &d, `SELECT * FROM disputes WHERE contract_id = $1`, contractID)
	if err != nil {
		return nil, common.Classify(err, "dispute repository: get by contract", apperror.ErrDisputeNotFound)
	}
	return &d, nil
}

// Update сохраняет статус, посредника и метаданные спора.
func (r *DisputeRepository) Update(ctx context.Context, d *models.Dispute) error {
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, `
		UPDATE disputes
		SET status = $2, assigned_mediator = $3, meta = $4, resolved_at = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, d.ID, d.Status, d.AssignedMediator, d.Meta, d.ResolvedAt).Scan(&d.UpdatedAt)
	if err != nil {
		return common.Classify(err, "dispute repository: update", apperror.ErrDisputeNotFound)
	}
	return nil
}

// List возвращает споры. Без UserID возвращаются все споры (для администратора).
func (r *DisputeRepository) List(ctx context.Context, f DisputeFilter) ([]models.Dispute, error) {
	query := `SELECT * FROM disputes WHERE 1 = 1`
	args := []interface{}{}
	argIndex := 1

	if f.UserID != nil {
		query += fmt.Sprintf(" AND (buyer_id = $%d OR freelancer_id = $%d)", argIndex, argIndex)
		args = append(args, *f.UserID)
		argIndex++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, f.Status)
		argIndex++
	}

	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, f.Limit)
		argIndex++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, f.Offset)
	}

	disputes := []models.Dispute{}
	if err := common.Conn(ctx, r.db).SelectContext(ctx, &disputes, query, args...); err != nil {
		return nil, common.Classify(err, "dispute repository: list", nil)
	}
	return disputes, nil
}

// ClaimOverdue переводит в escalated споры с истёкшим SLA и возвращает их.
// Строки, заблокированные другими воркерами, пропускаются.
func (r *DisputeRepository) ClaimOverdue(ctx context.Context, now time.Time, limit int) ([]models.Dispute, error) {
	disputes := []models.Dispute{}
	err := common.Conn(ctx, r.db).SelectContext(ctx, &disputes, `
		UPDATE disputes SET status = $3, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM disputes
			WHERE status IN ('open', 'under_review', 'mediation') AND sla_deadline <= $1
			ORDER BY sla_deadline
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, now, limit, valueobject.DisputeStatusEscalated)
	if err != nil {
		return nil, common.Classify(err, "dispute repository: claim overdue", nil)
	}
	return disputes, nil
}

// CreateDecision сохраняет решение арбитража. Если решение уже есть, возвращает false.
func (r *DisputeRepository) CreateDecision(ctx context.Context, d *models.ArbitrationDecision) (bool, error) {
	if len(d.Details) == 0 {
		d.Details = []byte(`{}`)
	}
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, `
		INSERT INTO arbitration_decisions (dispute_id, decided_by, decision, details)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dispute_id) DO NOTHING
		RETURNING id, decided_at
	`, d.DisputeID, d.DecidedBy, d.Decision, d.Details).Scan(&d.ID, &d.DecidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, common.Classify(err, "dispute repository: create decision", nil)
	}
	return true, nil
}

// GetDecision возвращает решение по спору или nil, если его нет.
func (r *DisputeRepository) GetDecision(ctx context.Context, disputeID uuid.UUID) (*models.ArbitrationDecision, error) {
	var d models.ArbitrationDecision
	err := common.Conn(ctx, r.db).GetContext(ctx, &d, `SELECT * FROM arbitration_decisions WHERE dispute_id = $1`, disputeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, common.Classify(err, "dispute repository: get decision", nil)
	}
	return &d, nil
}

func (r *DisputeRepository) AddEvidence(ctx context.Context, e *models.Evidence) error {
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, `
		INSERT INTO dispute_evidence (dispute_id, uploaded_by, kind, storage_key, mime_type, size_bytes, sha256, text, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, e.DisputeID, e.UploadedBy, e.Kind, e.StorageKey, e.MimeType, e.SizeBytes, e.SHA256, e.Text, e.Description).
		Scan(&e.ID, &e.CreatedAt)
	return common.Classify(err, "dispute repository: add evidence", nil)
}

func (r *DisputeRepository) ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]models.Evidence, error) {
	evidence := []models.Evidence{}
	err := common.Conn(ctx, r.db).SelectContext(ctx, &evidence, `
		SELECT * FROM dispute_evidence WHERE dispute_id = $1 ORDER BY created_at ASC
	`, disputeID)
	if err != nil {
		return nil, common.Classify(err, "dispute repository: list evidence", nil)
	}
	return evidence, nil
}
