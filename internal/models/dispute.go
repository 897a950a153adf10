package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
)

// Dispute спор по контракту, не более одного на контракт.
type Dispute struct {
	ID               uuid.UUID                 `db:"id" json:"id"`
	ContractID       uuid.UUID                 `db:"contract_id" json:"contract_id"`
	EscrowID         uuid.UUID                 `db:"escrow_id" json:"escrow_id"`
	OpenerID         uuid.UUID                 `db:"opener_id" json:"opener_id"`
	BuyerID          uuid.UUID                 `db:"buyer_id" json:"buyer_id"`
	FreelancerID     uuid.UUID                 `db:"freelancer_id" json:"freelancer_id"`
	Reason           string                    `db:"reason" json:"reason"`
	Description      string                    `db:"description" json:"description"`
	Status           valueobject.DisputeStatus `db:"status" json:"status"`
	AssignedMediator *uuid.UUID                `db:"assigned_mediator" json:"assigned_mediator,omitempty"`
	SLADeadline      time.Time                 `db:"sla_deadline" json:"sla_deadline"`
	Meta             json.RawMessage           `db:"meta" json:"meta"`
	CreatedAt        time.Time                 `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time                 `db:"updated_at" json:"updated_at"`
	ResolvedAt       *time.Time                `db:"resolved_at" json:"resolved_at,omitempty"`
}

// IsParty проверяет, что пользователь сторона спора.
func (d *Dispute) IsParty(userID uuid.UUID) bool {
	return d.BuyerID == userID || d.FreelancerID == userID
}

// DisputeMeta изменяемые метаданные спора. LatestProposal хранит только последнее предложение,
// полная история предложений лежит в журнале.
type DisputeMeta struct {
	LatestProposal *Proposal `json:"latest_proposal,omitempty"`
	CancelReason   string    `json:"cancel_reason,omitempty"`
}

// Proposal предложение по урегулированию спора.
type Proposal struct {
	Decision   valueobject.Decision `json:"decision"`
	Ratio      *decimal.Decimal     `json:"ratio,omitempty"`
	Amount     *decimal.Decimal     `json:"amount,omitempty"`
	Note       string               `json:"note,omitempty"`
	ProposedBy uuid.UUID            `json:"proposed_by"`
	ProposedAt time.Time            `json:"proposed_at"`
}

// DecodeMeta разбирает метаданные спора.
func (d *Dispute) DecodeMeta() (DisputeMeta, error) {
	var meta DisputeMeta
	if len(d.Meta) == 0 {
		return meta, nil
	}
	err := json.Unmarshal(d.Meta, &meta)
	return meta, err
}

// SetMeta сериализует метаданные спора.
func (d *Dispute) SetMeta(meta DisputeMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	d.Meta = raw
	return nil
}

// Evidence доказательство, приложенное стороной спора.
type Evidence struct {
	ID          uuid.UUID `db:"id" json:"id"`
	DisputeID   uuid.UUID `db:"dispute_id" json:"dispute_id"`
	UploadedBy  uuid.UUID `db:"uploaded_by" json:"uploaded_by"`
	Kind        string    `db:"kind" json:"kind"`
	StorageKey  *string   `db:"storage_key" json:"storage_key,omitempty"`
	MimeType    *string   `db:"mime_type" json:"mime_type,omitempty"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	SHA256      *string   `db:"sha256" json:"sha256,omitempty"`
	Text        *string   `db:"text" json:"text,omitempty"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Типы доказательств
const (
	EvidenceKindFile = "file"
	EvidenceKindText = "text"
)

// ArbitrationDecision окончательное решение по спору, создаётся один раз.
type ArbitrationDecision struct {
	ID        uuid.UUID            `db:"id" json:"id"`
	DisputeID uuid.UUID            `db:"dispute_id" json:"dispute_id"`
	DecidedBy uuid.UUID            `db:"decided_by" json:"decided_by"`
	Decision  valueobject.Decision `db:"decision" json:"decision"`
	Details   json.RawMessage      `db:"details" json:"details"`
	DecidedAt time.Time            `db:"decided_at" json:"decided_at"`
}
