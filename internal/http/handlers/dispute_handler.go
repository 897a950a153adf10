package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

// Disputes споры и арбитраж.
type Disputes interface {
	Open(ctx context.Context, actor service.Actor, in service.OpenDisputeInput) (*models.Dispute, error)
	Get(ctx context.Context, actor service.Actor, id uuid.UUID) (*models.Dispute, error)
	ListForUser(ctx context.Context, actor service.Actor, status string, limit, offset int) ([]models.Dispute, error)
	Timeline(ctx context.Context, actor service.Actor, id uuid.UUID) ([]models.AuditEvent, error)
	Evidence(ctx context.Context, actor service.Actor, id uuid.UUID) ([]models.Evidence, error)
	Decision(ctx context.Context, actor service.Actor, id uuid.UUID) (*models.ArbitrationDecision, error)
	Propose(ctx context.Context, actor service.Actor, id uuid.UUID, in service.ProposalInput) (*models.Dispute, error)
	Respond(ctx context.Context, actor service.Actor, id uuid.UUID, message string) error
	UploadEvidence(ctx context.Context, actor service.Actor, id uuid.UUID, in service.EvidenceInput) (*models.Evidence, error)
	Cancel(ctx context.Context, actor service.Actor, id uuid.UUID, reason string) (*models.Dispute, error)
	AssignMediator(ctx context.Context, actor service.Actor, id, mediatorID uuid.UUID) (*models.Dispute, error)
	StartMediation(ctx context.Context, actor service.Actor, id uuid.UUID) (*models.Dispute, error)
	Resolve(ctx context.Context, actor service.Actor, id uuid.UUID, in service.ResolveInput) (*models.ArbitrationDecision, bool, error)
}

type DisputeHandler struct {
	disputes Disputes
}

func NewDisputeHandler(disputes Disputes) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

// Open POST /api/disputes
func (h *DisputeHandler) Open(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}

	var req struct {
		ContractID  uuid.UUID `json:"contract_id" binding:"required"`
		Reason      string    `json:"reason" binding:"required"`
		Description string    `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "укажите контракт и причину спора")
		return
	}

	d, err := h.disputes.Open(c.Request.Context(), actor, service.OpenDisputeInput{
		ContractID:  req.ContractID,
		Reason:      req.Reason,
		Description: req.Description,
	})
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, d)
}

// List GET /api/disputes
func (h *DisputeHandler) List(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}

	limit, offset := common.GetPagination(c)
	items, err := h.disputes.ListForUser(c.Request.Context(), actor, c.Query("status"), limit, offset)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"disputes": items})
}

// Get GET /api/disputes/:id
// Вместе со спором отдаются доказательства и решение, если оно вынесено.
func (h *DisputeHandler) Get(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	d, err := h.disputes.Get(ctx, actor, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	evidence, err := h.disputes.Evidence(ctx, actor, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	resp := gin.H{"dispute": d, "evidence": evidence}
	if d.Status.IsClosed() {
		if decision, err := h.disputes.Decision(ctx, actor, id); err == nil {
			resp["decision"] = decision
		}
	}

	c.JSON(http.StatusOK, resp)
}

// Timeline GET /api/disputes/:id/timeline
func (h *DisputeHandler) Timeline(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	events, err := h.disputes.Timeline(c.Request.Context(), actor, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Propose POST /api/disputes/:id/proposals
func (h *DisputeHandler) Propose(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	var req struct {
		Decision string           `json:"decision" binding:"required"`
		Ratio    *decimal.Decimal `json:"ratio"`
		Amount   *decimal.Decimal `json:"amount"`
		Note     string           `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "укажите вариант решения")
		return
	}

	d, err := h.disputes.Propose(c.Request.Context(), actor, id, service.ProposalInput{
		Decision: req.Decision,
		Ratio:    req.Ratio,
		Amount:   req.Amount,
		Note:     req.Note,
	})
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, d)
}

// Respond POST /api/disputes/:id/responses
func (h *DisputeHandler) Respond(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "сообщение обязательно")
		return
	}

	if err := h.disputes.Respond(c.Request.Context(), actor, id, req.Message); err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "ok"})
}

// UploadEvidence POST /api/disputes/:id/evidence
// Принимает multipart с полем file либо текстовое доказательство в поле text.
func (h *DisputeHandler) UploadEvidence(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	in := service.EvidenceInput{
		Text:        c.PostForm("text"),
		Description: c.PostForm("description"),
	}
	if c.ContentType() == "application/json" {
		var req struct {
			Text        string `json:"text"`
			Description string `json:"description"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			common.RespondBadRequest(c, "некорректное доказательство")
			return
		}
		in.Text, in.Description = req.Text, req.Description
	} else if header, err := c.FormFile("file"); err == nil {
		file, err := header.Open()
		if err != nil {
			common.RespondBadRequest(c, "не удалось прочитать файл")
			return
		}
		defer file.Close()
		in.File = file
		in.FileName = header.Filename
	}

	ev, err := h.disputes.UploadEvidence(c.Request.Context(), actor, id, in)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, ev)
}

// Cancel POST /api/disputes/:id/cancel
func (h *DisputeHandler) Cancel(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	d, err := h.disputes.Cancel(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, d)
}

// AssignMediator POST /api/admin/disputes/:id/assign
func (h *DisputeHandler) AssignMediator(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	var req struct {
		MediatorID *uuid.UUID `json:"mediator_id"`
	}
	_ = c.ShouldBindJSON(&req)
	mediator := actor.ID
	if req.MediatorID != nil {
		mediator = *req.MediatorID
	}

	d, err := h.disputes.AssignMediator(c.Request.Context(), actor, id, mediator)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, d)
}

// StartMediation POST /api/admin/disputes/:id/mediation
func (h *DisputeHandler) StartMediation(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	d, err := h.disputes.StartMediation(c.Request.Context(), actor, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, d)
}

// Resolve POST /api/admin/disputes/:id/resolve
// Повторный вызов для закрытого спора возвращает прежнее решение с applied=false.
func (h *DisputeHandler) Resolve(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	var req struct {
		Decision string         `json:"decision" binding:"required"`
		Details  map[string]any `json:"details"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "укажите решение")
		return
	}

	decision, applied, err := h.disputes.Resolve(c.Request.Context(), actor, id, service.ResolveInput{
		Decision: req.Decision,
		Details:  req.Details,
	})
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"decision": decision, "applied": applied})
}
