package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

// Contracts контракты и этапы.
type Contracts interface {
	Accept(ctx context.Context, actor service.Actor, in service.AcceptInput) (*models.Contract, error)
	GetContract(ctx context.Context, actor service.Actor, id uuid.UUID) (*models.Contract, error)
	GetEscrow(ctx context.Context, actor service.Actor, contractID uuid.UUID) (*models.Escrow, error)
	ListMilestones(ctx context.Context, actor service.Actor, contractID uuid.UUID) ([]models.Milestone, error)
	AddMilestone(ctx context.Context, actor service.Actor, contractID uuid.UUID, in service.MilestoneInput) (*models.Milestone, error)
	SubmitMilestone(ctx context.Context, actor service.Actor, milestoneID uuid.UUID) (*models.Milestone, error)
	ApproveMilestone(ctx context.Context, actor service.Actor, milestoneID uuid.UUID) (*models.Milestone, error)
	RejectMilestone(ctx context.Context, actor service.Actor, milestoneID uuid.UUID, feedback string) (*models.Milestone, error)
	ReviewEligible(ctx context.Context, contractID uuid.UUID) (bool, error)
}

type ContractHandler struct {
	contracts Contracts
}

func NewContractHandler(contracts Contracts) *ContractHandler {
	return &ContractHandler{contracts: contracts}
}

type milestoneRequest struct {
	Title   string          `json:"title"`
	Amount  decimal.Decimal `json:"amount"`
	DueDate *time.Time      `json:"due_date"`
}

func (r milestoneRequest) input() service.MilestoneInput {
	return service.MilestoneInput{Title: r.Title, Amount: r.Amount, DueDate: r.DueDate}
}

type acceptRequest struct {
	ProjectID      uuid.UUID          `json:"project_id" binding:"required"`
	FreelancerID   uuid.UUID          `json:"freelancer_id" binding:"required"`
	BuyerID        *uuid.UUID         `json:"buyer_id"`
	TotalAmount    decimal.Decimal    `json:"total_amount"`
	Milestones     []milestoneRequest `json:"milestones"`
	FundFromWallet bool               `json:"fund_from_wallet"`
}

// Create POST /api/contracts
// Заказчик принимает предложение: создаются контракт, этапы и удержание.
func (h *ContractHandler) Create(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}

	var req acceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "некорректные данные контракта")
		return
	}

	in := service.AcceptInput{
		ProjectID:      req.ProjectID,
		BuyerID:        actor.ID,
		FreelancerID:   req.FreelancerID,
		TotalAmount:    req.TotalAmount,
		FundFromWallet: req.FundFromWallet,
	}
	// администратор может оформить контракт за заказчика
	if req.BuyerID != nil && actor.IsAdmin() {
		in.BuyerID = *req.BuyerID
	}
	for _, m := range req.Milestones {
		in.Milestones = append(in.Milestones, m.input())
	}

	contract, err := h.contracts.Accept(c.Request.Context(), actor, in)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, contract)
}

// Get GET /api/contracts/:id
func (h *ContractHandler) Get(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	contract, err := h.contracts.GetContract(c.Request.Context(), actor, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	milestones, err := h.contracts.ListMilestones(c.Request.Context(), actor, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"contract": contract, "milestones": milestones})
}

// GetEscrow GET /api/contracts/:id/escrow
func (h *ContractHandler) GetEscrow(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	escrow, err := h.contracts.GetEscrow(c.Request.Context(), actor, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, escrow)
}

// ReviewEligibility GET /api/contracts/:id/review-eligibility
func (h *ContractHandler) ReviewEligibility(c *gin.Context) {
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	eligible, err := h.contracts.ReviewEligible(c.Request.Context(), id)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"eligible": eligible})
}

// AddMilestone POST /api/contracts/:id/milestones
func (h *ContractHandler) AddMilestone(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	var req milestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "некорректные данные этапа")
		return
	}

	m, err := h.contracts.AddMilestone(c.Request.Context(), actor, id, req.input())
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, m)
}

// SubmitMilestone POST /api/milestones/:id/submit
func (h *ContractHandler) SubmitMilestone(c *gin.Context) {
	h.milestoneAction(c, h.contracts.SubmitMilestone)
}

// ApproveMilestone POST /api/milestones/:id/approve
// Одобрение запускает выплату этапа из escrow.
func (h *ContractHandler) ApproveMilestone(c *gin.Context) {
	h.milestoneAction(c, h.contracts.ApproveMilestone)
}

// RejectMilestone POST /api/milestones/:id/reject
func (h *ContractHandler) RejectMilestone(c *gin.Context) {
	var req struct {
		Feedback string `json:"feedback"`
	}
	_ = c.ShouldBindJSON(&req)

	h.milestoneAction(c, func(ctx context.Context, actor service.Actor, id uuid.UUID) (*models.Milestone, error) {
		return h.contracts.RejectMilestone(ctx, actor, id, req.Feedback)
	})
}

func (h *ContractHandler) milestoneAction(c *gin.Context, action func(context.Context, service.Actor, uuid.UUID) (*models.Milestone, error)) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	m, err := action(c.Request.Context(), actor, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, m)
}
