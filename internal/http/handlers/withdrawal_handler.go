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

// Withdrawals заявки на вывод средств.
type Withdrawals interface {
	RequestWithdrawal(ctx context.Context, actor service.Actor, amount decimal.Decimal, destination string) (*models.Withdrawal, error)
	CompleteWithdrawal(ctx context.Context, actor service.Actor, id uuid.UUID) (*models.Withdrawal, error)
	RejectWithdrawal(ctx context.Context, actor service.Actor, id uuid.UUID, reason string) (*models.Withdrawal, error)
	ListWithdrawals(ctx context.Context, actor service.Actor, limit, offset int) ([]models.Withdrawal, error)
	ListPendingWithdrawals(ctx context.Context, actor service.Actor, limit, offset int) ([]models.Withdrawal, error)
}

type WithdrawalHandler struct {
	withdrawals Withdrawals
}

func NewWithdrawalHandler(withdrawals Withdrawals) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals}
}

type withdrawalRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination" binding:"required"`
}

// Request POST /api/withdrawals
func (h *WithdrawalHandler) Request(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}

	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "укажите сумму и реквизиты")
		return
	}

	w, err := h.withdrawals.RequestWithdrawal(c.Request.Context(), actor, req.Amount, req.Destination)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, w)
}

// List GET /api/withdrawals
func (h *WithdrawalHandler) List(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}

	limit, offset := common.GetPagination(c)
	items, err := h.withdrawals.ListWithdrawals(c.Request.Context(), actor, limit, offset)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"withdrawals": items})
}

// ListPending GET /api/admin/withdrawals
func (h *WithdrawalHandler) ListPending(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}

	limit, offset := common.GetPagination(c)
	items, err := h.withdrawals.ListPendingWithdrawals(c.Request.Context(), actor, limit, offset)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"withdrawals": items})
}

// Complete POST /api/admin/withdrawals/:id/complete
func (h *WithdrawalHandler) Complete(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	w, err := h.withdrawals.CompleteWithdrawal(c.Request.Context(), actor, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, w)
}

// Reject POST /api/admin/withdrawals/:id/reject
func (h *WithdrawalHandler) Reject(c *gin.Context) {
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

	w, err := h.withdrawals.RejectWithdrawal(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, w)
}
