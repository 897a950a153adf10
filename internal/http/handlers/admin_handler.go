package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

// EscrowAdmin ручное управление удержаниями.
type EscrowAdmin interface {
	Freeze(ctx context.Context, escrowID uuid.UUID, reason string, actor *uuid.UUID) (*models.Escrow, bool, error)
	Unfreeze(ctx context.Context, escrowID uuid.UUID, actor *uuid.UUID) (*models.Escrow, bool, error)
}

// Reverser сторнирование транзакций.
type Reverser interface {
	Reverse(ctx context.Context, actor service.Actor, transactionID uuid.UUID, reason string) (*models.Transaction, bool, error)
}

// Reconciliation очередь ручной сверки.
type Reconciliation interface {
	ListOpen(ctx context.Context, limit int) ([]models.ReconciliationItem, error)
	Retry(ctx context.Context, id uuid.UUID) (*models.ReconciliationItem, error)
	MarkResolved(ctx context.Context, actor service.Actor, id uuid.UUID) error
}

// Sweeper эскалация просроченных споров.
type Sweeper interface {
	SweepOverdue(ctx context.Context, limit int) ([]models.Dispute, error)
}

// AdminHandler операции администратора вне жизненного цикла споров.
type AdminHandler struct {
	escrows EscrowAdmin
	ledger  Reverser
	recon   Reconciliation
	sweeper Sweeper
}

func NewAdminHandler(escrows EscrowAdmin, ledger Reverser, recon Reconciliation, sweeper Sweeper) *AdminHandler {
	return &AdminHandler{escrows: escrows, ledger: ledger, recon: recon, sweeper: sweeper}
}

// FreezeEscrow POST /api/admin/escrows/:id/freeze
func (h *AdminHandler) FreezeEscrow(c *gin.Context) {
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
	if req.Reason == "" {
		req.Reason = "admin"
	}

	escrow, applied, err := h.escrows.Freeze(c.Request.Context(), id, req.Reason, &actor.ID)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": escrow, "applied": applied})
}

// UnfreezeEscrow POST /api/admin/escrows/:id/unfreeze
func (h *AdminHandler) UnfreezeEscrow(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	escrow, applied, err := h.escrows.Unfreeze(c.Request.Context(), id, &actor.ID)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": escrow, "applied": applied})
}

// ReverseTransaction POST /api/admin/transactions/:id/reverse
func (h *AdminHandler) ReverseTransaction(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "причина сторнирования обязательна")
		return
	}

	tx, applied, err := h.ledger.Reverse(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx, "applied": applied})
}

// ListReconciliation GET /api/admin/reconciliation
func (h *AdminHandler) ListReconciliation(c *gin.Context) {
	limit, _ := common.GetPagination(c)
	items, err := h.recon.ListOpen(c.Request.Context(), limit)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

// RetryReconciliation POST /api/admin/reconciliation/:id/retry
func (h *AdminHandler) RetryReconciliation(c *gin.Context) {
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	item, err := h.recon.Retry(c.Request.Context(), id)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

// ResolveReconciliation POST /api/admin/reconciliation/:id/resolve
func (h *AdminHandler) ResolveReconciliation(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	id, ok := common.PathID(c)
	if !ok {
		return
	}

	if err := h.recon.MarkResolved(c.Request.Context(), actor, id); err != nil {
		common.RespondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Sweep POST /api/admin/sweep
func (h *AdminHandler) Sweep(c *gin.Context) {
	limit := common.ParseIntQuery(c, "limit", 100)
	escalated, err := h.sweeper.SweepOverdue(c.Request.Context(), limit)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escalated": len(escalated), "disputes": escalated})
}
