package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/gateway"
	"github.com/ignatzorin/freelance-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

// maxCallbackBody ограничение тела callback от шлюза.
const maxCallbackBody = 1 << 20

// SignatureHeader заголовок с подписью callback.
const SignatureHeader = "X-Signature"

// Deposits пополнение через шлюз и приём callback.
type Deposits interface {
	InitiateDeposit(ctx context.Context, actor service.Actor, gatewayName string, amount decimal.Decimal) (*service.DepositResult, error)
	HandleCallback(ctx context.Context, gatewayName string, cb gateway.Callback) (*models.Transaction, error)
}

type PaymentHandler struct {
	payments Deposits
}

func NewPaymentHandler(payments Deposits) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type depositRequest struct {
	Gateway string          `json:"gateway" binding:"required"`
	Amount  decimal.Decimal `json:"amount"`
}

// CreateDeposit POST /api/payments/deposits
func (h *PaymentHandler) CreateDeposit(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}

	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "укажите шлюз и сумму")
		return
	}

	result, err := h.payments.InitiateDeposit(c.Request.Context(), actor, req.Gateway, req.Amount)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// Callback POST /api/payments/callback/:gateway
// Публичный маршрут: подлинность проверяет адаптер шлюза по подписи.
func (h *PaymentHandler) Callback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil || len(body) == 0 {
		common.RespondBadRequest(c, "пустое тело callback")
		return
	}

	tx, err := h.payments.HandleCallback(c.Request.Context(), c.Param("gateway"), gateway.Callback{
		Body:      body,
		Signature: c.GetHeader(SignatureHeader),
	})
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reference": tx.Reference, "status": tx.Status})
}
