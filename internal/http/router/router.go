package router

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/ignatzorin/freelance-escrow/internal/config"
	"github.com/ignatzorin/freelance-escrow/internal/http/handlers"
	"github.com/ignatzorin/freelance-escrow/internal/http/middleware"
	"github.com/ignatzorin/freelance-escrow/internal/metrics"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

// Handlers набор хэндлеров API.
type Handlers struct {
	Health       *handlers.HealthHandler
	Wallet       *handlers.WalletHandler
	Payment      *handlers.PaymentHandler
	Withdrawal   *handlers.WithdrawalHandler
	Contract     *handlers.ContractHandler
	Dispute      *handlers.DisputeHandler
	Admin        *handlers.AdminHandler
	Notification *handlers.NotificationHandler
	WS           *handlers.WSHandler
}

func SetupRouter(cfg *config.Config, h Handlers, tokenManager *service.TokenManager, redisClient *redis.Client) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod, redisClient))

	// callback шлюза подписан самим шлюзом, JWT нет
	api.POST("/payments/callback/:gateway", h.Payment.Callback)
	if h.WS != nil {
		api.GET("/ws", h.WS.Handle)
	}

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		protected.GET("/wallet", h.Wallet.GetWallet)
		protected.GET("/wallet/transactions", h.Wallet.ListTransactions)

		protected.POST("/payments/deposits", h.Payment.CreateDeposit)

		protected.POST("/withdrawals", h.Withdrawal.Request)
		protected.GET("/withdrawals", h.Withdrawal.List)

		contracts := protected.Group("/contracts")
		{
			contracts.POST("", h.Contract.Create)
			contracts.GET("/:id", middleware.UUIDValidator("id"), h.Contract.Get)
			contracts.GET("/:id/escrow", middleware.UUIDValidator("id"), h.Contract.GetEscrow)
			contracts.GET("/:id/review-eligibility", middleware.UUIDValidator("id"), h.Contract.ReviewEligibility)
			contracts.POST("/:id/milestones", middleware.UUIDValidator("id"), h.Contract.AddMilestone)
		}

		milestones := protected.Group("/milestones/:id", middleware.UUIDValidator("id"))
		{
			milestones.POST("/submit", h.Contract.SubmitMilestone)
			milestones.POST("/approve", h.Contract.ApproveMilestone)
			milestones.POST("/reject", h.Contract.RejectMilestone)
		}

		disputes := protected.Group("/disputes")
		{
			disputes.POST("", h.Dispute.Open)
			disputes.GET("", h.Dispute.List)
			disputes.GET("/:id", middleware.UUIDValidator("id"), h.Dispute.Get)
			disputes.GET("/:id/timeline", middleware.UUIDValidator("id"), h.Dispute.Timeline)
			disputes.POST("/:id/proposals", middleware.UUIDValidator("id"), h.Dispute.Propose)
			disputes.POST("/:id/responses", middleware.UUIDValidator("id"), h.Dispute.Respond)
			disputes.POST("/:id/evidence", middleware.UUIDValidator("id"), h.Dispute.UploadEvidence)
			disputes.POST("/:id/cancel", middleware.UUIDValidator("id"), h.Dispute.Cancel)
		}

		notifications := protected.Group("/notifications")
		{
			notifications.GET("", h.Notification.ListNotifications)
			notifications.GET("/unread-count", h.Notification.CountUnread)
			notifications.POST("/read-all", h.Notification.MarkAllAsRead)
			notifications.POST("/:id/read", middleware.UUIDValidator("id"), h.Notification.MarkAsRead)
		}

		admin := protected.Group("/admin", middleware.AdminOnly())
		{
			admin.POST("/disputes/:id/assign", middleware.UUIDValidator("id"), h.Dispute.AssignMediator)
			admin.POST("/disputes/:id/mediation", middleware.UUIDValidator("id"), h.Dispute.StartMediation)
			admin.POST("/disputes/:id/resolve", middleware.UUIDValidator("id"), h.Dispute.Resolve)

			admin.POST("/escrows/:id/freeze", middleware.UUIDValidator("id"), h.Admin.FreezeEscrow)
			admin.POST("/escrows/:id/unfreeze", middleware.UUIDValidator("id"), h.Admin.UnfreezeEscrow)

			admin.POST("/transactions/:id/reverse", middleware.UUIDValidator("id"), h.Admin.ReverseTransaction)

			admin.GET("/withdrawals", h.Withdrawal.ListPending)
			admin.POST("/withdrawals/:id/complete", middleware.UUIDValidator("id"), h.Withdrawal.Complete)
			admin.POST("/withdrawals/:id/reject", middleware.UUIDValidator("id"), h.Withdrawal.Reject)

			admin.GET("/reconciliation", h.Admin.ListReconciliation)
			admin.POST("/reconciliation/:id/retry", middleware.UUIDValidator("id"), h.Admin.RetryReconciliation)
			admin.POST("/reconciliation/:id/resolve", middleware.UUIDValidator("id"), h.Admin.ResolveReconciliation)

			admin.POST("/sweep", h.Admin.Sweep)
		}
	}

	return r
}
