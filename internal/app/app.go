// Package app собирает зависимости движка расчётов из конфигурации.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/ignatzorin/freelance-escrow/internal/commission"
	"github.com/ignatzorin/freelance-escrow/internal/config"
	"github.com/ignatzorin/freelance-escrow/internal/db"
	"github.com/ignatzorin/freelance-escrow/internal/events"
	"github.com/ignatzorin/freelance-escrow/internal/gateway"
	"github.com/ignatzorin/freelance-escrow/internal/http/handlers"
	"github.com/ignatzorin/freelance-escrow/internal/http/router"
	"github.com/ignatzorin/freelance-escrow/internal/lock"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/metrics"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/repository"
	"github.com/ignatzorin/freelance-escrow/internal/repository/common"
	"github.com/ignatzorin/freelance-escrow/internal/retry"
	"github.com/ignatzorin/freelance-escrow/internal/scheduler"
	"github.com/ignatzorin/freelance-escrow/internal/service"
	"github.com/ignatzorin/freelance-escrow/internal/storage"
	"github.com/ignatzorin/freelance-escrow/internal/ws"
)

// App готовые к работе сервисы и фоновые компоненты.
type App struct {
	Config *config.Config
	DB     *sqlx.DB
	Redis  *redis.Client

	Tokens        *service.TokenManager
	Ledger        *service.LedgerService
	Escrows       *service.EscrowService
	Contracts     *service.ContractService
	Disputes      *service.DisputeService
	Payments      *service.PaymentService
	Recon         *service.ReconciliationService
	Notifications *service.NotificationService

	Hub        *ws.Hub
	Dispatcher *events.Dispatcher
	Runner     *scheduler.Runner

	closers []func() error
}

// New подключается к базе и Redis и собирает сервисы. Миграции не запускаются.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	conn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: некорректный REDIS_URL: %w", err)
		}
		a.Redis = redis.NewClient(opts)
		a.closers = append(a.closers, a.Redis.Close)
	}

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	log := logger.With("app")

	var locker lock.Locker = lock.NewLocalLocker()
	if a.Redis != nil {
		locker = lock.NewRedisLocker(a.Redis, "escrow:lock:")
	} else {
		log.Warn("REDIS_URL не задан, блокировки действуют только внутри процесса")
	}

	policy, err := commissionPolicy(cfg)
	if err != nil {
		return err
	}

	evidence, err := evidenceStore(ctx, cfg)
	if err != nil {
		return err
	}

	gateways, err := gatewayRegistry(cfg)
	if err != nil {
		return err
	}

	tx := common.NewTransactor(a.DB)
	audit := repository.NewAuditRepository(a.DB)
	releasePolicy := retry.Policy{MaxAttempts: cfg.ReleaseMaxAttempts, BaseDelay: cfg.ReleaseBackoffBase}

	a.Tokens = service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)
	a.Hub = ws.NewHub()

	a.Ledger = service.NewLedgerService(repository.NewLedgerRepository(a.DB), tx, audit, cfg.DefaultCurrency)
	disputeRepo := repository.NewDisputeRepository(a.DB)
	a.Escrows = service.NewEscrowService(
		repository.NewEscrowRepository(a.DB), disputeRepo, a.Ledger, tx, audit,
		locker, policy, cfg.LockTTL, cfg.LockWait,
	)
	a.Recon = service.NewReconciliationService(repository.NewReconciliationRepository(a.DB))
	contractRepo := repository.NewContractRepository(a.DB)
	a.Contracts = service.NewContractService(contractRepo, a.Escrows, a.Recon, tx, audit, releasePolicy)
	a.Disputes = service.NewDisputeService(
		disputeRepo, contractRepo, a.Escrows,
		evidence, tx, audit, cfg.DisputeSLA,
	)
	a.Payments = service.NewPaymentService(
		a.Ledger, repository.NewWithdrawalRepository(a.DB), gateways,
		a.Recon, tx, audit, releasePolicy, cfg.GatewayTimeout, cfg.DefaultCurrency,
	)
	a.Notifications = service.NewNotificationService(repository.NewNotificationRepository(a.DB), a.Hub)

	a.Recon.Handle(models.ReconKindMilestoneRelease, func(ctx context.Context, item *models.ReconciliationItem) error {
		id, err := uuid.Parse(item.RefID)
		if err != nil {
			return fmt.Errorf("app: некорректный id этапа %q: %w", item.RefID, err)
		}
		return a.Contracts.RetryMilestoneRelease(ctx, id)
	})
	a.Recon.Handle(models.ReconKindGatewayCallback, a.Payments.RetryCallback)

	sinks, err := a.sinks(cfg)
	if err != nil {
		return err
	}
	a.Dispatcher = events.NewDispatcher(audit, events.DefaultCursor, 0, sinks...)
	a.Dispatcher.SetGapGrace(cfg.DispatchGapGrace)

	a.Runner = scheduler.NewRunner(
		scheduler.EscalationSweep(a.Disputes, cfg.SweepInterval, cfg.SweepBatch),
		scheduler.ReconciliationJob(a.Recon, cfg.ReconcileInterval, cfg.SweepBatch),
		scheduler.DispatchJob(a.Dispatcher, cfg.DispatchInterval),
	)

	metrics.MustRegister()
	return nil
}

func (a *App) sinks(cfg *config.Config) ([]events.Sink, error) {
	var poster events.ChatPoster = events.LogPoster{}
	if cfg.ChatWebhookURL != "" {
		poster = events.NewWebhookPoster(cfg.ChatWebhookURL, cfg.GatewayTimeout)
	}
	sinks := []events.Sink{
		events.NewNotifierSink(a.Notifications),
		events.NewChatSink(poster),
	}

	if len(cfg.KafkaBrokers) > 0 {
		writer, err := events.NewKafkaWriter(cfg.KafkaBrokers)
		if err != nil {
			return nil, err
		}
		kafkaSink := events.NewKafkaSink(writer, cfg.KafkaTopic)
		a.closers = append(a.closers, kafkaSink.Close)
		sinks = append(sinks, kafkaSink)
	}
	return sinks, nil
}

// Router собирает HTTP API.
func (a *App) Router() *gin.Engine {
	checks := map[string]handlers.HealthCheck{
		"database": a.DB.PingContext,
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}

	return router.SetupRouter(a.Config, router.Handlers{
		Health:       handlers.NewHealthHandler(checks),
		Wallet:       handlers.NewWalletHandler(a.Ledger),
		Payment:      handlers.NewPaymentHandler(a.Payments),
		Withdrawal:   handlers.NewWithdrawalHandler(a.Payments),
		Contract:     handlers.NewContractHandler(a.Contracts),
		Dispute:      handlers.NewDisputeHandler(a.Disputes),
		Admin:        handlers.NewAdminHandler(a.Escrows, a.Ledger, a.Recon, a.Disputes),
		Notification: handlers.NewNotificationHandler(a.Notifications),
		WS:           handlers.NewWSHandler(a.Hub, a.Tokens, a.Config.AllowedOrigins),
	}, a.Tokens, a.Redis)
}

// Start запускает хаб WebSocket и фоновые задачи до отмены ctx.
func (a *App) Start(ctx context.Context) {
	go a.Hub.Run(ctx)
	a.Runner.Start(ctx)
}

// Wait ждёт остановки фоновых задач.
func (a *App) Wait() {
	a.Runner.Wait()
}

// Close освобождает соединения в обратном порядке.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.With("app").WithError(err).Warn("ошибка при закрытии ресурса")
		}
	}
	a.closers = nil
}

func commissionPolicy(cfg *config.Config) (commission.Policy, error) {
	if cfg.CommissionScheduleFile != "" {
		schedule, err := commission.LoadSchedule(cfg.CommissionScheduleFile)
		if err != nil {
			return nil, err
		}
		return schedule, nil
	}
	return commission.NewFlatPercent(cfg.CommissionPercent), nil
}

func evidenceStore(ctx context.Context, cfg *config.Config) (storage.EvidenceStore, error) {
	if cfg.EvidenceStorage == "s3" {
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:      cfg.EvidenceS3Bucket,
			Region:      cfg.EvidenceS3Region,
			Prefix:      "evidence",
			MaxUploadMB: cfg.MaxUploadSizeMB,
		})
	}
	return storage.NewLocalStore(cfg.EvidencePath, cfg.MaxUploadSizeMB)
}

func gatewayRegistry(cfg *config.Config) (*gateway.Registry, error) {
	var adapters []gateway.Adapter
	for _, name := range cfg.GatewayProviders {
		switch name {
		case "sandbox":
			adapters = append(adapters, gateway.NewSandbox())
		case "hosted":
			adapters = append(adapters, gateway.NewHosted(gateway.HostedConfig{
				BaseURL: cfg.HostedGatewayURL,
				Secret:  cfg.HostedGatewaySecret,
				Timeout: cfg.GatewayTimeout,
				RPS:     10,
				Burst:   5,
			}))
		default:
			return nil, fmt.Errorf("app: неизвестный платёжный шлюз %q", name)
		}
	}
	return gateway.NewRegistry(adapters...), nil
}

// ShutdownTimeout время на остановку HTTP сервера.
const ShutdownTimeout = 10 * time.Second
