package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/ignatzorin/freelance-escrow/internal/app"
	"github.com/ignatzorin/freelance-escrow/internal/config"
	"github.com/ignatzorin/freelance-escrow/internal/db"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init("info")
	}
	l := logger.With("main")

	application, err := app.New(ctx, cfg)
	if err != nil {
		l.WithError(err).Fatal("не удалось собрать приложение")
	}
	defer application.Close()

	if err := db.RunMigrations(ctx, application.DB, cfg.MigrationsPath); err != nil {
		l.WithError(err).Fatal("ошибка миграций")
	}

	application.Start(ctx)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: application.Router(),
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			l.WithError(err).Error("ошибка остановки http сервера")
		}
	}()

	l.WithField("port", cfg.HTTPPort).Info("HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		l.WithError(err).Fatal("сервер завершился с ошибкой")
	}

	application.Wait()
	l.Info("сервер остановлен")
}
