package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bourse/internal/api"
	"bourse/internal/config"
	"bourse/internal/db"
	"bourse/internal/game"
	"bourse/internal/sched"
	"bourse/internal/sheet"
	"bourse/internal/store/postgres"

	"github.com/joho/godotenv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	feed := sheet.NewClient(cfg.SheetBridgeURL, cfg.SheetBridgeToken)
	gameSvc := game.NewService(postgres.New(pool), feed, cfg.ServerTimezone, logger)

	for _, id := range cfg.Superadmins {
		if _, err := gameSvc.EnsureIdentity(ctx, id, ""); err != nil {
			logger.Error("bootstrap superadmin", "identity_id", id, "err", err)
			os.Exit(1)
		}
		if err := gameSvc.PromoteSuperadmin(ctx, id); err != nil {
			logger.Error("bootstrap superadmin", "identity_id", id, "err", err)
			os.Exit(1)
		}
	}

	// The scheduler shares the service (and its registry) with the API:
	// settlement's cache flush is immediately visible to request handling.
	scheduler := sched.New(logger)
	gameSvc.AttachScheduler(scheduler, cfg.ConfigPollEvery)
	if err := gameSvc.ReconcileJobs(ctx, scheduler, cfg.ConfigPollEvery); err != nil {
		logger.Error("reconcile jobs failed", "err", err)
		os.Exit(1)
	}
	go scheduler.Run(ctx)
	logger.Info("scheduler started", "poll_every", cfg.ConfigPollEvery.String(), "jobs", scheduler.Len())

	server := api.New(cfg, logger, gameSvc)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("bourse api listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
