package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Guizzs26/go-inventory-agent/internal/alerts"
	"github.com/Guizzs26/go-inventory-agent/internal/config"
	"github.com/Guizzs26/go-inventory-agent/internal/httpapi"
	"github.com/Guizzs26/go-inventory-agent/internal/remote"
	"github.com/Guizzs26/go-inventory-agent/internal/service"
	"github.com/Guizzs26/go-inventory-agent/internal/store"
	"github.com/Guizzs26/go-inventory-agent/pkg/infra"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(infra.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	blobs, err := openStore(cfg.StorePath, logger)
	if err != nil {
		slog.Error("Fatal error opening local store", "path", cfg.StorePath, "error", err)
		os.Exit(1)
	}
	defer blobs.Close()

	queue := store.NewPendingQueue(blobs, logger)
	deadLetter := store.NewDeadLetterStore(blobs, logger)
	session := remote.NewSessionManager(blobs, logger)
	client := remote.NewClient(cfg.APIBaseURL, session, cfg.HTTPTimeout, cfg.HealthTimeout, logger)

	engine := service.NewSyncEngine(queue, deadLetter, client, session, logger)
	scheduler := service.NewScheduler(engine, client.Reachable, service.SchedulerConfig{
		Interval: cfg.SyncInterval,
		Retry:    cfg.RetryPoll,
	}, logger)

	// Every local write becomes an immediate flush attempt.
	queue.OnEnqueue(scheduler.RequestFlush)

	admin := httpapi.NewServer(queue, deadLetter, scheduler, client, session, logger)
	go func() {
		if err := admin.ListenAndServe(ctx, cfg.AdminAddr); err != nil {
			slog.Error("Admin API stopped", "error", err)
			stop()
		}
	}()

	if cfg.AlertsWS {
		listener := alerts.NewListener(cfg.APIBaseURL, session, logger)
		go listener.Run(ctx)
	}

	// SIGUSR1 stands in for the app-comes-to-foreground signal on a
	// headless deployment.
	go watchForeground(ctx, scheduler)

	slog.Info("🚀 Inventory sync agent started",
		"pid", os.Getpid(),
		"device_id", cfg.DeviceID,
		"api", cfg.APIBaseURL,
		"pending", queue.Size(),
		"failed", deadLetter.Size(),
	)

	scheduler.Run(ctx)
	slog.Info("✅ Shutdown complete")
}

func openStore(path string, logger *slog.Logger) (store.BlobStore, error) {
	if path == ":memory:" {
		logger.Warn("Using in-memory store, queue will not survive a restart")
		return store.NewMemStore(), nil
	}
	return store.OpenBolt(path)
}

func watchForeground(ctx context.Context, scheduler *service.Scheduler) {
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)

	for {
		select {
		case <-usr1:
			scheduler.NotifyForeground()
		case <-ctx.Done():
			return
		}
	}
}
