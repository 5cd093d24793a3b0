package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockticker/internal/app"
	"stockticker/internal/config"
	"stockticker/internal/events"
	"stockticker/internal/game"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.LogLevel(cfg.LogLevel)}))
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker failed", "err", err)
		os.Exit(1)
	}
}

// run expires sessions whose clocks ran out while no API process held a
// timer for them.
func run(ctx context.Context, cfg config.WorkerConfig, logger *slog.Logger) error {
	st, releaseStore, err := app.OpenStore(ctx, app.StoreOptions{DatabaseURL: cfg.DatabaseURL, Logger: logger})
	if err != nil {
		return err
	}
	defer releaseStore()

	sinks, err := app.OpenSinks(app.SinkOptions{
		RedisURL:         cfg.RedisURL,
		Keep:             cfg.EventHistory,
		DiscordToken:     cfg.DiscordToken,
		DiscordChannelID: cfg.DiscordChannelID,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer sinks.Close()

	dispatcher, err := events.NewDispatcher(&events.DispatcherConfig{Sink: sinks.Sink, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		dispatcher.Close()
		logger.Info("event dispatcher stopped", "dropped", dispatcher.Dropped(), "failed", dispatcher.Failed())
	}()

	svc, err := game.New(&game.Config{Store: st, Publisher: dispatcher, Logger: logger})
	if err != nil {
		return err
	}
	defer svc.Close()

	if cfg.RunOnce {
		n, err := svc.Sweep(ctx)
		if err != nil {
			return err
		}
		logger.Info("worker run-once completed", "expired", n)
		return nil
	}

	ticker := time.NewTicker(cfg.SweepEvery)
	defer ticker.Stop()

	logger.Info("worker started", "sweep_every", cfg.SweepEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return nil
		case <-ticker.C:
			n, err := svc.Sweep(ctx)
			if err != nil {
				logger.Error("sweep failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Info("sweep complete", "expired", n)
			}
		}
	}
}
