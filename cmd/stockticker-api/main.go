package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"stockticker/internal/api"
	"stockticker/internal/app"
	"stockticker/internal/auth"
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
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.LogLevel(cfg.LogLevel)}))
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.APIConfig, logger *slog.Logger) error {
	st, releaseStore, err := app.OpenStore(ctx, app.StoreOptions{
		DatabaseURL: cfg.DatabaseURL,
		Migrate:     cfg.Migrate,
		Logger:      logger,
	})
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

	dispatcher, err := events.NewDispatcher(&events.DispatcherConfig{
		Sink:   sinks.Sink,
		Buffer: cfg.PublishBuffer,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		dispatcher.Close()
		logger.Info("event dispatcher stopped", "dropped", dispatcher.Dropped(), "failed", dispatcher.Failed())
	}()

	gameSvc, err := game.New(&game.Config{
		Store:       st,
		Publisher:   dispatcher,
		Logger:      logger,
		LockTimeout: cfg.LockTimeout,
	})
	if err != nil {
		return err
	}
	defer gameSvc.Close()

	armed, err := gameSvc.RearmTimers(ctx)
	if err != nil {
		return err
	}
	logger.Info("expiry timers armed", "sessions", armed)

	tokens, err := auth.NewTokens(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}

	var history api.History
	if sinks.History != nil {
		history = sinks.History
	}
	server := api.New(logger, tokens, gameSvc, history)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("stockticker api listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
