// Package app assembles the storage and event transport shared by the API
// server and the worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"stockticker/internal/db"
	"stockticker/internal/events"
	"stockticker/internal/store"
	"stockticker/internal/store/memory"
	"stockticker/internal/store/postgres"
)

type StoreOptions struct {
	DatabaseURL string
	Migrate     bool
	Logger      *slog.Logger
}

// OpenStore connects to PostgreSQL, or falls back to the in-memory store
// when no database URL is configured. The returned func releases it.
func OpenStore(ctx context.Context, opts StoreOptions) (store.Store, func(), error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, sessions are kept in memory")
		return memory.New(), func() {}, nil
	}
	pool, err := db.Connect(ctx, opts.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if opts.Migrate {
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return postgres.New(pool, logger), pool.Close, nil
}

type SinkOptions struct {
	RedisURL         string
	Keep             int64
	DiscordToken     string
	DiscordChannelID string
	Logger           *slog.Logger
}

// Sinks is the assembled event transport. History is nil without Redis.
type Sinks struct {
	Sink    events.Sink
	History *events.RedisSink
	closers []func() error
}

func (s *Sinks) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// OpenSinks builds the event transport: Redis when configured, else the
// log, plus a Discord announcer when a bot token is given.
func OpenSinks(opts SinkOptions) (*Sinks, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := &Sinks{}
	var fanout events.Fanout

	if opts.RedisURL != "" {
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(redisOpts)
		sink, err := events.NewRedis(&events.RedisConfig{RedisClient: client, Keep: opts.Keep})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		out.History = sink
		out.closers = append(out.closers, client.Close)
		fanout = append(fanout, sink)
	} else {
		fanout = append(fanout, events.LogSink{Logger: logger})
	}

	if opts.DiscordToken != "" {
		session, err := events.NewDiscordSession(opts.DiscordToken)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		discord, err := events.NewDiscord(&events.DiscordConfig{Sender: session, ChannelID: opts.DiscordChannelID})
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		fanout = append(fanout, discord)
	}

	if len(fanout) == 1 {
		out.Sink = fanout[0]
	} else {
		out.Sink = fanout
	}
	return out, nil
}
