package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix = "stockticker:session:"
	historySuffix = ":events"
	defaultKeep   = 100
)

// Channel is the pub/sub channel carrying a session's events.
func Channel(sessionID string) string {
	return channelPrefix + sessionID
}

// HistoryKey is the list holding a session's most recent events, newest
// first, for subscribers that connect late.
func HistoryKey(sessionID string) string {
	return channelPrefix + sessionID + historySuffix
}

// RedisConfig holds configuration for the Redis sink.
type RedisConfig struct {
	RedisClient *redis.Client
	// History length kept per session; zero means 100.
	Keep int64
}

// RedisSink publishes JSON envelopes on a per-session channel and keeps a
// bounded history list beside it.
type RedisSink struct {
	client *redis.Client
	keep   int64
}

func NewRedis(cfg *RedisConfig) (*RedisSink, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.RedisClient == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if err := cfg.RedisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	keep := cfg.Keep
	if keep <= 0 {
		keep = defaultKeep
	}
	return &RedisSink{client: cfg.RedisClient, keep: keep}, nil
}

func (s *RedisSink) Deliver(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, HistoryKey(env.SessionID), data)
	pipe.LTrim(ctx, HistoryKey(env.SessionID), 0, s.keep-1)
	pipe.Publish(ctx, Channel(env.SessionID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// History returns up to n of the session's most recent envelopes, newest
// first.
func (s *RedisSink) History(ctx context.Context, sessionID string, n int64) ([]Envelope, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, HistoryKey(sessionID), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read event history: %w", err)
	}
	out := make([]Envelope, 0, len(raw))
	for _, r := range raw {
		var env Envelope
		if err := json.Unmarshal([]byte(r), &env); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		out = append(out, env)
	}
	return out, nil
}
