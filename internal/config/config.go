package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type APIConfig struct {
	Addr string `env:"STOCKTICKER_API_ADDR" envDefault:":8080"`
	// PORT wins over STOCKTICKER_API_ADDR when set.
	Port string `env:"PORT"`
	// Empty DatabaseURL runs on the in-memory store.
	DatabaseURL string `env:"DATABASE_URL"`
	// Empty RedisURL logs events instead of publishing them.
	RedisURL      string        `env:"REDIS_URL"`
	EventHistory  int64         `env:"STOCKTICKER_EVENT_HISTORY" envDefault:"100"`
	PublishBuffer int           `env:"STOCKTICKER_PUBLISH_BUFFER" envDefault:"256"`
	// Game announcements go to Discord when both are set.
	DiscordToken     string `env:"DISCORD_BOT_TOKEN"`
	DiscordChannelID string `env:"DISCORD_CHANNEL_ID"`

	TokenSecret string        `env:"STOCKTICKER_TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"STOCKTICKER_TOKEN_TTL" envDefault:"24h"`
	LockTimeout time.Duration `env:"STOCKTICKER_LOCK_TIMEOUT" envDefault:"5s"`
	Migrate     bool          `env:"STOCKTICKER_MIGRATE" envDefault:"true"`
	LogLevel    string        `env:"STOCKTICKER_LOG_LEVEL" envDefault:"info"`
}

type WorkerConfig struct {
	DatabaseURL  string        `env:"DATABASE_URL"`
	RedisURL     string        `env:"REDIS_URL"`
	EventHistory int64         `env:"STOCKTICKER_EVENT_HISTORY" envDefault:"100"`
	SweepEvery   time.Duration `env:"STOCKTICKER_SWEEP_EVERY" envDefault:"30s"`
	RunOnce      bool          `env:"STOCKTICKER_WORKER_RUN_ONCE"`
	LogLevel     string        `env:"STOCKTICKER_LOG_LEVEL" envDefault:"info"`

	DiscordToken     string `env:"DISCORD_BOT_TOKEN"`
	DiscordChannelID string `env:"DISCORD_CHANNEL_ID"`
}

type CLIConfig struct {
	APIBaseURL string `env:"STK_API_BASE_URL" envDefault:"http://localhost:8080"`
	// TokenSecret lets `stk token` mint development tokens locally.
	TokenSecret string        `env:"STOCKTICKER_TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"STOCKTICKER_TOKEN_TTL" envDefault:"24h"`
}

// LoadDotEnv loads KEY=VALUE files into the environment without overriding
// variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func LoadAPIFromEnv() (APIConfig, error) {
	var cfg APIConfig
	if err := parse(&cfg); err != nil {
		return cfg, err
	}
	if port := strings.TrimSpace(cfg.Port); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.TokenSecret = strings.TrimSpace(cfg.TokenSecret)
	return cfg, cfg.Validate()
}

func (c APIConfig) Validate() error {
	if c.TokenSecret == "" {
		return fmt.Errorf("STOCKTICKER_TOKEN_SECRET is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("STOCKTICKER_TOKEN_TTL must be positive")
	}
	if c.PublishBuffer <= 0 {
		return fmt.Errorf("STOCKTICKER_PUBLISH_BUFFER must be positive")
	}
	return validateDiscord(c.DiscordToken, c.DiscordChannelID)
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	var cfg WorkerConfig
	if err := parse(&cfg); err != nil {
		return cfg, err
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	return cfg, cfg.Validate()
}

func (c WorkerConfig) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SweepEvery <= 0 {
		return fmt.Errorf("STOCKTICKER_SWEEP_EVERY must be positive")
	}
	return validateDiscord(c.DiscordToken, c.DiscordChannelID)
}

func validateDiscord(token, channelID string) error {
	if (strings.TrimSpace(token) == "") != (strings.TrimSpace(channelID) == "") {
		return fmt.Errorf("DISCORD_BOT_TOKEN and DISCORD_CHANNEL_ID must be set together")
	}
	return nil
}

func LoadCLIFromEnv() CLIConfig {
	var cfg CLIConfig
	_ = env.Parse(&cfg)
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return cfg
}

// LogLevel maps a level name to a slog.Level, defaulting to info.
func LogLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func parse(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
