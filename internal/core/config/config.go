package config

import (
	"time"

	"github.com/eventra/courier/internal/cache"
	"github.com/eventra/courier/internal/delivery"
	"github.com/eventra/courier/internal/delivery/escalate"
	"github.com/eventra/courier/internal/infra/channel"
	redisclient "github.com/eventra/courier/internal/infra/redis"
	"github.com/eventra/courier/internal/infra/render"
	"github.com/eventra/courier/internal/infra/storage/postgres"
	"github.com/eventra/courier/internal/metrics"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Logging    LoggingConfig      `yaml:"logging"`
	Delivery   delivery.Config    `yaml:"delivery"`
	Cache      cache.Config       `yaml:"cache"`
	Metrics    metrics.Config     `yaml:"metrics"`
	Escalation escalate.Config    `yaml:"escalation"`
	Renderer   render.Config      `yaml:"renderer"`
	Primary    channel.Config     `yaml:"primary_channel"`
	Fallback   channel.Config     `yaml:"fallback_channel"`
	Operators  channel.Config     `yaml:"operator_channel"`
	Redis      redisclient.Config `yaml:"redis"`
	Database   postgres.Config    `yaml:"database"`
	Dispatch   DispatchConfig     `yaml:"dispatch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DispatchConfig tunes the queue polling worker.
type DispatchConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Concurrency  int           `yaml:"concurrency"`
	ClaimTTL     time.Duration `yaml:"claim_ttl"`
	MaxAttempts  int           `yaml:"max_attempts"`
}
