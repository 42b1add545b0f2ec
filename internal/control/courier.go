// Package control wires the delivery pipeline together and owns the process
// lifecycle: background sweepers, the dispatch worker and the health server
// are started at Start and stopped at Stop.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/eventra/courier/internal/cache"
	"github.com/eventra/courier/internal/core/config"
	"github.com/eventra/courier/internal/core/domain"
	"github.com/eventra/courier/internal/delivery"
	"github.com/eventra/courier/internal/delivery/classify"
	"github.com/eventra/courier/internal/delivery/escalate"
	"github.com/eventra/courier/internal/health"
	"github.com/eventra/courier/internal/infra/channel"
	redisclient "github.com/eventra/courier/internal/infra/redis"
	"github.com/eventra/courier/internal/infra/render"
	"github.com/eventra/courier/internal/infra/storage"
	"github.com/eventra/courier/internal/infra/storage/memory"
	"github.com/eventra/courier/internal/infra/storage/postgres"
	"github.com/eventra/courier/internal/metrics"
)

// Courier is the main application struct managing the pipeline lifecycle.
type Courier struct {
	cfg          *config.AppConfig
	orchestrator *delivery.Orchestrator
	aggregator   *metrics.Aggregator
	artifacts    *cache.Cache
	dispatcher   *Dispatcher
	escalator    *escalate.Escalator
	healthServer *health.Server
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger

	cancel context.CancelFunc
}

// New creates a Courier instance with all dependencies initialized.
func New(cfg *config.AppConfig) (*Courier, error) {
	log := slog.Default()

	// 1. Storage: PostgreSQL when configured, in-memory otherwise.
	var regs storage.RegistrationRepository
	var queue storage.QueueRepository
	var outcomes storage.OutcomeRepository
	var db *postgres.DB

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		regs = postgres.NewRegistrationRepo(db)
		queue = postgres.NewQueueRepo(db)
		outcomes = postgres.NewOutcomeRepo(db)
		log.Info("Using PostgreSQL storage")
	} else {
		store := memory.New()
		regs = store
		queue = store
		outcomes = store
		log.Info("Using memory storage")
	}

	// 2. Shared artifact store (optional).
	var blobs delivery.BlobStore
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			// The blob store is an optimization; start without it.
			log.Warn("Redis unavailable, continuing without shared artifact store", "error", err)
		} else {
			blobs = redisClient
			log.Info("Shared artifact store enabled")
		}
	}

	// 3. Channel clients.
	primary := channel.NewHTTPClient(cfg.Primary)
	var fallback channel.Client
	var fallbackHTTP *channel.HTTPClient
	if cfg.Fallback.URL != "" {
		fallbackHTTP = channel.NewHTTPClient(cfg.Fallback)
		fallback = fallbackHTTP
	}

	var operatorClient channel.Client
	if cfg.Operators.URL != "" {
		operatorClient = channel.NewHTTPClient(cfg.Operators)
	}

	// 4. Pipeline components.
	artifacts := cache.New(cfg.Cache, cache.GzipCompressor{}, log)
	escalator := escalate.New(cfg.Escalation, operatorClient, log)
	aggregator := metrics.New(cfg.Metrics, escalator, log)
	classifier := classify.New(nil)
	renderer := render.NewHTTPRenderer(cfg.Renderer)

	orchestrator := delivery.New(
		cfg.Delivery,
		artifacts,
		blobs,
		renderer,
		primary,
		fallback,
		regs,
		outcomes,
		aggregator,
		escalator,
		classifier,
		log,
	)

	// 5. Dispatch worker and health surface.
	dispatcher := NewDispatcher(DispatcherConfig{
		PollInterval: cfg.Dispatch.PollInterval,
		Concurrency:  cfg.Dispatch.Concurrency,
		ClaimTTL:     cfg.Dispatch.ClaimTTL,
		MaxAttempts:  cfg.Dispatch.MaxAttempts,
	}, queue, orchestrator, log)

	channelStatuses := []health.ChannelStatus{primary}
	if fallbackHTTP != nil {
		channelStatuses = append(channelStatuses, fallbackHTTP)
	}
	window := time.Duration(cfg.Metrics.WindowHours) * time.Hour
	var dbPinger, redisPinger health.Pinger
	if db != nil {
		dbPinger = db
	}
	if redisClient != nil {
		redisPinger = redisClient
	}
	monitor := health.NewMonitor(aggregator, artifacts, window, dbPinger, redisPinger, channelStatuses...)
	healthServer := health.NewServer(monitor, cfg.Server.Port)

	return &Courier{
		cfg:          cfg,
		orchestrator: orchestrator,
		aggregator:   aggregator,
		artifacts:    artifacts,
		dispatcher:   dispatcher,
		escalator:    escalator,
		healthServer: healthServer,
		db:           db,
		redisClient:  redisClient,
		log:          log,
	}, nil
}

// Deliver runs one delivery synchronously. Exposed for callers that bypass
// the queue (webhook handlers, CLI tools).
func (c *Courier) Deliver(ctx context.Context, req domain.DeliveryRequest) domain.DeliveryOutcome {
	return c.orchestrator.Deliver(ctx, req)
}

// Invalidate drops cached artifacts for a correlation id. Required before
// re-delivery after a data correction.
func (c *Courier) Invalidate(ctx context.Context, correlationID string) int {
	return c.orchestrator.Invalidate(ctx, correlationID)
}

// Start launches the background workers and the health server.
func (c *Courier) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.artifacts.Start(runCtx)
	go c.aggregator.Start(runCtx)
	go c.dispatcher.Start(runCtx)

	go func() {
		c.log.Info("Health server listening", "port", c.cfg.Server.Port)
		if err := c.healthServer.Start(); err != nil && err != http.ErrServerClosed {
			c.log.Error("Health server failed", "error", err)
		}
	}()

	return nil
}

// Stop shuts everything down gracefully.
func (c *Courier) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	if err := c.healthServer.Stop(ctx); err != nil {
		c.log.Warn("Health server shutdown error", "error", err)
	}

	// Let in-flight operator escalations finish before tearing down clients.
	c.escalator.Drain()
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			c.log.Warn("Redis close error", "error", err)
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.log.Warn("Database close error", "error", err)
		}
	}

	c.log.Info("Courier stopped")
	return nil
}
