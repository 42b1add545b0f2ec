package control

import (
	"context"
	"log/slog"
	"time"

	"github.com/eventra/courier/internal/core/domain"
	"github.com/eventra/courier/internal/infra/storage"
	"github.com/eventra/courier/internal/metrics"
)

// Deliverer is the piece of the orchestrator the dispatcher needs.
type Deliverer interface {
	Deliver(ctx context.Context, req domain.DeliveryRequest) domain.DeliveryOutcome
}

// DispatcherConfig tunes the queue polling worker.
type DispatcherConfig struct {
	PollInterval time.Duration
	Concurrency  int
	// ClaimTTL is how long a claimed delivery may sit in processing before
	// it is treated as abandoned and requeued.
	ClaimTTL time.Duration
	// MaxAttempts bounds requeues; deliveries past it are parked as failed.
	MaxAttempts int
}

// Dispatcher drains the pending-delivery queue and feeds the orchestrator
// with bounded concurrency. Deliveries for different correlation ids run in
// parallel; the queue claim is atomic, so multiple courier processes can
// share one queue.
type Dispatcher struct {
	cfg   DispatcherConfig
	queue storage.QueueRepository
	orch  Deliverer
	log   *slog.Logger
}

// NewDispatcher creates a dispatcher over the given queue.
func NewDispatcher(
	cfg DispatcherConfig,
	queue storage.QueueRepository,
	orch Deliverer,
	log *slog.Logger,
) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{cfg: cfg, queue: queue, orch: orch, log: log}
}

// Start runs the polling loop until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	// Worker slots bound in-flight deliveries.
	slots := make(chan struct{}, d.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx, slots)
		}
	}
}

// drain claims and processes pending deliveries until the queue is empty or
// every worker slot is taken.
func (d *Dispatcher) drain(ctx context.Context, slots chan struct{}) {
	// Requeue deliveries abandoned by a crashed or stopped worker before
	// claiming new ones.
	if n, err := d.queue.ReclaimStale(ctx, d.cfg.ClaimTTL, d.cfg.MaxAttempts); err != nil {
		d.log.Error("failed to reclaim stale deliveries", "error", err)
	} else if n > 0 {
		d.log.Warn("requeued stale deliveries", "count", n)
	}

	if depth, err := d.queue.Depth(ctx); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}

	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		item, err := d.queue.ClaimNext(ctx)
		if err != nil {
			<-slots
			d.log.Error("failed to claim delivery", "error", err)
			return
		}
		if item == nil {
			<-slots
			return // queue empty
		}

		go func(item *storage.QueuedDelivery) {
			defer func() { <-slots }()
			d.process(ctx, item)
		}(item)
	}
}

func (d *Dispatcher) process(ctx context.Context, item *storage.QueuedDelivery) {
	outcome := d.orch.Deliver(ctx, item.Request)

	if outcome.Success {
		if err := d.queue.MarkDone(ctx, item.ID); err != nil {
			d.log.Error("failed to mark delivery done",
				"id", item.ID, "correlation_id", item.Request.CorrelationID, "error", err)
		}
		return
	}

	if err := d.queue.MarkFailed(ctx, item.ID, outcome.ErrorType); err != nil {
		d.log.Error("failed to mark delivery failed",
			"id", item.ID, "correlation_id", item.Request.CorrelationID, "error", err)
	}
}
