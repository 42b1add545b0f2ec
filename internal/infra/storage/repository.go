// Package storage defines the persistence contracts the delivery pipeline
// consumes. The pipeline does not own persistence: it only resolves
// correlation ids to render data, claims queued deliveries, and appends
// outcome records for auditing.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/eventra/courier/internal/core/domain"
)

// ErrNotFound is returned when a correlation id has no registration record.
var ErrNotFound = errors.New("registration not found")

// Registration is the business transaction record backing a delivery. It
// carries everything the renderer needs.
type Registration struct {
	CorrelationID string
	Recipient     string
	Category      domain.Category
	Template      string
	Data          map[string]any
	CreatedAt     time.Time
}

// RegistrationRepository resolves correlation ids to render data.
type RegistrationRepository interface {
	Resolve(ctx context.Context, correlationID string) (*Registration, error)
}

// QueuedDelivery is one pending delivery claimed from the dispatch queue.
type QueuedDelivery struct {
	ID         int64
	Request    domain.DeliveryRequest
	Attempts   int
	EnqueuedAt time.Time
}

// QueueRepository is the pending-delivery outbox the dispatcher polls.
type QueueRepository interface {
	Enqueue(ctx context.Context, req domain.DeliveryRequest) error
	// ClaimNext atomically claims the oldest pending delivery, or returns
	// (nil, nil) when the queue is empty.
	ClaimNext(ctx context.Context) (*QueuedDelivery, error)
	MarkDone(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	// ReclaimStale returns deliveries stuck in processing longer than
	// olderThan to the pending queue, so a crash mid-delivery cannot strand
	// them. Rows that already consumed maxAttempts are parked as failed
	// instead. Returns the number requeued.
	ReclaimStale(ctx context.Context, olderThan time.Duration, maxAttempts int) (int, error)
	Depth(ctx context.Context) (int, error)
}

// OutcomeRepository appends delivery outcomes for operator auditing.
type OutcomeRepository interface {
	Record(ctx context.Context, outcome domain.DeliveryOutcome) error
}
