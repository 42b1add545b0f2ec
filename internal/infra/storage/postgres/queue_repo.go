package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eventra/courier/internal/core/domain"
	"github.com/eventra/courier/internal/infra/storage"
)

// QueueRepo implements storage.QueueRepository using PostgreSQL. Claims use
// FOR UPDATE SKIP LOCKED so multiple courier processes can drain the same
// queue without stepping on each other.
type QueueRepo struct {
	db *DB
}

// NewQueueRepo creates a new PostgreSQL delivery queue repository.
func NewQueueRepo(db *DB) *QueueRepo {
	return &QueueRepo{db: db}
}

// Enqueue adds a pending delivery.
func (r *QueueRepo) Enqueue(ctx context.Context, req domain.DeliveryRequest) error {
	data, err := json.Marshal(req.Artifact.Data)
	if err != nil {
		return fmt.Errorf("failed to encode artifact data: %w", err)
	}

	query := `
		INSERT INTO delivery_queue
			(correlation_id, recipient, category, artifact_kind, cache_key, template, data, status, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', NOW())
	`
	_, err = r.db.ExecContext(ctx, query,
		req.CorrelationID,
		req.Recipient,
		string(req.Category),
		string(req.Artifact.Kind),
		req.Artifact.CacheKey,
		req.Artifact.Template,
		data,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue delivery: %w", err)
	}
	return nil
}

// ClaimNext claims the oldest pending delivery, marking it in-flight.
func (r *QueueRepo) ClaimNext(ctx context.Context) (*storage.QueuedDelivery, error) {
	query := `
		UPDATE delivery_queue
		SET status = 'processing', attempts = attempts + 1, claimed_at = NOW()
		WHERE id = (
			SELECT id FROM delivery_queue
			WHERE status = 'pending'
			ORDER BY enqueued_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, correlation_id, recipient, category, artifact_kind, cache_key, template, data, attempts, enqueued_at
	`

	var dest struct {
		ID            int64     `db:"id"`
		CorrelationID string    `db:"correlation_id"`
		Recipient     string    `db:"recipient"`
		Category      string    `db:"category"`
		ArtifactKind  string    `db:"artifact_kind"`
		CacheKey      string    `db:"cache_key"`
		Template      string    `db:"template"`
		Data          []byte    `db:"data"`
		Attempts      int       `db:"attempts"`
		EnqueuedAt    time.Time `db:"enqueued_at"`
	}

	err := r.db.GetContext(ctx, &dest, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // queue empty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim delivery: %w", err)
	}

	var data map[string]any
	if len(dest.Data) > 0 {
		if err := json.Unmarshal(dest.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to decode artifact data: %w", err)
		}
	}

	return &storage.QueuedDelivery{
		ID: dest.ID,
		Request: domain.DeliveryRequest{
			Recipient:     dest.Recipient,
			CorrelationID: dest.CorrelationID,
			Category:      domain.Category(dest.Category),
			Artifact: domain.ArtifactDescriptor{
				Kind:     domain.ArtifactKind(dest.ArtifactKind),
				CacheKey: dest.CacheKey,
				Template: dest.Template,
				Data:     data,
			},
		},
		Attempts:   dest.Attempts,
		EnqueuedAt: dest.EnqueuedAt,
	}, nil
}

// MarkDone removes a completed delivery from the queue.
func (r *QueueRepo) MarkDone(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM delivery_queue WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark delivery done: %w", err)
	}
	return nil
}

// MarkFailed parks a delivery as failed with the terminal error.
func (r *QueueRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE delivery_queue
		SET status = 'failed', last_error = $2
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("failed to mark delivery failed: %w", err)
	}
	return nil
}

// ReclaimStale requeues deliveries whose claim expired. Rows over the
// attempt bound are parked as failed rather than retried forever.
func (r *QueueRepo) ReclaimStale(ctx context.Context, olderThan time.Duration, maxAttempts int) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	_, err := r.db.ExecContext(ctx, `
		UPDATE delivery_queue
		SET status = 'failed', last_error = 'claim expired'
		WHERE status = 'processing' AND claimed_at < $1 AND attempts >= $2
	`, cutoff, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("failed to park expired claims: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE delivery_queue
		SET status = 'pending', claimed_at = NULL
		WHERE status = 'processing' AND claimed_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue expired claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count requeued claims: %w", err)
	}
	return int(n), nil
}

// Depth returns the number of pending deliveries.
func (r *QueueRepo) Depth(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM delivery_queue WHERE status = 'pending'`)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue depth: %w", err)
	}
	return n, nil
}
