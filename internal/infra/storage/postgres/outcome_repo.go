package postgres

import (
	"context"
	"fmt"

	"github.com/eventra/courier/internal/core/domain"
)

// OutcomeRepo implements storage.OutcomeRepository using PostgreSQL. The
// table is append-only; outcomes are never updated.
type OutcomeRepo struct {
	db *DB
}

// NewOutcomeRepo creates a new PostgreSQL outcome repository.
func NewOutcomeRepo(db *DB) *OutcomeRepo {
	return &OutcomeRepo{db: db}
}

// Record appends one delivery outcome.
func (r *OutcomeRepo) Record(ctx context.Context, outcome domain.DeliveryOutcome) error {
	query := `
		INSERT INTO delivery_outcomes
			(correlation_id, category, success, artifact_produced, primary_used,
			 fallback_used, retry_attempts, error_type, channel_message_id,
			 processing_time_ms, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		outcome.CorrelationID,
		string(outcome.Category),
		outcome.Success,
		outcome.ArtifactProduced,
		outcome.PrimaryUsed,
		outcome.FallbackUsed,
		outcome.RetryAttempts,
		outcome.ErrorType,
		outcome.ChannelMessageID,
		outcome.ProcessingTime.Milliseconds(),
		outcome.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}
