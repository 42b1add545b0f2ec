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

// RegistrationRepo implements storage.RegistrationRepository using PostgreSQL.
type RegistrationRepo struct {
	db *DB
}

// NewRegistrationRepo creates a new PostgreSQL registration repository.
func NewRegistrationRepo(db *DB) *RegistrationRepo {
	return &RegistrationRepo{db: db}
}

// Resolve returns the registration record for a correlation id.
func (r *RegistrationRepo) Resolve(
	ctx context.Context,
	correlationID string,
) (*storage.Registration, error) {
	query := `
		SELECT correlation_id, recipient, category, template, data, created_at
		FROM registrations
		WHERE correlation_id = $1
	`

	var dest struct {
		CorrelationID string    `db:"correlation_id"`
		Recipient     string    `db:"recipient"`
		Category      string    `db:"category"`
		Template      string    `db:"template"`
		Data          []byte    `db:"data"`
		CreatedAt     time.Time `db:"created_at"`
	}

	err := r.db.GetContext(ctx, &dest, query, correlationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve registration: %w", err)
	}

	var data map[string]any
	if len(dest.Data) > 0 {
		if err := json.Unmarshal(dest.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to decode registration data: %w", err)
		}
	}

	return &storage.Registration{
		CorrelationID: dest.CorrelationID,
		Recipient:     dest.Recipient,
		Category:      domain.Category(dest.Category),
		Template:      dest.Template,
		Data:          data,
		CreatedAt:     dest.CreatedAt,
	}, nil
}
