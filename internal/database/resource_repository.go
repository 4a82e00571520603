package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tripmarket/settlement-backend/internal/models"
)

// ResourceRepository handles bookable resource lookups
type ResourceRepository struct {
	db *sqlx.DB
}

// NewResourceRepository creates a new ResourceRepository
func NewResourceRepository(db *sqlx.DB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

const resourceColumns = `
	id, vertical, name, is_active, currency,
	rate_card, capacity, policy, created_at, updated_at`

// GetResource retrieves a resource by ID. Returns nil, nil when missing.
func (r *ResourceRepository) GetResource(ctx context.Context, id uuid.UUID) (*models.Resource, error) {
	var res models.Resource
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE id = $1`

	err := conn(ctx, r.db).GetContext(ctx, &res, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return &res, nil
}

// GetResourceForUpdate locks the resource row for the rest of the transaction.
// Every hold on the resource is taken under this lock, which serializes
// concurrent availability checks for the same resource.
func (r *ResourceRepository) GetResourceForUpdate(ctx context.Context, id uuid.UUID) (*models.Resource, error) {
	if txFromContext(ctx) == nil {
		return nil, fmt.Errorf("GetResourceForUpdate requires a transaction")
	}

	var res models.Resource
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE id = $1 FOR UPDATE`

	err := conn(ctx, r.db).GetContext(ctx, &res, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock resource: %w", err)
	}
	return &res, nil
}

// CreateResource inserts a resource, generating an ID when missing
func (r *ResourceRepository) CreateResource(ctx context.Context, res *models.Resource) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	now := time.Now().UTC()
	res.CreatedAt = now
	res.UpdatedAt = now

	query := `
		INSERT INTO resources (
			id, vertical, name, is_active, currency,
			rate_card, capacity, policy, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			vertical = EXCLUDED.vertical,
			name = EXCLUDED.name,
			is_active = EXCLUDED.is_active,
			currency = EXCLUDED.currency,
			rate_card = EXCLUDED.rate_card,
			capacity = EXCLUDED.capacity,
			policy = EXCLUDED.policy,
			updated_at = EXCLUDED.updated_at`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		res.ID, res.Vertical, res.Name, res.IsActive, res.Currency,
		res.RateCard, res.Capacity, res.Policy, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save resource: %w", err)
	}
	return nil
}
