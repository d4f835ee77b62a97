package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"threatmesh/internal/domain/models"
	"threatmesh/internal/infrastructure/database"
)

// SightingRepository handles the append-only sighting log
type SightingRepository struct {
	db database.DBTX
}

// NewSightingRepository creates a new sighting repository
func NewSightingRepository(db database.DBTX) *SightingRepository {
	return &SightingRepository{db: db}
}

// Insert appends one sighting
func (r *SightingRepository) Insert(ctx context.Context, s *models.Sighting) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO sightings (id, ioc_id, type, source, confidence, details, actor_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		s.ID, s.IoCID, s.Type, s.Source, s.Confidence, s.Details, s.ActorHash, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert sighting: %w", err)
	}
	return nil
}

// ListByIoC returns sightings for one indicator, newest first
func (r *SightingRepository) ListByIoC(ctx context.Context, iocID uuid.UUID, limit int) ([]*models.Sighting, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, ioc_id, type, source, confidence, details, actor_hash, created_at
		FROM sightings WHERE ioc_id = $1
		ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.Query(ctx, query, iocID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sightings: %w", err)
	}
	defer rows.Close()

	var items []*models.Sighting
	for rows.Next() {
		var s models.Sighting
		if err := rows.Scan(&s.ID, &s.IoCID, &s.Type, &s.Source, &s.Confidence, &s.Details, &s.ActorHash, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sighting: %w", err)
		}
		items = append(items, &s)
	}
	return items, rows.Err()
}

// Summary aggregates one indicator's sighting history
func (r *SightingRepository) Summary(ctx context.Context, iocID uuid.UUID) (*models.SightingSummary, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE type = 'positive'),
			COUNT(*) FILTER (WHERE type = 'negative'),
			COUNT(*) FILTER (WHERE type = 'false_positive'),
			COUNT(DISTINCT source),
			COALESCE(MAX(created_at), 'epoch'::timestamptz)
		FROM sightings WHERE ioc_id = $1`

	var s models.SightingSummary
	err := r.db.QueryRow(ctx, query, iocID).Scan(
		&s.Total, &s.Positive, &s.Negative, &s.FalsePositive, &s.UniqueSources, &s.LastSeen)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize sightings: %w", err)
	}
	if s.Total == 0 {
		s.LastSeen = time.Time{}
	}
	return &s, nil
}

// HasSourceSince reports whether the indicator has a sighting from the
// given source newer than the cutoff.
func (r *SightingRepository) HasSourceSince(ctx context.Context, iocID uuid.UUID, source string, cutoff time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sightings WHERE ioc_id = $1 AND source = $2 AND created_at >= $3)`,
		iocID, source, cutoff).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check sighting source: %w", err)
	}
	return exists, nil
}

// Count returns the total number of sightings
func (r *SightingRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM sightings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sightings: %w", err)
	}
	return n, nil
}
