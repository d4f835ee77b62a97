package repository

import (
	"context"
	"fmt"
	"time"

	"threatmesh/internal/domain/models"
	"threatmesh/internal/infrastructure/database"
)

// AuditRepository handles the append-only audit log
type AuditRepository struct {
	db database.DBTX
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db database.DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert appends one audit entry
func (r *AuditRepository) Insert(ctx context.Context, e *models.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO audit_log (actor_hash, action, entity, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		e.ActorHash, e.Action, e.Entity, e.Detail, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// DeleteBefore removes audit entries older than the cutoff
func (r *AuditRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
