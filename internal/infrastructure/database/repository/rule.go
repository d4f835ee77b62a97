package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"threatmesh/internal/domain/models"
	"threatmesh/internal/infrastructure/database"
)

// RuleRepository handles generated rule persistence
type RuleRepository struct {
	db database.DBTX
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db database.DBTX) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `id, pattern_hash, content, source, occurrences, published_at, updated_at`

// Upsert inserts a rule or, when the pattern hash already exists,
// refreshes its occurrence count, content and update time. Returns
// true when a new rule was created.
func (r *RuleRepository) Upsert(ctx context.Context, rule *models.GeneratedRule) (bool, error) {
	now := time.Now()
	if rule.PublishedAt.IsZero() {
		rule.PublishedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO generated_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (pattern_hash) DO UPDATE SET
			content = EXCLUDED.content,
			occurrences = EXCLUDED.occurrences,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0), published_at`

	var created bool
	err := r.db.QueryRow(ctx, query,
		rule.ID, rule.PatternHash, rule.Content, rule.Source,
		rule.Occurrences, rule.PublishedAt, rule.UpdatedAt,
	).Scan(&created, &rule.PublishedAt)
	if err != nil {
		return false, fmt.Errorf("failed to upsert rule: %w", err)
	}
	return created, nil
}

// GetByPatternHash retrieves a rule by its pattern hash
func (r *RuleRepository) GetByPatternHash(ctx context.Context, hash string) (*models.GeneratedRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM generated_rules WHERE pattern_hash = $1`

	var rule models.GeneratedRule
	err := r.db.QueryRow(ctx, query, hash).Scan(
		&rule.ID, &rule.PatternHash, &rule.Content, &rule.Source,
		&rule.Occurrences, &rule.PublishedAt, &rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

// ListSince returns rules updated since the cutoff, newest first
func (r *RuleRepository) ListSince(ctx context.Context, since time.Time, limit int) ([]*models.GeneratedRule, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + ruleColumns + ` FROM generated_rules
		WHERE updated_at >= $1 ORDER BY updated_at DESC LIMIT $2`

	rows, err := r.db.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var items []*models.GeneratedRule
	for rows.Next() {
		var rule models.GeneratedRule
		err := rows.Scan(
			&rule.ID, &rule.PatternHash, &rule.Content, &rule.Source,
			&rule.Occurrences, &rule.PublishedAt, &rule.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		items = append(items, &rule)
	}
	return items, rows.Err()
}

// Count returns the total number of generated rules
func (r *RuleRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM generated_rules`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	return n, nil
}
