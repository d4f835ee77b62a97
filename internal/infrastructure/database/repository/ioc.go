package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"threatmesh/internal/domain/models"
	"threatmesh/internal/infrastructure/database"
)

// IoCRepository handles indicator persistence
type IoCRepository struct {
	db database.DBTX
}

// NewIoCRepository creates a new indicator repository
func NewIoCRepository(db database.DBTX) *IoCRepository {
	return &IoCRepository{db: db}
}

const iocColumns = `id, type, value, normalized_value, threat_type, source,
	confidence, reputation_score, first_seen, last_seen, sightings,
	status, tags, metadata, created_at, updated_at`

func scanIoC(row pgx.Row) (*models.IoC, error) {
	var ioc models.IoC
	err := row.Scan(
		&ioc.ID, &ioc.Type, &ioc.Value, &ioc.NormalizedValue, &ioc.ThreatType, &ioc.Source,
		&ioc.Confidence, &ioc.ReputationScore, &ioc.FirstSeen, &ioc.LastSeen, &ioc.Sightings,
		&ioc.Status, &ioc.Tags, &ioc.Metadata, &ioc.CreatedAt, &ioc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan indicator: %w", err)
	}
	return &ioc, nil
}

// Insert creates a new indicator row
func (r *IoCRepository) Insert(ctx context.Context, ioc *models.IoC) error {
	if ioc.ID == uuid.Nil {
		ioc.ID = uuid.New()
	}
	now := time.Now()
	ioc.CreatedAt = now
	ioc.UpdatedAt = now

	query := `
		INSERT INTO iocs (` + iocColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.Exec(ctx, query,
		ioc.ID, ioc.Type, ioc.Value, ioc.NormalizedValue, ioc.ThreatType, ioc.Source,
		ioc.Confidence, ioc.ReputationScore, ioc.FirstSeen, ioc.LastSeen, ioc.Sightings,
		ioc.Status, ioc.Tags, ioc.Metadata, ioc.CreatedAt, ioc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert indicator: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of an indicator
func (r *IoCRepository) Update(ctx context.Context, ioc *models.IoC) error {
	ioc.UpdatedAt = time.Now()

	query := `
		UPDATE iocs SET
			threat_type = $2, source = $3, confidence = $4, reputation_score = $5,
			first_seen = $6, last_seen = $7, sightings = $8, status = $9,
			tags = $10, metadata = $11, updated_at = $12
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query,
		ioc.ID, ioc.ThreatType, ioc.Source, ioc.Confidence, ioc.ReputationScore,
		ioc.FirstSeen, ioc.LastSeen, ioc.Sightings, ioc.Status,
		ioc.Tags, ioc.Metadata, ioc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update indicator: %w", err)
	}
	return nil
}

// GetByID retrieves an indicator by ID
func (r *IoCRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.IoC, error) {
	query := `SELECT ` + iocColumns + ` FROM iocs WHERE id = $1`
	return scanIoC(r.db.QueryRow(ctx, query, id))
}

// GetByKey retrieves an indicator by its dedup key
func (r *IoCRepository) GetByKey(ctx context.Context, t models.IoCType, normalizedValue string) (*models.IoC, error) {
	query := `SELECT ` + iocColumns + ` FROM iocs WHERE type = $1 AND normalized_value = $2`
	return scanIoC(r.db.QueryRow(ctx, query, t, normalizedValue))
}

// ApplyConfidenceDelta adjusts confidence atomically, clamped to
// [0,100], and returns the new value.
func (r *IoCRepository) ApplyConfidenceDelta(ctx context.Context, id uuid.UUID, delta float64) (float64, error) {
	query := `
		UPDATE iocs
		SET confidence = LEAST(100, GREATEST(0, confidence + $2)), updated_at = now()
		WHERE id = $1
		RETURNING confidence`

	var confidence float64
	if err := r.db.QueryRow(ctx, query, id, delta).Scan(&confidence); err != nil {
		return 0, fmt.Errorf("failed to adjust confidence: %w", err)
	}
	return confidence, nil
}

// SetStatus transitions an indicator's lifecycle status
func (r *IoCRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.IoCStatus) error {
	_, err := r.db.Exec(ctx,
		`UPDATE iocs SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to set indicator status: %w", err)
	}
	return nil
}

// SetReputation writes a freshly computed reputation score
func (r *IoCRepository) SetReputation(ctx context.Context, id uuid.UUID, score float64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE iocs SET reputation_score = LEAST(100, GREATEST(0, $2)), updated_at = now() WHERE id = $1`,
		id, score)
	if err != nil {
		return fmt.Errorf("failed to set reputation score: %w", err)
	}
	return nil
}

// Search retrieves a filtered, paginated page of indicators
func (r *IoCRepository) Search(ctx context.Context, filter models.IoCFilter) (*models.IoCPage, error) {
	conditions := []string{}
	args := []any{}
	argPos := 1

	addCondition := func(cond string, val any) {
		conditions = append(conditions, fmt.Sprintf(cond, argPos))
		args = append(args, val)
		argPos++
	}

	if filter.Type != "" {
		addCondition("type = $%d", filter.Type)
	}
	if filter.Source != "" {
		addCondition("source = $%d", filter.Source)
	}
	if filter.Status != "" {
		addCondition("status = $%d", filter.Status)
	}
	if filter.MinReputation > 0 {
		addCondition("reputation_score >= $%d", filter.MinReputation)
	}
	if filter.Since != nil {
		addCondition("last_seen >= $%d", *filter.Since)
	}
	if filter.Search != "" {
		addCondition("normalized_value LIKE $%d", "%"+strings.ToLower(filter.Search)+"%")
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM iocs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count indicators: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(
		"SELECT %s FROM iocs%s ORDER BY last_seen DESC LIMIT $%d OFFSET $%d",
		iocColumns, where, argPos, argPos+1,
	)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search indicators: %w", err)
	}
	defer rows.Close()

	items, err := collectIoCs(rows)
	if err != nil {
		return nil, err
	}

	return &models.IoCPage{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+len(items)) < total,
	}, nil
}

// ListActive returns active indicators at or above a reputation
// threshold, optionally restricted to one type. Used by feed exports.
func (r *IoCRepository) ListActive(ctx context.Context, t models.IoCType, minReputation float64, limit int) ([]*models.IoC, error) {
	query := `SELECT ` + iocColumns + ` FROM iocs
		WHERE status = 'active' AND reputation_score >= $1`
	args := []any{minReputation}
	if t != "" {
		query += ` AND type = $2`
		args = append(args, t)
	}
	query += fmt.Sprintf(" ORDER BY reputation_score DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active indicators: %w", err)
	}
	defer rows.Close()
	return collectIoCs(rows)
}

// ListForReputation returns every indicator the reputation engine
// should rescore. Revoked indicators are frozen.
func (r *IoCRepository) ListForReputation(ctx context.Context) ([]*models.IoC, error) {
	query := `SELECT ` + iocColumns + ` FROM iocs WHERE status != 'revoked'`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list indicators for scoring: %w", err)
	}
	defer rows.Close()
	return collectIoCs(rows)
}

// ExpireUnseenBefore marks active indicators not seen since the cutoff
// as expired and returns how many rows changed.
func (r *IoCRepository) ExpireUnseenBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE iocs SET status = 'expired', updated_at = now()
		 WHERE status = 'active' AND last_seen < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire indicators: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredBefore permanently removes expired indicators whose
// last sighting predates the cutoff.
func (r *IoCRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM iocs WHERE status = 'expired' AND last_seen < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired indicators: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountByStatus returns indicator counts grouped by lifecycle status
func (r *IoCRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM iocs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count indicators: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func collectIoCs(rows pgx.Rows) ([]*models.IoC, error) {
	var items []*models.IoC
	for rows.Next() {
		var ioc models.IoC
		err := rows.Scan(
			&ioc.ID, &ioc.Type, &ioc.Value, &ioc.NormalizedValue, &ioc.ThreatType, &ioc.Source,
			&ioc.Confidence, &ioc.ReputationScore, &ioc.FirstSeen, &ioc.LastSeen, &ioc.Sightings,
			&ioc.Status, &ioc.Tags, &ioc.Metadata, &ioc.CreatedAt, &ioc.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan indicator: %w", err)
		}
		items = append(items, &ioc)
	}
	return items, rows.Err()
}
