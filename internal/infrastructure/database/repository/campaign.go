package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"threatmesh/internal/domain/models"
	"threatmesh/internal/infrastructure/database"
)

// CampaignRepository handles campaign persistence
type CampaignRepository struct {
	db database.DBTX
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db database.DBTX) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, name, type, cluster_key, first_seen, last_seen,
	event_count, unique_ips, attack_types, mitre_techniques, regions,
	severity, status, created_at, updated_at`

func scanCampaign(row pgx.Row) (*models.Campaign, error) {
	var c models.Campaign
	err := row.Scan(
		&c.ID, &c.Name, &c.Type, &c.ClusterKey, &c.FirstSeen, &c.LastSeen,
		&c.EventCount, &c.UniqueIPs, &c.AttackTypes, &c.MitreTechniques, &c.Regions,
		&c.Severity, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan campaign: %w", err)
	}
	return &c, nil
}

// Insert creates a new campaign
func (r *CampaignRepository) Insert(ctx context.Context, c *models.Campaign) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = models.CampaignStatusActive
	}

	query := `
		INSERT INTO campaigns (` + campaignColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.Exec(ctx, query,
		c.ID, c.Name, c.Type, c.ClusterKey, c.FirstSeen, c.LastSeen,
		c.EventCount, c.UniqueIPs, c.AttackTypes, c.MitreTechniques, c.Regions,
		c.Severity, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert campaign: %w", err)
	}
	return nil
}

// Update rewrites a campaign's aggregate fields and status
func (r *CampaignRepository) Update(ctx context.Context, c *models.Campaign) error {
	c.UpdatedAt = time.Now()

	query := `
		UPDATE campaigns SET
			name = $2, first_seen = $3, last_seen = $4, event_count = $5,
			unique_ips = $6, attack_types = $7, mitre_techniques = $8,
			regions = $9, severity = $10, status = $11, updated_at = $12
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query,
		c.ID, c.Name, c.FirstSeen, c.LastSeen, c.EventCount,
		c.UniqueIPs, c.AttackTypes, c.MitreTechniques,
		c.Regions, c.Severity, c.Status, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	return nil
}

// GetByID retrieves a campaign by ID
func (r *CampaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	return scanCampaign(r.db.QueryRow(ctx, query, id))
}

// FindActiveByKey finds the most recent active campaign for a cluster
// key. Several active campaigns can share a key when an address went
// quiet and came back, so only the freshest one is a candidate for
// extension.
func (r *CampaignRepository) FindActiveByKey(ctx context.Context, t models.CampaignType, clusterKey string) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
		WHERE type = $1 AND cluster_key = $2 AND status = 'active'
		ORDER BY last_seen DESC LIMIT 1`
	return scanCampaign(r.db.QueryRow(ctx, query, t, clusterKey))
}

// List retrieves campaigns with optional status filtering
func (r *CampaignRepository) List(ctx context.Context, status models.CampaignStatus, limit, offset int) ([]*models.Campaign, int64, error) {
	where := ""
	args := []any{}
	if status != "" {
		where = " WHERE status = $1"
		args = append(args, status)
	}

	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM campaigns"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count campaigns: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(
		"SELECT %s FROM campaigns%s ORDER BY last_seen DESC LIMIT $%d OFFSET $%d",
		campaignColumns, where, len(args)+1, len(args)+2,
	)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var items []*models.Campaign
	for rows.Next() {
		var c models.Campaign
		err := rows.Scan(
			&c.ID, &c.Name, &c.Type, &c.ClusterKey, &c.FirstSeen, &c.LastSeen,
			&c.EventCount, &c.UniqueIPs, &c.AttackTypes, &c.MitreTechniques, &c.Regions,
			&c.Severity, &c.Status, &c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan campaign: %w", err)
		}
		items = append(items, &c)
	}
	return items, total, rows.Err()
}

// Stats returns aggregate campaign statistics
func (r *CampaignRepository) Stats(ctx context.Context) (*models.CampaignStats, error) {
	stats := &models.CampaignStats{ByType: make(map[string]int64)}

	rows, err := r.db.Query(ctx, `SELECT type, status, COUNT(*) FROM campaigns GROUP BY type, status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaign stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ctype, status string
		var n int64
		if err := rows.Scan(&ctype, &status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.TotalCount += n
		stats.ByType[ctype] += n
		if status == string(models.CampaignStatusActive) {
			stats.ActiveCount += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM threat_events WHERE campaign_id IS NOT NULL`).Scan(&stats.EventsLinked)
	if err != nil {
		return nil, fmt.Errorf("failed to query linked event count: %w", err)
	}

	err = r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(created_at), 'epoch'::timestamptz) FROM campaigns`).Scan(&stats.LastDetection)
	if err != nil {
		return nil, fmt.Errorf("failed to query last detection time: %w", err)
	}
	if stats.TotalCount == 0 {
		stats.LastDetection = time.Time{}
	}
	return stats, nil
}
