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

// EventRepository handles enriched threat event persistence
type EventRepository struct {
	db database.DBTX
}

// NewEventRepository creates a new event repository
func NewEventRepository(db database.DBTX) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `id, event_hash, source_type, attack_source_ip, attack_type,
	mitre_techniques, sigma_rule, ts, region, industry, confidence, severity,
	campaign_id, received_at`

func scanEvent(row pgx.Row) (*models.EnrichedThreatEvent, error) {
	var e models.EnrichedThreatEvent
	err := row.Scan(
		&e.ID, &e.EventHash, &e.SourceType, &e.AttackSourceIP, &e.AttackType,
		&e.MitreTechniques, &e.SigmaRule, &e.Timestamp, &e.Region, &e.Industry,
		&e.Confidence, &e.Severity, &e.CampaignID, &e.ReceivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	return &e, nil
}

func collectEvents(rows pgx.Rows) ([]*models.EnrichedThreatEvent, error) {
	var items []*models.EnrichedThreatEvent
	for rows.Next() {
		var e models.EnrichedThreatEvent
		err := rows.Scan(
			&e.ID, &e.EventHash, &e.SourceType, &e.AttackSourceIP, &e.AttackType,
			&e.MitreTechniques, &e.SigmaRule, &e.Timestamp, &e.Region, &e.Industry,
			&e.Confidence, &e.Severity, &e.CampaignID, &e.ReceivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}

// Insert persists one enriched event
func (r *EventRepository) Insert(ctx context.Context, e *models.EnrichedThreatEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}

	query := `
		INSERT INTO threat_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.Exec(ctx, query,
		e.ID, e.EventHash, e.SourceType, e.AttackSourceIP, e.AttackType,
		e.MitreTechniques, e.SigmaRule, e.Timestamp, e.Region, e.Industry,
		e.Confidence, e.Severity, e.CampaignID, e.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// GetByHash retrieves an event by its content hash
func (r *EventRepository) GetByHash(ctx context.Context, hash string) (*models.EnrichedThreatEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM threat_events WHERE event_hash = $1`
	return scanEvent(r.db.QueryRow(ctx, query, hash))
}

// GetByID retrieves an event by ID
func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.EnrichedThreatEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM threat_events WHERE id = $1`
	return scanEvent(r.db.QueryRow(ctx, query, id))
}

// ListUnassigned returns events with no campaign received since the cutoff
func (r *EventRepository) ListUnassigned(ctx context.Context, since time.Time) ([]*models.EnrichedThreatEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM threat_events
		WHERE campaign_id IS NULL AND received_at >= $1
		ORDER BY ts`

	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list unassigned events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListByCampaign returns all member events of a campaign, oldest first
func (r *EventRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*models.EnrichedThreatEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM threat_events WHERE campaign_id = $1 ORDER BY ts`

	rows, err := r.db.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaign events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListSince returns events received since the cutoff
func (r *EventRepository) ListSince(ctx context.Context, since time.Time) ([]*models.EnrichedThreatEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM threat_events WHERE received_at >= $1 ORDER BY ts`

	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// AssignCampaign links events to a campaign. The WHERE clause keeps
// campaign membership write-once: rows already assigned are skipped.
func (r *EventRepository) AssignCampaign(ctx context.Context, eventIDs []uuid.UUID, campaignID uuid.UUID) (int64, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE threat_events SET campaign_id = $1 WHERE id = ANY($2) AND campaign_id IS NULL`,
		campaignID, eventIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to assign events to campaign: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MaxSeverityForValue returns the highest event severity recorded for
// an attack source address. Zero when no events reference it.
func (r *EventRepository) MaxSeverityForValue(ctx context.Context, value string) (int, error) {
	var severity int
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(severity), 0) FROM threat_events WHERE attack_source_ip = $1`,
		value).Scan(&severity)
	if err != nil {
		return 0, fmt.Errorf("failed to query max severity: %w", err)
	}
	return severity, nil
}

// DeleteUnassignedBefore removes uncorrelated events older than the cutoff.
// Events linked to a campaign are retained as campaign evidence.
func (r *EventRepository) DeleteUnassignedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM threat_events WHERE campaign_id IS NULL AND received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of events
func (r *EventRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM threat_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}
