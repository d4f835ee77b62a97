package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"threatmesh/internal/infrastructure/database"
)

// schema is applied idempotently at startup. Statements only ever add
// objects, so re-running against an existing database is safe.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS iocs (
		id UUID PRIMARY KEY,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		normalized_value TEXT NOT NULL,
		threat_type TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		confidence DOUBLE PRECISION NOT NULL DEFAULT 50,
		reputation_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		sightings INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL DEFAULT 'active',
		tags TEXT[] NOT NULL DEFAULT '{}',
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (type, normalized_value)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_iocs_status_reputation ON iocs (status, reputation_score DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_iocs_last_seen ON iocs (last_seen)`,

	`CREATE TABLE IF NOT EXISTS sightings (
		id UUID PRIMARY KEY,
		ioc_id UUID NOT NULL REFERENCES iocs(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		source TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		details TEXT NOT NULL DEFAULT '',
		actor_hash TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sightings_ioc_created ON sightings (ioc_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS campaigns (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		cluster_key TEXT NOT NULL,
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		event_count INTEGER NOT NULL DEFAULT 0,
		unique_ips INTEGER NOT NULL DEFAULT 0,
		attack_types TEXT[] NOT NULL DEFAULT '{}',
		mitre_techniques TEXT[] NOT NULL DEFAULT '{}',
		regions TEXT[] NOT NULL DEFAULT '{}',
		severity INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_campaigns_active_key ON campaigns (type, cluster_key, last_seen DESC) WHERE status = 'active'`,

	`CREATE TABLE IF NOT EXISTS threat_events (
		id UUID PRIMARY KEY,
		event_hash TEXT NOT NULL UNIQUE,
		source_type TEXT NOT NULL,
		attack_source_ip TEXT NOT NULL,
		attack_type TEXT NOT NULL,
		mitre_techniques TEXT[] NOT NULL DEFAULT '{}',
		sigma_rule TEXT NOT NULL DEFAULT '',
		ts TIMESTAMPTZ NOT NULL,
		region TEXT NOT NULL DEFAULT '',
		industry TEXT NOT NULL DEFAULT '',
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		severity INTEGER NOT NULL DEFAULT 0,
		campaign_id UUID REFERENCES campaigns(id),
		received_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_campaign ON threat_events (campaign_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_unassigned ON threat_events (received_at) WHERE campaign_id IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_events_ip_ts ON threat_events (attack_source_ip, ts)`,

	`CREATE TABLE IF NOT EXISTS generated_rules (
		id TEXT PRIMARY KEY,
		pattern_hash TEXT NOT NULL UNIQUE,
		content TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		occurrences INTEGER NOT NULL DEFAULT 0,
		published_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		actor_hash TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		entity TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log (created_at)`,
}

// Migrate applies the schema. campaigns must exist before
// threat_events because of the foreign key, so statements run in a
// fixed order inside one transaction.
func Migrate(ctx context.Context, db *database.PostgresDB) error {
	return db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema statement: %w", err)
			}
		}
		return nil
	})
}
