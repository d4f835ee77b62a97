package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"threatmesh/internal/infrastructure/database"
)

// MaintenanceRepository runs storage upkeep and snapshot export
type MaintenanceRepository struct {
	db database.DBTX
}

// NewMaintenanceRepository creates a new maintenance repository
func NewMaintenanceRepository(db database.DBTX) *MaintenanceRepository {
	return &MaintenanceRepository{db: db}
}

var snapshotTables = []string{
	"iocs", "sightings", "campaigns", "threat_events", "generated_rules",
}

// Checkpoint forces a WAL checkpoint and refreshes planner statistics.
// Run after bulk deletions so reclaimed space is actually reusable.
func (r *MaintenanceRepository) Checkpoint(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("failed to checkpoint: %w", err)
	}
	if _, err := r.db.Exec(ctx, "VACUUM (ANALYZE)"); err != nil {
		return fmt.Errorf("failed to vacuum: %w", err)
	}
	return nil
}

// Export serializes all intelligence tables into one JSON document
// for offline backup.
func (r *MaintenanceRepository) Export(ctx context.Context) ([]byte, error) {
	snapshot := make(map[string]json.RawMessage, len(snapshotTables)+1)

	for _, table := range snapshotTables {
		// table names come from the fixed list above, never from input
		query := fmt.Sprintf(
			"SELECT COALESCE(json_agg(t), '[]'::json) FROM (SELECT * FROM %s) t", table)

		var data json.RawMessage
		if err := r.db.QueryRow(ctx, query).Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to export table %s: %w", table, err)
		}
		snapshot[table] = data
	}

	meta, _ := json.Marshal(map[string]string{
		"exported_at": time.Now().UTC().Format(time.RFC3339),
	})
	snapshot["_meta"] = meta

	out, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return out, nil
}
