package services

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"threatmesh/internal/config"
	"threatmesh/pkg/logger"
)

const snapshotPrefix = "snapshot-"

// BackupResult describes one completed snapshot
type BackupResult struct {
	Path      string        `json:"path"`
	SizeBytes int64         `json:"size_bytes"`
	Pruned    int           `json:"pruned"`
	Duration  time.Duration `json:"duration"`
}

// BackupService exports periodic JSON snapshots of the intelligence
// store. Backups are best effort: a failed run is logged and reported
// as a nil result, never an error, so the scheduler keeps the service
// alive regardless.
type BackupService struct {
	stores *Stores
	config config.BackupConfig
	logger *logger.Logger
	nowFn  func() time.Time
}

// NewBackupService creates a new backup service
func NewBackupService(stores *Stores, cfg config.BackupConfig, log *logger.Logger) *BackupService {
	if cfg.Dir == "" {
		cfg.Dir = "./backups"
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 7
	}
	return &BackupService{
		stores: stores,
		config: cfg,
		logger: log.WithComponent("backup-service"),
		nowFn:  time.Now,
	}
}

// Run writes one snapshot and prunes the oldest beyond the retention
// count. Returns nil on any failure.
func (s *BackupService) Run(ctx context.Context) *BackupResult {
	start := s.nowFn()

	if s.stores.Maintenance == nil {
		return nil
	}

	data, err := s.stores.Maintenance.Export(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("snapshot export failed")
		return nil
	}

	if err := os.MkdirAll(s.config.Dir, 0o755); err != nil {
		s.logger.Warn().Err(err).Str("dir", s.config.Dir).Msg("cannot create backup directory")
		return nil
	}

	name := snapshotPrefix + start.UTC().Format("20060102-150405") + ".json"
	path := filepath.Join(s.config.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("snapshot write failed")
		return nil
	}

	pruned := s.prune()

	result := &BackupResult{
		Path:      path,
		SizeBytes: int64(len(data)),
		Pruned:    pruned,
		Duration:  time.Since(start),
	}
	s.logger.Info().
		Str("path", path).
		Int64("size_bytes", result.SizeBytes).
		Int("pruned", pruned).
		Msg("snapshot written")
	return result
}

// prune deletes the oldest snapshots beyond MaxBackups. Snapshot names
// embed a sortable timestamp, so lexicographic order is age order.
func (s *BackupService) prune() int {
	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		return 0
	}

	var snapshots []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && len(name) > len(snapshotPrefix) && name[:len(snapshotPrefix)] == snapshotPrefix {
			snapshots = append(snapshots, name)
		}
	}
	if len(snapshots) <= s.config.MaxBackups {
		return 0
	}

	sort.Strings(snapshots)
	pruned := 0
	for _, name := range snapshots[:len(snapshots)-s.config.MaxBackups] {
		if err := os.Remove(filepath.Join(s.config.Dir, name)); err != nil {
			s.logger.Warn().Err(err).Str("name", name).Msg("failed to prune snapshot")
			continue
		}
		pruned++
	}
	return pruned
}
