package services

import (
	"context"
	"time"

	"threatmesh/internal/config"
	"threatmesh/pkg/logger"
)

const (
	auditRetention = 180 * 24 * time.Hour

	// expired indicators linger this long before hard deletion, so a
	// mistaken expiry can still be revived by a fresh observation
	deletionGrace = 30 * 24 * time.Hour
)

// LifecycleResult summarizes one retention run
type LifecycleResult struct {
	IoCsExpired   int64         `json:"iocs_expired"`
	IoCsDeleted   int64         `json:"iocs_deleted"`
	EventsDeleted int64         `json:"events_deleted"`
	AuditDeleted  int64         `json:"audit_deleted"`
	CheckpointOK  bool          `json:"checkpoint_ok"`
	Duration      time.Duration `json:"duration"`
}

// LifecycleService ages out stale intelligence: unseen indicators
// expire, long-expired ones are deleted, uncorrelated events and old
// audit entries are pruned, then storage is checkpointed.
type LifecycleService struct {
	stores *Stores
	config config.LifecycleConfig
	logger *logger.Logger
	nowFn  func() time.Time
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(stores *Stores, cfg config.LifecycleConfig, log *logger.Logger) *LifecycleService {
	if cfg.IoCRetentionDays <= 0 {
		cfg.IoCRetentionDays = 90
	}
	if cfg.ThreatRetentionDays <= 0 {
		cfg.ThreatRetentionDays = 30
	}
	return &LifecycleService{
		stores: stores,
		config: cfg,
		logger: log.WithComponent("lifecycle-service"),
		nowFn:  time.Now,
	}
}

// RunOnce executes one retention pass
func (s *LifecycleService) RunOnce(ctx context.Context) (*LifecycleResult, error) {
	start := s.nowFn()
	result := &LifecycleResult{}

	iocCutoff := start.Add(-time.Duration(s.config.IoCRetentionDays) * 24 * time.Hour)

	expired, err := s.stores.IoCs.ExpireUnseenBefore(ctx, iocCutoff)
	if err != nil {
		return nil, err
	}
	result.IoCsExpired = expired

	deleted, err := s.stores.IoCs.DeleteExpiredBefore(ctx, iocCutoff.Add(-deletionGrace))
	if err != nil {
		return nil, err
	}
	result.IoCsDeleted = deleted

	eventCutoff := start.Add(-time.Duration(s.config.ThreatRetentionDays) * 24 * time.Hour)
	eventsDeleted, err := s.stores.Events.DeleteUnassignedBefore(ctx, eventCutoff)
	if err != nil {
		return nil, err
	}
	result.EventsDeleted = eventsDeleted

	auditDeleted, err := s.stores.Audit.DeleteBefore(ctx, start.Add(-auditRetention))
	if err != nil {
		return nil, err
	}
	result.AuditDeleted = auditDeleted

	if s.stores.Maintenance != nil {
		if err := s.stores.Maintenance.Checkpoint(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("storage checkpoint failed")
		} else {
			result.CheckpointOK = true
		}
	}

	result.Duration = time.Since(start)
	s.logger.Info().
		Int64("iocs_expired", result.IoCsExpired).
		Int64("iocs_deleted", result.IoCsDeleted).
		Int64("events_deleted", result.EventsDeleted).
		Int64("audit_deleted", result.AuditDeleted).
		Dur("duration", result.Duration).
		Msg("lifecycle pass complete")
	return result, nil
}
