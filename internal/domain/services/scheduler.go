package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"threatmesh/internal/config"
	"threatmesh/internal/infrastructure/cache"
	"threatmesh/internal/metrics"
	"threatmesh/pkg/logger"
)

// Task names used in logs, locks and metrics
const (
	TaskCorrelation = "correlation"
	TaskReputation  = "reputation"
	TaskRuleGen     = "rulegen"
	TaskLifecycle   = "lifecycle"
	TaskFeedSync    = "feedsync"
)

// TaskState reports the last outcome of one scheduled task
type TaskState struct {
	Name      string    `json:"name"`
	LastRun   time.Time `json:"last_run,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int64     `json:"runs"`
}

// Scheduler drives the background engines on fixed intervals. Start
// is idempotent; a second call while running is a no-op. With Redis
// available, a per-task lock keeps replicas from duplicating work.
type Scheduler struct {
	correlation *CorrelationEngine
	reputation  *ReputationEngine
	rules       *RuleGenerator
	lifecycle   *LifecycleService
	backup      *BackupService
	feedSync    *FeedSyncService
	cache       *cache.RedisCache
	metrics     *metrics.Metrics
	config      config.SchedulerConfig
	logger      *logger.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	states  map[string]*TaskState
}

// NewScheduler creates a new scheduler
func NewScheduler(
	correlation *CorrelationEngine,
	reputation *ReputationEngine,
	rules *RuleGenerator,
	lifecycle *LifecycleService,
	backup *BackupService,
	feedSync *FeedSyncService,
	c *cache.RedisCache,
	m *metrics.Metrics,
	cfg config.SchedulerConfig,
	log *logger.Logger,
) *Scheduler {
	if cfg.CorrelationInterval <= 0 {
		cfg.CorrelationInterval = 5 * time.Minute
	}
	if cfg.ReputationInterval <= 0 {
		cfg.ReputationInterval = time.Hour
	}
	if cfg.RuleGenInterval <= 0 {
		cfg.RuleGenInterval = 6 * time.Hour
	}
	if cfg.LifecycleInterval <= 0 {
		cfg.LifecycleInterval = 24 * time.Hour
	}
	if cfg.FeedSyncInterval <= 0 {
		cfg.FeedSyncInterval = 6 * time.Hour
	}
	return &Scheduler{
		correlation: correlation,
		reputation:  reputation,
		rules:       rules,
		lifecycle:   lifecycle,
		backup:      backup,
		feedSync:    feedSync,
		cache:       c,
		metrics:     m,
		config:      cfg,
		logger:      log.WithComponent("scheduler"),
		states:      make(map[string]*TaskState),
	}
}

// Start launches the task loops. Returns immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info().
		Dur("correlation", s.config.CorrelationInterval).
		Dur("reputation", s.config.ReputationInterval).
		Dur("rulegen", s.config.RuleGenInterval).
		Dur("lifecycle", s.config.LifecycleInterval).
		Msg("scheduler started")

	s.spawn(TaskCorrelation, s.config.CorrelationInterval, true, s.runCorrelation)
	s.spawn(TaskReputation, s.config.ReputationInterval, false, s.runReputation)
	s.spawn(TaskRuleGen, s.config.RuleGenInterval, false, s.runRuleGen)
	s.spawn(TaskLifecycle, s.config.LifecycleInterval, false, s.runLifecycle)
	if s.feedSync != nil {
		s.spawn(TaskFeedSync, s.config.FeedSyncInterval, true, s.runFeedSync)
	}
}

// Stop halts all task loops and waits for in-flight runs to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

// IsRunning reports whether the scheduler loops are active
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// TaskStates returns a snapshot of all task outcomes
func (s *Scheduler) TaskStates() []TaskState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, *st)
	}
	return out
}

func (s *Scheduler) spawn(name string, interval time.Duration, immediate bool, run func(context.Context) error) {
	s.mu.Lock()
	s.states[name] = &TaskState{Name: name}
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if immediate {
			s.execute(name, run)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.execute(name, run)
			case <-stopCh:
				return
			}
		}
	}()
}

func (s *Scheduler) execute(name string, run func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if s.cache != nil {
		acquired, err := s.cache.AcquireLock(ctx, name, 10*time.Minute)
		if err != nil {
			s.logger.Warn().Err(err).Str("task", name).Msg("lock acquisition failed, running anyway")
		} else if !acquired {
			s.logger.Debug().Str("task", name).Msg("task held by another replica, skipping")
			return
		} else {
			defer func() {
				if err := s.cache.ReleaseLock(context.Background(), name); err != nil {
					s.logger.Warn().Err(err).Str("task", name).Msg("failed to release lock")
				}
			}()
		}
	}

	start := time.Now()
	err := run(ctx)
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.TaskDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		if err != nil {
			s.metrics.TaskFailures.WithLabelValues(name).Inc()
		}
	}

	s.mu.Lock()
	if st, ok := s.states[name]; ok {
		st.LastRun = start
		st.Runs++
		st.LastError = ""
		if err != nil {
			st.LastError = err.Error()
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Str("task", name).Dur("duration", elapsed).Msg("task failed")
	}
}

// RunCorrelation triggers a correlation scan outside the schedule
func (s *Scheduler) RunCorrelation(ctx context.Context) (*ScanResult, error) {
	return s.correlation.ScanForCampaigns(ctx)
}

// RunReputation triggers a reputation pass outside the schedule
func (s *Scheduler) RunReputation(ctx context.Context) (*ReputationResult, error) {
	return s.reputation.RunOnce(ctx)
}

// RunRuleGen triggers rule generation outside the schedule
func (s *Scheduler) RunRuleGen(ctx context.Context) (*RuleGenResult, error) {
	return s.rules.GenerateRules(ctx)
}

// RunLifecycle triggers a retention pass outside the schedule
func (s *Scheduler) RunLifecycle(ctx context.Context) (*LifecycleResult, error) {
	return s.lifecycle.RunOnce(ctx)
}

// RunFeedSync triggers an external feed pull outside the schedule.
// Returns ErrInvalidInput when no feed sync is configured.
func (s *Scheduler) RunFeedSync(ctx context.Context) (*FeedSyncResult, error) {
	if s.feedSync == nil {
		return nil, fmt.Errorf("%w: external feed sync is not configured", ErrInvalidInput)
	}
	return s.feedSync.RunOnce(ctx)
}

func (s *Scheduler) runCorrelation(ctx context.Context) error {
	_, err := s.correlation.ScanForCampaigns(ctx)
	return err
}

func (s *Scheduler) runReputation(ctx context.Context) error {
	_, err := s.reputation.RunOnce(ctx)
	return err
}

func (s *Scheduler) runRuleGen(ctx context.Context) error {
	_, err := s.rules.GenerateRules(ctx)
	return err
}

func (s *Scheduler) runFeedSync(ctx context.Context) error {
	_, err := s.feedSync.RunOnce(ctx)
	return err
}

// runLifecycle chains the retention pass with a best-effort snapshot
func (s *Scheduler) runLifecycle(ctx context.Context) error {
	if _, err := s.lifecycle.RunOnce(ctx); err != nil {
		return err
	}
	if s.backup != nil {
		s.backup.Run(ctx)
	}
	return nil
}
