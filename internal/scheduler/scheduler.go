// Package scheduler keeps the in-process cron table in sync with the pull
// configurations stored in the database and fires executor runs on their
// schedules. It also owns the daily execution-log retention sweep and the
// optional forecast sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/rivermark/streamflow-pull/internal/domain"
)

// retentionSweepSpec runs the log sweep daily, off-peak.
const retentionSweepSpec = "0 3 * * *"

// ConfigurationLister supplies the enabled pull configurations to schedule.
type ConfigurationLister interface {
	ListEnabledConfigurations(ctx context.Context) ([]domain.PullConfiguration, error)
}

// Runner executes pulls. Both methods are safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, configID int64) (domain.RunResult, error)
	RunForecast(ctx context.Context, configID int64) (domain.RunResult, error)
}

// RunEventPublisher emits sealed run outcomes to downstream consumers.
type RunEventPublisher interface {
	PublishRunCompleted(ctx context.Context, result domain.RunResult) error
}

// LogRetention deletes sealed execution log entries older than a cutoff.
type LogRetention interface {
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler reconciles database-defined schedules into cron entries. A
// configuration edited, disabled, or deleted in the database is picked up
// on the next reload without a restart.
type Scheduler struct {
	cron      *cron.Cron
	configs   ConfigurationLister
	runner    Runner
	publisher RunEventPublisher
	retention LogRetention
	clock     clockwork.Clock
	logger    *slog.Logger

	reloadInterval time.Duration
	retentionDays  int
	forecastSpec   string

	mu      sync.Mutex
	runCtx  context.Context
	entries map[int64]scheduledEntry
}

type scheduledEntry struct {
	id   cron.EntryID
	spec string
}

// Params collects the Scheduler's collaborators. Publisher may be nil when
// run events are disabled.
type Params struct {
	Configurations ConfigurationLister
	Runner         Runner
	Retention      LogRetention
	Publisher      RunEventPublisher
	Clock          clockwork.Clock
	Logger         *slog.Logger

	// ReloadInterval is how often the cron table is reconciled against the
	// database.
	ReloadInterval time.Duration

	// LogRetentionDays is the age past which sealed log entries are removed.
	LogRetentionDays int

	// ForecastSpec is the cron expression for the forecast sweep across all
	// enabled configurations; empty disables forecast pulls.
	ForecastSpec string
}

// New creates a Scheduler. Call Start to begin firing entries.
func New(p Params) *Scheduler {
	return &Scheduler{
		cron:           cron.New(),
		configs:        p.Configurations,
		runner:         p.Runner,
		publisher:      p.Publisher,
		retention:      p.Retention,
		clock:          p.Clock,
		logger:         p.Logger,
		reloadInterval: p.ReloadInterval,
		retentionDays:  p.LogRetentionDays,
		forecastSpec:   p.ForecastSpec,
		runCtx:         context.Background(),
		entries:        make(map[int64]scheduledEntry),
	}
}

// Start performs the first reconciliation, registers the sweep entries, and
// begins firing. The context bounds every run the scheduler launches;
// cancelling it stops scheduled work mid-run.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	if err := s.Reconcile(ctx); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(retentionSweepSpec, func() { s.sweepLogs(ctx) }); err != nil {
		return fmt.Errorf("register retention sweep: %w", err)
	}
	if s.forecastSpec != "" {
		if _, err := s.cron.AddFunc(s.forecastSpec, func() { s.runForecasts(ctx) }); err != nil {
			return fmt.Errorf("invalid FORECAST_SCHEDULE %q: %w", s.forecastSpec, err)
		}
		s.logger.Info("forecast sweep scheduled", "spec", s.forecastSpec)
	}

	s.cron.Start()
	go s.reloadLoop(ctx)

	s.logger.Info("scheduler started",
		"configurations", len(s.entries),
		"reload_interval", s.reloadInterval,
		"retention_days", s.retentionDays,
	)
	return nil
}

// Stop halts the cron table. The returned context completes once in-flight
// jobs have drained, letting the caller bound shutdown.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// TriggerPull launches a run outside its schedule and returns immediately.
// It satisfies the HTTP server's manual-trigger hook; outcome handling is
// identical to a scheduled run.
func (s *Scheduler) TriggerPull(configID int64, kind domain.PullKind) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()

	go func() {
		if kind == domain.PullForecast {
			s.runForecast(ctx, configID)
			return
		}
		s.runObservations(ctx, configID)
	}()
}

// Reconcile aligns cron entries with the enabled configurations: new ones
// are added, changed schedules are replaced, disabled or deleted ones are
// removed. Configurations with invalid schedules are skipped, not fatal.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	configs, err := s.configs.ListEnabledConfigurations(ctx)
	if err != nil {
		return fmt.Errorf("list enabled configurations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]bool, len(configs))
	for _, cfg := range configs {
		spec, err := cronSpec(cfg)
		if err != nil {
			s.logger.Warn("skipping configuration with invalid schedule",
				"config_id", cfg.ID, "name", cfg.Name, "error", err)
			continue
		}
		seen[cfg.ID] = true

		if cur, ok := s.entries[cfg.ID]; ok {
			if cur.spec == spec {
				continue
			}
			s.cron.Remove(cur.id)
		}

		configID := cfg.ID
		entryID, err := s.cron.AddFunc(spec, func() { s.runObservations(s.jobContext(), configID) })
		if err != nil {
			s.logger.Warn("skipping configuration with invalid schedule",
				"config_id", cfg.ID, "name", cfg.Name, "spec", spec, "error", err)
			delete(s.entries, cfg.ID)
			continue
		}
		s.entries[cfg.ID] = scheduledEntry{id: entryID, spec: spec}
		s.logger.Info("configuration scheduled", "config_id", cfg.ID, "name", cfg.Name, "spec", spec)
	}

	for configID, e := range s.entries {
		if !seen[configID] {
			s.cron.Remove(e.id)
			delete(s.entries, configID)
			s.logger.Info("configuration unscheduled", "config_id", configID)
		}
	}

	return nil
}

// ScheduledSpecs reports the active configuration schedules, keyed by
// configuration id.
func (s *Scheduler) ScheduledSpecs() map[int64]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	specs := make(map[int64]string, len(s.entries))
	for id, e := range s.entries {
		specs[id] = e.spec
	}
	return specs
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

func (s *Scheduler) reloadLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(s.reloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := s.Reconcile(ctx); err != nil {
				s.logger.Error("schedule reconciliation failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) runObservations(ctx context.Context, configID int64) {
	result, err := s.runner.Run(ctx, configID)
	if err != nil {
		s.logger.Error("scheduled pull failed", "config_id", configID, "error", err)
	}
	s.publish(ctx, result)
}

func (s *Scheduler) runForecast(ctx context.Context, configID int64) {
	result, err := s.runner.RunForecast(ctx, configID)
	if err != nil {
		s.logger.Error("forecast pull failed", "config_id", configID, "error", err)
	}
	s.publish(ctx, result)
}

// runForecasts fires a forecast pull for every enabled configuration.
func (s *Scheduler) runForecasts(ctx context.Context) {
	configs, err := s.configs.ListEnabledConfigurations(ctx)
	if err != nil {
		s.logger.Error("forecast sweep failed to list configurations", "error", err)
		return
	}
	for _, cfg := range configs {
		if ctx.Err() != nil {
			return
		}
		s.runForecast(ctx, cfg.ID)
	}
}

func (s *Scheduler) sweepLogs(ctx context.Context) {
	cutoff := s.clock.Now().UTC().AddDate(0, 0, -s.retentionDays)
	removed, err := s.retention.DeleteLogsBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("log retention sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("log retention sweep complete", "removed", removed, "cutoff", cutoff)
	}
}

func (s *Scheduler) publish(ctx context.Context, result domain.RunResult) {
	if s.publisher == nil || result.Status == domain.RunStatusSkipped {
		return
	}
	if err := s.publisher.PublishRunCompleted(ctx, result); err != nil {
		s.logger.Warn("run event publish failed",
			"config_id", result.ConfigurationID, "kind", result.Kind, "error", err)
	}
}

// cronSpec maps a configuration's schedule to a cron expression. Fixed
// schedule types fire on UTC boundaries; custom passes the stored
// expression through.
func cronSpec(cfg domain.PullConfiguration) (string, error) {
	switch cfg.ScheduleType {
	case "hourly":
		return "0 * * * *", nil
	case "daily":
		return "0 0 * * *", nil
	case "weekly":
		return "0 0 * * 0", nil
	case "custom":
		spec := strings.TrimSpace(cfg.ScheduleCron)
		if spec == "" {
			return "", errors.New("custom schedule with empty cron expression")
		}
		return spec, nil
	default:
		return "", fmt.Errorf("unknown schedule type %q", cfg.ScheduleType)
	}
}
