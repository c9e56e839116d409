// Package pull orchestrates batch ingestion runs: it resolves per-station
// fetch windows from checkpoints, pulls each station through its source
// client, validates and persists the results, and seals an execution log
// entry per run.
package pull

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rivermark/streamflow-pull/internal/domain"
	"github.com/rivermark/streamflow-pull/internal/observability"
)

// ConfigurationStore supplies the operator-defined pull configurations.
// Runs read them; the only write-back is the last-run stamp.
type ConfigurationStore interface {
	GetConfiguration(ctx context.Context, id int64) (domain.PullConfiguration, error)
	SetLastRun(ctx context.Context, id int64, ranAt time.Time) error
}

// CheckpointStore tracks per-(configuration, station) ingestion progress.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, configID int64, stationNumber string) (*time.Time, error)
	AdvanceCheckpoint(ctx context.Context, configID int64, stationNumber string, ts time.Time) error
}

// ObservationStore persists validated observations. Rows colliding with an
// already-stored (station, observed-at, series) reading are skipped, and the
// returned count includes only genuinely new rows.
type ObservationStore interface {
	InsertObservations(ctx context.Context, stationNumber string, obs []domain.Observation) (int, error)
}

// ExecutionLogStore appends and seals batch run records.
type ExecutionLogStore interface {
	CreateLogEntry(ctx context.Context, configID int64, startedAt time.Time) (int64, error)
	SealLogEntry(ctx context.Context, entryID int64, status domain.RunStatus, endedAt time.Time, recordsProcessed int, errorMessage string) error
}

// ForecastStore upserts retrieved forecast runs.
type ForecastStore interface {
	UpsertForecastRun(ctx context.Context, run domain.ForecastRun) error
}

// Executor runs batch pulls. Station failures are isolated: one bad station
// never aborts the rest of the run, and a run with failures still seals as
// success. Only errors outside the station loop (configuration load, log
// bookkeeping, run timeout) fail the run itself.
type Executor struct {
	configs      ConfigurationStore
	checkpoints  CheckpointStore
	observations ObservationStore
	logs         ExecutionLogStore
	forecasts    ForecastStore
	sources      map[SourceKey]Source
	forecast     ForecastSource
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      *observability.Metrics
	runTimeout   time.Duration
	concurrency  int
}

// Params collects the Executor's collaborators. Sources needs one entry per
// (agency, series) pair the configurations reference. Forecast and Forecasts
// may be nil when forecast pulls are not wired.
type Params struct {
	Configurations ConfigurationStore
	Checkpoints    CheckpointStore
	Observations   ObservationStore
	Logs           ExecutionLogStore
	Forecasts      ForecastStore
	Sources        map[SourceKey]Source
	Forecast       ForecastSource
	Clock          clockwork.Clock
	Logger         *slog.Logger
	Metrics        *observability.Metrics

	// RunTimeout bounds one whole run across all stations; zero disables it.
	RunTimeout time.Duration

	// StationConcurrency is the number of stations pulled in parallel
	// within a run. Values below 1 mean sequential.
	StationConcurrency int
}

// New creates an Executor.
func New(p Params) *Executor {
	if p.StationConcurrency < 1 {
		p.StationConcurrency = 1
	}
	return &Executor{
		configs:      p.Configurations,
		checkpoints:  p.Checkpoints,
		observations: p.Observations,
		logs:         p.Logs,
		forecasts:    p.Forecasts,
		sources:      p.Sources,
		forecast:     p.Forecast,
		clock:        p.Clock,
		logger:       p.Logger,
		metrics:      p.Metrics,
		runTimeout:   p.RunTimeout,
		concurrency:  p.StationConcurrency,
	}
}

// Run executes one observation pull for the configuration. A missing or
// disabled configuration is a skipped no-op: no log entry, no error.
func (e *Executor) Run(ctx context.Context, configID int64) (domain.RunResult, error) {
	cfg, result, err := e.loadConfiguration(ctx, configID, domain.PullObservations)
	if err != nil || result.Status == domain.RunStatusSkipped {
		return result, err
	}
	return e.execute(ctx, cfg, domain.PullObservations, e.pullStation)
}

// RunForecast executes one forecast pull for the configuration, iterating
// the same station list as Run but fetching forecasts instead of history.
func (e *Executor) RunForecast(ctx context.Context, configID int64) (domain.RunResult, error) {
	cfg, result, err := e.loadConfiguration(ctx, configID, domain.PullForecast)
	if err != nil || result.Status == domain.RunStatusSkipped {
		return result, err
	}
	if e.forecast == nil || e.forecasts == nil {
		result.Status = domain.RunStatusFailed
		return result, errors.New("forecast pulls are not configured")
	}
	return e.execute(ctx, cfg, domain.PullForecast, e.pullStationForecast)
}

// loadConfiguration resolves the skip and failure outcomes shared by both
// entry points. A non-skipped, non-error result means the caller may run.
func (e *Executor) loadConfiguration(ctx context.Context, configID int64, kind domain.PullKind) (domain.PullConfiguration, domain.RunResult, error) {
	now := e.clock.Now().UTC()
	result := domain.RunResult{ConfigurationID: configID, Kind: kind, StartedAt: now, CompletedAt: now}

	cfg, err := e.configs.GetConfiguration(ctx, configID)
	if errors.Is(err, domain.ErrConfigurationNotFound) {
		e.logger.Warn("configuration not found, skipping run", "config_id", configID, "kind", kind)
		result.Status = domain.RunStatusSkipped
		e.metrics.RunsCompleted.WithLabelValues(string(kind), string(domain.RunStatusSkipped)).Inc()
		return domain.PullConfiguration{}, result, nil
	}
	if err != nil {
		result.Status = domain.RunStatusFailed
		return domain.PullConfiguration{}, result, fmt.Errorf("load configuration %d: %w", configID, err)
	}
	if !cfg.IsEnabled {
		e.logger.Info("configuration disabled, skipping run", "config_id", configID, "kind", kind, "name", cfg.Name)
		result.Status = domain.RunStatusSkipped
		e.metrics.RunsCompleted.WithLabelValues(string(kind), string(domain.RunStatusSkipped)).Inc()
		return domain.PullConfiguration{}, result, nil
	}

	return cfg, result, nil
}

type stationFunc func(ctx context.Context, cfg domain.PullConfiguration, st domain.StationRef) stationOutcome

// stationOutcome is the per-station tally folded into the run result.
type stationOutcome struct {
	station  string
	fetched  int
	inserted int
	rejected int
	err      error
}

// execute is the shared run skeleton: create the log entry, process every
// station under the run timeout, seal the entry, stamp the configuration.
func (e *Executor) execute(ctx context.Context, cfg domain.PullConfiguration, kind domain.PullKind, work stationFunc) (domain.RunResult, error) {
	startedAt := e.clock.Now().UTC()
	result := domain.RunResult{ConfigurationID: cfg.ID, Kind: kind, StartedAt: startedAt}

	entryID, err := e.logs.CreateLogEntry(ctx, cfg.ID, startedAt)
	if err != nil {
		result.Status = domain.RunStatusFailed
		result.CompletedAt = e.clock.Now().UTC()
		return result, fmt.Errorf("create execution log entry: %w", err)
	}

	e.logger.Info("run started",
		"config_id", cfg.ID,
		"kind", kind,
		"name", cfg.Name,
		"stations", len(cfg.Stations),
		"log_entry", entryID,
	)
	e.metrics.RunsActive.Inc()
	defer e.metrics.RunsActive.Dec()

	runCtx := ctx
	if e.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.runTimeout)
		defer cancel()
	}

	outcomes := e.processStations(runCtx, cfg, work)

	for _, o := range outcomes {
		result.RecordsFetched += o.fetched
		result.RecordsInserted += o.inserted
		result.RecordsRejected += o.rejected
		if o.err != nil {
			result.StationsFailed++
			result.StationErrors = append(result.StationErrors, domain.StationError{
				StationNumber: o.station,
				Message:       o.err.Error(),
			})
			e.logger.Error("station pull failed", "config_id", cfg.ID, "kind", kind, "station", o.station, "error", o.err)
			e.metrics.StationsProcessed.WithLabelValues("failed").Inc()
		} else {
			result.StationsSucceeded++
			e.metrics.StationsProcessed.WithLabelValues("success").Inc()
		}
	}

	endedAt := e.clock.Now().UTC()
	result.CompletedAt = endedAt

	status := domain.RunStatusSuccess
	errMsg := formatStationErrors(result.StationErrors)
	if rcErr := runCtx.Err(); rcErr != nil && ctx.Err() == nil {
		// The run timeout expired: unprocessed stations were abandoned, so
		// the run as a whole failed even though some stations finished.
		status = domain.RunStatusFailed
		errMsg = strings.TrimSpace("run timed out: " + rcErr.Error() + "\n" + errMsg)
	} else if rcErr != nil {
		status = domain.RunStatusFailed
		errMsg = strings.TrimSpace("run cancelled: " + rcErr.Error() + "\n" + errMsg)
	}

	// Seal on the parent context: the run context may already be expired,
	// and a timed-out run must still record its failure.
	sealErr := e.logs.SealLogEntry(ctx, entryID, status, endedAt, result.RecordsInserted, errMsg)
	if sealErr != nil {
		status = domain.RunStatusFailed
	}
	result.Status = status

	e.metrics.RunsCompleted.WithLabelValues(string(kind), string(status)).Inc()
	e.metrics.RunDuration.WithLabelValues(string(kind)).Observe(endedAt.Sub(startedAt).Seconds())

	if sealErr != nil {
		return result, fmt.Errorf("seal execution log entry %d: %w", entryID, sealErr)
	}

	if err := e.configs.SetLastRun(ctx, cfg.ID, endedAt); err != nil {
		e.logger.Warn("update last run timestamp failed", "config_id", cfg.ID, "error", err)
	}

	e.logger.Info("run sealed",
		"config_id", cfg.ID,
		"kind", kind,
		"status", status,
		"stations_succeeded", result.StationsSucceeded,
		"stations_failed", result.StationsFailed,
		"fetched", result.RecordsFetched,
		"inserted", result.RecordsInserted,
		"rejected", result.RecordsRejected,
		"duration", endedAt.Sub(startedAt),
	)
	return result, nil
}

// processStations runs the station loop, sequentially by default or through
// a bounded worker pool when concurrency allows. Once the run context
// expires, remaining stations are abandoned; in-flight ones drain.
func (e *Executor) processStations(ctx context.Context, cfg domain.PullConfiguration, work stationFunc) []stationOutcome {
	if e.concurrency <= 1 || len(cfg.Stations) <= 1 {
		outcomes := make([]stationOutcome, 0, len(cfg.Stations))
		for _, st := range cfg.Stations {
			if ctx.Err() != nil {
				break
			}
			outcomes = append(outcomes, work(ctx, cfg, st))
		}
		return outcomes
	}

	jobs := make(chan domain.StationRef)
	outcomes := make([]stationOutcome, 0, len(cfg.Stations))
	var mu sync.Mutex
	var wg sync.WaitGroup

	workers := e.concurrency
	if workers > len(cfg.Stations) {
		workers = len(cfg.Stations)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for st := range jobs {
				o := work(ctx, cfg, st)
				mu.Lock()
				outcomes = append(outcomes, o)
				mu.Unlock()
			}
		}()
	}

feed:
	for _, st := range cfg.Stations {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- st:
		}
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

// pullStation is the observation path for one station: resolve the window
// from the checkpoint, fetch, validate, persist, advance the checkpoint.
func (e *Executor) pullStation(ctx context.Context, cfg domain.PullConfiguration, st domain.StationRef) stationOutcome {
	out := stationOutcome{station: st.Number}

	if st.Agency == "" {
		out.err = fmt.Errorf("station %s: %w", st.Number, domain.ErrStationNotFound)
		return out
	}
	src, ok := e.sources[SourceKey{Agency: st.Agency, Series: cfg.SeriesType}]
	if !ok {
		out.err = fmt.Errorf("no source client for agency %s series %s", st.Agency, cfg.SeriesType)
		return out
	}

	checkpoint, err := e.checkpoints.GetCheckpoint(ctx, cfg.ID, st.Number)
	if err != nil {
		out.err = fmt.Errorf("load checkpoint: %w", err)
		return out
	}
	window := domain.ResolveWindow(checkpoint, cfg.PullStartDate, e.clock.Now())

	e.logger.Info("pulling station",
		"config_id", cfg.ID,
		"station", st.Number,
		"agency", st.Agency,
		"series", cfg.SeriesType,
		"window_start", window.Start,
		"window_end", window.End,
	)

	raw, err := src.Fetch(ctx, st.Number, window)
	if err != nil {
		out.err = fmt.Errorf("fetch: %w", err)
		return out
	}
	out.fetched = len(raw)
	e.metrics.ObservationsFetched.Add(float64(len(raw)))

	if len(raw) == 0 {
		e.logger.Info("no new data in window", "config_id", cfg.ID, "station", st.Number)
		return out
	}

	valid, rejected := domain.ValidateObservations(raw)
	out.rejected = rejected
	e.metrics.ObservationsRejected.Add(float64(rejected))

	inserted := 0
	if len(valid) > 0 {
		inserted, err = e.observations.InsertObservations(ctx, st.Number, valid)
		if err != nil {
			out.err = fmt.Errorf("store observations: %w", err)
			return out
		}
	}
	out.inserted = inserted
	duplicates := len(valid) - inserted
	e.metrics.ObservationsInserted.Add(float64(inserted))
	e.metrics.DuplicatesSkipped.Add(float64(duplicates))

	// Advance to the newest fetched timestamp, not the newest inserted one:
	// a window of rejects or duplicates is still caught up, and anything the
	// constraint skipped is already stored.
	if maxTS, ok := domain.MaxObservedAt(raw); ok {
		if err := e.checkpoints.AdvanceCheckpoint(ctx, cfg.ID, st.Number, maxTS); err != nil {
			out.err = fmt.Errorf("advance checkpoint: %w", err)
			return out
		}
	}

	e.logger.Info("station pull complete",
		"config_id", cfg.ID,
		"station", st.Number,
		"fetched", out.fetched,
		"inserted", out.inserted,
		"rejected", out.rejected,
		"duplicates", duplicates,
	)
	return out
}

// pullStationForecast is the forecast path for one station. Fetched counts
// the forecast points; inserted counts stored forecast runs (0 or 1).
func (e *Executor) pullStationForecast(ctx context.Context, cfg domain.PullConfiguration, st domain.StationRef) stationOutcome {
	out := stationOutcome{station: st.Number}

	run, err := e.forecast.FetchForecast(ctx, st.Number)
	if err != nil {
		out.err = fmt.Errorf("fetch forecast: %w", err)
		return out
	}
	out.fetched = len(run.Points)

	if len(run.Points) == 0 {
		e.logger.Info("no forecast available", "config_id", cfg.ID, "station", st.Number)
		return out
	}

	if err := e.forecasts.UpsertForecastRun(ctx, run); err != nil {
		out.err = fmt.Errorf("store forecast: %w", err)
		return out
	}
	out.inserted = 1
	e.metrics.ForecastRunsStored.Inc()

	e.logger.Info("forecast stored",
		"config_id", cfg.ID,
		"station", st.Number,
		"points", len(run.Points),
		"run_date", run.RunDate,
	)
	return out
}

func formatStationErrors(errs []domain.StationError) string {
	if len(errs) == 0 {
		return ""
	}
	lines := make([]string, len(errs))
	for i, se := range errs {
		lines[i] = fmt.Sprintf("station %s: %s", se.StationNumber, se.Message)
	}
	return strings.Join(lines, "\n")
}
