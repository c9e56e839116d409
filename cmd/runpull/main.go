// Command runpull executes one pull configuration immediately and exits,
// bypassing the scheduler. Intended for operators: re-pulling after an
// upstream outage, exercising a new configuration, or environments where
// scheduling is owned by system cron.
//
// The run outcome is printed to stdout as JSON. Exit code is 0 for success
// and skipped runs, 1 for failed runs and infrastructure errors.
//
// Usage:
//
//	runpull -config 42
//	runpull -config 42 -kind forecast
//	runpull -apply-schema
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/rivermark/streamflow-pull/internal/adapter/ec"
	"github.com/rivermark/streamflow-pull/internal/adapter/noaa"
	"github.com/rivermark/streamflow-pull/internal/adapter/postgres"
	"github.com/rivermark/streamflow-pull/internal/adapter/usgs"
	"github.com/rivermark/streamflow-pull/internal/config"
	"github.com/rivermark/streamflow-pull/internal/domain"
	"github.com/rivermark/streamflow-pull/internal/observability"
	"github.com/rivermark/streamflow-pull/internal/pull"
)

func main() {
	configID := flag.Int64("config", 0, "pull configuration id to execute")
	kind := flag.String("kind", "observations", `pull kind: "observations" or "forecast"`)
	applySchema := flag.Bool("apply-schema", false, "create the database tables when absent, then exit")
	flag.Parse()

	if !*applySchema && *configID < 1 {
		flag.Usage()
		os.Exit(2)
	}
	if *kind != string(domain.PullObservations) && *kind != string(domain.PullForecast) {
		fmt.Fprintf(os.Stderr, "unknown kind %q\n", *kind)
		os.Exit(2)
	}

	os.Exit(run(*configID, domain.PullKind(*kind), *applySchema))
}

func run(configID int64, kind domain.PullKind, applySchema bool) int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return 1
	}
	defer store.Close()

	if applySchema {
		if err := store.ApplySchema(ctx); err != nil {
			logger.Error("apply schema failed", "error", err)
			return 1
		}
		logger.Info("schema applied")
		return 0
	}

	executor := pull.New(pull.Params{
		Configurations:     store,
		Checkpoints:        store,
		Observations:       store,
		Logs:               store,
		Forecasts:          store,
		Sources:            buildSources(cfg, clock, logger, metrics, store),
		Forecast:           buildForecastSource(cfg, clock, logger, metrics, store),
		Clock:              clock,
		Logger:             logger,
		Metrics:            metrics,
		RunTimeout:         cfg.RunTimeout,
		StationConcurrency: cfg.StationConcurrency,
	})

	var result domain.RunResult
	switch kind {
	case domain.PullForecast:
		result, err = executor.RunForecast(ctx, configID)
	default:
		result, err = executor.Run(ctx, configID)
	}
	if err != nil {
		logger.Error("run failed", "config_id", configID, "kind", kind, "error", err)
	}

	if out, jsonErr := json.MarshalIndent(result, "", "  "); jsonErr == nil {
		fmt.Println(string(out))
	}

	if err != nil || result.Status == domain.RunStatusFailed {
		return 1
	}
	return 0
}

// buildSources mirrors the daemon's wiring so a manual run behaves exactly
// like a scheduled one.
func buildSources(cfg *config.Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, store *postgres.Store) map[pull.SourceKey]pull.Source {
	policy := pull.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}
	retrying := func(src pull.Source) pull.Source {
		return pull.NewRetryingSource(src, policy, clock, logger, metrics)
	}

	var usgsRealtime pull.Source = usgs.NewInstantaneousClient(cfg.USGSBaseURL, cfg.FetchTimeout, logger)
	if cfg.NOAAObservedEnabled {
		mapper := noaa.NewCachedMapper(store, cfg.MappingCacheSize, metrics)
		usgsRealtime = noaa.NewClient(cfg.NOAABaseURL, mapper, cfg.FetchTimeout, clock, logger)
	}

	return map[pull.SourceKey]pull.Source{
		{Agency: domain.AgencyUSGS, Series: domain.SeriesDailyMean}:        retrying(usgs.NewDailyClient(cfg.USGSBaseURL, cfg.FetchTimeout, logger)),
		{Agency: domain.AgencyUSGS, Series: domain.SeriesRealtimeSubdaily}: retrying(usgsRealtime),
		{Agency: domain.AgencyEC, Series: domain.SeriesDailyMean}:          retrying(ec.NewDailyClient(cfg.ECBaseURL, cfg.ECUTCOffset, cfg.FetchTimeout, logger)),
		{Agency: domain.AgencyEC, Series: domain.SeriesRealtimeSubdaily}:   retrying(ec.NewRealtimeClient(cfg.ECBaseURL, cfg.ECUTCOffset, cfg.FetchTimeout, logger)),
	}
}

func buildForecastSource(cfg *config.Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, store *postgres.Store) pull.ForecastSource {
	policy := pull.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}
	mapper := noaa.NewCachedMapper(store, cfg.MappingCacheSize, metrics)
	client := noaa.NewClient(cfg.NOAABaseURL, mapper, cfg.FetchTimeout, clock, logger)
	return pull.NewRetryingForecastSource(client, policy, clock, logger, metrics)
}
