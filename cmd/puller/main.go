package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/rivermark/streamflow-pull/internal/adapter/ec"
	httpadapter "github.com/rivermark/streamflow-pull/internal/adapter/http"
	kafkaadapter "github.com/rivermark/streamflow-pull/internal/adapter/kafka"
	"github.com/rivermark/streamflow-pull/internal/adapter/noaa"
	"github.com/rivermark/streamflow-pull/internal/adapter/postgres"
	"github.com/rivermark/streamflow-pull/internal/adapter/usgs"
	"github.com/rivermark/streamflow-pull/internal/config"
	"github.com/rivermark/streamflow-pull/internal/domain"
	"github.com/rivermark/streamflow-pull/internal/observability"
	"github.com/rivermark/streamflow-pull/internal/pull"
	"github.com/rivermark/streamflow-pull/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

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

	// Run events are feature-flagged: no brokers, no publisher.
	var publisher scheduler.RunEventPublisher
	var kafkaPublisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		kafkaPublisher = kafkaadapter.NewPublisher(cfg, logger)
		publisher = kafkaPublisher
		logger.Info("run event publishing enabled", "topic", cfg.KafkaRunTopic, "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("run event publishing disabled")
	}

	sched := scheduler.New(scheduler.Params{
		Configurations:   store,
		Runner:           executor,
		Retention:        store,
		Publisher:        publisher,
		Clock:            clock,
		Logger:           logger,
		ReloadInterval:   cfg.SchedulerReloadInterval,
		LogRetentionDays: cfg.LogRetentionDays,
		ForecastSpec:     cfg.ForecastSchedule,
	})
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, store, store, sched, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	// Let scheduled runs drain, bounded by the same budget.
	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached with runs still in flight")
	}

	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// buildSources wires one client per (agency, series) pair, each wrapped with
// the shared retry policy. The NWPS observed feed is opt-in and replaces the
// NWIS instantaneous client for USGS realtime pulls when enabled.
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
		logger.Info("NWPS observed feed enabled for USGS realtime pulls")
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
