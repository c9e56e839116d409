package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the pull service.
type Metrics struct {
	RunsCompleted *prometheus.CounterVec   // labels: kind={observations,forecast}, status={success,failed,skipped}
	RunDuration   *prometheus.HistogramVec // labels: kind={observations,forecast}
	RunsActive    prometheus.Gauge

	// Per-station metrics.
	StationsProcessed *prometheus.CounterVec // labels: outcome={success,failed}
	SourceRetries     prometheus.Counter

	// Record-level metrics.
	ObservationsFetched  prometheus.Counter
	ObservationsInserted prometheus.Counter
	ObservationsRejected prometheus.Counter
	DuplicatesSkipped    prometheus.Counter
	ForecastRunsStored   prometheus.Counter

	// Station-mapping cache metrics.
	MappingCache *prometheus.CounterVec // labels: result={hit,miss}
}

// NewMetrics creates and registers all pull metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RunsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamflow_pull",
			Name:      "runs_completed_total",
			Help:      "Completed batch runs by kind and final status.",
		}, []string{"kind", "status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "streamflow_pull",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete batch run across all stations.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800, 3600},
		}, []string{"kind"}),
		RunsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamflow_pull",
			Name:      "runs_active",
			Help:      "Number of batch runs currently executing.",
		}),
		StationsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamflow_pull",
			Name:      "stations_processed_total",
			Help:      "Stations processed within batch runs by outcome.",
		}, []string{"outcome"}),
		SourceRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamflow_pull",
			Name:      "source_retries_total",
			Help:      "Retry attempts against agency endpoints after transient failures.",
		}),
		ObservationsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamflow_pull",
			Name:      "observations_fetched_total",
			Help:      "Raw observations fetched from agency endpoints.",
		}),
		ObservationsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamflow_pull",
			Name:      "observations_inserted_total",
			Help:      "Observations newly persisted to storage.",
		}),
		ObservationsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamflow_pull",
			Name:      "observations_rejected_total",
			Help:      "Observations dropped by validation.",
		}),
		DuplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamflow_pull",
			Name:      "duplicates_skipped_total",
			Help:      "Observations skipped because an identical reading was already stored.",
		}),
		ForecastRunsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamflow_pull",
			Name:      "forecast_runs_stored_total",
			Help:      "Forecast runs upserted to storage.",
		}),
		MappingCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamflow_pull",
			Name:      "mapping_cache_total",
			Help:      "Station-mapping cache lookups by result.",
		}, []string{"result"}),
	}

	prometheus.MustRegister(
		m.RunsCompleted,
		m.RunDuration,
		m.RunsActive,
		m.StationsProcessed,
		m.SourceRetries,
		m.ObservationsFetched,
		m.ObservationsInserted,
		m.ObservationsRejected,
		m.DuplicatesSkipped,
		m.ForecastRunsStored,
		m.MappingCache,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RunsCompleted:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "streamflow_pull", Name: "runs_completed_total"}, []string{"kind", "status"}),
		RunDuration:          prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "streamflow_pull", Name: "run_duration_seconds"}, []string{"kind"}),
		RunsActive:           prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "streamflow_pull", Name: "runs_active"}),
		StationsProcessed:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "streamflow_pull", Name: "stations_processed_total"}, []string{"outcome"}),
		SourceRetries:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "streamflow_pull", Name: "source_retries_total"}),
		ObservationsFetched:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "streamflow_pull", Name: "observations_fetched_total"}),
		ObservationsInserted: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "streamflow_pull", Name: "observations_inserted_total"}),
		ObservationsRejected: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "streamflow_pull", Name: "observations_rejected_total"}),
		DuplicatesSkipped:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "streamflow_pull", Name: "duplicates_skipped_total"}),
		ForecastRunsStored:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "streamflow_pull", Name: "forecast_runs_stored_total"}),
		MappingCache:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "streamflow_pull", Name: "mapping_cache_total"}, []string{"result"}),
	}
}
