package domain

import "time"

// Agency identifies the upstream provider a station belongs to.
type Agency string

const (
	AgencyUSGS Agency = "USGS"
	AgencyEC   Agency = "EC"
)

// MappingTargetHADS is the identifier space of NOAA NWPS gauges. Station
// numbers are translated into it before any NOAA call.
const MappingTargetHADS = "NOAA-HADS"

// SeriesType tags the granularity of an observation stream.
type SeriesType string

const (
	SeriesDailyMean        SeriesType = "daily_mean"
	SeriesRealtimeSubdaily SeriesType = "realtime_subdaily"
)

// Flow-rate unit tags as reported by the agencies. Stored as-is; cfs and cms
// are never converted into each other.
const (
	UnitCFS = "cfs"
	UnitCMS = "cms"
)

// RawObservation is a single point as returned by a source client, before
// validation. Value is a pointer because upstream feeds emit explicit nulls
// for missing readings.
type RawObservation struct {
	ObservedAt  time.Time
	Value       *float64
	Unit        string
	SeriesType  SeriesType
	QualityCode string
}

// Observation is the canonical, validated form persisted to storage.
// (station, ObservedAt, SeriesType) is unique; a later fetch reproducing a
// stored point is dropped, not overwritten.
type Observation struct {
	ObservedAt  time.Time
	Value       float64
	Unit        string
	SeriesType  SeriesType
	QualityCode string
}

// StationRef is one station entry of a pull configuration's station list.
type StationRef struct {
	Number string
	Name   string
	Agency Agency
}

// Station is a registry entry. The registry is the authority for a station's
// agency, and observation inserts resolve station numbers through it.
type Station struct {
	ID       int64
	Number   string
	Name     string
	Agency   Agency
	IsActive bool
}

// PullConfiguration is the read-only view of an operator-defined recurring
// pull. Lifecycle (creation, editing, station membership) is owned by the
// configuration UI; a run never mutates it beyond stamping LastRunAt.
type PullConfiguration struct {
	ID            int64
	Name          string
	SeriesType    SeriesType
	PullStartDate time.Time
	IsEnabled     bool
	ScheduleType  string // "hourly", "daily", "weekly", or "custom"
	ScheduleCron  string // cron expression, set when ScheduleType is "custom"
	LastRunAt     *time.Time
	Stations      []StationRef
}

// Checkpoint records the last successfully ingested timestamp for one
// (configuration, station) pair. A nil LastSuccessfulAt means no successful
// pull has happened yet.
type Checkpoint struct {
	ConfigurationID  int64
	StationNumber    string
	LastSuccessfulAt *time.Time
}

// RunStatus is the lifecycle state of a batch run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"

	// RunStatusSkipped marks a no-op run (configuration missing or
	// disabled). It appears only in RunResult, never in the execution log:
	// skipped runs create no log entry.
	RunStatusSkipped RunStatus = "skipped"
)

// ExecutionLogEntry is one append-only record of a batch run. Created in
// running state before the station loop, sealed exactly once afterwards.
type ExecutionLogEntry struct {
	ID               int64
	ConfigurationID  int64
	Status           RunStatus
	StartTime        time.Time
	EndTime          *time.Time
	RecordsProcessed int
	ErrorMessage     string
}

// PullKind distinguishes the two pull entry points.
type PullKind string

const (
	PullObservations PullKind = "observations"
	PullForecast     PullKind = "forecast"
)

// StationError records a per-station failure that did not abort the run.
type StationError struct {
	StationNumber string `json:"station"`
	Message       string `json:"message"`
}

// RunResult is the aggregate outcome of one batch run, returned to the
// caller and optionally published as a run-completed event.
type RunResult struct {
	ConfigurationID   int64          `json:"configuration_id"`
	Kind              PullKind       `json:"kind"`
	Status            RunStatus      `json:"status"`
	StartedAt         time.Time      `json:"started_at"`
	CompletedAt       time.Time      `json:"completed_at"`
	StationsSucceeded int            `json:"stations_succeeded"`
	StationsFailed    int            `json:"stations_failed"`
	RecordsFetched    int            `json:"records_fetched"`
	RecordsInserted   int            `json:"records_inserted"`
	RecordsRejected   int            `json:"records_rejected"`
	StationErrors     []StationError `json:"station_errors,omitempty"`
}

// ForecastSourceNWM tags forecasts retrieved from the National Water Model
// via the NWPS gauge API.
const ForecastSourceNWM = "NOAA_NWM"

// ForecastPoint is one valid-time/discharge pair of a forecast series.
type ForecastPoint struct {
	ValidTime time.Time `json:"valid_time"`
	Value     float64   `json:"value"`
}

// ForecastRun is one retrieved forecast for a station. Re-pulling upserts on
// (station, Source, RunDate): forecasts are refreshed, unlike observations.
type ForecastRun struct {
	StationNumber string
	Source        string
	RunDate       time.Time
	Points        []ForecastPoint
	RMSE          *float64
}
