package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatabaseURL     string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Batch run behavior.
	RunTimeout         time.Duration
	FetchTimeout       time.Duration
	RetryMaxAttempts   int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	StationConcurrency int

	// Scheduler behavior.
	SchedulerReloadInterval time.Duration
	ForecastSchedule        string
	LogRetentionDays        int

	// Kafka run-event publishing (disabled when no brokers are set).
	KafkaBrokers  []string
	KafkaRunTopic string
	KafkaEnabled  bool

	// Agency endpoints.
	USGSBaseURL string
	ECBaseURL   string
	NOAABaseURL string

	// ECUTCOffset converts Environment Canada local-standard-time stamps to
	// UTC. Negative west of Greenwich, e.g. -5h for eastern stations.
	ECUTCOffset         time.Duration
	NOAAObservedEnabled bool
	MappingCacheSize    int
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	runTimeout, err := parseDuration("RUN_TIMEOUT", "1h")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	retryBaseDelay, err := parseDuration("RETRY_BASE_DELAY", "4s")
	if err != nil {
		return nil, err
	}
	retryMaxDelay, err := parseDuration("RETRY_MAX_DELAY", "60s")
	if err != nil {
		return nil, err
	}
	reloadInterval, err := parseDuration("SCHEDULER_RELOAD_INTERVAL", "5m")
	if err != nil {
		return nil, err
	}

	retryMaxAttempts, err := parsePositiveInt("RETRY_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	stationConcurrency, err := parsePositiveInt("STATION_CONCURRENCY", 1)
	if err != nil {
		return nil, err
	}
	logRetentionDays, err := parsePositiveInt("LOG_RETENTION_DAYS", 30)
	if err != nil {
		return nil, err
	}
	mappingCacheSize, err := parsePositiveInt("MAPPING_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}

	// Offsets may be negative or zero, unlike the timeouts above.
	ecOffset, err := time.ParseDuration(envOrDefault("EC_UTC_OFFSET", "-5h"))
	if err != nil {
		return nil, errors.New("invalid EC_UTC_OFFSET")
	}

	brokers := parseBrokers(os.Getenv("KAFKA_BROKERS"))

	cfg := &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		RunTimeout:         runTimeout,
		FetchTimeout:       fetchTimeout,
		RetryMaxAttempts:   retryMaxAttempts,
		RetryBaseDelay:     retryBaseDelay,
		RetryMaxDelay:      retryMaxDelay,
		StationConcurrency: stationConcurrency,

		SchedulerReloadInterval: reloadInterval,
		ForecastSchedule:        os.Getenv("FORECAST_SCHEDULE"),
		LogRetentionDays:        logRetentionDays,

		KafkaBrokers:  brokers,
		KafkaRunTopic: envOrDefault("KAFKA_RUN_TOPIC", "pull-run-events"),
		KafkaEnabled:  len(brokers) > 0,

		USGSBaseURL: envOrDefault("USGS_BASE_URL", "https://waterservices.usgs.gov/nwis"),
		ECBaseURL:   envOrDefault("EC_BASE_URL", "https://wateroffice.ec.gc.ca/services/real_time_data/csv/inline"),
		NOAABaseURL: envOrDefault("NOAA_BASE_URL", "https://api.water.noaa.gov/nwps/v1"),

		ECUTCOffset:         ecOffset,
		NOAAObservedEnabled: os.Getenv("NOAA_OBSERVED_ENABLED") == "true",
		MappingCacheSize:    mappingCacheSize,
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		return nil, errors.New("RETRY_MAX_DELAY must not be smaller than RETRY_BASE_DELAY")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseBrokers(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}
