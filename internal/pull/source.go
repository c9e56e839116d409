package pull

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rivermark/streamflow-pull/internal/domain"
	"github.com/rivermark/streamflow-pull/internal/observability"
)

// Source fetches raw observations for one station over a half-open UTC
// window. A window with no data is an empty slice, not an error. Timestamps
// in the result must already be UTC.
type Source interface {
	Fetch(ctx context.Context, stationNumber string, w domain.Window) ([]domain.RawObservation, error)
}

// ForecastSource retrieves the current short-range forecast for a station.
// Implementations return domain.ErrUnmappedStation when the station cannot
// be addressed in the forecast provider's identifier space.
type ForecastSource interface {
	FetchForecast(ctx context.Context, stationNumber string) (domain.ForecastRun, error)
}

// SourceKey selects the client handling a station within a run: the
// station's agency plus the configuration's series type.
type SourceKey struct {
	Agency domain.Agency
	Series domain.SeriesType
}

// RetryPolicy bounds the retries around a single source call.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryingSource wraps a Source with bounded exponential backoff. Transient
// upstream failures are the norm for agency endpoints; permanent conditions
// (domain.ErrUnmappedStation, context cancellation) are returned immediately.
type RetryingSource struct {
	inner   Source
	policy  RetryPolicy
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRetryingSource decorates a source client with the retry policy.
func NewRetryingSource(inner Source, policy RetryPolicy, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *RetryingSource {
	return &RetryingSource{inner: inner, policy: policy, clock: clock, logger: logger, metrics: metrics}
}

// Fetch delegates to the wrapped source, retrying transient failures.
func (r *RetryingSource) Fetch(ctx context.Context, stationNumber string, w domain.Window) ([]domain.RawObservation, error) {
	return withRetries(ctx, r.policy, r.clock, r.logger, r.metrics, "fetch", stationNumber,
		func(ctx context.Context) ([]domain.RawObservation, error) {
			return r.inner.Fetch(ctx, stationNumber, w)
		})
}

// RetryingForecastSource is the ForecastSource counterpart of RetryingSource.
type RetryingForecastSource struct {
	inner   ForecastSource
	policy  RetryPolicy
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRetryingForecastSource decorates a forecast client with the retry policy.
func NewRetryingForecastSource(inner ForecastSource, policy RetryPolicy, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *RetryingForecastSource {
	return &RetryingForecastSource{inner: inner, policy: policy, clock: clock, logger: logger, metrics: metrics}
}

// FetchForecast delegates to the wrapped source, retrying transient failures.
func (r *RetryingForecastSource) FetchForecast(ctx context.Context, stationNumber string) (domain.ForecastRun, error) {
	return withRetries(ctx, r.policy, r.clock, r.logger, r.metrics, "fetch forecast", stationNumber,
		func(ctx context.Context) (domain.ForecastRun, error) {
			return r.inner.FetchForecast(ctx, stationNumber)
		})
}

// withRetries runs fn up to policy.MaxAttempts times, doubling the delay
// between attempts from BaseDelay up to MaxDelay. Permanent errors short-
// circuit: an unmapped station will not map any better on the third try.
func withRetries[T any](ctx context.Context, policy RetryPolicy, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, op, stationNumber string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := policy.BaseDelay
	for attempt := 1; ; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, domain.ErrUnmappedStation) || ctx.Err() != nil {
			return zero, err
		}
		if attempt >= attempts {
			return zero, fmt.Errorf("%s failed after %d attempts: %w", op, attempt, err)
		}

		logger.Warn("source call failed, retrying",
			"op", op,
			"station", stationNumber,
			"attempt", attempt,
			"backoff", delay,
			"error", err,
		)
		metrics.SourceRetries.Inc()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-clock.After(delay):
		}
		delay = nextBackoff(delay, policy.MaxDelay)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
