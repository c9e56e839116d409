package pull_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivermark/streamflow-pull/internal/domain"
	"github.com/rivermark/streamflow-pull/internal/observability"
	"github.com/rivermark/streamflow-pull/internal/pull"
)

// --- mocks ---

type flakySource struct {
	calls    atomic.Int64
	failures int64
	raw      []domain.RawObservation
	err      error
}

func (f *flakySource) Fetch(_ context.Context, _ string, _ domain.Window) ([]domain.RawObservation, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return nil, f.err
	}
	return f.raw, nil
}

type flakyForecastSource struct {
	calls    atomic.Int64
	failures int64
	run      domain.ForecastRun
	err      error
}

func (f *flakyForecastSource) FetchForecast(_ context.Context, _ string) (domain.ForecastRun, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return domain.ForecastRun{}, f.err
	}
	return f.run, nil
}

// --- tests ---

func testRetryPolicy() pull.RetryPolicy {
	// Real-clock delays kept tiny so the suite stays fast.
	return pull.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestRetryingSource_RecoversFromTransientFailures(t *testing.T) {
	value := 55.0
	inner := &flakySource{
		failures: 2,
		err:      errors.New("nwis: status 502"),
		raw:      []domain.RawObservation{{ObservedAt: testNow, Value: &value, Unit: domain.UnitCFS, SeriesType: domain.SeriesDailyMean}},
	}
	src := pull.NewRetryingSource(inner, testRetryPolicy(), clockwork.NewRealClock(), slog.Default(), observability.NewMetricsForTesting())

	raw, err := src.Fetch(context.Background(), "08167000", domain.Window{Start: testNow.Add(-time.Hour), End: testNow})
	require.NoError(t, err)
	assert.Len(t, raw, 1)
	assert.EqualValues(t, 3, inner.calls.Load())
}

func TestRetryingSource_ExhaustsAttempts(t *testing.T) {
	inner := &flakySource{failures: 10, err: errors.New("nwis: status 503")}
	src := pull.NewRetryingSource(inner, testRetryPolicy(), clockwork.NewRealClock(), slog.Default(), observability.NewMetricsForTesting())

	_, err := src.Fetch(context.Background(), "08167000", domain.Window{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.EqualValues(t, 3, inner.calls.Load())
}

func TestRetryingSource_DoesNotRetryUnmappedStation(t *testing.T) {
	inner := &flakySource{failures: 10, err: domain.ErrUnmappedStation}
	src := pull.NewRetryingSource(inner, testRetryPolicy(), clockwork.NewRealClock(), slog.Default(), observability.NewMetricsForTesting())

	_, err := src.Fetch(context.Background(), "08167000", domain.Window{})
	require.ErrorIs(t, err, domain.ErrUnmappedStation)
	assert.EqualValues(t, 1, inner.calls.Load(), "permanent errors must not burn retry attempts")
}

func TestRetryingSource_StopsWhenContextCancelled(t *testing.T) {
	inner := &flakySource{failures: 10, err: errors.New("nwis: connection reset")}
	policy := pull.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Second}
	src := pull.NewRetryingSource(inner, policy, clockwork.NewRealClock(), slog.Default(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := src.Fetch(ctx, "08167000", domain.Window{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, inner.calls.Load(), "cancellation during backoff must not trigger another attempt")
}

func TestRetryingForecastSource_RecoversFromTransientFailures(t *testing.T) {
	inner := &flakyForecastSource{
		failures: 1,
		err:      errors.New("nwps: status 500"),
		run: domain.ForecastRun{
			StationNumber: "08167000",
			Source:        domain.ForecastSourceNWM,
			RunDate:       testNow,
			Points:        []domain.ForecastPoint{{ValidTime: testNow.Add(time.Hour), Value: 88}},
		},
	}
	src := pull.NewRetryingForecastSource(inner, testRetryPolicy(), clockwork.NewRealClock(), slog.Default(), observability.NewMetricsForTesting())

	run, err := src.FetchForecast(context.Background(), "08167000")
	require.NoError(t, err)
	assert.Len(t, run.Points, 1)
	assert.EqualValues(t, 2, inner.calls.Load())
}

func TestRetryingForecastSource_DoesNotRetryUnmappedStation(t *testing.T) {
	inner := &flakyForecastSource{failures: 10, err: domain.ErrUnmappedStation}
	src := pull.NewRetryingForecastSource(inner, testRetryPolicy(), clockwork.NewRealClock(), slog.Default(), observability.NewMetricsForTesting())

	_, err := src.FetchForecast(context.Background(), "08167000")
	require.ErrorIs(t, err, domain.ErrUnmappedStation)
	assert.EqualValues(t, 1, inner.calls.Load())
}
