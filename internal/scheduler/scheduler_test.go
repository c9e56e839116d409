package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivermark/streamflow-pull/internal/domain"
)

// --- mocks ---

type mockConfigLister struct {
	mu      sync.Mutex
	configs []domain.PullConfiguration
	err     error
	calls   int
}

func (m *mockConfigLister) ListEnabledConfigurations(_ context.Context) ([]domain.PullConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.configs, nil
}

func (m *mockConfigLister) set(configs []domain.PullConfiguration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs = configs
}

func (m *mockConfigLister) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type runCall struct {
	configID int64
	kind     domain.PullKind
}

type mockRunner struct {
	calls  chan runCall
	result domain.RunResult
	err    error
}

func newMockRunner(status domain.RunStatus) *mockRunner {
	return &mockRunner{
		calls:  make(chan runCall, 16),
		result: domain.RunResult{Status: status},
	}
}

func (m *mockRunner) Run(_ context.Context, configID int64) (domain.RunResult, error) {
	m.calls <- runCall{configID: configID, kind: domain.PullObservations}
	result := m.result
	result.ConfigurationID = configID
	result.Kind = domain.PullObservations
	return result, m.err
}

func (m *mockRunner) RunForecast(_ context.Context, configID int64) (domain.RunResult, error) {
	m.calls <- runCall{configID: configID, kind: domain.PullForecast}
	result := m.result
	result.ConfigurationID = configID
	result.Kind = domain.PullForecast
	return result, m.err
}

type mockPublisher struct {
	published chan domain.RunResult
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{published: make(chan domain.RunResult, 16)}
}

func (m *mockPublisher) PublishRunCompleted(_ context.Context, result domain.RunResult) error {
	m.published <- result
	return nil
}

type mockRetention struct {
	mu      sync.Mutex
	cutoffs []time.Time
	removed int64
	err     error
}

func (m *mockRetention) DeleteLogsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoffs = append(m.cutoffs, cutoff)
	return m.removed, m.err
}

// --- tests ---

func testParams(lister *mockConfigLister, runner *mockRunner) Params {
	return Params{
		Configurations:   lister,
		Runner:           runner,
		Retention:        &mockRetention{},
		Clock:            clockwork.NewFakeClock(),
		Logger:           slog.Default(),
		ReloadInterval:   time.Minute,
		LogRetentionDays: 30,
	}
}

func enabledConfig(id int64, scheduleType, scheduleCron string) domain.PullConfiguration {
	return domain.PullConfiguration{
		ID:           id,
		Name:         "config",
		IsEnabled:    true,
		ScheduleType: scheduleType,
		ScheduleCron: scheduleCron,
	}
}

func TestCronSpec(t *testing.T) {
	cases := []struct {
		name         string
		scheduleType string
		scheduleCron string
		want         string
		wantErr      bool
	}{
		{name: "hourly", scheduleType: "hourly", want: "0 * * * *"},
		{name: "daily", scheduleType: "daily", want: "0 0 * * *"},
		{name: "weekly", scheduleType: "weekly", want: "0 0 * * 0"},
		{name: "custom", scheduleType: "custom", scheduleCron: "*/15 * * * *", want: "*/15 * * * *"},
		{name: "custom blank", scheduleType: "custom", wantErr: true},
		{name: "unknown", scheduleType: "fortnightly", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec, err := cronSpec(enabledConfig(1, tc.scheduleType, tc.scheduleCron))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, spec)
		})
	}
}

func TestReconcile_SchedulesEnabledConfigurations(t *testing.T) {
	lister := &mockConfigLister{configs: []domain.PullConfiguration{
		enabledConfig(1, "hourly", ""),
		enabledConfig(2, "daily", ""),
		enabledConfig(3, "custom", "0 */6 * * *"),
	}}
	s := New(testParams(lister, newMockRunner(domain.RunStatusSuccess)))

	require.NoError(t, s.Reconcile(context.Background()))

	assert.Equal(t, map[int64]string{
		1: "0 * * * *",
		2: "0 0 * * *",
		3: "0 */6 * * *",
	}, s.ScheduledSpecs())
}

func TestReconcile_RemovesDroppedConfigurations(t *testing.T) {
	lister := &mockConfigLister{configs: []domain.PullConfiguration{
		enabledConfig(1, "hourly", ""),
		enabledConfig(2, "daily", ""),
	}}
	s := New(testParams(lister, newMockRunner(domain.RunStatusSuccess)))
	require.NoError(t, s.Reconcile(context.Background()))
	require.Len(t, s.ScheduledSpecs(), 2)

	// Configuration 2 was disabled or deleted in the database.
	lister.set([]domain.PullConfiguration{enabledConfig(1, "hourly", "")})
	require.NoError(t, s.Reconcile(context.Background()))

	assert.Equal(t, map[int64]string{1: "0 * * * *"}, s.ScheduledSpecs())
}

func TestReconcile_ReplacesChangedSchedule(t *testing.T) {
	lister := &mockConfigLister{configs: []domain.PullConfiguration{
		enabledConfig(1, "daily", ""),
	}}
	s := New(testParams(lister, newMockRunner(domain.RunStatusSuccess)))
	require.NoError(t, s.Reconcile(context.Background()))

	lister.set([]domain.PullConfiguration{enabledConfig(1, "custom", "*/10 * * * *")})
	require.NoError(t, s.Reconcile(context.Background()))

	assert.Equal(t, map[int64]string{1: "*/10 * * * *"}, s.ScheduledSpecs())
}

func TestReconcile_SkipsInvalidSchedules(t *testing.T) {
	lister := &mockConfigLister{configs: []domain.PullConfiguration{
		enabledConfig(1, "fortnightly", ""),
		enabledConfig(2, "custom", ""),
		enabledConfig(3, "custom", "not a cron expression"),
		enabledConfig(4, "hourly", ""),
	}}
	s := New(testParams(lister, newMockRunner(domain.RunStatusSuccess)))

	require.NoError(t, s.Reconcile(context.Background()))

	assert.Equal(t, map[int64]string{4: "0 * * * *"}, s.ScheduledSpecs(),
		"bad schedules are skipped without poisoning the rest")
}

func TestReconcile_ListErrorPropagates(t *testing.T) {
	lister := &mockConfigLister{err: errors.New("connection refused")}
	s := New(testParams(lister, newMockRunner(domain.RunStatusSuccess)))

	err := s.Reconcile(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list enabled configurations")
}

func TestTriggerPull_RunsAndPublishes(t *testing.T) {
	runner := newMockRunner(domain.RunStatusSuccess)
	pub := newMockPublisher()
	p := testParams(&mockConfigLister{}, runner)
	p.Publisher = pub
	s := New(p)

	s.TriggerPull(5, domain.PullObservations)

	call := recvCall(t, runner.calls)
	assert.Equal(t, int64(5), call.configID)
	assert.Equal(t, domain.PullObservations, call.kind)

	published := recvResult(t, pub.published)
	assert.Equal(t, int64(5), published.ConfigurationID)
	assert.Equal(t, domain.RunStatusSuccess, published.Status)
}

func TestTriggerPull_ForecastKind(t *testing.T) {
	runner := newMockRunner(domain.RunStatusSuccess)
	s := New(testParams(&mockConfigLister{}, runner))

	s.TriggerPull(9, domain.PullForecast)

	call := recvCall(t, runner.calls)
	assert.Equal(t, int64(9), call.configID)
	assert.Equal(t, domain.PullForecast, call.kind)
}

func TestPublish_SkipsSkippedRuns(t *testing.T) {
	runner := newMockRunner(domain.RunStatusSkipped)
	pub := newMockPublisher()
	p := testParams(&mockConfigLister{}, runner)
	p.Publisher = pub
	s := New(p)

	s.TriggerPull(7, domain.PullObservations)
	recvCall(t, runner.calls)

	select {
	case result := <-pub.published:
		t.Fatalf("skipped run was published: %+v", result)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStart_ReconcileErrorFails(t *testing.T) {
	lister := &mockConfigLister{err: errors.New("connection refused")}
	s := New(testParams(lister, newMockRunner(domain.RunStatusSuccess)))

	err := s.Start(context.Background())
	require.Error(t, err)
}

func TestStart_InvalidForecastSpecFails(t *testing.T) {
	p := testParams(&mockConfigLister{}, newMockRunner(domain.RunStatusSuccess))
	p.ForecastSpec = "every now and then"
	s := New(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := s.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FORECAST_SCHEDULE")
}

func TestStart_ReloadLoopReconciles(t *testing.T) {
	fc := clockwork.NewFakeClock()
	lister := &mockConfigLister{}
	p := testParams(lister, newMockRunner(domain.RunStatusSuccess))
	p.Clock = fc
	s := New(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	require.Equal(t, 1, lister.callCount(), "start performs the initial reconcile")

	fc.BlockUntil(1) // the reload ticker is armed
	fc.Advance(time.Minute)

	waitFor(t, func() bool { return lister.callCount() >= 2 })
}

func TestSweepLogs_UsesRetentionCutoff(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2024, time.June, 15, 3, 0, 0, 0, time.UTC))
	ret := &mockRetention{removed: 12}
	p := testParams(&mockConfigLister{}, newMockRunner(domain.RunStatusSuccess))
	p.Clock = fc
	p.Retention = ret
	s := New(p)

	s.sweepLogs(context.Background())

	ret.mu.Lock()
	defer ret.mu.Unlock()
	require.Len(t, ret.cutoffs, 1)
	assert.Equal(t, time.Date(2024, time.May, 16, 3, 0, 0, 0, time.UTC), ret.cutoffs[0])
}

// --- helpers ---

func recvCall(t *testing.T, ch <-chan runCall) runCall {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a run")
		return runCall{}
	}
}

func recvResult(t *testing.T, ch <-chan domain.RunResult) domain.RunResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a published event")
		return domain.RunResult{}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
