package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/rivermark/streamflow-pull/internal/adapter/http"
	"github.com/rivermark/streamflow-pull/internal/domain"
)

// --- mocks ---

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockLogLister struct {
	entries []domain.ExecutionLogEntry
	err     error

	gotConfigID int64
	gotLimit    int
}

func (m *mockLogLister) RecentLogEntries(_ context.Context, configID int64, limit int) ([]domain.ExecutionLogEntry, error) {
	m.gotConfigID = configID
	m.gotLimit = limit
	return m.entries, m.err
}

type triggerCall struct {
	configID int64
	kind     domain.PullKind
}

type mockTrigger struct {
	calls []triggerCall
}

func (m *mockTrigger) TriggerPull(configID int64, kind domain.PullKind) {
	m.calls = append(m.calls, triggerCall{configID: configID, kind: kind})
}

// --- tests ---

type serverFixture struct {
	srv     *httpadapter.Server
	logs    *mockLogLister
	trigger *mockTrigger
}

func newFixture(readyErr error) *serverFixture {
	logs := &mockLogLister{}
	trigger := &mockTrigger{}
	srv := httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, logs, trigger, slog.Default())
	return &serverFixture{srv: srv, logs: logs, trigger: trigger}
}

func (f *serverFixture) do(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	f.srv.ServeHTTP(rec, req)
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := newFixture(nil).do(http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := newFixture(nil).do(http.MethodGet, "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := newFixture(fmt.Errorf("pool exhausted")).do(http.MethodGet, "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "pool exhausted", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := newFixture(nil).do(http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRecentLogs(t *testing.T) {
	f := newFixture(nil)
	ended := time.Date(2024, 5, 1, 6, 1, 0, 0, time.UTC)
	f.logs.entries = []domain.ExecutionLogEntry{
		{
			ID:               11,
			ConfigurationID:  3,
			Status:           domain.RunStatusSuccess,
			StartTime:        ended.Add(-time.Minute),
			EndTime:          &ended,
			RecordsProcessed: 42,
		},
		{
			ID:              10,
			ConfigurationID: 3,
			Status:          domain.RunStatusFailed,
			StartTime:       ended.Add(-time.Hour),
			ErrorMessage:    "run timed out: context deadline exceeded",
		},
	}

	rec := f.do(http.MethodGet, "/api/v1/configurations/3/logs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), f.logs.gotConfigID)
	assert.Equal(t, 50, f.logs.gotLimit, "default page size")

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 2)
	assert.Equal(t, float64(11), body[0]["id"])
	assert.Equal(t, "success", body[0]["status"])
	assert.Equal(t, float64(42), body[0]["records_processed"])
	assert.Equal(t, "failed", body[1]["status"])
	assert.Equal(t, "run timed out: context deadline exceeded", body[1]["error_message"])
	_, hasEnd := body[1]["end_time"]
	assert.False(t, hasEnd, "unsealed entries omit end_time")
}

func TestRecentLogs_LimitClampedAndValidated(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(http.MethodGet, "/api/v1/configurations/3/logs?limit=9999")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, f.logs.gotLimit)

	rec = f.do(http.MethodGet, "/api/v1/configurations/3/logs?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecentLogs_StoreErrorReturns500(t *testing.T) {
	f := newFixture(nil)
	f.logs.err = fmt.Errorf("connection refused")

	rec := f.do(http.MethodGet, "/api/v1/configurations/3/logs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused", "store errors are not leaked")
}

func TestTriggerPull(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(http.MethodPost, "/api/v1/configurations/7/trigger")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, f.trigger.calls, 1)
	assert.Equal(t, int64(7), f.trigger.calls[0].configID)
	assert.Equal(t, domain.PullObservations, f.trigger.calls[0].kind)

	rec = f.do(http.MethodPost, "/api/v1/configurations/7/trigger?kind=forecast")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.trigger.calls, 2)
	assert.Equal(t, domain.PullForecast, f.trigger.calls[1].kind)
}

func TestTriggerPull_RejectsBadInput(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(http.MethodPost, "/api/v1/configurations/abc/trigger")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/configurations/7/trigger?kind=nonsense")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, f.trigger.calls)
}
