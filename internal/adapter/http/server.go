// Package http exposes the operational surface of the pull service:
// liveness, readiness, Prometheus metrics, recent run history, and a
// manual trigger for a pull configuration.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rivermark/streamflow-pull/internal/domain"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// RunLogLister reads recent run records for a configuration.
type RunLogLister interface {
	RecentLogEntries(ctx context.Context, configID int64, limit int) ([]domain.ExecutionLogEntry, error)
}

// PullTrigger starts a pull run outside its schedule. Implementations run
// asynchronously; the HTTP handler only acknowledges the request. Disabled
// or unknown configurations surface as skipped runs, not HTTP errors.
type PullTrigger interface {
	TriggerPull(configID int64, kind domain.PullKind)
}

// Server exposes the service's HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logs       RunLogLister
	trigger    PullTrigger
	logger     *slog.Logger
}

// NewServer wires the operational routes onto a stdlib mux.
func NewServer(addr string, ready ReadinessChecker, logs RunLogLister, trigger PullTrigger, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logs:    logs,
		trigger: trigger,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/configurations/{id}/logs", s.handleRecentLogs)
	mux.HandleFunc("POST /api/v1/configurations/{id}/trigger", s.handleTrigger)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// logEntryResponse is the wire shape of one execution log record.
type logEntryResponse struct {
	ID               int64      `json:"id"`
	ConfigurationID  int64      `json:"configuration_id"`
	Status           string     `json:"status"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	RecordsProcessed int        `json:"records_processed"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

func (s *Server) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	configID, ok := pathConfigID(w, r)
	if !ok {
		return
	}

	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = min(n, maxLogLimit)
	}

	entries, err := s.logs.RecentLogEntries(r.Context(), configID, limit)
	if err != nil {
		s.logger.Error("list run logs failed", "config_id", configID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list run logs"})
		return
	}

	out := make([]logEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = logEntryResponse{
			ID:               e.ID,
			ConfigurationID:  e.ConfigurationID,
			Status:           string(e.Status),
			StartTime:        e.StartTime,
			EndTime:          e.EndTime,
			RecordsProcessed: e.RecordsProcessed,
			ErrorMessage:     e.ErrorMessage,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	configID, ok := pathConfigID(w, r)
	if !ok {
		return
	}

	kind := domain.PullObservations
	switch raw := r.URL.Query().Get("kind"); raw {
	case "", string(domain.PullObservations):
	case string(domain.PullForecast):
		kind = domain.PullForecast
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid kind"})
		return
	}

	s.trigger.TriggerPull(configID, kind)
	s.logger.Info("manual pull triggered", "config_id", configID, "kind", kind)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":           "triggered",
		"configuration_id": configID,
		"kind":             kind,
	})
}

func pathConfigID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid configuration id"})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // status already written, best effort
}
