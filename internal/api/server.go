// Package api serves the daemon's status endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fieldtriage/fieldtriage/internal/remediation"
)

// RunSource exposes the latest remediation batch
type RunSource interface {
	LastRun() *remediation.Report
}

// TriggerFunc starts a remediation batch in the background. It returns
// false when a batch is already running.
type TriggerFunc func() bool

// Server provides the HTTP status API
type Server struct {
	runs      RunSource
	logger    zerolog.Logger
	addr      string
	logBuffer *LogBuffer
	registry  *prometheus.Registry
	trigger   TriggerFunc
	startTime time.Time

	version   string
	commit    string
	buildDate string
	versionMu sync.RWMutex

	httpServer *http.Server
}

// NewServer creates a new API server listening on addr
func NewServer(runs RunSource, logger zerolog.Logger, addr string) *Server {
	return &Server{
		runs:      runs,
		logger:    logger.With().Str("component", "api").Logger(),
		addr:      addr,
		startTime: time.Now(),
	}
}

// SetLogBuffer sets the buffer behind /api/logs
func (s *Server) SetLogBuffer(lb *LogBuffer) {
	s.logBuffer = lb
}

// SetRegistry sets the registry behind /metrics
func (s *Server) SetRegistry(reg *prometheus.Registry) {
	s.registry = reg
}

// SetTriggerFunc enables POST /api/run
func (s *Server) SetTriggerFunc(fn TriggerFunc) {
	s.trigger = fn
}

// SetVersion sets the version information
func (s *Server) SetVersion(version, commit, buildDate string) {
	s.versionMu.Lock()
	defer s.versionMu.Unlock()
	s.version = version
	s.commit = commit
	s.buildDate = buildDate
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/api/last-run", s.handleLastRun)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/api/run", s.handleRun)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().
		Str("address", s.addr).
		Msg("Starting status API")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to encode response")
	}
}

// handleHealth returns service health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus returns uptime, build info and the last batch summary
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.versionMu.RLock()
	status := map[string]interface{}{
		"time":       time.Now().UTC().Format(time.RFC3339),
		"uptime":     formatDuration(time.Since(s.startTime)),
		"version":    s.version,
		"commit":     s.commit,
		"build_date": s.buildDate,
	}
	s.versionMu.RUnlock()

	if last := s.runs.LastRun(); last != nil {
		status["last_run"] = map[string]interface{}{
			"run_id":      last.RunID,
			"finished_at": last.FinishedAt.UTC().Format(time.RFC3339),
			"devices":     len(last.Devices),
			"resolved":    last.Resolved,
			"failed":      last.Failed,
			"skipped":     last.Skipped,
			"invalid":     len(last.Invalid),
		}
	}

	s.writeJSON(w, http.StatusOK, status)
}

// handleLastRun returns the full report of the latest batch
func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	last := s.runs.LastRun()
	if last == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, last)
}

// handleLogs returns recent log entries, filtered by ?device_id= and
// limited by ?limit= (default 200)
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries := []LogEntry{}
	if s.logBuffer != nil {
		entries = s.logBuffer.Recent(limit, r.URL.Query().Get("device_id"))
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleRun starts a batch out of schedule
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.trigger == nil {
		http.Error(w, "Manual runs not enabled", http.StatusNotFound)
		return
	}

	if !s.trigger() {
		s.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"started": false,
			"error":   "a remediation batch is already running",
		})
		return
	}

	s.logger.Info().Msg("Remediation batch requested via API")
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"started": true})
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Hour {
		return d.Round(time.Second).String()
	}
	days := int(d.Hours()) / 24
	if days == 0 {
		return d.Round(time.Minute).String()
	}
	rest := d - time.Duration(days)*24*time.Hour
	hours := int(rest.Hours())
	if hours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd %dh", days, hours)
}
