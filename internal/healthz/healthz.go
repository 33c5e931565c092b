// Package healthz exposes the daemon's liveness/readiness surface: a
// /healthz endpoint reporting uptime and basic engine status, a /readyz
// endpoint reflecting whether the scheduler has completed its first tick,
// and a /metrics endpoint delegating to internal/telemetry's Prometheus
// handler.
package healthz

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/watchdogd/watchdogd/internal/telemetry"
)

// Status is the JSON body served by /healthz.
type Status struct {
	Status           string  `json:"status"`
	UptimeS          float64 `json:"uptime_seconds"`
	Profiles         int     `json:"profiles"`
	LastTickAt       string  `json:"last_tick_at,omitempty"`
	ReportQueueDepth int     `json:"report_queue_depth,omitempty"`
}

// StatusProvider supplies the current engine status. The scheduler's
// snapshot slice is the typical backing store; cmd/watchdogd adapts it to
// this interface rather than exposing *scheduler.Scheduler directly.
type StatusProvider interface {
	Status() Status
}

// ProfileState is one profile's phase snapshot, served by the optional
// /profiles endpoint.
type ProfileState struct {
	Name    string `json:"name"`
	Phase   string `json:"phase"`
	Exiting bool   `json:"exiting"`
}

// ProfilesProvider is an optional capability a StatusProvider may also
// implement to list every profile's current phase. watchdogctl's "profiles"
// subcommand queries this; a provider that only implements StatusProvider
// causes /profiles to respond 404 rather than panicking.
type ProfilesProvider interface {
	Profiles() []ProfileState
}

// Server serves the daemon's healthz/readyz/metrics endpoints.
type Server struct {
	provider StatusProvider
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	ready    atomic.Bool
}

// NewServer constructs a Server. metrics may be nil, in which case /metrics
// responds 404 instead of serving an (empty) Prometheus page.
func NewServer(provider StatusProvider, metrics *telemetry.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{provider: provider, metrics: metrics, logger: logger}
}

// SetReady marks the daemon ready or not-ready for /readyz. cmd/watchdogd
// calls SetReady(true) once the scheduler has completed its first tick.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Router builds the chi handler serving /healthz, /readyz, and /metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/profiles", s.handleProfiles)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := s.provider.Status()
	status.Status = "ok"

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Warn("healthz: failed to encode response", "error", err)
	}
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// handleProfiles responds to GET /profiles with the per-profile phase list,
// when the configured StatusProvider also implements ProfilesProvider; it
// responds 404 otherwise, since the basic StatusProvider contract carries
// no per-profile detail.
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	pp, ok := s.provider.(ProfilesProvider)
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "profiles introspection not available"})
		return
	}
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(pp.Profiles()); err != nil {
		s.logger.Warn("profiles: failed to encode response", "error", err)
	}
}

// UptimeSeconds is a small helper so callers building a StatusProvider don't
// each re-derive time.Since(...).Seconds().
func UptimeSeconds(start time.Time) float64 {
	return time.Since(start).Seconds()
}
