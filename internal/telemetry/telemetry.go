// Package telemetry holds the daemon's observability surface: structured
// logging helpers built on log/slog, and a small set of in-process counters
// for tick duration and action outcomes, exposed in the Prometheus text
// exposition format so an operator can point a scraper at the healthz
// listener without standing up a separate metrics pipeline.
package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// NewLogger constructs a *slog.Logger that writes JSON-structured records to
// w at the requested minimum level. level is one of "debug", "info", "warn",
// "error"; anything else defaults to info. It is the single construction
// point cmd/watchdogd and cmd/watchdog-collectord use so every log line
// across the daemon shares one format.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}

// Metrics holds the daemon's operational counters and gauges. The zero value
// is ready to use. All fields are updated atomically so Handler can be read
// concurrently from an HTTP handler without any additional lock.
type Metrics struct {
	// Counters
	TicksTotal       atomic.Int64
	TickErrorsTotal  atomic.Int64
	ActionsOkTotal   atomic.Int64
	ActionsFailTotal atomic.Int64
	ActionsSpawnErr  atomic.Int64
	ReportsSentTotal atomic.Int64
	ReportsQueued    atomic.Int64

	// Gauges (duration in microseconds, last observed value)
	LastTickDurationUs atomic.Int64
}

// NewMetrics allocates a zero Metrics value.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveTick records the outcome of one scheduler tick: its wall-clock
// duration and whether the process-table refresh it depended on failed.
func (m *Metrics) ObserveTick(d time.Duration, refreshErr bool) {
	m.TicksTotal.Add(1)
	m.LastTickDurationUs.Store(d.Microseconds())
	if refreshErr {
		m.TickErrorsTotal.Add(1)
	}
}

// ObserveAction records the outcome of one action.Runner invocation. kind is
// "ok", "failed_exit", or "spawn_error"; unrecognised values are ignored.
func (m *Metrics) ObserveAction(kind string) {
	switch kind {
	case "ok":
		m.ActionsOkTotal.Add(1)
	case "failed_exit":
		m.ActionsFailTotal.Add(1)
	case "spawn_error":
		m.ActionsSpawnErr.Add(1)
	}
}

type metricLine struct {
	help  string
	kind  string // "counter" or "gauge"
	name  string
	value int64
}

func (m *Metrics) snapshot() []metricLine {
	return []metricLine{
		{"Total number of scheduler ticks completed.", "counter", "watchdogd_ticks_total", m.TicksTotal.Load()},
		{"Total number of ticks whose process table refresh failed.", "counter", "watchdogd_tick_errors_total", m.TickErrorsTotal.Load()},
		{"Total number of actions that exited zero.", "counter", "watchdogd_actions_ok_total", m.ActionsOkTotal.Load()},
		{"Total number of actions that exited non-zero.", "counter", "watchdogd_actions_failed_exit_total", m.ActionsFailTotal.Load()},
		{"Total number of actions that failed to spawn.", "counter", "watchdogd_actions_spawn_error_total", m.ActionsSpawnErr.Load()},
		{"Total number of profile reports successfully delivered to the dashboard.", "counter", "watchdogd_reports_sent_total", m.ReportsSentTotal.Load()},
		{"Current depth of the local outbound report queue.", "gauge", "watchdogd_reports_queued", m.ReportsQueued.Load()},
		{"Duration in microseconds of the most recently completed scheduler tick.", "gauge", "watchdogd_last_tick_duration_microseconds", m.LastTickDurationUs.Load()},
	}
}

// Handler returns an http.Handler that serves the current metric values in
// Prometheus text exposition format on every GET request.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		writeMetrics(w, m.snapshot())
	})
}

func writeMetrics(w io.Writer, lines []metricLine) {
	for _, l := range lines {
		fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.kind)
		fmt.Fprintf(w, "%s %d\n", l.name, l.value)
	}
}
