// Command watchdogd is the process-lifetime action daemon. It loads a YAML
// configuration file, builds the profile jobs it describes, and drives the
// scheduler's fixed-cadence sampling loop until it receives SIGTERM or
// SIGINT, exposing a /healthz liveness endpoint (and, when configured, an
// optional dashboard reporting path) alongside it.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/watchdogd/watchdogd/internal/action"
	"github.com/watchdogd/watchdogd/internal/auditlog"
	"github.com/watchdogd/watchdogd/internal/clock"
	"github.com/watchdogd/watchdogd/internal/config"
	"github.com/watchdogd/watchdogd/internal/healthz"
	"github.com/watchdogd/watchdogd/internal/procsrc"
	"github.com/watchdogd/watchdogd/internal/queue"
	"github.com/watchdogd/watchdogd/internal/reporter"
	"github.com/watchdogd/watchdogd/internal/scheduler"
	"github.com/watchdogd/watchdogd/internal/sdnotify"
	"github.com/watchdogd/watchdogd/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "/etc/watchdogd/config.yaml", "path to the watchdogd YAML configuration file")
	debug1 := flag.Bool("d", false, "raise log verbosity by one level")
	debug2 := flag.Bool("dd", false, "raise log verbosity by two levels")
	debug3 := flag.Bool("ddd", false, "raise log verbosity by three levels")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "watchdogd: %v\n", err)
		os.Exit(1)
	}

	level := cfg.LogLevel
	raise := 0
	switch {
	case *debug3:
		raise = 3
	case *debug2:
		raise = 2
	case *debug1:
		raise = 1
	}
	if raise > 0 {
		levels := []string{"error", "warn", "info", "debug"}
		for i, l := range levels {
			if l == level {
				level = levels[min(i+raise, len(levels)-1)]
				break
			}
		}
	}
	if env := os.Getenv("WATCHDOGD_LOG"); env != "" {
		level = env
	}

	logger := telemetry.NewLogger(os.Stderr, level)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		"config_path", *configPath,
		"profiles", len(cfg.Profiles),
		"log_level", level,
		"health_addr", cfg.HealthAddr,
		"sampling_interval", cfg.SamplingInterval,
	)

	jobs, err := config.BuildJobs(cfg)
	if err != nil {
		logger.Error("failed to build profile jobs", "error", err)
		os.Exit(1)
	}

	var recorder *auditlog.Logger
	if cfg.AuditLogPath != "" {
		recorder, err = auditlog.Open(cfg.AuditLogPath)
		if err != nil {
			logger.Error("failed to open audit log", "path", cfg.AuditLogPath, "error", err)
			os.Exit(1)
		}
		defer recorder.Close()
		logger.Info("audit log enabled", "path", cfg.AuditLogPath)
	}
	for _, job := range jobs {
		job.Logger = logger
		if recorder != nil {
			job.Recorder = recorder
		}
	}

	metrics := telemetry.NewMetrics()
	runner := action.WithMetrics(action.NewExecRunner(), metrics)
	source := procsrc.NewGopsutilSource()

	status := &statusProvider{start: time.Now(), profiles: len(jobs)}

	schedOpts := []scheduler.Option{
		scheduler.WithSamplingRate(cfg.SamplingInterval.Std()),
		scheduler.WithClock(clock.Real{}),
		scheduler.WithLogger(logger),
		scheduler.WithTickObserver(&observer{metrics: metrics, status: status}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var q *queue.SQLiteQueue
	var rep *reporter.Reporter
	if cfg.Dashboard.Addr != "" {
		q, err = queue.New(cfg.Dashboard.QueuePath)
		if err != nil {
			logger.Error("failed to open report queue", "path", cfg.Dashboard.QueuePath, "error", err)
			os.Exit(1)
		}
		defer q.Close()
		status.queue = q

		repOpts := []reporter.Option{reporter.WithLogger(logger)}
		if httpClient, err := dashboardHTTPClient(cfg.Dashboard.TLS); err != nil {
			logger.Error("failed to build dashboard TLS client", "error", err)
			os.Exit(1)
		} else if httpClient != nil {
			repOpts = append(repOpts, reporter.WithHTTPClient(httpClient))
		}
		rep = reporter.New(q, cfg.Dashboard.Addr, cfg.Dashboard.Token, repOpts...)

		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		schedOpts = append(schedOpts, scheduler.WithTickHook(rep.TickHook(ctx, hostname)))

		logger.Info("dashboard reporting enabled", "addr", cfg.Dashboard.Addr, "queue_path", cfg.Dashboard.QueuePath)
	}

	sched := scheduler.New(source, runner, jobs, schedOpts...)
	status.sched = sched

	healthSrv := healthz.NewServer(status, metrics, logger)
	httpServer := &http.Server{
		Addr:         cfg.HealthAddr,
		Handler:      healthSrv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("healthz server listening", "addr", cfg.HealthAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("healthz server error", "error", err)
		}
	}()

	if rep != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rep.Run(ctx); err != nil {
				logger.Error("reporter loop exited", "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.RunOnce(ctx); err != nil {
			logger.Warn("initial tick failed", "error", err)
		}
		healthSrv.SetReady(true)
		if err := sdnotify.Notify("READY=1"); err != nil {
			logger.Debug("sd_notify READY failed (likely not running under systemd)", "error", err)
		}
		if err := sched.Run(ctx); err != nil {
			logger.Error("scheduler loop exited", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	_ = sdnotify.Notify("STOPPING=1")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("healthz server shutdown error", "error", err)
	}

	wg.Wait()
	logger.Info("watchdogd exited cleanly")
}

// dashboardHTTPClient builds an *http.Client with mTLS configured from cfg
// when any of CertPath/KeyPath/CAPath is set. It returns (nil, nil) when all
// three are empty, leaving the reporter's default client (system root pool,
// no client certificate) in place.
func dashboardHTTPClient(cfg config.TLSConfig) (*http.Client, error) {
	if cfg.CertPath == "" && cfg.KeyPath == "" && cfg.CAPath == "" {
		return nil, nil
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CertPath != "" || cfg.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load client cert/key (%s, %s): %w", cfg.CertPath, cfg.KeyPath, err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAPath != "" {
		caPEM, err := os.ReadFile(cfg.CAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA cert %s: %w", cfg.CAPath, err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("parse CA cert from %s: no certificates found", cfg.CAPath)
		}
		tlsCfg.RootCAs = caPool
	}

	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
	}, nil
}

// observer adapts telemetry.Metrics and the healthz status provider to the
// scheduler's single-method TickObserver interface.
type observer struct {
	metrics *telemetry.Metrics
	status  *statusProvider
}

func (o *observer) ObserveTick(d time.Duration, refreshErr bool) {
	o.metrics.ObserveTick(d, refreshErr)
	o.status.recordTick()
}

// statusProvider adapts the running daemon's state to healthz.StatusProvider.
type statusProvider struct {
	start    time.Time
	profiles int
	sched    *scheduler.Scheduler
	queue    *queue.SQLiteQueue

	mu         sync.Mutex
	lastTickAt time.Time
}

func (s *statusProvider) recordTick() {
	s.mu.Lock()
	s.lastTickAt = time.Now()
	s.mu.Unlock()
}

func (s *statusProvider) Status() healthz.Status {
	s.mu.Lock()
	last := s.lastTickAt
	s.mu.Unlock()

	st := healthz.Status{
		UptimeS:  healthz.UptimeSeconds(s.start),
		Profiles: s.profiles,
	}
	if !last.IsZero() {
		st.LastTickAt = last.Format(time.RFC3339)
	}
	if s.queue != nil {
		st.ReportQueueDepth = s.queue.Depth()
	}
	return st
}

// Profiles implements healthz.ProfilesProvider, giving watchdogctl's
// "profiles" subcommand a live view of each profile's phase.
func (s *statusProvider) Profiles() []healthz.ProfileState {
	if s.sched == nil {
		return nil
	}
	snaps := s.sched.Snapshots()
	out := make([]healthz.ProfileState, len(snaps))
	for i, snap := range snaps {
		out[i] = healthz.ProfileState{
			Name:    snap.Name,
			Phase:   snap.State.Phase.String(),
			Exiting: snap.State.Exiting,
		}
	}
	return out
}
