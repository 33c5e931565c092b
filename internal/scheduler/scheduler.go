// Package scheduler implements the scheduler: the fixed-cadence loop that
// refreshes the process table and drives every profile job's per-tick
// update, in declaration order, once per sampling interval.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/watchdogd/watchdogd/internal/action"
	"github.com/watchdogd/watchdogd/internal/clock"
	"github.com/watchdogd/watchdogd/internal/lifetime"
	"github.com/watchdogd/watchdogd/internal/procsrc"
	"github.com/watchdogd/watchdogd/internal/profile"
)

// DefaultSamplingRate is the nominal tick cadence.
const DefaultSamplingRate = 3 * time.Second

// ProfileSnapshot is a read-only view of one profile's current lifetime
// state, exposed for the ambient reporting surface. It carries no mutable
// reference into the engine's own state.
type ProfileSnapshot struct {
	Name  string
	State lifetime.Snapshot
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithSamplingRate overrides the default tick cadence.
func WithSamplingRate(d time.Duration) Option {
	return func(s *Scheduler) { s.rate = d }
}

// WithClock overrides the clock seam; tests use clock.Mock.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger overrides the scheduler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithTickHook installs a callback invoked after every tick completes, with
// a snapshot of every profile's state. Used by the ambient reporter to
// forward state to the optional dashboard without the scheduler depending
// on it directly.
func WithTickHook(fn func([]ProfileSnapshot)) Option {
	return func(s *Scheduler) { s.tickHook = fn }
}

// TickObserver receives one observation per completed tick: its wall-clock
// duration and whether the process-table refresh it depended on failed.
// *telemetry.Metrics satisfies this structurally; scheduler never imports
// internal/telemetry directly.
type TickObserver interface {
	ObserveTick(d time.Duration, refreshErr bool)
}

// WithTickObserver installs a TickObserver invoked after every tick,
// including skipped ticks from a failed refresh.
func WithTickObserver(o TickObserver) Option {
	return func(s *Scheduler) { s.tickObserver = o }
}

// Scheduler owns the process-table source, the fixed sampling cadence, and
// the ordered vector of profile jobs. It is single-threaded: Run drives the
// whole loop on its own goroutine, and the only other goroutines that ever
// touch a profile's state do so through Snapshots, which is synchronised by
// a mutex.
type Scheduler struct {
	source procsrc.Source
	jobs   []*profile.Job
	runner action.Runner
	clock  clock.Clock
	rate   time.Duration
	logger *slog.Logger

	tickHook     func([]ProfileSnapshot)
	tickObserver TickObserver

	mu        sync.RWMutex
	snapshots []ProfileSnapshot
}

// New constructs a Scheduler over the given process-table source, runner,
// and ordered profile jobs, applying any options.
func New(source procsrc.Source, runner action.Runner, jobs []*profile.Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		source: source,
		runner: runner,
		jobs:   jobs,
		clock:  clock.Real{},
		rate:   DefaultSamplingRate,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives the scheduler loop until ctx is cancelled. Each iteration:
// refresh the process table, run every profile job's Tick in declaration
// order, publish a snapshot, then sleep for the sampling rate. A
// process-table refresh error is logged and the tick is skipped entirely —
// it is a class-2 error, recovered locally, never fatal.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		s.tick(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-s.sleepChan(ctx):
		}
	}
}

func (s *Scheduler) sleepChan(ctx context.Context) <-chan time.Time {
	// clock.Real sleeps synchronously via time.Sleep; to keep Run's select
	// cancellable under a mock clock too, the sleep itself happens here and
	// the returned channel fires immediately afterward.
	ch := make(chan time.Time, 1)
	go func() {
		s.clock.Sleep(s.rate)
		select {
		case ch <- s.clock.Now():
		case <-ctx.Done():
		}
	}()
	return ch
}

func (s *Scheduler) tick(ctx context.Context) {
	start := s.clock.Now()
	procs, err := s.source.Refresh(ctx)
	if err != nil {
		s.logger.Error("process table refresh failed, skipping tick", "error", err)
		s.observeTick(start, true)
		return
	}

	s.runJobs(ctx, procs, s.clock.Now())
	s.observeTick(start, false)
}

func (s *Scheduler) observeTick(start time.Time, refreshErr bool) {
	if s.tickObserver == nil {
		return
	}
	s.tickObserver.ObserveTick(s.clock.Now().Sub(start), refreshErr)
}

// Snapshots returns the profile states as of the most recently completed
// tick. Safe to call from any goroutine.
func (s *Scheduler) Snapshots() []ProfileSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProfileSnapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

// RunOnce performs exactly one tick and returns, without sleeping or
// looping. Used by tests and by cmd/watchdogd for its first tick before it
// enters Run. Unlike Run, a
// refresh error is returned to the caller rather than merely logged, since
// there is no enclosing loop to continue.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := s.clock.Now()
	procs, err := s.source.Refresh(ctx)
	if err != nil {
		s.observeTick(start, true)
		return fmt.Errorf("scheduler: refresh: %w", err)
	}
	s.runJobs(ctx, procs, s.clock.Now())
	s.observeTick(start, false)
	return nil
}

// runJobs runs every profile job's Tick in declaration order against procs
// and now, then publishes the resulting snapshots and invokes the tick
// hook if one is installed. Shared by tick (the Run loop) and RunOnce.
func (s *Scheduler) runJobs(ctx context.Context, procs []procsrc.Process, now time.Time) {
	for _, job := range s.jobs {
		job.Tick(ctx, procs, now, s.runner)
	}

	snaps := make([]ProfileSnapshot, len(s.jobs))
	for i, job := range s.jobs {
		snaps[i] = ProfileSnapshot{Name: job.Name, State: job.Snapshot()}
	}
	s.mu.Lock()
	s.snapshots = snaps
	s.mu.Unlock()

	if s.tickHook != nil {
		s.tickHook(snaps)
	}
}
