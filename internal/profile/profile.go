// Package profile implements the profile job: the per-profile unit that
// ties a pattern, a lifetime tracker, and a list of command schedules
// together and runs the per-tick evaluation algorithm.
package profile

import (
	"context"
	"log/slog"
	"time"

	"github.com/watchdogd/watchdogd/internal/action"
	"github.com/watchdogd/watchdogd/internal/clock"
	"github.com/watchdogd/watchdogd/internal/condition"
	"github.com/watchdogd/watchdogd/internal/lifetime"
	"github.com/watchdogd/watchdogd/internal/pattern"
	"github.com/watchdogd/watchdogd/internal/procsrc"
)

// Recorder receives a notification for every exec/exec_end invocation a
// Job fires, independent of the action runner used to perform it. The
// production implementation is *auditlog.Logger; tests leave it nil.
type Recorder interface {
	RecordAction(profileName, kind string, argv []string, res action.Result) error
}

// Schedule is one command schedule within a profile: a condition paired
// with the exec/exec_end argv to run when it fires, plus its run_once and
// disabled runtime flags.
type Schedule struct {
	Condition condition.Condition
	Exec      []string
	ExecEnd   []string // nil when the profile declared no exec_end
	RunOnce   bool

	disabled bool
	// failed marks a disabled schedule as silenced by a spawn/exit
	// failure rather than by a successful run_once completion. The
	// re-arm rule only ever clears the latter; a failed command stays
	// disabled for the rest of the run.
	failed bool
}

// Disabled reports the schedule's current runtime disabled state, for
// diagnostics and tests.
func (s *Schedule) Disabled() bool { return s.disabled }

// Failed reports whether the schedule's current disabled state was caused
// by a spawn or non-zero-exit failure rather than a successful run_once
// completion. A failed schedule is never re-armed.
func (s *Schedule) Failed() bool { return s.failed }

// Job is one profile: a pattern, its ordered command schedules, and the
// lifetime tracker the profile owns for its full process lifetime.
type Job struct {
	Name      string // for logging only; not used in matching
	Pattern   pattern.Pattern
	Schedules []*Schedule
	Interval  time.Duration // advisory only; not read by Tick
	KeepWatch bool          // advisory only, unused by the core

	// Recorder, when set, is notified of every fired action for the
	// tamper-evident audit log. Nil disables recording.
	Recorder Recorder
	Logger   *slog.Logger

	// Clock supplies the evaluation-time "now" for duration conditions.
	// It is read after the tick's ingest, so elapsed durations are
	// measured as of the check itself, not the sample timestamp; a
	// Seen(0) condition therefore matches on the same tick that first
	// sights the process.
	Clock clock.Clock

	tracker *lifetime.Tracker
}

// NewJob constructs a Job with a fresh lifetime tracker in its initial
// NeverSeen state.
func NewJob(name string, pat pattern.Pattern, schedules []*Schedule) *Job {
	return &Job{
		Name:      name,
		Pattern:   pat,
		Schedules: schedules,
		Logger:    slog.Default(),
		Clock:     clock.Real{},
		tracker:   lifetime.New(),
	}
}

// record notifies j.Recorder of a fired action, if one is configured. A
// recording failure is logged but never affects the tick's outcome — the
// audit log is diagnostic, not part of the engine's control flow.
func (j *Job) record(kind string, argv []string, res action.Result) {
	if j.Recorder == nil {
		return
	}
	if err := j.Recorder.RecordAction(j.Name, kind, argv, res); err != nil {
		j.logger().Error("audit log write failed", "profile", j.Name, "kind", kind, "error", err)
	}
}

func (j *Job) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// Snapshot exposes the job's current lifetime state, for the scheduler's
// read-only reporting surface. It must never be used to mutate the tick
// algorithm's state from another goroutine.
func (j *Job) Snapshot() lifetime.Snapshot { return j.tracker.Snapshot() }

// Tick runs one profile's per-tick algorithm against the given process
// table snapshot and tick timestamp:
//
//  1. Filter procs to those matching j.Pattern and not in an excluded
//     status, and ingest the count into the lifetime tracker.
//  2. For each non-disabled schedule whose condition currently matches,
//     run its exec.
//  3. If the tracker reports exiting, run exec_end for every schedule
//     whose exec_end is present and whose condition does not partially
//     match the new phase — regardless of the disabled flag just set in
//     step 2.
//  4. For each disabled, run_once schedule whose condition no longer
//     matches and whose phase has been stable for two consecutive ticks,
//     clear disabled.
//
// A schedule is marked disabled whenever its runner invocation (from
// either step 2 or step 3) spawn-fails or exits non-zero, and also
// whenever a successful run_once invocation succeeds.
func (j *Job) Tick(ctx context.Context, procs []procsrc.Process, now time.Time, runner action.Runner) {
	matching := 0
	for _, p := range procs {
		if p.Status.Excluded() {
			continue
		}
		if pattern.Matches(p, j.Pattern) {
			matching++
		}
	}
	j.tracker.Ingest(matching, now)
	snap := j.tracker.Snapshot()
	evalNow := j.clockNow()

	for _, s := range j.Schedules {
		if s.disabled {
			continue
		}
		if !condition.Matches(evalNow, snap, s.Condition) {
			continue
		}
		res := runner.Run(ctx, s.Exec)
		j.record("exec", s.Exec, res)
		j.applyResult(s, res)
	}

	if j.tracker.Exiting() {
		for _, s := range j.Schedules {
			if len(s.ExecEnd) == 0 {
				continue
			}
			if condition.PartialMatch(snap, s.Condition) {
				continue
			}
			res := runner.Run(ctx, s.ExecEnd)
			j.record("exec_end", s.ExecEnd, res)
			j.applyResult(s, res)
		}
	}

	for _, s := range j.Schedules {
		if !s.disabled || !s.RunOnce || s.failed {
			continue
		}
		if condition.Matches(evalNow, snap, s.Condition) {
			continue
		}
		if !snap.HasPrevPhase || snap.Phase != snap.PrevPhase {
			continue
		}
		s.disabled = false
	}
}

func (j *Job) clockNow() time.Time {
	if j.Clock != nil {
		return j.Clock.Now()
	}
	return clock.Real{}.Now()
}

// applyResult implements the disabled-flag side effects shared by exec and
// exec_end firings: a failed spawn or non-zero exit disables the schedule
// outright and marks it failed, so the re-arm rule never clears it again —
// a failed command stays silenced for the rest of the run. A successful
// run_once firing also disables the schedule, but without setting failed,
// so it remains eligible to re-arm once the profile has left and
// stabilised outside the condition.
func (j *Job) applyResult(s *Schedule, res action.Result) {
	switch {
	case !res.Success():
		s.disabled = true
		s.failed = true
	case s.RunOnce:
		s.disabled = true
	}
}
