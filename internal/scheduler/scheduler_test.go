package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/watchdogd/watchdogd/internal/action"
	"github.com/watchdogd/watchdogd/internal/clock"
	"github.com/watchdogd/watchdogd/internal/condition"
	"github.com/watchdogd/watchdogd/internal/pattern"
	"github.com/watchdogd/watchdogd/internal/procsrc"
	"github.com/watchdogd/watchdogd/internal/profile"
)

type countingRunner struct{ calls int }

func (c *countingRunner) Run(context.Context, []string) action.Result {
	c.calls++
	return action.Result{Outcome: action.Ok}
}

func TestScheduler_RunOnce_DrivesAllJobsInOrder(t *testing.T) {
	mc := clock.NewMock(time.Unix(1700000000, 0))
	src := &procsrc.Static{Snapshot: []procsrc.Process{
		{Name: "foo", Status: procsrc.StatusRunning},
	}}
	var order []string
	runner := &orderingRunner{order: &order}

	jobA := profile.NewJob("a", pattern.New(pattern.Name, pattern.Literal("foo")),
		[]*profile.Schedule{{Condition: condition.Seen(0), Exec: []string{"a-fired"}}})
	jobB := profile.NewJob("b", pattern.New(pattern.Name, pattern.Literal("foo")),
		[]*profile.Schedule{{Condition: condition.Seen(0), Exec: []string{"b-fired"}}})

	sched := New(src, runner, []*profile.Job{jobA, jobB}, WithClock(mc))

	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(order) != 2 || order[0] != "a-fired" || order[1] != "b-fired" {
		t.Fatalf("expected jobs to fire in declaration order, got %v", order)
	}
}

type orderingRunner struct{ order *[]string }

func (r *orderingRunner) Run(_ context.Context, argv []string) action.Result {
	*r.order = append(*r.order, argv[0])
	return action.Result{Outcome: action.Ok}
}

func TestScheduler_RunOnce_SkipsTickOnRefreshError(t *testing.T) {
	mc := clock.NewMock(time.Unix(1700000000, 0))
	boom := errTest{}
	src := &procsrc.Static{Err: boom}
	runner := &countingRunner{}
	job := profile.NewJob("p", pattern.New(pattern.Name, pattern.Literal("foo")),
		[]*profile.Schedule{{Condition: condition.Seen(0), Exec: []string{"x"}}})

	sched := New(src, runner, []*profile.Job{job}, WithClock(mc))

	if err := sched.RunOnce(context.Background()); err == nil {
		t.Fatal("expected RunOnce to surface the refresh error")
	}
	if runner.calls != 0 {
		t.Fatalf("no job should run on a refresh error, got %d calls", runner.calls)
	}
}

func TestScheduler_Run_StopsOnContextCancel(t *testing.T) {
	mc := clock.NewMock(time.Unix(1700000000, 0))
	src := &procsrc.Static{Snapshot: nil}
	runner := &countingRunner{}
	job := profile.NewJob("p", pattern.New(pattern.Name, pattern.Literal("foo")), nil)

	ctx, cancel := context.WithCancel(context.Background())
	ticks := 0
	sched := New(src, runner, []*profile.Job{job},
		WithClock(mc),
		WithTickHook(func([]ProfileSnapshot) {
			ticks++
			if ticks >= 3 {
				cancel()
			}
		}),
	)

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
	if ticks < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", ticks)
	}
}

func TestScheduler_Snapshots(t *testing.T) {
	mc := clock.NewMock(time.Unix(1700000000, 0))
	src := &procsrc.Static{Snapshot: []procsrc.Process{{Name: "foo", Status: procsrc.StatusRunning}}}
	runner := &countingRunner{}
	job := profile.NewJob("watched", pattern.New(pattern.Name, pattern.Literal("foo")), nil)

	sched := New(src, runner, []*profile.Job{job}, WithClock(mc))
	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	snaps := sched.Snapshots()
	if len(snaps) != 1 || snaps[0].Name != "watched" {
		t.Fatalf("expected one published snapshot named %q, got %+v", "watched", snaps)
	}
}

type errTest struct{}

func (errTest) Error() string { return "refresh failed" }

type recordingObserver struct {
	calls       int
	lastErr     bool
	lastNonZero bool
}

func (o *recordingObserver) ObserveTick(d time.Duration, refreshErr bool) {
	o.calls++
	o.lastErr = refreshErr
	o.lastNonZero = d >= 0
}

func TestScheduler_RunOnce_ObservesTickOnSuccess(t *testing.T) {
	mc := clock.NewMock(time.Unix(1700000000, 0))
	src := &procsrc.Static{Snapshot: []procsrc.Process{{Name: "foo", Status: procsrc.StatusRunning}}}
	runner := &countingRunner{}
	job := profile.NewJob("watched", pattern.New(pattern.Name, pattern.Literal("foo")), nil)
	obs := &recordingObserver{}

	sched := New(src, runner, []*profile.Job{job}, WithClock(mc), WithTickObserver(obs))
	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if obs.calls != 1 {
		t.Fatalf("expected 1 observation, got %d", obs.calls)
	}
	if obs.lastErr {
		t.Error("expected refreshErr=false on a successful tick")
	}
}

func TestScheduler_RunOnce_ObservesTickOnRefreshError(t *testing.T) {
	mc := clock.NewMock(time.Unix(1700000000, 0))
	src := &procsrc.Static{Err: errTest{}}
	runner := &countingRunner{}
	job := profile.NewJob("p", pattern.New(pattern.Name, pattern.Literal("foo")), nil)
	obs := &recordingObserver{}

	sched := New(src, runner, []*profile.Job{job}, WithClock(mc), WithTickObserver(obs))
	if err := sched.RunOnce(context.Background()); err == nil {
		t.Fatal("expected RunOnce to surface the refresh error")
	}

	if obs.calls != 1 {
		t.Fatalf("expected 1 observation even on refresh error, got %d", obs.calls)
	}
	if !obs.lastErr {
		t.Error("expected refreshErr=true on a failed refresh")
	}
}
