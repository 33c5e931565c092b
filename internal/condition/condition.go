// Package condition implements the condition evaluator: the pure functions
// that decide whether a lifetime snapshot currently satisfies a Seen(d) or
// NotSeen(d) duration condition.
package condition

import (
	"fmt"
	"time"

	"github.com/watchdogd/watchdogd/internal/lifetime"
)

// Kind distinguishes the two condition shapes a profile can declare.
type Kind int

const (
	KindSeen Kind = iota
	KindNotSeen
)

// Condition is an immutable {kind, duration} pair.
type Condition struct {
	Kind Kind
	Span time.Duration
}

// Seen builds a "has been continuously seen for at least d" condition.
func Seen(d time.Duration) Condition { return Condition{Kind: KindSeen, Span: d} }

// NotSeen builds a "has not been seen for at least d" condition.
func NotSeen(d time.Duration) Condition { return Condition{Kind: KindNotSeen, Span: d} }

func (c Condition) String() string {
	switch c.Kind {
	case KindSeen:
		return fmt.Sprintf("seen(%s)", c.Span)
	case KindNotSeen:
		return fmt.Sprintf("not_seen(%s)", c.Span)
	default:
		return fmt.Sprintf("condition(%d, %s)", c.Kind, c.Span)
	}
}

// Matches reports whether snap currently satisfies c, evaluated as of now.
//
//   - Seen(d): true only while the phase is Seen and the time elapsed since
//     FirstSeen exceeds d.
//   - NotSeen(d): true only while the phase is NotSeen or NeverSeen. When
//     LastSeen is set, true once the elapsed time since LastSeen exceeds d
//     (this is the common case: the process was seen before and then
//     disappeared). When LastSeen was never set — the process has never
//     once been observed — it falls back to the "never seen long enough"
//     rule: true only once two consecutive ticks have both landed in
//     NeverSeen and the time since the older of those ticks (PrevRefresh)
//     exceeds d. That two-tick requirement means a NotSeen(d) condition on
//     a pattern that has never matched anything cannot fire on the very
//     first tick, no matter how large d's span is relative to the interval
//     since the engine started.
func Matches(now time.Time, snap lifetime.Snapshot, c Condition) bool {
	switch c.Kind {
	case KindSeen:
		if snap.Phase != lifetime.Seen {
			return false
		}
		if !snap.HasFirstSeen {
			return false
		}
		return now.Sub(snap.FirstSeen) > c.Span

	case KindNotSeen:
		if snap.Phase != lifetime.NotSeen && snap.Phase != lifetime.NeverSeen {
			return false
		}
		if snap.HasLastSeen {
			return now.Sub(snap.LastSeen) > c.Span
		}
		return snap.Phase == lifetime.NeverSeen &&
			snap.HasPrevPhase &&
			snap.Phase == snap.PrevPhase &&
			snap.HasPrevRefresh &&
			now.Sub(snap.PrevRefresh) > c.Span

	default:
		return false
	}
}

// PartialMatch reports whether snap's phase is even compatible with c's
// kind, without regard to duration. It is a cheap pre-check the profile job
// can use before reaching for the wall clock: Seen(_) is phase-compatible
// only with Seen, NotSeen(_) only with NotSeen or NeverSeen.
func PartialMatch(snap lifetime.Snapshot, c Condition) bool {
	switch c.Kind {
	case KindSeen:
		return snap.Phase == lifetime.Seen
	case KindNotSeen:
		return snap.Phase == lifetime.NotSeen || snap.Phase == lifetime.NeverSeen
	default:
		return false
	}
}
