// Package lifetime implements the per-profile lifetime tracker: the
// {NeverSeen, Seen, NotSeen} phase state machine that turns a per-tick
// matching-process count into the durable state the condition evaluator
// reads from.
package lifetime

import "time"

// Phase is the tracker's current phase.
type Phase int

const (
	NeverSeen Phase = iota
	Seen
	NotSeen
)

// String renders a Phase for logging, matching the names used in
// configuration and diagnostics.
func (p Phase) String() string {
	switch p {
	case NeverSeen:
		return "never_seen"
	case Seen:
		return "seen"
	case NotSeen:
		return "not_seen"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable, point-in-time copy of a Tracker's state, safe
// to pass to the condition evaluator or to read from another goroutine.
type Snapshot struct {
	Phase          Phase
	PrevPhase      Phase
	HasPrevPhase   bool
	FirstSeen      time.Time
	HasFirstSeen   bool
	LastSeen       time.Time
	HasLastSeen    bool
	LastRefresh    time.Time
	HasLastRefresh bool
	PrevRefresh    time.Time
	HasPrevRefresh bool
	Exiting        bool
}

// Tracker holds one profile's lifetime state across ticks. The zero value
// is ready to use and starts in NeverSeen.
type Tracker struct {
	firstSeen      time.Time
	hasFirstSeen   bool
	lastSeen       time.Time
	hasLastSeen    bool
	lastRefresh    time.Time
	hasLastRefresh bool
	prevRefresh    time.Time
	hasPrevRefresh bool
	prevPhase      Phase
	hasPrevPhase   bool
	phase          Phase
	exiting        bool
}

// New returns a Tracker in its initial NeverSeen state.
func New() *Tracker {
	return &Tracker{phase: NeverSeen}
}

// Ingest records one tick's observation: matchingCount is the number of
// live, non-excluded processes that matched the profile's pattern this
// tick, and tick is the sample time. The transitions are:
//
//   - matchingCount == 0, phase != NeverSeen: phase becomes NotSeen;
//     Exiting is set when the previous phase was not already NotSeen.
//   - matchingCount == 0, phase == NeverSeen: no phase change.
//   - matchingCount > 0, phase == NeverSeen: phase becomes Seen, FirstSeen
//     is set to tick.
//   - matchingCount > 0, phase == NotSeen: phase becomes Seen, FirstSeen is
//     reset to tick, Exiting is set.
//   - matchingCount > 0, phase == Seen: phase stays Seen, no Exiting.
//
// LastSeen is updated to tick whenever matchingCount > 0.
func (t *Tracker) Ingest(matchingCount int, tick time.Time) {
	t.prevRefresh, t.hasPrevRefresh = t.lastRefresh, t.hasLastRefresh
	t.lastRefresh, t.hasLastRefresh = tick, true

	if matchingCount == 0 {
		if t.phase != NeverSeen {
			prev := t.phase
			t.prevPhase, t.hasPrevPhase = prev, true
			t.phase = NotSeen
			t.exiting = prev != NotSeen
		} else {
			t.exiting = false
			t.prevPhase, t.hasPrevPhase = NeverSeen, true
		}
		return
	}

	switch t.phase {
	case NeverSeen:
		t.exiting = false
		t.firstSeen, t.hasFirstSeen = t.lastRefresh, true
	case NotSeen:
		t.exiting = true
		t.firstSeen, t.hasFirstSeen = t.lastRefresh, true
	case Seen:
		t.exiting = false
	}
	t.prevPhase, t.hasPrevPhase = t.phase, true
	t.phase = Seen
	t.lastSeen, t.hasLastSeen = t.lastRefresh, true
}

// Snapshot returns an immutable copy of the tracker's current state.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		Phase:          t.phase,
		PrevPhase:      t.prevPhase,
		HasPrevPhase:   t.hasPrevPhase,
		FirstSeen:      t.firstSeen,
		HasFirstSeen:   t.hasFirstSeen,
		LastSeen:       t.lastSeen,
		HasLastSeen:    t.hasLastSeen,
		LastRefresh:    t.lastRefresh,
		HasLastRefresh: t.hasLastRefresh,
		PrevRefresh:    t.prevRefresh,
		HasPrevRefresh: t.hasPrevRefresh,
		Exiting:        t.exiting,
	}
}

// Phase returns the tracker's current phase.
func (t *Tracker) Phase() Phase { return t.phase }

// Exiting reports whether the most recent Ingest call was a phase
// transition away from the previous stable phase (used to edge-trigger
// exec_end actions).
func (t *Tracker) Exiting() bool { return t.exiting }
