package procsrc

import "context"

// Static is a Source that returns a fixed, caller-supplied snapshot on every
// call, or a configured error. It is the test double used throughout the
// engine's unit tests in place of GopsutilSource.
type Static struct {
	Snapshot []Process
	Err      error
}

// Refresh returns s.Snapshot and s.Err unchanged.
func (s *Static) Refresh(context.Context) ([]Process, error) {
	return s.Snapshot, s.Err
}
