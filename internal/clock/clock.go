// Package clock provides a single time seam for the engine. Every component
// that needs "now" — tick timestamps, duration comparisons, the scheduler's
// sleep — reads it through a Clock so that tests can drive the whole engine
// under a mock clock instead of real wall time.
package clock

import "time"

// Clock is the time source used throughout the engine. The zero value of no
// implementation is valid; use Real or a test double such as a Mock.
type Clock interface {
	// Now returns the current time. Successive calls are not required to be
	// monotonically increasing by any fixed amount, but implementations used
	// in production must return a monotonic-safe time.Time (i.e. the result
	// of time.Now()).
	Now() time.Time

	// Sleep blocks the calling goroutine for d, or returns early if ctx-like
	// cancellation is handled by the caller via a separate select. Real
	// implementations call time.Sleep; mocks may no-op and let the test
	// advance time explicitly instead.
	Sleep(d time.Duration)
}

// Real is the production Clock backed by the standard library.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// Sleep calls time.Sleep.
func (Real) Sleep(d time.Duration) { time.Sleep(d) }
