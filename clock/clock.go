// Package clock provides the injected timer abstraction used throughout the
// session and pub/sub engine. Production code binds to the host event loop's
// wall clock; tests bind to a virtual clock that only advances when told to,
// so long-poll timeouts and session-reap deadlines can be exercised
// deterministically without sleeping real wall-clock time.
package clock

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is a single pending deadline. Stop cancels it; cancellation is
// idempotent and safe to call after the timer has already fired.
type Timer interface {
	// Stop prevents the timer from firing. It returns true if the call stops
	// the timer, false if the timer has already fired or been stopped.
	Stop() bool
}

// Clock abstracts time so production code and tests can share the same
// timeout logic. Real binds to the wall clock; NewMock returns a virtual
// clock driven entirely by Add.
type Clock interface {
	// Now returns the current time as seen by this clock.
	Now() time.Time

	// AfterFunc schedules f to run after d elapses on this clock, returning a
	// Timer that can cancel the call before it runs.
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the production Clock, backed by github.com/benbjohnson/clock's
// real-time implementation so it satisfies the same interface the virtual
// clock does without a second code path in callers.
var Real Clock = realClock{clock.New()}

type realClock struct {
	c clock.Clock
}

func (r realClock) Now() time.Time { return r.c.Now() }

func (r realClock) AfterFunc(d time.Duration, f func()) Timer {
	return r.c.AfterFunc(d, f)
}
