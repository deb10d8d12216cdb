package clock

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Mock is a virtual Clock for tests. Time only passes when Add is called;
// AfterFunc callbacks registered for deadlines at or before the new instant
// fire synchronously, in the order their deadlines expire, matching the
// "advance_time() fires all due timers" contract the session registry and
// long-poll code rely on.
type Mock struct {
	c *clock.Mock
}

// NewMock creates a Mock clock starting at an arbitrary, fixed instant.
func NewMock() *Mock {
	return &Mock{c: clock.NewMock()}
}

func (m *Mock) Now() time.Time { return m.c.Now() }

func (m *Mock) AfterFunc(d time.Duration, f func()) Timer {
	return m.c.AfterFunc(d, f)
}

// Add advances the virtual clock by d, synchronously running every timer
// callback whose deadline is now due.
func (m *Mock) Add(d time.Duration) {
	m.c.Add(d)
}
