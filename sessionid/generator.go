// Package sessionid provides opaque session-id generation for the session
// registry. Production code draws on a real UUID source; tests inject a
// deterministic generator so expected ids can appear literally in assertions.
package sessionid

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces opaque session identifiers. Implementations must be
// safe for concurrent use.
type Generator interface {
	// New returns a fresh, opaque session id. Implementations must make
	// collisions between two live sessions practically impossible.
	New() string
}

// UUIDGenerator generates session ids from random (version 4) UUIDs.
type UUIDGenerator struct{}

// New returns a random UUID string.
func (UUIDGenerator) New() string {
	return uuid.NewString()
}

// FakeGenerator returns a deterministic, caller-supplied sequence of ids,
// wrapping around once exhausted. It exists so bayeux and pollingjson tests
// can assert on a literal clientId/SIOUXID without depending on real
// randomness.
type FakeGenerator struct {
	mu   sync.Mutex
	ids  []string
	next uint64
}

// NewFakeGenerator builds a FakeGenerator cycling through ids in order.
func NewFakeGenerator(ids ...string) *FakeGenerator {
	if len(ids) == 0 {
		ids = []string{"fake-session-id"}
	}
	return &FakeGenerator{ids: ids}
}

// New returns the next id in the configured sequence.
func (f *FakeGenerator) New() string {
	i := atomic.AddUint64(&f.next, 1) - 1
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids[int(i)%len(f.ids)]
}
