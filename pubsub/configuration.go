package pubsub

import "time"

// Config holds the pub/sub root's immutable, construction-time parameters.
type Config struct {
	// NodeTimeout is the delay before a subscriber-less node is removed.
	NodeTimeout time.Duration

	// MinUpdatePeriod is the shortest interval Root enforces between two
	// delivered updates of the same node. A zero value disables throttling.
	MinUpdatePeriod time.Duration

	// MaxUpdateHistoryRatio bounds retained history to this percentage of
	// the serialized size of a node's current data.
	MaxUpdateHistoryRatio uint

	// AuthorizationRequired, when true, makes Subscribe call
	// Adapter.Authorize before creating or attaching to a node.
	AuthorizationRequired bool
}

// DefaultConfig returns sensible defaults for embedding in tests and small
// deployments: a one-minute node TTL, no update throttling, a 200% history
// ratio (room for roughly two update-sized deltas), and authorization
// disabled.
func DefaultConfig() Config {
	return Config{
		NodeTimeout:           time.Minute,
		MinUpdatePeriod:       0,
		MaxUpdateHistoryRatio: 200,
		AuthorizationRequired: false,
	}
}
