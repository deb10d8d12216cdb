package pubsub

import (
	"context"
	"encoding/json"
)

// Adapter is the host-supplied hook set Root consults before creating or
// granting access to a node. All three methods may block — Root dispatches
// them on its worker pool rather than its own goroutine, so a slow adapter
// never stalls unrelated subscribe/update calls. Adapter exceptions (a
// returned error) are treated as the corresponding negative outcome;
// Root never retries a failed adapter call.
type Adapter interface {
	// ValidateNode reports whether name may be created. Called only when a
	// subscribe needs a node that does not yet exist; Root.UpdateNode
	// creates a missing node without consulting it.
	ValidateNode(ctx context.Context, name NodeName) (bool, error)

	// Authorize reports whether sub may subscribe to name. Only called when
	// the Root's Config.AuthorizationRequired is set.
	Authorize(ctx context.Context, sub Subscriber, name NodeName) (bool, error)

	// NodeInit returns the initial JSON value for a freshly validated node.
	NodeInit(ctx context.Context, name NodeName) (json.RawMessage, error)
}
