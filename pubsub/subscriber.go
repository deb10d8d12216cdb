package pubsub

import "encoding/json"

// Subscriber is the callback target Root drives. Implementations (in
// practice, exactly one *session.Session per subscription) must not block
// and must not re-enter Root from within a callback — Root invokes these
// methods after releasing its own mutex, so the lock-order discipline only
// requires the subscriber not to call back into Root while holding a lock
// of its own that Root might also need.
type Subscriber interface {
	// OnUpdate delivers the current value of name, either because a
	// subscription just succeeded (initial value) or because the node was
	// updated. version is the value's version; data is always a copy of the
	// node's full current value, including when an already attached
	// subscriber subscribes again.
	OnUpdate(name NodeName, data json.RawMessage, version Version)

	// OnInvalidNodeSubscription reports that name failed ValidateNode.
	OnInvalidNodeSubscription(name NodeName)

	// OnUnauthorizedNodeSubscription reports that Authorize denied access.
	OnUnauthorizedNodeSubscription(name NodeName)

	// OnFailedNodeSubscription reports that an adapter call errored.
	OnFailedNodeSubscription(name NodeName)
}
