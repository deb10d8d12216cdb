// Package session implements the per-client state that bridges pub/sub
// subscriber callbacks to HTTP long-poll delivery: a bounded outbound queue,
// at most one suspended responder, and subscription bookkeeping. It is
// shared, unmodified, by both the bayeux and pollingjson wire protocols —
// only the envelope each renders an Event into differs.
package session

import (
	"encoding/json"

	"github.com/torrox/siouxgo/pubsub"
)

// Kind identifies what happened to a subscription or node, independent of
// any wire protocol's envelope.
type Kind int

const (
	// SubscribeOK reports that a subscribe request succeeded.
	SubscribeOK Kind = iota
	// SubscribeFailed reports that a subscribe request failed, with Err
	// set to one of "invalid subscription", "authorization failed" or
	// "initialization failed".
	SubscribeFailed
	// UnsubscribeOK reports that an unsubscribe request succeeded.
	UnsubscribeOK
	// UnsubscribeFailed reports that an unsubscribe request failed
	// because no matching subscription existed (Err == "not subscribed").
	UnsubscribeFailed
	// Data carries a node's current value or, when IsDelta is set, a
	// merge-patch delta against the subscriber's previously known value.
	Data
)

// Event is one message destined for a client, queued by Session and
// rendered into a protocol-specific envelope by bayeux.Connector or
// pollingjson.Connector.
type Event struct {
	Kind Kind

	// Node is the subject of the event; every kind carries it.
	Node pubsub.NodeName

	// EchoID is the caller-supplied correlation id from the originating
	// request message, when one was given (Bayeux's "id" field). Empty
	// when none was supplied.
	EchoID string

	// Err is set only for SubscribeFailed and UnsubscribeFailed.
	Err string

	// Data and Version are set only for Data events.
	Data    json.RawMessage
	Version pubsub.Version
	IsDelta bool
}

// size estimates the serialized footprint of an Event for the purposes of
// Session's byte-size cap; it need not be exact, only monotonic with
// payload size.
func (e Event) size() int {
	return len(e.Node.String()) + len(e.EchoID) + len(e.Err) + len(e.Data) + 24
}
