package pubsub

import (
	"bytes"
	"encoding/json"

	jsonpatch "gopkg.in/evanphx/json-patch.v4"
)

// delta is one step of a node's retained history: the RFC 7396 JSON merge
// patch that carries the node's data from the version immediately before it
// to the version immediately after.
type delta struct {
	patch []byte
}

// node is the current value, version and bounded delta history of one
// subject. node is only ever mutated while its owning Root holds the root
// mutex; it has no locking of its own.
type node struct {
	data    json.RawMessage
	version Version
	history []delta // oldest first; history[i] carries version-len(history)+i to +i+1
}

// newNode creates a node at its first version, with no history.
func newNode(initial json.RawMessage) *node {
	return &node{data: cloneRaw(initial), version: nextVersion()}
}

// update applies newData, computing and retaining a merge-patch delta.
// It returns false without changing anything if newData is textually
// equivalent to the current data (a no-op). keepHistoryPercent
// bounds the serialized size of the retained history to that percentage of
// the serialized size of newData; oldest deltas are dropped first once the
// bound is exceeded.
func (n *node) update(newData json.RawMessage, keepHistoryPercent uint) (bool, error) {
	if jsonEqual(n.data, newData) {
		return false, nil
	}

	patch, err := jsonpatch.CreateMergePatch(n.data, newData)
	if err != nil {
		return false, err
	}

	n.history = append(n.history, delta{patch: patch})
	n.data = cloneRaw(newData)
	n.version = Version{n: n.version.n + 1}

	n.trimHistory(keepHistoryPercent)
	return true, nil
}

// trimHistory drops oldest history entries until the serialized size of the
// remaining history no longer exceeds keepPercent% of the serialized size of
// the current data, satisfying the history-bound testable property.
func (n *node) trimHistory(keepPercent uint) {
	limit := (len(n.data) * int(keepPercent)) / 100
	for historySize(n.history) > limit && len(n.history) > 0 {
		n.history = n.history[1:]
	}
}

func historySize(h []delta) int {
	total := 0
	for _, d := range h {
		total += len(d.patch)
	}
	return total
}

// getUpdateFrom reports what can be delivered to a subscriber that last saw
// known. If known is the version immediately preceding the current one and a
// delta was retained for that step, it is returned as a delta so the caller
// may send a small incremental update instead of the full value. Any other
// case — known already current, known older than one step back, or known
// from the future — falls back to delivering the full current value; older
// deltas are not composed into a chain.
func (n *node) getUpdateFrom(known Version) (isDelta bool, payload json.RawMessage) {
	if known.Equal(n.version) {
		return true, json.RawMessage("{}")
	}
	if len(n.history) > 0 && known.Equal(n.version.Minus(1)) {
		return true, n.history[len(n.history)-1].patch
	}
	return false, n.data
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	cp := make(json.RawMessage, len(v))
	copy(cp, v)
	return cp
}

// jsonEqual compares two JSON documents for byte-for-byte equality after
// compacting whitespace, matching node.update's "new_data == data" no-op
// check without requiring semantic (key-order-independent) JSON equality.
func jsonEqual(a, b json.RawMessage) bool {
	ca, err1 := compact(a)
	cb, err2 := compact(b)
	if err1 != nil || err2 != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca, cb)
}

func compact(v json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
