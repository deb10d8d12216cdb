package pubsub

import "strings"

// NodeName is the canonical identity of a pub/sub data record: an ordered
// sequence of (domain, value) pairs. Two node names are equal iff their
// sequences are pairwise equal in the same order. NodeName is immutable once
// constructed and safe to share across goroutines and use as a map key (via
// its key() form, since Go slices themselves cannot be map keys).
type NodeName struct {
	keys []Key
}

// NewNodeName builds a node name from an already-ordered list of keys. The
// order given is the order preserved for equality and for the channel
// rendering in package bayeux — callers that build a NodeName from an
// unordered source (a JSON object's fields) must sort by domain themselves
// before calling NewNodeName, exactly as the Bayeux channel parser already
// produces domains p1, p2, ... in positional order.
func NewNodeName(keys ...Key) NodeName {
	cp := make([]Key, len(keys))
	copy(cp, keys)
	return NodeName{keys: cp}
}

// Keys returns the ordered (domain, value) pairs making up the name. The
// returned slice is a copy; mutating it does not affect n.
func (n NodeName) Keys() []Key {
	cp := make([]Key, len(n.keys))
	copy(cp, n.keys)
	return cp
}

// Len returns the number of (domain, value) pairs in the name.
func (n NodeName) Len() int { return len(n.keys) }

// Equal reports whether n and o name the same node: same domains and values,
// in the same order.
func (n NodeName) Equal(o NodeName) bool {
	if len(n.keys) != len(o.keys) {
		return false
	}
	for i, k := range n.keys {
		if k != o.keys[i] {
			return false
		}
	}
	return true
}

// Less orders node names lexicographically, first by length then
// element-wise. It exists so NodeName can
// be used in sorted containers; Root itself only needs Equal and key().
func (n NodeName) Less(o NodeName) bool {
	if len(n.keys) != len(o.keys) {
		return len(n.keys) < len(o.keys)
	}
	for i, k := range n.keys {
		ok := o.keys[i]
		if k.Domain != ok.Domain {
			return k.Domain < ok.Domain
		}
		if k.Value != ok.Value {
			return k.Value < ok.Value
		}
	}
	return false
}

// Key renders a canonical string form suitable for use as a map key, e.g. by
// the session package tracking its own subscriptions by node. Because domain
// and value are both plain strings with no embedded NUL bytes in practice,
// joining with NUL-separated fields is collision-free for any realistic
// input.
func (n NodeName) Key() string { return n.key() }

func (n NodeName) key() string {
	var b strings.Builder
	for _, k := range n.keys {
		b.WriteString(string(k.Domain))
		b.WriteByte(0)
		b.WriteString(k.Value)
		b.WriteByte(1)
	}
	return b.String()
}

// String renders a human-readable form, domain:value pairs separated by
// spaces, useful for logging.
func (n NodeName) String() string {
	var b strings.Builder
	for i, k := range n.keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(string(k.Domain))
		b.WriteByte(':')
		b.WriteString(k.Value)
	}
	return b.String()
}
