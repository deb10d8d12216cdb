package pubsub

import (
	"math"
	"strconv"
	"sync/atomic"
	"time"
)

// Version is a node_version: an integer-valued tag exposing difference as a
// saturating signed distance. A node's first version is drawn from a single
// process-wide monotonic source and each later update of that node adds one,
// so a node's versions never repeat, v.Minus(k) names the version k updates
// before v, and Sub is always exact except at the extreme ends of the int32
// range.
type Version struct {
	n int64
}

// versionSource is the non-repeating source required for version
// generation: a
// process-wide counter seeded from wall-clock time at package init, so
// values generated by two separate process runs are, with overwhelming
// probability, still distinct from one another.
var versionSource int64 = time.Now().UnixNano()

// nextVersion draws the next value from the shared source. It supplies every
// node's first version; node.update then counts up from there by one per
// change, so a node's own version sequence is strictly increasing with no
// gaps, whatever other nodes do in between.
func nextVersion() Version {
	return Version{n: atomic.AddInt64(&versionSource, 1)}
}

// Minus returns the version k steps before v, used to name an older version
// when checking whether a known version still falls within a node's
// retained history.
func (v Version) Minus(k int) Version {
	return Version{n: v.n - int64(k)}
}

// Sub returns v − rhs as a signed distance, saturating to the int32 range
// rather than wrapping. A positive result means v was produced after rhs.
func (v Version) Sub(rhs Version) int32 {
	d := v.n - rhs.n
	switch {
	case d > math.MaxInt32:
		return math.MaxInt32
	case d < math.MinInt32:
		return math.MinInt32
	default:
		return int32(d)
	}
}

// Equal reports whether v and o name the same version.
func (v Version) Equal(o Version) bool { return v.n == o.n }

// String renders the version as a decimal integer, the wire form used by
// both the Bayeux and polling-JSON connectors.
func (v Version) String() string { return strconv.FormatInt(v.n, 10) }
