package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/torrox/siouxgo/clock"
	"github.com/torrox/siouxgo/logger"
	"github.com/torrox/siouxgo/worker"
)

// Root is the process-wide pub/sub engine: it owns every node and the set of
// subscribers attached to each, and drives subscribe/unsubscribe/update
// through the adapter. A Root has no dependency on any particular transport;
// sessions attach to it as Subscriber values, a plain, transport-agnostic
// state holder wrapped by whatever HTTP layer calls it.
//
// Locking discipline: mu guards nodes, subs and the per-node removal
// timers. Subscriber callbacks (OnUpdate and friends) are always invoked
// after mu is released, so a subscriber is free to call back into a
// session (but never back into Root — that would be the reverse of the
// root-then-session lock order this package requires of embedders).
type Root struct {
	cfg     Config
	adapter Adapter
	pool    *worker.WorkerPool
	clk     clock.Clock
	log     *logger.Logger

	mu            sync.Mutex
	nodes         map[string]*node
	names         map[string]NodeName
	subs          map[string]map[Subscriber]struct{}
	removalTimers map[string]clock.Timer
	lastUpdateAt  map[string]time.Time
	throttled     map[string]json.RawMessage
	throttleTimer map[string]clock.Timer

	updateCount int64
}

// NewRoot builds a Root. pool dispatches Adapter calls so a slow
// validate/authorize/node_init never blocks unrelated subscribe or update
// calls; clk is the injected timer facility used for node-removal TTLs and
// update throttling (production code passes clock.Real, tests a
// clock.Mock). log receives adapter errors crossing the Subscribe boundary;
// a nil log silently drops them, which test callers rely on.
func NewRoot(cfg Config, adapter Adapter, pool *worker.WorkerPool, clk clock.Clock, log *logger.Logger) *Root {
	return &Root{
		cfg:           cfg,
		adapter:       adapter,
		pool:          pool,
		clk:           clk,
		log:           log,
		nodes:         make(map[string]*node),
		names:         make(map[string]NodeName),
		subs:          make(map[string]map[Subscriber]struct{}),
		removalTimers: make(map[string]clock.Timer),
		lastUpdateAt:  make(map[string]time.Time),
		throttled:     make(map[string]json.RawMessage),
		throttleTimer: make(map[string]clock.Timer),
	}
}

// logErrorf logs an adapter-boundary error if a logger was configured.
func (r *Root) logErrorf(format string, args ...interface{}) {
	if r.log != nil {
		r.log.Errorf(format, args...)
	}
}

// Subscribe attaches sub to name, asynchronously. It is idempotent per
// (sub, name): a subscriber already attached simply receives the node's
// current value again. Authorization, validation and initialization run on
// the worker pool so the calling goroutine never blocks.
func (r *Root) Subscribe(ctx context.Context, sub Subscriber, name NodeName) {
	key := name.key()
	r.pool.Submit(func() {
		r.mu.Lock()
		if set, ok := r.subs[key]; ok {
			if _, already := set[sub]; already {
				n := r.nodes[key]
				data, version := cloneRaw(n.data), n.version
				r.mu.Unlock()
				sub.OnUpdate(name, data, version)
				return
			}
		}
		r.mu.Unlock()

		if r.cfg.AuthorizationRequired {
			ok, err := r.adapter.Authorize(ctx, sub, name)
			if err != nil {
				r.logErrorf("pubsub: adapter authorize %s: %v", name, err)
				sub.OnFailedNodeSubscription(name)
				return
			}
			if !ok {
				sub.OnUnauthorizedNodeSubscription(name)
				return
			}
		}

		r.mu.Lock()
		n, exists := r.nodes[key]
		r.mu.Unlock()

		if !exists {
			valid, err := r.adapter.ValidateNode(ctx, name)
			if err != nil {
				r.logErrorf("pubsub: adapter validate %s: %v", name, err)
				sub.OnFailedNodeSubscription(name)
				return
			}
			if !valid {
				sub.OnInvalidNodeSubscription(name)
				return
			}
			initial, err := r.adapter.NodeInit(ctx, name)
			if err != nil {
				r.logErrorf("pubsub: adapter init %s: %v", name, err)
				sub.OnFailedNodeSubscription(name)
				return
			}
			r.mu.Lock()
			if n, exists = r.nodes[key]; !exists {
				n = newNode(initial)
				r.nodes[key] = n
				r.names[key] = name
			}
			r.mu.Unlock()
		}

		r.mu.Lock()
		r.cancelRemovalLocked(key)
		if r.subs[key] == nil {
			r.subs[key] = make(map[Subscriber]struct{})
		}
		r.subs[key][sub] = struct{}{}
		data, version := cloneRaw(n.data), n.version
		r.mu.Unlock()

		sub.OnUpdate(name, data, version)
	})
}

// Unsubscribe detaches sub from name and reports whether an active
// subscription existed. If the node is left with no subscribers, its
// removal is scheduled after Config.NodeTimeout.
func (r *Root) Unsubscribe(sub Subscriber, name NodeName) bool {
	key := name.key()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsubscribeLocked(sub, key)
}

// UnsubscribeAll detaches sub from every node it is attached to.
func (r *Root) UnsubscribeAll(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.subs {
		r.unsubscribeLocked(sub, key)
	}
}

func (r *Root) unsubscribeLocked(sub Subscriber, key string) bool {
	set, ok := r.subs[key]
	if !ok {
		return false
	}
	if _, ok := set[sub]; !ok {
		return false
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(r.subs, key)
		r.scheduleRemovalLocked(key)
	}
	return true
}

// UpdateNode applies newData to name, creating the node if it does not yet
// exist. Subscribers are notified only when the update actually changes the
// node's value (node.update's no-op rule). When Config.MinUpdatePeriod is
// set and the node was updated more recently than that, the new data is
// coalesced into a single deferred update delivered once the period
// elapses, so a burst of rapid publishes never exceeds the configured rate.
func (r *Root) UpdateNode(name NodeName, newData json.RawMessage) error {
	key := name.key()

	r.mu.Lock()
	n, exists := r.nodes[key]
	if !exists {
		n = newNode(newData)
		r.nodes[key] = n
		r.names[key] = name
		r.lastUpdateAt[key] = r.clk.Now()
		r.updateCount++
		subsSnapshot := r.snapshotSubsLocked(key)
		data, version := cloneRaw(n.data), n.version
		r.mu.Unlock()
		r.notify(name, data, version, subsSnapshot)
		return nil
	}

	if r.cfg.MinUpdatePeriod > 0 {
		now := r.clk.Now()
		if last, ok := r.lastUpdateAt[key]; ok && now.Sub(last) < r.cfg.MinUpdatePeriod {
			r.throttled[key] = cloneRaw(newData)
			if _, scheduled := r.throttleTimer[key]; !scheduled {
				delay := r.cfg.MinUpdatePeriod - now.Sub(last)
				r.throttleTimer[key] = r.clk.AfterFunc(delay, func() { r.flushThrottled(key, name) })
			}
			r.mu.Unlock()
			return nil
		}
	}

	changed, err := n.update(newData, r.cfg.MaxUpdateHistoryRatio)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if !changed {
		r.mu.Unlock()
		return nil
	}
	r.lastUpdateAt[key] = r.clk.Now()
	r.updateCount++
	subsSnapshot := r.snapshotSubsLocked(key)
	data, version := cloneRaw(n.data), n.version
	r.mu.Unlock()

	r.notify(name, data, version, subsSnapshot)
	return nil
}

func (r *Root) flushThrottled(key string, name NodeName) {
	r.mu.Lock()
	data, ok := r.throttled[key]
	delete(r.throttled, key)
	delete(r.throttleTimer, key)
	n := r.nodes[key]
	if !ok || n == nil {
		r.mu.Unlock()
		return
	}
	changed, err := n.update(data, r.cfg.MaxUpdateHistoryRatio)
	r.lastUpdateAt[key] = r.clk.Now()
	if err != nil || !changed {
		r.mu.Unlock()
		return
	}
	r.updateCount++
	subsSnapshot := r.snapshotSubsLocked(key)
	newData, version := cloneRaw(n.data), n.version
	r.mu.Unlock()

	r.notify(name, newData, version, subsSnapshot)
}

func (r *Root) notify(name NodeName, data json.RawMessage, version Version, subs []Subscriber) {
	for _, sub := range subs {
		sub.OnUpdate(name, data, version)
	}
}

func (r *Root) snapshotSubsLocked(key string) []Subscriber {
	set := r.subs[key]
	if len(set) == 0 {
		return nil
	}
	out := make([]Subscriber, 0, len(set))
	for sub := range set {
		out = append(out, sub)
	}
	return out
}

func (r *Root) scheduleRemovalLocked(key string) {
	r.cancelRemovalLocked(key)
	if r.cfg.NodeTimeout <= 0 {
		return
	}
	r.removalTimers[key] = r.clk.AfterFunc(r.cfg.NodeTimeout, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, stillSubscribed := r.subs[key]; stillSubscribed {
			return
		}
		delete(r.nodes, key)
		delete(r.names, key)
		delete(r.removalTimers, key)
	})
}

func (r *Root) cancelRemovalLocked(key string) {
	if t, ok := r.removalTimers[key]; ok {
		t.Stop()
		delete(r.removalTimers, key)
	}
}

// Stats is a point-in-time snapshot of Root's size, used by the ambient
// metrics package to feed the dashboard the same way
// dashboard.Server.snapshot() feeds engine counters to its SSE stream.
type Stats struct {
	Nodes       int
	Subscribers int
	Updates     int64
}

// Stats returns a snapshot of the current node count, total subscriber
// edges, and cumulative accepted update count.
func (r *Root) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	subCount := 0
	for _, set := range r.subs {
		subCount += len(set)
	}
	return Stats{
		Nodes:       len(r.nodes),
		Subscribers: subCount,
		Updates:     r.updateCount,
	}
}
