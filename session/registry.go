package session

import (
	"sync"

	"github.com/torrox/siouxgo/clock"
	"github.com/torrox/siouxgo/pubsub"
	"github.com/torrox/siouxgo/sessionid"
)

// Registry generates, tracks and reaps Sessions. A session is "active"
// while an in-flight HTTP request owns it and "idle" while it sits parked
// between two requests from the same client, subject to Config.
// SessionTimeout; expiry calls Session.ShutDown and removes the entry.
//
// Registry guards its two maps with a single mutex — unlike pubsub.Root it
// has no adapter-driven async path to protect against, so there is no need
// for the worker-pool dispatch pattern Root uses.
type Registry struct {
	cfg  Config
	root *pubsub.Root
	clk  clock.Clock
	gen  sessionid.Generator

	mu    sync.Mutex
	idle  map[string]*idleEntry
	// active holds the sessions currently owned by an in-flight request
	// (created or found and not yet idled or removed), so FindSession can
	// resolve those ids as well as idle ones.
	active map[string]*Session
}

type idleEntry struct {
	session *Session
	timer   clock.Timer
}

// NewRegistry builds a Registry that creates Sessions against root, using
// gen for ids and clk for idle-session TTL timers.
func NewRegistry(cfg Config, root *pubsub.Root, clk clock.Clock, gen sessionid.Generator) *Registry {
	return &Registry{
		cfg:    cfg,
		root:   root,
		clk:    clk,
		gen:    gen,
		idle:   make(map[string]*idleEntry),
		active: make(map[string]*Session),
	}
}

// NewSession creates and registers a fresh, active Session.
func (r *Registry) NewSession() *Session {
	s := New(r.gen.New(), r.cfg, r.root, r.clk)
	r.mu.Lock()
	r.active[s.ID()] = s
	r.mu.Unlock()
	return s
}

// FindSession resolves id to its Session, moving it from idle back to
// active and cancelling its reap timer if it was idle. ok is false if no
// session with this id is known to the registry.
func (r *Registry) FindSession(id string) (s *Session, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, isIdle := r.idle[id]; isIdle {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(r.idle, id)
		r.active[id] = entry.session
		return entry.session, true
	}
	s, ok = r.active[id]
	return s, ok
}

// IdleSession moves s from active to idle and arms its SessionTimeout reap
// timer. Calling it for a session that is already idle is a no-op (its
// existing timer is kept, not re-armed), so a double-idle is harmless.
func (r *Registry) IdleSession(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.active, s.ID())
	if _, already := r.idle[s.ID()]; already {
		return
	}
	id := s.ID()
	var timer clock.Timer
	if r.cfg.SessionTimeout > 0 {
		timer = r.clk.AfterFunc(r.cfg.SessionTimeout, func() { r.reap(id) })
	}
	r.idle[id] = &idleEntry{session: s, timer: timer}
}

func (r *Registry) reap(id string) {
	r.mu.Lock()
	entry, ok := r.idle[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.idle, id)
	r.mu.Unlock()
	entry.session.ShutDown()
}

// Remove drops id from the registry outright (active or idle), cancelling
// any pending reap timer, without calling ShutDown — used when the caller
// has already torn the session down itself (e.g. an explicit disconnect).
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
	if entry, ok := r.idle[id]; ok {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(r.idle, id)
	}
}

// Count returns the number of sessions currently tracked, active or idle.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active) + len(r.idle)
}
