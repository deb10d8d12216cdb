package session

import (
	"testing"
	"time"

	"github.com/torrox/siouxgo/clock"
	"github.com/torrox/siouxgo/pubsub"
	"github.com/torrox/siouxgo/sessionid"
	"github.com/torrox/siouxgo/worker"
)

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *clock.Mock) {
	t.Helper()
	pool := worker.NewWorkerPool(2)
	pool.Start()
	clk := clock.NewMock()
	root := pubsub.NewRoot(pubsub.DefaultConfig(), fakeAdapter{}, pool, clk, nil)
	reg := NewRegistry(cfg, root, clk, sessionid.NewFakeGenerator("a", "b", "c"))
	return reg, clk
}

func TestRegistryNewSessionIsFindable(t *testing.T) {
	reg, _ := newTestRegistry(t, testConfig())
	s := reg.NewSession()

	found, ok := reg.FindSession(s.ID())
	if !ok || found != s {
		t.Fatalf("expected FindSession to return the session just created")
	}
	if reg.Count() != 1 {
		t.Errorf("Count() = %d, want 1", reg.Count())
	}
}

func TestRegistryFindSessionUnknownID(t *testing.T) {
	reg, _ := newTestRegistry(t, testConfig())
	_, ok := reg.FindSession("does-not-exist")
	if ok {
		t.Errorf("expected an unknown id to not be found")
	}
}

func TestRegistryIdleSessionReapedAfterTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTimeout = time.Minute
	reg, clk := newTestRegistry(t, cfg)
	s := reg.NewSession()

	reg.IdleSession(s)
	if reg.Count() != 1 {
		t.Fatalf("expected the idle session to still be counted, got %d", reg.Count())
	}

	clk.Add(time.Minute)

	if reg.Count() != 0 {
		t.Errorf("expected the idle session to be reaped after SessionTimeout, got %d", reg.Count())
	}
	if _, ok := reg.FindSession(s.ID()); ok {
		t.Errorf("expected a reaped session to no longer be findable")
	}
}

func TestRegistryFindSessionMovesIdleBackToActiveAndCancelsReap(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTimeout = time.Minute
	reg, clk := newTestRegistry(t, cfg)
	s := reg.NewSession()
	reg.IdleSession(s)

	found, ok := reg.FindSession(s.ID())
	if !ok || found != s {
		t.Fatalf("expected to find the idle session")
	}

	clk.Add(time.Minute)
	if reg.Count() != 1 {
		t.Errorf("expected the session, now active again, to survive the reap timer it cancelled, got count %d", reg.Count())
	}
}

func TestRegistryRemoveDropsSessionWithoutShutDown(t *testing.T) {
	reg, _ := newTestRegistry(t, testConfig())
	s := reg.NewSession()

	reg.Remove(s.ID())

	if _, ok := reg.FindSession(s.ID()); ok {
		t.Errorf("expected the session to be gone after Remove")
	}
	if reg.Count() != 0 {
		t.Errorf("Count() = %d, want 0", reg.Count())
	}
}

func TestRegistryDoubleIdleIsHarmless(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTimeout = time.Minute
	reg, clk := newTestRegistry(t, cfg)
	s := reg.NewSession()

	reg.IdleSession(s)
	reg.IdleSession(s)

	clk.Add(time.Minute)
	if reg.Count() != 0 {
		t.Errorf("expected a double-idle session to still be reaped normally, got count %d", reg.Count())
	}
}
