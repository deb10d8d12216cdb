package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/torrox/siouxgo/clock"
	"github.com/torrox/siouxgo/logger"
	"github.com/torrox/siouxgo/worker"
)

type recordingSubscriber struct {
	updates chan json.RawMessage
	failed  chan string
}

func newRecordingSubscriber() *recordingSubscriber {
	return &recordingSubscriber{
		updates: make(chan json.RawMessage, 16),
		failed:  make(chan string, 16),
	}
}

func (s *recordingSubscriber) OnUpdate(name NodeName, data json.RawMessage, version Version) {
	s.updates <- data
}
func (s *recordingSubscriber) OnInvalidNodeSubscription(name NodeName) { s.failed <- "invalid" }
func (s *recordingSubscriber) OnUnauthorizedNodeSubscription(name NodeName) {
	s.failed <- "unauthorized"
}
func (s *recordingSubscriber) OnFailedNodeSubscription(name NodeName) { s.failed <- "failed" }

type fakeAdapter struct {
	authorize bool
	initial   json.RawMessage
}

func (a fakeAdapter) ValidateNode(ctx context.Context, name NodeName) (bool, error) { return true, nil }
func (a fakeAdapter) Authorize(ctx context.Context, sub Subscriber, name NodeName) (bool, error) {
	return a.authorize, nil
}
func (a fakeAdapter) NodeInit(ctx context.Context, name NodeName) (json.RawMessage, error) {
	if a.initial != nil {
		return a.initial, nil
	}
	return json.RawMessage(`{}`), nil
}

func newTestRoot(cfg Config, authorize bool) (*Root, *clock.Mock) {
	pool := worker.NewWorkerPool(2)
	pool.Start()
	clk := clock.NewMock()
	root := NewRoot(cfg, fakeAdapter{authorize: authorize, initial: json.RawMessage(`{"seed":true}`)}, pool, clk, nil)
	return root, clk
}

// erroringAdapter fails whichever hook is requested, so a caller can exercise
// the adapter-error paths that Root.Subscribe logs via logger.Errorf.
type erroringAdapter struct {
	failAuthorize, failValidate, failInit bool
}

func (a erroringAdapter) ValidateNode(ctx context.Context, name NodeName) (bool, error) {
	if a.failValidate {
		return false, errors.New("validate boom")
	}
	return true, nil
}
func (a erroringAdapter) Authorize(ctx context.Context, sub Subscriber, name NodeName) (bool, error) {
	if a.failAuthorize {
		return false, errors.New("authorize boom")
	}
	return true, nil
}
func (a erroringAdapter) NodeInit(ctx context.Context, name NodeName) (json.RawMessage, error) {
	if a.failInit {
		return nil, errors.New("init boom")
	}
	return json.RawMessage(`{}`), nil
}

// TestRootSubscribeAdapterErrorIsLoggedAndReportsFailed exercises the three
// adapter-error branches of Subscribe with a real logger wired in: the
// subscriber still gets OnFailedNodeSubscription, and the logger (not
// directly inspectable, since it writes straight to stderr) must not panic
// or otherwise interfere with that delivery.
func TestRootSubscribeAdapterErrorIsLoggedAndReportsFailed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AuthorizationRequired = true
	log := logger.New(logger.LevelError)

	for _, adapter := range []erroringAdapter{
		{failAuthorize: true},
		{failValidate: true},
		{failInit: true},
	} {
		pool := worker.NewWorkerPool(2)
		pool.Start()
		root := NewRoot(cfg, adapter, pool, clock.NewMock(), log)
		sub := newRecordingSubscriber()
		root.Subscribe(context.Background(), sub, NewNodeName(Key{Domain: "p1", Value: "feed"}))

		select {
		case reason := <-sub.failed:
			if reason != "failed" {
				t.Errorf("adapter %+v: expected OnFailedNodeSubscription, got %q", adapter, reason)
			}
		case <-time.After(time.Second):
			t.Fatalf("adapter %+v: timed out waiting for the failure callback", adapter)
		}
	}
}

func TestRootSubscribeDeliversInitialValue(t *testing.T) {
	root, _ := newTestRoot(DefaultConfig(), true)
	sub := newRecordingSubscriber()
	name := NewNodeName(k("p1", "feed"))

	root.Subscribe(context.Background(), sub, name)

	select {
	case data := <-sub.updates:
		if string(data) != `{"seed":true}` {
			t.Errorf("initial data = %s, want seed value", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial subscribe delivery")
	}
}

func TestRootSubscribeUnauthorizedReported(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AuthorizationRequired = true
	root, _ := newTestRoot(cfg, false)
	sub := newRecordingSubscriber()

	root.Subscribe(context.Background(), sub, NewNodeName(k("p1", "feed")))

	select {
	case reason := <-sub.failed:
		if reason != "unauthorized" {
			t.Errorf("expected unauthorized rejection, got %q", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for authorization rejection")
	}
}

func TestRootSubscribeIdempotentReplaysCurrentValue(t *testing.T) {
	root, _ := newTestRoot(DefaultConfig(), true)
	sub := newRecordingSubscriber()
	name := NewNodeName(k("p1", "feed"))

	root.Subscribe(context.Background(), sub, name)
	<-sub.updates

	root.Subscribe(context.Background(), sub, name)
	select {
	case data := <-sub.updates:
		if string(data) != `{"seed":true}` {
			t.Errorf("expected replayed current value, got %s", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for idempotent re-subscribe reply")
	}
}

func TestRootUpdateNodeNotifiesSubscribers(t *testing.T) {
	root, _ := newTestRoot(DefaultConfig(), true)
	sub := newRecordingSubscriber()
	name := NewNodeName(k("p1", "feed"))

	root.Subscribe(context.Background(), sub, name)
	<-sub.updates // initial value

	if err := root.UpdateNode(name, json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}

	select {
	case data := <-sub.updates:
		if string(data) != `{"n":1}` {
			t.Errorf("update payload = %s, want {\"n\":1}", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update notification")
	}
}

func TestRootUpdateNodeNoOpSkipsNotification(t *testing.T) {
	root, _ := newTestRoot(DefaultConfig(), true)
	name := NewNodeName(k("p1", "feed"))

	if err := root.UpdateNode(name, json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	before := root.Stats().Updates

	if err := root.UpdateNode(name, json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	if after := root.Stats().Updates; after != before {
		t.Errorf("expected a textually identical update not to bump the counter, got %d -> %d", before, after)
	}
}

func TestRootUnsubscribeStopsDelivery(t *testing.T) {
	root, _ := newTestRoot(DefaultConfig(), true)
	sub := newRecordingSubscriber()
	name := NewNodeName(k("p1", "feed"))

	root.Subscribe(context.Background(), sub, name)
	<-sub.updates

	if !root.Unsubscribe(sub, name) {
		t.Fatalf("expected Unsubscribe to report an existing subscription")
	}
	if root.Unsubscribe(sub, name) {
		t.Errorf("expected a second Unsubscribe to report nothing to remove")
	}

	if err := root.UpdateNode(name, json.RawMessage(`{"n":2}`)); err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	select {
	case data := <-sub.updates:
		t.Fatalf("unexpected delivery after unsubscribe: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRootUnsubscribeAllDetachesEveryNode(t *testing.T) {
	root, _ := newTestRoot(DefaultConfig(), true)
	sub := newRecordingSubscriber()
	a := NewNodeName(k("p1", "a"))
	b := NewNodeName(k("p1", "b"))

	root.Subscribe(context.Background(), sub, a)
	<-sub.updates
	root.Subscribe(context.Background(), sub, b)
	<-sub.updates

	root.UnsubscribeAll(sub)

	if root.Unsubscribe(sub, a) || root.Unsubscribe(sub, b) {
		t.Errorf("expected UnsubscribeAll to have already detached every node")
	}
}

func TestRootMinUpdatePeriodThrottlesBurstsToOneDeferredUpdate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinUpdatePeriod = time.Second
	root, clk := newTestRoot(cfg, true)
	sub := newRecordingSubscriber()
	name := NewNodeName(k("p1", "feed"))

	root.Subscribe(context.Background(), sub, name)
	<-sub.updates // initial value

	if err := root.UpdateNode(name, json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	select {
	case data := <-sub.updates:
		if string(data) != `{"n":1}` {
			t.Errorf("first update payload = %s", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out on first update, which should pass through immediately")
	}

	// These two arrive inside the throttle window; only the last should
	// eventually be delivered, once, after the period elapses.
	if err := root.UpdateNode(name, json.RawMessage(`{"n":2}`)); err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	if err := root.UpdateNode(name, json.RawMessage(`{"n":3}`)); err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}

	select {
	case data := <-sub.updates:
		t.Fatalf("expected throttled updates to be deferred, got early delivery: %s", data)
	case <-time.After(20 * time.Millisecond):
	}

	clk.Add(time.Second)

	select {
	case data := <-sub.updates:
		if string(data) != `{"n":3}` {
			t.Errorf("deferred update payload = %s, want the last coalesced value {\"n\":3}", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the deferred throttled update")
	}

	select {
	case data := <-sub.updates:
		t.Fatalf("expected exactly one deferred update, got an extra delivery: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRootNodeTimeoutRemovesUnsubscribedNode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeTimeout = time.Minute
	root, clk := newTestRoot(cfg, true)
	sub := newRecordingSubscriber()
	name := NewNodeName(k("p1", "feed"))

	root.Subscribe(context.Background(), sub, name)
	<-sub.updates
	if got := root.Stats().Nodes; got != 1 {
		t.Fatalf("expected one node to exist, got %d", got)
	}

	root.Unsubscribe(sub, name)
	clk.Add(time.Minute)

	if got := root.Stats().Nodes; got != 0 {
		t.Errorf("expected the node to be removed after NodeTimeout, got %d nodes", got)
	}
}

func TestRootStatsCountsNodesAndSubscribers(t *testing.T) {
	root, _ := newTestRoot(DefaultConfig(), true)
	subA := newRecordingSubscriber()
	subB := newRecordingSubscriber()
	name := NewNodeName(k("p1", "feed"))

	root.Subscribe(context.Background(), subA, name)
	<-subA.updates
	root.Subscribe(context.Background(), subB, name)
	<-subB.updates

	if err := root.UpdateNode(name, json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	<-subA.updates
	<-subB.updates

	stats := root.Stats()
	if stats.Nodes != 1 {
		t.Errorf("Nodes = %d, want 1", stats.Nodes)
	}
	if stats.Subscribers != 2 {
		t.Errorf("Subscribers = %d, want 2", stats.Subscribers)
	}
	if stats.Updates < 1 {
		t.Errorf("Updates = %d, want at least 1", stats.Updates)
	}
}
