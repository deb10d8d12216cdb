package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/torrox/siouxgo/clock"
	"github.com/torrox/siouxgo/pubsub"
)

// ReconnectAdvice is the value a protocol connector returns to a client in
// its advice block, telling it how to behave after this response.
type ReconnectAdvice string

const (
	AdviceRetry     ReconnectAdvice = "retry"
	AdviceHandshake ReconnectAdvice = "handshake"
	AdviceNone      ReconnectAdvice = "none"
)

// Config holds a session's immutable, construction-time parameters.
type Config struct {
	// SessionTimeout is how long an idle session may sit in the registry
	// before it is reaped.
	SessionTimeout time.Duration

	// LongPollTimeout bounds how long a parked responder may wait before
	// being completed with an empty batch.
	LongPollTimeout time.Duration

	// MaxMessagesPerClient caps the number of queued messages; 0 means no
	// messages are retained in the queue (see Session.appendLocked).
	MaxMessagesPerClient int

	// MaxMessageBytesPerClient caps the serialized size of queued
	// messages.
	MaxMessageBytesPerClient int

	// ReconnectAdvice is surfaced to protocol connectors for their advice
	// block.
	ReconnectAdvice ReconnectAdvice
}

// Responder is an HTTP response currently suspended on WaitForEvents, or
// about to be. Deliver completes it with a batch (possibly empty);
// SecondConnectionDetected notifies it that a newer request from the same
// client has displaced it, so its own response should complete immediately
// with an empty batch. Both are called with no Session lock held.
type Responder interface {
	Deliver(events []Event)
	SecondConnectionDetected()
}

type parkedResponder struct {
	responder Responder
	timer     clock.Timer
}

// Session is the per-client state shared by every long-poll protocol
// connector: a bounded outbound queue, at most one parked Responder, and
// the set of nodes currently subscribed to. A Session implements
// pubsub.Subscriber and is handed to pubsub.Root.Subscribe as the callback
// target for every node it joins.
type Session struct {
	id   string
	cfg  Config
	clk  clock.Clock
	root *pubsub.Root

	mu                sync.Mutex
	subscriptions     map[string]pubsub.NodeName
	pendingSubscribes map[string]string // node key -> echo id
	pending           []Event
	pendingBytes      int
	parked            *parkedResponder
}

// New constructs an empty Session with no subscriptions and no pending
// messages.
func New(id string, cfg Config, root *pubsub.Root, clk clock.Clock) *Session {
	return &Session{
		id:                id,
		cfg:               cfg,
		clk:               clk,
		root:              root,
		subscriptions:     make(map[string]pubsub.NodeName),
		pendingSubscribes: make(map[string]string),
	}
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// LongPollingTimeout returns the configured parking timeout.
func (s *Session) LongPollingTimeout() time.Duration { return s.cfg.LongPollTimeout }

// Events returns and clears the current pending queue without blocking.
func (s *Session) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drainLocked()
}

func (s *Session) drainLocked() []Event {
	ev := s.pending
	s.pending = nil
	s.pendingBytes = 0
	return ev
}

// WaitForEvents returns the pending queue immediately if non-empty. Only
// otherwise does it park responder: any previously parked responder is
// displaced and told via SecondConnectionDetected so its own HTTP response
// can complete with an empty batch. A long-poll timer is armed so the newly
// parked responder is itself completed with an empty batch after
// LongPollTimeout if nothing arrives first. ctx is the originating request's
// context: if it is done before anything else completes the park (new data,
// displacement, or timeout), responder is completed with an empty batch
// immediately, so a client disconnect unparks its responder promptly instead
// of leaking it until the next of those three events.
func (s *Session) WaitForEvents(ctx context.Context, responder Responder) (events []Event, parked bool) {
	s.mu.Lock()
	if len(s.pending) > 0 {
		ev := s.drainLocked()
		s.mu.Unlock()
		return ev, false
	}

	prev := s.parked
	var timer clock.Timer
	if s.cfg.LongPollTimeout > 0 {
		timer = s.clk.AfterFunc(s.cfg.LongPollTimeout, s.Hurry)
	}
	pr := &parkedResponder{responder: responder, timer: timer}
	s.parked = pr
	s.mu.Unlock()

	if prev != nil {
		if prev.timer != nil {
			prev.timer.Stop()
		}
		prev.responder.SecondConnectionDetected()
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			s.cancelParked(pr)
		}()
	}
	return nil, true
}

// cancelParked completes pr with an empty batch if it is still the
// currently parked responder — a no-op if it was already displaced,
// delivered to, or timed out first.
func (s *Session) cancelParked(pr *parkedResponder) {
	s.mu.Lock()
	if s.parked != pr {
		s.mu.Unlock()
		return
	}
	s.parked = nil
	s.mu.Unlock()
	if pr.timer != nil {
		pr.timer.Stop()
	}
	pr.responder.Deliver(nil)
}

// Hurry completes any parked responder immediately with an empty batch.
// Hurry and Timeout are equivalent; Hurry is also what the long-poll timer
// itself calls.
func (s *Session) Hurry() {
	s.mu.Lock()
	p := s.parked
	s.parked = nil
	s.mu.Unlock()
	if p == nil {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.responder.Deliver(nil)
}

// Timeout is an alias for Hurry.
func (s *Session) Timeout() { s.Hurry() }

// Close unsubscribes from every node and drops any parked responder without
// delivering to it.
func (s *Session) Close() {
	s.root.UnsubscribeAll(s)
	s.mu.Lock()
	p := s.parked
	s.parked = nil
	s.mu.Unlock()
	if p != nil && p.timer != nil {
		p.timer.Stop()
	}
}

// ShutDown behaves like Close but first flushes any pending messages to a
// parked responder instead of discarding them.
func (s *Session) ShutDown() {
	s.root.UnsubscribeAll(s)
	s.mu.Lock()
	p := s.parked
	s.parked = nil
	ev := s.drainLocked()
	s.mu.Unlock()
	if p != nil {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.responder.Deliver(ev)
	}
}

// Subscribe records a pending subscribe acknowledgement for name (carrying
// echoID for response correlation, which may be empty) and asks root to
// attach this session as a subscriber. The eventual outcome arrives through
// one of the pubsub.Subscriber callbacks below.
func (s *Session) Subscribe(ctx context.Context, name pubsub.NodeName, echoID string) {
	key := name.Key()
	s.mu.Lock()
	s.subscriptions[key] = name
	s.pendingSubscribes[key] = echoID
	s.mu.Unlock()

	s.root.Subscribe(ctx, s, name)
}

// Unsubscribe detaches this session from name and queues an
// unsubscribe-ok/unsubscribe-fail Event. If a subscribe for the same node
// was still awaiting its root callback, its acknowledgement is synthesized
// immediately and flushed together with the unsubscribe result in the same
// batch — any OnUpdate that the in-flight subscribe eventually produces is
// then dropped, since this session already removed name from its
// subscriptions.
func (s *Session) Unsubscribe(name pubsub.NodeName, echoID string) {
	key := name.Key()

	s.mu.Lock()
	_, wasSubscribed := s.subscriptions[key]
	delete(s.subscriptions, key)
	var toQueue []Event
	if pendingEcho, stillPending := s.pendingSubscribes[key]; stillPending {
		delete(s.pendingSubscribes, key)
		toQueue = append(toQueue, Event{Kind: SubscribeOK, Node: name, EchoID: pendingEcho})
	}
	s.mu.Unlock()

	existed := s.root.Unsubscribe(s, name)

	s.mu.Lock()
	if existed || wasSubscribed {
		toQueue = append(toQueue, Event{Kind: UnsubscribeOK, Node: name, EchoID: echoID})
	} else {
		toQueue = append(toQueue, Event{Kind: UnsubscribeFailed, Node: name, EchoID: echoID, Err: "not subscribed"})
	}
	s.deliverOrQueueLocked(toQueue)
	s.mu.Unlock()
	s.flushIfParked()
}

// OnUpdate implements pubsub.Subscriber. It merges any outstanding
// subscribe acknowledgement for name with the delivered value (per the
// "subscribe+update merge" rule) and drops the callback entirely if this
// session is no longer subscribed to name — the benign race that results
// from an Unsubscribe overtaking an in-flight Subscribe.
func (s *Session) OnUpdate(name pubsub.NodeName, data json.RawMessage, version pubsub.Version) {
	key := name.Key()
	s.mu.Lock()
	if _, stillSubscribed := s.subscriptions[key]; !stillSubscribed {
		s.mu.Unlock()
		return
	}
	var toQueue []Event
	if echoID, pending := s.pendingSubscribes[key]; pending {
		delete(s.pendingSubscribes, key)
		toQueue = append(toQueue, Event{Kind: SubscribeOK, Node: name, EchoID: echoID})
	}
	toQueue = append(toQueue, Event{Kind: Data, Node: name, Data: data, Version: version})
	s.deliverOrQueueLocked(toQueue)
	s.mu.Unlock()
	s.flushIfParked()
}

// OnInvalidNodeSubscription implements pubsub.Subscriber.
func (s *Session) OnInvalidNodeSubscription(name pubsub.NodeName) {
	s.subscribeFailed(name, "invalid subscription")
}

// OnUnauthorizedNodeSubscription implements pubsub.Subscriber.
func (s *Session) OnUnauthorizedNodeSubscription(name pubsub.NodeName) {
	s.subscribeFailed(name, "authorization failed")
}

// OnFailedNodeSubscription implements pubsub.Subscriber.
func (s *Session) OnFailedNodeSubscription(name pubsub.NodeName) {
	s.subscribeFailed(name, "initialization failed")
}

func (s *Session) subscribeFailed(name pubsub.NodeName, reason string) {
	key := name.Key()
	s.mu.Lock()
	if _, stillSubscribed := s.subscriptions[key]; !stillSubscribed {
		s.mu.Unlock()
		return
	}
	delete(s.subscriptions, key)
	echoID := s.pendingSubscribes[key]
	delete(s.pendingSubscribes, key)
	s.deliverOrQueueLocked([]Event{{Kind: SubscribeFailed, Node: name, EchoID: echoID, Err: reason}})
	s.mu.Unlock()
	s.flushIfParked()
}

// deliverOrQueueLocked must be called with mu held. If a responder is
// parked it hands the events directly to it (outside the cap-enforcing
// queue, matching the "max_messages_per_client(0) still delivers live
// updates" decision recorded in DESIGN.md); otherwise it appends to the
// bounded pending queue, dropping the oldest entries first on overflow.
// The actual Responder.Deliver call happens later, in flushIfParked, once
// mu is released — deliverOrQueueLocked only decides and clears s.parked.
func (s *Session) deliverOrQueueLocked(events []Event) {
	if s.parked != nil {
		// A responder is waiting: events bypass the cap-enforcing queue
		// entirely and sit in pending only until flushIfParked drains them
		// a moment later, outside the lock.
		s.pending = append(s.pending, events...)
		return
	}
	for _, e := range events {
		s.appendLocked(e)
	}
}

// flushIfParked delivers any events handed off by deliverOrQueueLocked to a
// parked responder. It must be called right after releasing mu, and is a
// no-op unless WaitForEvents had a responder parked with nothing queued.
func (s *Session) flushIfParked() {
	s.mu.Lock()
	p := s.parked
	if p == nil {
		s.mu.Unlock()
		return
	}
	ev := s.drainLocked()
	s.parked = nil
	s.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.responder.Deliver(ev)
}

func (s *Session) appendLocked(e Event) {
	if s.cfg.MaxMessagesPerClient == 0 {
		return
	}
	s.pending = append(s.pending, e)
	s.pendingBytes += e.size()
	for (s.cfg.MaxMessagesPerClient > 0 && len(s.pending) > s.cfg.MaxMessagesPerClient) ||
		(s.cfg.MaxMessageBytesPerClient > 0 && s.pendingBytes > s.cfg.MaxMessageBytesPerClient) {
		if len(s.pending) == 0 {
			break
		}
		s.pendingBytes -= s.pending[0].size()
		s.pending = s.pending[1:]
	}
}
