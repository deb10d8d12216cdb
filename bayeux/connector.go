package bayeux

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/torrox/siouxgo/session"
)

// Connector is an http.Handler implementing the Bayeux long-polling
// transport over a shared session.Registry. It is meant to be mounted at a
// fixed path (e.g. "/bayeux") by an embedding application; Connector itself
// owns no listener.
type Connector struct {
	registry *session.Registry
	advice   ReconnectAdviceConfig
}

// ReconnectAdviceConfig controls the advice block attached to every
// /meta/connect reply.
type ReconnectAdviceConfig struct {
	Reconnect session.ReconnectAdvice
	Interval  int
}

// NewConnector builds a Connector serving sessions out of registry.
func NewConnector(registry *session.Registry, advice ReconnectAdviceConfig) *Connector {
	return &Connector{registry: registry, advice: advice}
}

func (c *Connector) adviceBlock() *advice {
	if c.advice.Reconnect == "" {
		return nil
	}
	return &advice{Reconnect: string(c.advice.Reconnect), Interval: c.advice.Interval}
}

// ServeHTTP implements http.Handler. The request body is a single Bayeux
// message or a JSON array of them; messages addressing the same session are
// processed in order and their replies concatenated into one JSON array
// response, per the batch-processing rule.
func (c *Connector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "error reading request body", http.StatusBadRequest)
		return
	}
	msgs, err := parseBatch(body)
	if err != nil {
		http.Error(w, "malformed bayeux request", http.StatusBadRequest)
		return
	}

	var replies []outMessage
	touched := map[string]*session.Session{}
	for i, msg := range msgs {
		isLast := i == len(msgs)-1
		out, sess := c.dispatch(r.Context(), msg, isLast)
		replies = append(replies, out...)
		if sess != nil {
			touched[sess.ID()] = sess
		}
	}
	for _, sess := range touched {
		c.registry.IdleSession(sess)
	}

	writeJSON(w, replies)
}

func (c *Connector) dispatch(ctx context.Context, msg inMessage, isLast bool) ([]outMessage, *session.Session) {
	switch msg.Channel {
	case "/meta/handshake":
		return c.handleHandshake(msg)
	case "/meta/connect":
		return c.handleConnect(ctx, msg, isLast)
	case "/meta/disconnect":
		return c.handleDisconnect(msg)
	case "/meta/subscribe":
		return c.handleSubscribe(ctx, msg)
	case "/meta/unsubscribe":
		return c.handleUnsubscribe(msg)
	default:
		return []outMessage{{Channel: msg.Channel, Successful: boolPtr(false), Error: "unknown channel", ID: msg.ID}}, nil
	}
}

func (c *Connector) handleHandshake(msg inMessage) ([]outMessage, *session.Session) {
	sess := c.registry.NewSession()
	reply := outMessage{
		Channel:                  "/meta/handshake",
		Successful:               boolPtr(true),
		ClientID:                 sess.ID(),
		Version:                  "1.0",
		SupportedConnectionTypes: []string{"long-polling"},
		ID:                       msg.ID,
	}
	return []outMessage{reply}, sess
}

func (c *Connector) handleDisconnect(msg inMessage) ([]outMessage, *session.Session) {
	sess, ok := c.registry.FindSession(msg.ClientID)
	if !ok {
		return []outMessage{{Channel: "/meta/disconnect", Successful: boolPtr(false), Error: "invalid clientId", ClientID: msg.ClientID, ID: msg.ID}}, nil
	}
	return []outMessage{{Channel: "/meta/disconnect", Successful: boolPtr(true), ClientID: sess.ID(), ID: msg.ID}}, sess
}

func (c *Connector) handleSubscribe(ctx context.Context, msg inMessage) ([]outMessage, *session.Session) {
	sess, ok := c.registry.FindSession(msg.ClientID)
	if !ok {
		return []outMessage{{Channel: "/meta/subscribe", Successful: boolPtr(false), Error: "invalid clientId", ClientID: msg.ClientID, Subscription: msg.Subscription, ID: msg.ID}}, nil
	}
	if msg.Subscription == "" {
		return []outMessage{{Channel: "/meta/subscribe", Successful: boolPtr(false), Error: "invalid clientId", ClientID: msg.ClientID, ID: msg.ID}}, sess
	}
	name, ok := NodeNameFromChannel(msg.Subscription)
	if !ok {
		return []outMessage{{Channel: "/meta/subscribe", Successful: boolPtr(false), Error: "invalid subscription", Subscription: msg.Subscription, ID: msg.ID}}, sess
	}
	sess.Subscribe(ctx, name, msg.ID)
	return nil, sess
}

func (c *Connector) handleUnsubscribe(msg inMessage) ([]outMessage, *session.Session) {
	sess, ok := c.registry.FindSession(msg.ClientID)
	if !ok {
		return []outMessage{{Channel: "/meta/unsubscribe", Successful: boolPtr(false), Error: "invalid clientId", ClientID: msg.ClientID, Subscription: msg.Subscription, ID: msg.ID}}, nil
	}
	if msg.Subscription == "" {
		return []outMessage{{Channel: "/meta/unsubscribe", Successful: boolPtr(false), Error: "invalid clientId", ClientID: msg.ClientID, ID: msg.ID}}, sess
	}
	name, ok := NodeNameFromChannel(msg.Subscription)
	if !ok {
		return []outMessage{{Channel: "/meta/unsubscribe", Successful: boolPtr(false), Error: "invalid subscription", Subscription: msg.Subscription, ID: msg.ID}}, sess
	}
	sess.Unsubscribe(name, msg.ID)
	return nil, sess
}

func (c *Connector) handleConnect(ctx context.Context, msg inMessage, isLast bool) ([]outMessage, *session.Session) {
	if parseConnectionType(msg.ConnectionType) != ConnectionLongPolling {
		return []outMessage{{Channel: "/meta/connect", Successful: boolPtr(false), Error: "unsupported connection type", ClientID: msg.ClientID, ID: msg.ID}}, nil
	}
	sess, ok := c.registry.FindSession(msg.ClientID)
	if !ok {
		return []outMessage{{Channel: "/meta/connect", Successful: boolPtr(false), Error: "invalid clientId", ClientID: msg.ClientID, ID: msg.ID}}, nil
	}

	var events []session.Event
	if isLast {
		responder := newChanResponder()
		ev, parked := sess.WaitForEvents(ctx, responder)
		if parked {
			events = responder.wait()
		} else {
			events = ev
		}
	} else {
		// Only the final /meta/connect in a batch may park; an earlier one
		// just reports whatever is already queued.
		events = sess.Events()
	}

	replies := make([]outMessage, 0, len(events)+1)
	for _, ev := range events {
		replies = append(replies, renderEvent(ev))
	}
	replies = append(replies, outMessage{
		Channel:    "/meta/connect",
		Successful: boolPtr(true),
		ClientID:   sess.ID(),
		ID:         msg.ID,
		Advice:     c.adviceBlock(),
	})
	return replies, sess
}

// chanResponder bridges session.Responder's callback style to the
// synchronous, blocking style a net/http handler goroutine wants: the
// goroutine parks on wait() until Deliver or SecondConnectionDetected
// (which delivers nil) sends to ch.
type chanResponder struct {
	ch   chan []session.Event
	once sync.Once
}

func newChanResponder() *chanResponder {
	return &chanResponder{ch: make(chan []session.Event, 1)}
}

func (r *chanResponder) Deliver(events []session.Event) {
	r.once.Do(func() { r.ch <- events })
}

func (r *chanResponder) SecondConnectionDetected() {
	r.once.Do(func() { r.ch <- nil })
}

func (r *chanResponder) wait() []session.Event {
	return <-r.ch
}

// writeJSON renders replies as a JSON array and writes it with an explicit
// Content-Length, matching the transport's "HTTP/1.1 200 OK, Content-Type:
// application/json, Content-Length: N" response framing.
func writeJSON(w http.ResponseWriter, replies []outMessage) {
	if replies == nil {
		replies = []outMessage{}
	}
	body, err := json.Marshal(replies)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
