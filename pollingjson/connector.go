package pollingjson

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/torrox/siouxgo/session"
)

// Connector is an http.Handler implementing the polling-JSON transport. It
// shares session.Registry (and transitively pubsub.Root) with any
// bayeux.Connector mounted alongside it; only the wire envelope differs.
type Connector struct {
	registry *session.Registry
}

// NewConnector builds a Connector serving sessions out of registry.
func NewConnector(registry *session.Registry) *Connector {
	return &Connector{registry: registry}
}

// ServeHTTP implements http.Handler.
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
	var req inRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "malformed polling request", http.StatusBadRequest)
			return
		}
	}

	sess := c.resolveSession(req.SessionID)

	didRequestChange := false
	if len(req.Subscribe) > 0 {
		names, err := parseNodeList(req.Subscribe)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, name := range names {
			sess.Subscribe(r.Context(), name, "")
		}
		didRequestChange = true
	}
	if len(req.Unsubscribe) > 0 {
		names, err := parseNodeList(req.Unsubscribe)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, name := range names {
			sess.Unsubscribe(name, "")
		}
		didRequestChange = true
	}

	var events []session.Event
	if didRequestChange {
		// A subscribe/unsubscribe request reports whatever is already
		// queued but never parks — only a bare poll (no subscribe or
		// unsubscribe field) waits for new data.
		events = sess.Events()
	} else {
		responder := newChanResponder()
		ev, parked := sess.WaitForEvents(r.Context(), responder)
		if parked {
			events = responder.wait()
		} else {
			events = ev
		}
	}

	c.registry.IdleSession(sess)
	writeJSON(w, renderResponse(sess.ID(), events))
}

func (c *Connector) resolveSession(id string) *session.Session {
	if id != "" {
		if sess, ok := c.registry.FindSession(id); ok {
			return sess
		}
	}
	return c.registry.NewSession()
}

func renderResponse(sessionID string, events []session.Event) outResponse {
	resp := outResponse{SessionID: sessionID}
	for _, ev := range events {
		switch ev.Kind {
		case session.Data:
			resp.Data = append(resp.Data, dataEntry{
				Node:    nodeObjectRaw(ev.Node),
				Data:    ev.Data,
				Version: ev.Version.String(),
			})
		case session.SubscribeFailed:
			if resp.Error == nil {
				resp.Error = &errorBody{Code: 403, Text: ev.Err}
			}
		case session.UnsubscribeFailed:
			if resp.Error == nil {
				resp.Error = &errorBody{Code: 404, Text: ev.Err}
			}
		case session.SubscribeOK, session.UnsubscribeOK:
			// Success is implied by the absence of an error; no separate
			// acknowledgement exists in this envelope.
		}
	}
	if resp.Error == nil && len(resp.Data) == 0 {
		resp.Connection = "idle"
	}
	return resp
}

// chanResponder bridges session.Responder's callback style to a blocking
// net/http handler goroutine, the same pattern bayeux.Connector uses.
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

func writeJSON(w http.ResponseWriter, resp outResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
