package bayeux

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/torrox/siouxgo/clock"
	"github.com/torrox/siouxgo/pubsub"
	"github.com/torrox/siouxgo/session"
	"github.com/torrox/siouxgo/sessionid"
	"github.com/torrox/siouxgo/worker"
)

type fakeAdapter struct{}

func (fakeAdapter) ValidateNode(ctx context.Context, name pubsub.NodeName) (bool, error) {
	return true, nil
}
func (fakeAdapter) Authorize(ctx context.Context, sub pubsub.Subscriber, name pubsub.NodeName) (bool, error) {
	return true, nil
}
func (fakeAdapter) NodeInit(ctx context.Context, name pubsub.NodeName) (json.RawMessage, error) {
	return json.RawMessage(`{"seed":true}`), nil
}

func newTestConnector(t *testing.T) (*Connector, *pubsub.Root, *clock.Mock) {
	t.Helper()
	pool := worker.NewWorkerPool(4)
	pool.Start()
	t.Cleanup(pool.Stop)

	clk := clock.NewMock()
	root := pubsub.NewRoot(pubsub.DefaultConfig(), fakeAdapter{}, pool, clk, nil)
	registry := session.NewRegistry(session.Config{
		SessionTimeout:           time.Minute,
		LongPollTimeout:          10 * time.Second,
		MaxMessagesPerClient:     100,
		MaxMessageBytesPerClient: 1 << 16,
		ReconnectAdvice:          session.AdviceRetry,
	}, root, clk, sessionid.NewFakeGenerator("client-1", "client-2", "client-3"))
	conn := NewConnector(registry, ReconnectAdviceConfig{Reconnect: session.AdviceRetry, Interval: 0})
	return conn, root, clk
}

func post(t *testing.T, conn *Connector, body string) []outMessage {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/bayeux", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	conn.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out []outMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v, body = %s", err, rec.Body.String())
	}
	return out
}

// TestHandshakeSubscribeConnect exercises scenario S1: after a separate
// handshake request, a batch containing subscribe and connect (connect last
// in the batch, the node already seeded) yields a single ordered reply.
func TestHandshakeSubscribeConnect(t *testing.T) {
	conn, root, _ := newTestConnector(t)

	hs := post(t, conn, `{"channel":"/meta/handshake","version":"1.0","supportedConnectionTypes":["long-polling"],"id":"1"}`)
	if len(hs) != 1 || hs[0].Successful == nil || !*hs[0].Successful {
		t.Fatalf("handshake failed: %+v", hs)
	}
	clientID := hs[0].ClientID
	if clientID == "" {
		t.Fatal("handshake did not return a clientId")
	}

	if err := root.UpdateNode(pubsub.NewNodeName(pubsub.Key{Domain: "p1", Value: "feed"}), json.RawMessage(`{"v":1}`)); err != nil {
		t.Fatalf("seed update: %v", err)
	}

	batch := `[
		{"channel":"/meta/subscribe","clientId":"` + clientID + `","subscription":"/feed","id":"2"},
		{"channel":"/meta/connect","clientId":"` + clientID + `","connectionType":"long-polling","id":"3"}
	]`
	out := post(t, conn, batch)

	if len(out) < 2 {
		t.Fatalf("expected subscribe-ack/data followed by connect-ok, got %+v", out)
	}
	last := out[len(out)-1]
	if last.Channel != "/meta/connect" || last.Successful == nil || !*last.Successful {
		t.Fatalf("final message should be connect-ok, got %+v", last)
	}
	sawSubscribeOK := false
	for _, m := range out[:len(out)-1] {
		if m.Channel == "/meta/subscribe" && m.Successful != nil && *m.Successful {
			sawSubscribeOK = true
		}
	}
	if !sawSubscribeOK {
		t.Fatalf("expected a subscribe-ok before connect-ok, got %+v", out)
	}
}

// TestConnectUnknownClientID covers S4: an unrecognized clientId on
// /meta/connect is rejected immediately with no parking.
func TestConnectUnknownClientID(t *testing.T) {
	conn, _, _ := newTestConnector(t)
	out := post(t, conn, `{"channel":"/meta/connect","clientId":"does-not-exist","connectionType":"long-polling","id":"1"}`)
	if len(out) != 1 || out[0].Successful == nil || *out[0].Successful {
		t.Fatalf("expected a single failure reply, got %+v", out)
	}
	if out[0].ClientID != "does-not-exist" {
		t.Fatalf("expected echoed clientId, got %+v", out[0])
	}
}

// TestConnectUnsupportedConnectionType rejects anything but long-polling.
func TestConnectUnsupportedConnectionType(t *testing.T) {
	conn, _, _ := newTestConnector(t)
	hs := post(t, conn, `{"channel":"/meta/handshake","id":"1"}`)
	clientID := hs[0].ClientID

	out := post(t, conn, `{"channel":"/meta/connect","clientId":"`+clientID+`","connectionType":"callback-polling","id":"2"}`)
	if len(out) != 1 || out[0].Successful == nil || *out[0].Successful || out[0].Error != "unsupported connection type" {
		t.Fatalf("expected unsupported-connection-type failure, got %+v", out)
	}
}

// TestLongPollTimesOutEmpty covers property 6: a parked connect with no
// traffic completes with an empty batch once LongPollTimeout elapses.
func TestLongPollTimesOutEmpty(t *testing.T) {
	conn, _, clk := newTestConnector(t)
	hs := post(t, conn, `{"channel":"/meta/handshake","id":"1"}`)
	clientID := hs[0].ClientID

	done := make(chan []outMessage, 1)
	go func() {
		done <- post(t, conn, `{"channel":"/meta/connect","clientId":"`+clientID+`","connectionType":"long-polling","id":"2"}`)
	}()

	// Give the connect handler a moment to park before advancing the clock.
	time.Sleep(20 * time.Millisecond)
	clk.Add(10 * time.Second)

	select {
	case out := <-done:
		if len(out) != 1 || out[0].Channel != "/meta/connect" || out[0].Successful == nil || !*out[0].Successful {
			t.Fatalf("expected a lone connect-ok after timeout, got %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connect never completed after long-poll timeout")
	}
}

// TestUnsubscribeWhileSubscribePending covers scenario S3: unsubscribing a
// node whose subscribe ack has not yet arrived still yields
// [subscribe-ok, unsubscribe-ok] and no stray data event.
func TestUnsubscribeWhileSubscribePending(t *testing.T) {
	conn, _, _ := newTestConnector(t)
	hs := post(t, conn, `{"channel":"/meta/handshake","id":"1"}`)
	clientID := hs[0].ClientID

	batch := `[
		{"channel":"/meta/subscribe","clientId":"` + clientID + `","subscription":"/feed","id":"2"},
		{"channel":"/meta/unsubscribe","clientId":"` + clientID + `","subscription":"/feed","id":"3"},
		{"channel":"/meta/connect","clientId":"` + clientID + `","connectionType":"long-polling","id":"4"}
	]`
	out := post(t, conn, batch)

	var kinds []string
	for _, m := range out {
		kinds = append(kinds, m.Channel)
	}
	if len(out) < 3 {
		t.Fatalf("expected subscribe-ok, unsubscribe-ok, connect-ok, got %+v", kinds)
	}
	if out[0].Channel != "/meta/subscribe" || out[0].Successful == nil || !*out[0].Successful {
		t.Fatalf("expected subscribe-ok first, got %+v", out[0])
	}
	if out[1].Channel != "/meta/unsubscribe" || out[1].Successful == nil || !*out[1].Successful {
		t.Fatalf("expected unsubscribe-ok second, got %+v", out[1])
	}
	for _, m := range out[:len(out)-1] {
		if m.Channel == "/feed" {
			t.Fatalf("unexpected stray data event for /feed: %+v", out)
		}
	}
}

// TestChannelNodeNameRoundTrip is testable property 1: converting a channel
// to a NodeName and back yields the original channel.
func TestChannelNodeNameRoundTrip(t *testing.T) {
	channels := []string{"/", "/a", "/a/b", "/a/b/c"}
	for _, ch := range channels {
		name, ok := NodeNameFromChannel(ch)
		if !ok {
			t.Fatalf("NodeNameFromChannel(%q) rejected", ch)
		}
		if got := ChannelFromNodeName(name); got != ch {
			t.Errorf("round-trip %q -> %q", ch, got)
		}
	}
}
