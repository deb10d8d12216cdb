package bayeux

import (
	"encoding/json"
	"fmt"

	"github.com/torrox/siouxgo/session"
)

// inMessage is one element of an incoming Bayeux batch. The body of a
// request is either a single inMessage object or an array of them.
type inMessage struct {
	Channel                  string   `json:"channel"`
	Version                  string   `json:"version,omitempty"`
	SupportedConnectionTypes []string `json:"supportedConnectionTypes,omitempty"`
	ID                       string   `json:"id,omitempty"`
	ClientID                 string   `json:"clientId,omitempty"`
	Subscription             string   `json:"subscription,omitempty"`
	ConnectionType           string   `json:"connectionType,omitempty"`
}

// advice is the standard Bayeux advice block, telling the client how to
// behave after this response.
type advice struct {
	Reconnect string `json:"reconnect,omitempty"`
	Interval  int    `json:"interval,omitempty"`
}

// outMessage is one element of the reply batch. Not every field applies to
// every channel; omitempty keeps each rendered message minimal, matching
// the envelope table for each event kind.
type outMessage struct {
	Channel                  string          `json:"channel"`
	Successful               *bool           `json:"successful,omitempty"`
	Error                    string          `json:"error,omitempty"`
	ClientID                 string          `json:"clientId,omitempty"`
	ID                       string          `json:"id,omitempty"`
	Subscription             string          `json:"subscription,omitempty"`
	Data                     json.RawMessage `json:"data,omitempty"`
	Version                  string          `json:"version,omitempty"`
	SupportedConnectionTypes []string        `json:"supportedConnectionTypes,omitempty"`
	Advice                   *advice         `json:"advice,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// parseBatch accepts either a single JSON object or a JSON array of objects
// and normalizes it to a slice, per the Bayeux transport's "a JSON body that
// is either an object with a channel field or an array thereof" framing.
func parseBatch(body []byte) ([]inMessage, error) {
	trimmed := firstNonSpace(body)
	if trimmed == '[' {
		var msgs []inMessage
		if err := json.Unmarshal(body, &msgs); err != nil {
			return nil, fmt.Errorf("bayeux: decode batch: %w", err)
		}
		return msgs, nil
	}
	var msg inMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("bayeux: decode message: %w", err)
	}
	return []inMessage{msg}, nil
}

func firstNonSpace(body []byte) byte {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b
		}
	}
	return 0
}

// renderEvent turns a protocol-neutral session.Event into its Bayeux
// envelope, per the "message envelope produced by the session" table.
func renderEvent(ev session.Event) outMessage {
	channel := ChannelFromNodeName(ev.Node)
	switch ev.Kind {
	case session.SubscribeOK:
		return outMessage{Channel: "/meta/subscribe", Successful: boolPtr(true), Subscription: channel, ID: ev.EchoID}
	case session.SubscribeFailed:
		return outMessage{Channel: "/meta/subscribe", Successful: boolPtr(false), Subscription: channel, Error: ev.Err, ID: ev.EchoID}
	case session.UnsubscribeOK:
		return outMessage{Channel: "/meta/unsubscribe", Successful: boolPtr(true), Subscription: channel, ID: ev.EchoID}
	case session.UnsubscribeFailed:
		return outMessage{Channel: "/meta/unsubscribe", Successful: boolPtr(false), Subscription: channel, Error: ev.Err, ID: ev.EchoID}
	case session.Data:
		return outMessage{Channel: channel, Data: ev.Data, Version: ev.Version.String(), ID: ev.EchoID}
	default:
		return outMessage{Channel: channel}
	}
}
