// Package pollingjson implements the bespoke long-polling wire protocol: a
// flatter alternative to Bayeux with no /meta/* channels, sharing the same
// session.Session/session.Registry/pubsub.Root machinery as package bayeux.
package pollingjson

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/torrox/siouxgo/pubsub"
)

// inRequest is the request body. At most one of Subscribe/Unsubscribe is
// normally present; a request with neither is a plain poll for new data.
type inRequest struct {
	Subscribe   json.RawMessage `json:"subscribe,omitempty"`
	Unsubscribe json.RawMessage `json:"unsubscribe,omitempty"`
	SessionID   string          `json:"SIOUXID,omitempty"`
}

// errorBody is the "error" envelope field.
type errorBody struct {
	Code int    `json:"code"`
	Text string `json:"text"`
}

// dataEntry is one element of the "data" response array. Node identifies
// which subscription the value belongs to — a supplement over the minimal
// wire doc, needed once a session holds more than one subscription.
type dataEntry struct {
	Node    json.RawMessage `json:"node"`
	Data    json.RawMessage `json:"data,omitempty"`
	Update  json.RawMessage `json:"update,omitempty"`
	Version string          `json:"version"`
}

// outResponse is the full response body. Connection is "idle" when a poll
// completed with nothing new.
type outResponse struct {
	Error      *errorBody  `json:"error,omitempty"`
	Data       []dataEntry `json:"data,omitempty"`
	Connection string      `json:"connection,omitempty"`
	SessionID  string      `json:"SIOUXID"`
}

// nodeObject is the wire form of a node: a flat JSON object whose field
// names become key domains and whose values become key values. Key.Value
// is always a plain string, so a field's JSON scalar is decoded to its
// semantic text on the way in (a string loses its quotes, a number or
// boolean is rendered as its literal text) and re-quoted as a JSON string
// on the way out — this is the same domain/value identity
// bayeux.NodeNameFromChannel and any directly-constructed pubsub.Key use,
// so a node addressed through either protocol names the same entry in the
// shared pubsub.Root. Domains are ordered by plain string sort, so an
// object with domains past p9 ("p10" sorts before "p2") names a different
// entry than the Bayeux channel with the same segments.
type nodeObject map[string]json.RawMessage

func nodeNameFromObject(obj nodeObject) (pubsub.NodeName, error) {
	domains := make([]string, 0, len(obj))
	for d := range obj {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	keys := make([]pubsub.Key, len(domains))
	for i, d := range domains {
		value, err := scalarToString(obj[d])
		if err != nil {
			return pubsub.NodeName{}, fmt.Errorf("pollingjson: decode field %q: %w", d, err)
		}
		keys[i] = pubsub.Key{Domain: pubsub.KeyDomain(d), Value: value}
	}
	return pubsub.NewNodeName(keys...), nil
}

func nodeObjectFromName(name pubsub.NodeName) nodeObject {
	obj := make(nodeObject, name.Len())
	for _, k := range name.Keys() {
		raw, err := json.Marshal(k.Value)
		if err != nil {
			raw = []byte(`""`)
		}
		obj[string(k.Domain)] = raw
	}
	return obj
}

// scalarToString decodes a JSON scalar (string, number, bool or null) into
// its plain-text value: a JSON string loses its surrounding quotes, any
// other scalar is rendered as its literal text.
func scalarToString(raw json.RawMessage) (string, error) {
	if firstNonSpace(raw) == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	switch v := v.(type) {
	case nil:
		return "", nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	default:
		return string(raw), nil
	}
}

func nodeObjectRaw(name pubsub.NodeName) json.RawMessage {
	raw, err := json.Marshal(nodeObjectFromName(name))
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}

// parseNodeList decodes a <node> field, which is either a single node
// object or a JSON array of them.
func parseNodeList(raw json.RawMessage) ([]pubsub.NodeName, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	trimmed := firstNonSpace(raw)
	if trimmed == '[' {
		var objs []nodeObject
		if err := json.Unmarshal(raw, &objs); err != nil {
			return nil, fmt.Errorf("pollingjson: decode node list: %w", err)
		}
		names := make([]pubsub.NodeName, len(objs))
		for i, o := range objs {
			name, err := nodeNameFromObject(o)
			if err != nil {
				return nil, err
			}
			names[i] = name
		}
		return names, nil
	}
	var obj nodeObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("pollingjson: decode node: %w", err)
	}
	name, err := nodeNameFromObject(obj)
	if err != nil {
		return nil, err
	}
	return []pubsub.NodeName{name}, nil
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
