// Package bayeux implements the Bayeux-compatible long-polling connector:
// handshake/connect/subscribe/unsubscribe/disconnect over the shared
// session/pub-sub core.
package bayeux

import (
	"strconv"
	"strings"

	"github.com/torrox/siouxgo/pubsub"
)

// domainPrefix names the positional key domain bayeux assigns to the n-th
// slash-separated channel segment ("p1", "p2", ...).
const domainPrefix = "p"

// NodeNameFromChannel converts a Bayeux channel string ("/a/b/c") into a
// pubsub.NodeName with domains p1, p2, ... in positional order. An empty
// channel ("" or "/") yields an empty NodeName. ok is false if channel does
// not start with "/".
func NodeNameFromChannel(channel string) (name pubsub.NodeName, ok bool) {
	if channel == "" {
		return pubsub.NewNodeName(), true
	}
	if channel[0] != '/' {
		return pubsub.NodeName{}, false
	}
	if channel == "/" {
		return pubsub.NewNodeName(), true
	}
	segments := strings.Split(channel[1:], "/")
	keys := make([]pubsub.Key, len(segments))
	for i, seg := range segments {
		keys[i] = pubsub.Key{Domain: pubsub.KeyDomain(domainPrefix + strconv.Itoa(i+1)), Value: seg}
	}
	return pubsub.NewNodeName(keys...), true
}

// ChannelFromNodeName renders name back into Bayeux channel form, the
// inverse of NodeNameFromChannel: the domains are ignored and only the
// positional order of values matters, so NodeNameFromChannel and
// ChannelFromNodeName round-trip for every name built from a channel.
func ChannelFromNodeName(name pubsub.NodeName) string {
	keys := name.Keys()
	if len(keys) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, k := range keys {
		b.WriteByte('/')
		b.WriteString(k.Value)
	}
	return b.String()
}
