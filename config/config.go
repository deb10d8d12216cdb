// Package config provides production-grade configuration management for the
// embeddable pub/sub server. It supports JSON-based configuration loading
// with safe defaults, shared read-only across goroutines once loaded.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/torrox/siouxgo/pubsub"
	"github.com/torrox/siouxgo/session"
)

// Config holds every tunable parameter for the pub/sub core and the session
// layer built on top of it, per the external-interfaces configuration
// table: node lifecycle and history retention (pubsub.Config), and session
// lifecycle, queueing caps and reconnect advice (session.Config).
type Config struct {
	// NodeTimeout is the delay before a subscriber-less node is removed.
	NodeTimeout time.Duration `json:"node_timeout"`

	// MinUpdatePeriod is the shortest interval enforced between two
	// delivered updates of the same node; 0 disables throttling.
	MinUpdatePeriod time.Duration `json:"min_update_period"`

	// MaxUpdateSize bounds retained history to this percentage of the
	// serialized size of a node's current data.
	MaxUpdateSize uint `json:"max_update_size"`

	// AuthorizationRequired, when true, requires every subscribe to pass
	// Adapter.Authorize before attaching.
	AuthorizationRequired bool `json:"authorization_required"`

	// SessionTimeout is the idle-session reap delay.
	SessionTimeout time.Duration `json:"session_timeout"`

	// LongPollTimeout is the maximum parking time of a connect.
	LongPollTimeout time.Duration `json:"long_poll_timeout"`

	// MaxMessagesPerClient caps the number of queued messages per session.
	MaxMessagesPerClient int `json:"max_messages_per_client"`

	// MaxMessagesSizePerClient caps the serialized byte size of queued
	// messages per session.
	MaxMessagesSizePerClient int `json:"max_messages_size_per_client"`

	// ReconnectAdvice is the value returned in every connect reply's
	// advice block: "retry", "handshake" or "none".
	ReconnectAdvice string `json:"reconnect_advice"`
}

// LoadConfig reads a JSON file at filename and deserialises it into a
// Config. It returns an error if the file cannot be opened or the JSON is
// malformed; unknown fields are rejected so typos surface at startup
// instead of silently falling back to a default.
func LoadConfig(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 -- filename is caller-provided config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	return cfg, nil
}

// DefaultConfig returns a *Config pre-filled with sensible defaults: a
// one-minute node and session TTL, no update throttling, a 200% history
// ratio, authorization disabled, a 30-second long-poll timeout, a 100
// message / 64 KiB queue cap per session and "retry" reconnect advice.
// Callers are free to mutate the returned struct; each call returns a fresh
// independent copy.
func DefaultConfig() *Config {
	return &Config{
		NodeTimeout:              time.Minute,
		MinUpdatePeriod:          0,
		MaxUpdateSize:            200,
		AuthorizationRequired:    false,
		SessionTimeout:           time.Minute,
		LongPollTimeout:          30 * time.Second,
		MaxMessagesPerClient:     100,
		MaxMessagesSizePerClient: 64 * 1024,
		ReconnectAdvice:          string(session.AdviceRetry),
	}
}

// PubSub extracts the subset of Config that configures pubsub.Root.
func (c Config) PubSub() pubsub.Config {
	return pubsub.Config{
		NodeTimeout:           c.NodeTimeout,
		MinUpdatePeriod:       c.MinUpdatePeriod,
		MaxUpdateHistoryRatio: c.MaxUpdateSize,
		AuthorizationRequired: c.AuthorizationRequired,
	}
}

// Session extracts the subset of Config that configures session.Session.
func (c Config) Session() session.Config {
	return session.Config{
		SessionTimeout:           c.SessionTimeout,
		LongPollTimeout:          c.LongPollTimeout,
		MaxMessagesPerClient:     c.MaxMessagesPerClient,
		MaxMessageBytesPerClient: c.MaxMessagesSizePerClient,
		ReconnectAdvice:          session.ReconnectAdvice(c.ReconnectAdvice),
	}
}
