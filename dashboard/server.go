// Package dashboard provides a real-time HTTP dashboard for the embedded
// pub/sub server.
//
// It exposes:
//   - GET /api/metrics/stream  – SSE stream of live metrics (100 ms ticks)
//   - GET /api/logs/stream     – SSE stream of log entries
//   - GET /api/config          – current server configuration (JSON)
//   - GET /api/pool            – live pub/sub root statistics (JSON)
//
// All SSE endpoints set appropriate headers so browsers can use EventSource
// without any additional libraries. CORS is wide-open so a separate
// frontend dev server can reach the Go backend.
package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/torrox/siouxgo/config"
	"github.com/torrox/siouxgo/metrics"
	"github.com/torrox/siouxgo/pubsub"
)

// MetricsSnapshot is the JSON payload pushed to dashboard clients every tick.
type MetricsSnapshot struct {
	Timestamp         int64   `json:"timestamp"`
	RequestsTotal     uint64  `json:"requests_total"`
	RequestsFailed    uint64  `json:"requests_failed"`
	UpdatesTotal      uint64  `json:"updates_total"`
	LongPollsParked   uint64  `json:"long_polls_parked"`
	LongPollsTimedOut uint64  `json:"long_polls_timed_out"`
	RPS               float64 `json:"rps"`
	Nodes             int     `json:"nodes"`
	Subscribers       int     `json:"subscribers"`
}

// LogEntry is a structured log line streamed to the dashboard.
type LogEntry struct {
	Timestamp int64  `json:"ts"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// Server provides HTTP endpoints for observing a running pub/sub server.
type Server struct {
	metrics *metrics.Metrics
	root    *pubsub.Root
	cfg     *config.Config

	// Log ring buffer (capped at maxLogs).
	logMu    sync.Mutex
	logs     []LogEntry
	logSubs  map[chan LogEntry]struct{}
	logSubMu sync.Mutex

	// Metrics SSE subscribers.
	metricsSubs  map[chan MetricsSnapshot]struct{}
	metricsSubMu sync.Mutex

	mux *http.ServeMux
}

const maxLogs = 10_000

// New creates a dashboard Server backed by the given metrics, pub/sub root
// and configuration.
func New(m *metrics.Metrics, root *pubsub.Root, cfg *config.Config) *Server {
	s := &Server{
		metrics:     m,
		root:        root,
		cfg:         cfg,
		logs:        make([]LogEntry, 0, 512),
		logSubs:     make(map[chan LogEntry]struct{}),
		metricsSubs: make(map[chan MetricsSnapshot]struct{}),
		mux:         http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the dashboard's http.Handler for mounting into an
// embedding application's own mux, as an alternative to ListenAndServe.
func (s *Server) Handler() http.Handler { return s.mux }

// AddLog appends a structured log entry to the ring buffer and fans it out
// to every active SSE /api/logs/stream subscriber.
func (s *Server) AddLog(level, message string) {
	entry := LogEntry{
		Timestamp: time.Now().UnixMilli(),
		Level:     level,
		Message:   message,
	}

	s.logMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[len(s.logs)-maxLogs:]
	}
	s.logMu.Unlock()

	s.logSubMu.Lock()
	for ch := range s.logSubs {
		select {
		case ch <- entry:
		default:
			// Slow subscriber - drop rather than block.
		}
	}
	s.logSubMu.Unlock()
}

// ListenAndServe starts the HTTP server on addr (e.g. ":8080") and blocks
// until the process exits. It also starts the background goroutine that
// ticks metrics to SSE subscribers every 100 ms.
func (s *Server) ListenAndServe(addr string) error {
	go s.metricsTicker()
	log.Printf("dashboard: listening on %s", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // disabled - SSE/log streams are unbounded
		IdleTimeout:  120 * time.Second,
	}
	return srv.ListenAndServe() // #nosec G114 -- timeouts set explicitly above
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/metrics/stream", s.withCORS(s.handleMetricsStream))
	s.mux.HandleFunc("/api/logs/stream", s.withCORS(s.handleLogsStream))
	s.mux.HandleFunc("/api/config", s.withCORS(s.handleConfig))
	s.mux.HandleFunc("/api/pool", s.withCORS(s.handlePool))
}

func (s *Server) withCORS(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h(w, r)
	}
}

func (s *Server) metricsTicker() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		snap := s.snapshot()
		s.metricsSubMu.Lock()
		for ch := range s.metricsSubs {
			select {
			case ch <- snap:
			default:
			}
		}
		s.metricsSubMu.Unlock()
	}
}

func (s *Server) snapshot() MetricsSnapshot {
	m := s.metrics.Snapshot()
	stats := s.root.Stats()
	return MetricsSnapshot{
		Timestamp:         time.Now().UnixMilli(),
		RequestsTotal:     m.RequestsTotal,
		RequestsFailed:    m.RequestsFailed,
		UpdatesTotal:      m.UpdatesTotal,
		LongPollsParked:   m.LongPollsParked,
		LongPollsTimedOut: m.LongPollsTimedOut,
		RPS:               m.RequestsPerSecond,
		Nodes:             stats.Nodes,
		Subscribers:       stats.Subscribers,
	}
}

func (s *Server) handleMetricsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan MetricsSnapshot, 16)
	s.metricsSubMu.Lock()
	s.metricsSubs[ch] = struct{}{}
	s.metricsSubMu.Unlock()

	defer func() {
		s.metricsSubMu.Lock()
		delete(s.metricsSubs, ch)
		s.metricsSubMu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			if err := sseWrite(w, snap); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.logMu.Lock()
	history := make([]LogEntry, len(s.logs))
	copy(history, s.logs)
	s.logMu.Unlock()

	for _, entry := range history {
		if err := sseWrite(w, entry); err != nil {
			return
		}
	}
	flusher.Flush()

	ch := make(chan LogEntry, 256)
	s.logSubMu.Lock()
	s.logSubs[ch] = struct{}{}
	s.logSubMu.Unlock()

	defer func() {
		s.logSubMu.Lock()
		delete(s.logSubs, ch)
		s.logSubMu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-ch:
			if err := sseWrite(w, entry); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func sseWrite(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.cfg); err != nil {
		log.Printf("dashboard: encode config: %v", err)
	}
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.root.Stats()); err != nil {
		log.Printf("dashboard: encode pool stats: %v", err)
	}
}
