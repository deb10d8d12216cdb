// siouxgo runs an embeddable Bayeux- and polling-JSON-compatible pub/sub
// HTTP server as a standalone binary.
//
// Startup sequence:
//  1. Load configuration (JSON file or defaults).
//  2. Initialise logging, metrics and the pub/sub core (root, worker pool,
//     real clock).
//  3. Build the session registry shared by both wire protocols.
//  4. Mount the bayeux and pollingjson connectors plus the dashboard.
//  5. Block until OS signals SIGINT or SIGTERM, then perform a clean
//     shutdown.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/torrox/siouxgo/bayeux"
	"github.com/torrox/siouxgo/clock"
	"github.com/torrox/siouxgo/config"
	"github.com/torrox/siouxgo/dashboard"
	"github.com/torrox/siouxgo/logger"
	"github.com/torrox/siouxgo/metrics"
	"github.com/torrox/siouxgo/pollingjson"
	"github.com/torrox/siouxgo/pubsub"
	"github.com/torrox/siouxgo/scriptadapter"
	"github.com/torrox/siouxgo/session"
	"github.com/torrox/siouxgo/sessionid"
	"github.com/torrox/siouxgo/worker"
)

func main() {
	configFile := flag.String("config", "", "Path to JSON config file (optional; uses defaults if omitted)")
	addr := flag.String("addr", ":8000", "Address the bayeux and polling endpoints listen on")
	dashboardAddr := flag.String("dashboard", ":8080", "Address for the real-time dashboard HTTP server")
	workerCount := flag.Int("workers", 8, "Number of workers dispatching adapter calls")
	flag.Parse()

	log := logger.New(logger.LevelInfo)
	log.Info("siouxgo starting up")

	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			log.Errorf("failed to load config from %q: %v", *configFile, err)
			os.Exit(1)
		}
		log.Infof("configuration loaded from %q", *configFile)
	} else {
		cfg = config.DefaultConfig()
		log.Info("using default configuration")
	}

	m := metrics.NewMetrics()

	pool := worker.NewWorkerPool(*workerCount)
	pool.Start()
	log.Infof("worker pool started with %d workers", *workerCount)

	clk := clock.Real
	// The default adapter accepts every node and authorizes every
	// subscriber; an embedder supplying real validation/authorization
	// policy passes its own scriptadapter.Scripts or a hand-written
	// pubsub.Adapter instead.
	adapter := scriptadapter.New(*workerCount, scriptadapter.Scripts{})
	root := pubsub.NewRoot(cfg.PubSub(), adapter, pool, clk, log)

	registry := session.NewRegistry(cfg.Session(), root, clk, sessionid.UUIDGenerator{})

	dash := dashboard.New(m, root, cfg)
	go func() {
		if err := dash.ListenAndServe(*dashboardAddr); err != nil {
			log.Errorf("dashboard server error: %v", err)
		}
	}()
	log.Infof("dashboard server starting on %s", *dashboardAddr)

	mux := http.NewServeMux()
	mux.Handle("/bayeux", countRequests(m, bayeux.NewConnector(registry, bayeux.ReconnectAdviceConfig{
		Reconnect: session.ReconnectAdvice(cfg.ReconnectAdvice),
	})))
	mux.Handle("/poll", countRequests(m, pollingjson.NewConnector(registry)))

	srv := &http.Server{
		Addr:         *addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LongPollTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Infof("pub/sub server listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("server error: %v", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := root.Stats()
			log.Infof("pool stats - nodes: %d | subscribers: %d | updates: %d | sessions: %d",
				stats.Nodes, stats.Subscribers, stats.Updates, registry.Count())
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Println()
	log.Infof("received signal %s; shutting down", sig)
	dash.AddLog("INFO", fmt.Sprintf("received signal %s; shutting down", sig))

	if err := srv.Close(); err != nil {
		log.Errorf("error closing server: %v", err)
	}
	pool.Stop()
	log.Info("siouxgo shut down cleanly")
}

func countRequests(m *metrics.Metrics, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.IncrementRequests()
		h.ServeHTTP(w, r)
	})
}
