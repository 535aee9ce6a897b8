// Command synckit-server runs a SyncKit replica as a standalone
// WebSocket server: a replica context, a ws listener, and a health
// endpoint, shut down gracefully on SIGINT/SIGTERM the same way the
// teacher's main.go did.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/matthewcorven/synckit-sub007/internal/replica"
	"github.com/matthewcorven/synckit-sub007/pkg/config"
	"github.com/matthewcorven/synckit-sub007/pkg/coordinator"
	"github.com/matthewcorven/synckit-sub007/pkg/crdt"
	"github.com/matthewcorven/synckit-sub007/pkg/transport/ws"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	configPath := flag.String("config", "synckit.yaml", "path to YAML config")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	// Every document in this deployment is an LWW record; a richer
	// server would pick the CRDT kind per docId (e.g. a naming
	// convention or a side-channel registry).
	docFactory := func(string) crdt.CRDT { return crdt.NewDocument() }

	rep, err := replica.New(cfg, docFactory, noopSink{}, logger)
	if err != nil {
		logger.Fatal("init replica", zap.Error(err))
	}

	wsServer := ws.NewServer(rep.Open, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.ServeHTTP)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{Addr: *addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("synckit server listening", zap.String("addr", *addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := rep.Close(); err != nil {
		logger.Warn("replica close", zap.Error(err))
	}
}

// noopSink is the default outbound-queue behavior for the server side:
// the server never has its own reconnect/offline queue (that's a
// client-side transport concern, spec §4.5) — when a peer send fails,
// delivery is simply retried the next time that peer resubscribes.
type noopSink struct{}

func (noopSink) Enqueue(crdt.Delta) error { return nil }

var _ coordinator.OutboundSink = noopSink{}
