// The companion is the sidecar that runs next to the agent process inside
// its container. It waits for the orchestrator to create the input pipe,
// then exposes a small HTTP surface for message ingestion. Every accepted
// message is relayed to the pipe with a serialized open, write, close
// cycle so the agent always observes complete frames.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/Conductor/internal/bridge"
)

const (
	defaultPort     = "3001"
	defaultFIFO     = "/workspace/agent-input.jsonl"
	fifoWaitTimeout = 5 * time.Minute
	maxInputSize    = 4 << 20 // 4 MiB
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger.With("service", "companion"))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	port := envOr("COMPANION_PORT", defaultPort)
	fifoPath := envOr("COMPANION_FIFO", defaultFIFO)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The orchestrator owns pipe creation. Listening before the pipe
	// exists would let a delivery succeed over HTTP with nowhere to relay
	// it, so startup blocks here.
	if err := waitForFIFO(ctx, fifoPath); err != nil {
		return err
	}
	slog.Info("input pipe found", "path", fifoPath)

	relay := &relay{fifoPath: fifoPath}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/health", relay.handleHealth)
	r.Post("/input", relay.handleInput)
	r.Post("/shutdown", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		slog.Info("shutdown requested")
		stop()
	})

	addr := ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		slog.Info("companion listening", "addr", addr, "fifo", fifoPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("companion shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// relay forwards accepted messages to the pipe. Deliveries are serialized:
// interleaved writers on a FIFO can shear frames apart.
type relay struct {
	fifoPath string
	mu       sync.Mutex
}

func (rl *relay) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (rl *relay) handleInput(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInputSize))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(payload) == 0 {
		http.Error(w, "empty payload", http.StatusBadRequest)
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if err := bridge.WriteAndClose(r.Context(), rl.fifoPath, payload); err != nil {
		slog.Error("pipe relay failed", "error", err)
		http.Error(w, "pipe relay failed", http.StatusBadGateway)
		return
	}

	slog.Info("message relayed", "bytes", len(payload))
	w.WriteHeader(http.StatusAccepted)
}

// waitForFIFO blocks until a FIFO exists at path, polling the parent
// directory. A regular file at the path is a deployment error.
func waitForFIFO(ctx context.Context, path string) error {
	deadline := time.Now().Add(fifoWaitTimeout)
	for {
		info, err := os.Stat(path)
		if err == nil {
			if info.Mode()&os.ModeNamedPipe == 0 {
				return fmt.Errorf("companion: %s exists but is not a named pipe", path)
			}
			return nil
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("companion: stat %s: %w", path, err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("companion: pipe %s never appeared in %s", filepath.Dir(path), fifoWaitTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
