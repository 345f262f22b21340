// Package registry owns the authoritative tool-id to adapter map. It
// validates adapters before accepting them, hands out instances on demand,
// and probes every registered adapter on a fixed interval, keeping a
// bounded health history per tool.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/Conductor/internal/domain/agentcli"
	"github.com/Strob0t/Conductor/internal/port/cliadapter"
)

var (
	// ErrUnsupportedTool indicates no adapter is registered for the id.
	// It is distinct from a transient health failure.
	ErrUnsupportedTool = errors.New("registry: unsupported tool")

	// ErrInvalidAdapter indicates an adapter that failed registration
	// validation.
	ErrInvalidAdapter = errors.New("registry: invalid adapter")
)

// Config tunes the background health monitor.
type Config struct {
	// Interval between health sweeps across all registered adapters.
	Interval time.Duration
	// Timeout applied to each individual adapter check.
	Timeout time.Duration
	// HistoryLimit caps the per-tool health history ring buffer.
	HistoryLimit int
	// UnhealthyThreshold is the number of consecutive Unhealthy checks
	// that flips the consistently-unhealthy signal.
	UnhealthyThreshold int
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		Interval:           60 * time.Second,
		Timeout:            30 * time.Second,
		HistoryLimit:       100,
		UnhealthyThreshold: 3,
	}
}

// Registry is an explicit instance shared by reference; there is no
// package-global. Adapters are immutable once registered, so lookups only
// synchronize with the registration event itself.
type Registry struct {
	cfg Config

	mu        sync.RWMutex
	adapters  map[string]cliadapter.Adapter
	histories map[string]*history
}

// New creates an empty registry. Zero config fields fall back to defaults.
func New(cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = def.UnhealthyThreshold
	}
	return &Registry{
		cfg:       cfg,
		adapters:  make(map[string]cliadapter.Adapter),
		histories: make(map[string]*history),
	}
}

// Register validates and stores an adapter. Registering the same tool id
// again replaces the previous instance.
func (r *Registry) Register(a cliadapter.Adapter) error {
	if a.Name() == "" {
		return fmt.Errorf("%w: empty tool name", ErrInvalidAdapter)
	}
	if a.ExecutableName() == "" {
		return fmt.Errorf("%w: %s has no executable name", ErrInvalidAdapter, a.Name())
	}
	if a.MemoryFilename() == "" {
		return fmt.Errorf("%w: %s has no memory filename", ErrInvalidAdapter, a.Name())
	}
	if a.Capabilities().MaxContextTokens <= 0 {
		return fmt.Errorf("%w: %s has non-positive max context", ErrInvalidAdapter, a.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
	if _, ok := r.histories[a.Name()]; !ok {
		r.histories[a.Name()] = newHistory(r.cfg.HistoryLimit)
	}
	slog.Info("adapter registered", "tool", a.Name(), "executable", a.ExecutableName())
	return nil
}

// Create returns the adapter for tool. The adapter is returned even when
// its latest health check failed: unhealthy is advisory, and a transient
// tool failure must not block a stage from attempting a run.
func (r *Registry) Create(tool string) (cliadapter.Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[tool]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTool, tool)
	}
	if r.ConsistentlyUnhealthy(tool) {
		slog.Warn("adapter is consistently unhealthy", "tool", tool)
	}
	return a, nil
}

// Tools returns the registered tool ids.
func (r *Registry) Tools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	return out
}

// Start launches the background health monitor. It runs one sweep
// immediately, then on every interval tick until ctx is cancelled.
func (r *Registry) Start(ctx context.Context) {
	go func() {
		r.sweep(ctx)
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
}

func (r *Registry) sweep(ctx context.Context) {
	for tool, status := range r.HealthSummary(ctx) {
		if status.State != agentcli.HealthHealthy {
			slog.Warn("adapter health check", "tool", tool, "state", status.State, "message", status.Message)
		}
	}
}

// HealthSummary runs one check per registered adapter and returns the
// snapshot. A failure in one adapter's check never affects another's
// reported status; each check runs under its own timeout and a panicking
// adapter is recorded as Unknown.
func (r *Registry) HealthSummary(ctx context.Context) map[string]agentcli.HealthStatus {
	r.mu.RLock()
	adapters := make(map[string]cliadapter.Adapter, len(r.adapters))
	for name, a := range r.adapters {
		adapters[name] = a
	}
	r.mu.RUnlock()

	out := make(map[string]agentcli.HealthStatus, len(adapters))
	for name, a := range adapters {
		status := r.checkOne(ctx, a)
		r.record(name, status)
		out[name] = status
	}
	return out
}

func (r *Registry) checkOne(ctx context.Context, a cliadapter.Adapter) (status agentcli.HealthStatus) {
	defer func() {
		if rec := recover(); rec != nil {
			status = agentcli.HealthStatus{
				State:     agentcli.HealthUnknown,
				Message:   fmt.Sprintf("health check panicked: %v", rec),
				CheckedAt: time.Now().UTC(),
			}
		}
	}()
	checkCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return a.HealthCheck(checkCtx)
}

func (r *Registry) record(tool string, status agentcli.HealthStatus) {
	r.mu.Lock()
	h, ok := r.histories[tool]
	if !ok {
		h = newHistory(r.cfg.HistoryLimit)
		r.histories[tool] = h
	}
	r.mu.Unlock()
	h.append(status)
}

// History returns the recorded health statuses for tool, oldest first.
func (r *Registry) History(tool string) []agentcli.HealthStatus {
	r.mu.RLock()
	h, ok := r.histories[tool]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return h.snapshot()
}

// ConsistentlyUnhealthy reports whether the most recent threshold-many
// checks for tool were all Unhealthy.
func (r *Registry) ConsistentlyUnhealthy(tool string) bool {
	r.mu.RLock()
	h, ok := r.histories[tool]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return h.consecutiveUnhealthy() >= r.cfg.UnhealthyThreshold
}
