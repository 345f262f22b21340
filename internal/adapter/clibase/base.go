// Package clibase carries the behavior shared by every agent CLI adapter:
// base config validation, render-context assembly, lifecycle validation,
// and the baseline health check. Tool adapters embed Base and add their own
// prompt envelope and response parser.
package clibase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/Conductor/internal/domain/agentcli"
	"github.com/Strob0t/Conductor/internal/port/render"
)

// DefaultToolEndpoint is used when neither the adapter options nor the
// environment supply a tool-bridge URL.
const DefaultToolEndpoint = "http://localhost:3001"

// ToolEndpointEnv overrides the default tool-bridge URL.
const ToolEndpointEnv = "TOOL_BRIDGE_URL"

// Options configures a Base. Template paths are constructor data so the
// path-to-tool mapping lives in one place per adapter.
type Options struct {
	Name           string
	Executable     string
	MemoryFilename string
	Capabilities   agentcli.CapabilityDescriptor
	ConfigTemplate string
	MemoryTemplate string
	Renderer       render.Renderer
	HealthTimeout  time.Duration
	ToolEndpoint   string
}

// Base implements the adapter behavior that does not vary by tool.
type Base struct {
	name           string
	executable     string
	memoryFile     string
	caps           agentcli.CapabilityDescriptor
	configTemplate string
	memoryTemplate string
	renderer       render.Renderer
	healthTimeout  time.Duration
	toolEndpoint   string
}

// New builds a Base from options, resolving the tool endpoint from the
// environment when not supplied.
func New(opts Options) *Base {
	endpoint := opts.ToolEndpoint
	if endpoint == "" {
		endpoint = os.Getenv(ToolEndpointEnv)
	}
	if endpoint == "" {
		endpoint = DefaultToolEndpoint
	}
	timeout := opts.HealthTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Base{
		name:           opts.Name,
		executable:     opts.Executable,
		memoryFile:     opts.MemoryFilename,
		caps:           opts.Capabilities,
		configTemplate: opts.ConfigTemplate,
		memoryTemplate: opts.MemoryTemplate,
		renderer:       opts.Renderer,
		healthTimeout:  timeout,
		toolEndpoint:   endpoint,
	}
}

// Name returns the tool identifier.
func (b *Base) Name() string { return b.name }

// ExecutableName returns the CLI binary name.
func (b *Base) ExecutableName() string { return b.executable }

// MemoryFilename returns the tool's instructions-file name.
func (b *Base) MemoryFilename() string { return b.memoryFile }

// Capabilities returns the static capability descriptor.
func (b *Base) Capabilities() agentcli.CapabilityDescriptor { return b.caps }

// RenderContext assembles the template context for one config render. Tool
// entries come only from the caller-supplied lists; nothing here inspects
// an entry's name.
func (b *Base) RenderContext(cfg agentcli.AgentConfig) map[string]any {
	return map[string]any{
		"model":          cfg.Model,
		"max_tokens":     cfg.MaxTokens,
		"temperature":    cfg.Temperature,
		"remote_tools":   cfg.RemoteTools,
		"local_servers":  cfg.LocalServers,
		"settings":       cfg.Settings,
		"cli_type":       b.name,
		"correlation_id": uuid.NewString(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"tool_endpoint":  b.toolEndpoint,
	}
}

// GenerateConfig validates the base config shape and renders the tool's
// config template. Validation failures never reach the renderer.
func (b *Base) GenerateConfig(ctx context.Context, cfg agentcli.AgentConfig) (string, error) {
	if err := cfg.Validate(b.name); err != nil {
		return "", err
	}
	out, err := b.renderer.Render(ctx, b.configTemplate, b.RenderContext(cfg))
	if err != nil {
		return "", fmt.Errorf("clibase: generate config for %s: %w", b.name, err)
	}
	return out, nil
}

// GenerateMemory renders the tool's instructions file for a container.
func (b *Base) GenerateMemory(ctx context.Context, cc agentcli.ContainerContext, stage string) (string, error) {
	out, err := b.renderer.Render(ctx, b.memoryTemplate, map[string]any{
		"working_dir":    cc.WorkingDir,
		"stage":          stage,
		"cli_type":       b.name,
		"correlation_id": uuid.NewString(),
	})
	if err != nil {
		return "", fmt.Errorf("clibase: render memory for %s: %w", b.name, err)
	}
	return out, nil
}

// Initialize validates the container context. Missing required fields are
// a hard initialization error.
func (b *Base) Initialize(_ context.Context, cc agentcli.ContainerContext) error {
	if err := cc.Validate(); err != nil {
		return fmt.Errorf("clibase: initialize %s: %w", b.name, err)
	}
	slog.Info("adapter initialized", "tool", b.name, "container", cc.Name, "dir", cc.WorkingDir)
	return nil
}

// Cleanup validates the container context and releases nothing; tool
// adapters with per-run state override it.
func (b *Base) Cleanup(_ context.Context, cc agentcli.ContainerContext) error {
	if err := cc.Validate(); err != nil {
		return fmt.Errorf("clibase: cleanup %s: %w", b.name, err)
	}
	slog.Info("adapter cleaned up", "tool", b.name, "container", cc.Name)
	return nil
}

// HealthCheck runs the baseline self-test: a synthetic config render, a
// no-op config generation, and a no-op parse through the adapter's own
// parser, with the total latency compared against the configured timeout.
func (b *Base) HealthCheck(ctx context.Context, parse func(string) (agentcli.ParsedResponse, error)) agentcli.HealthStatus {
	start := time.Now()
	details := map[string]string{
		"config_valid":      "false",
		"templates_working": "false",
	}

	probe := agentcli.AgentConfig{
		Tool:        b.name,
		Model:       "health-check",
		MaxTokens:   1,
		Temperature: 0,
	}

	status := agentcli.HealthStatus{State: agentcli.HealthHealthy, Message: "ok"}

	if _, err := b.GenerateConfig(ctx, probe); err != nil {
		status = agentcli.HealthStatus{
			State:   agentcli.HealthUnhealthy,
			Message: fmt.Sprintf("config generation failed: %v", err),
		}
	} else {
		details["config_valid"] = "true"
		details["templates_working"] = "true"
	}

	if status.State == agentcli.HealthHealthy && parse != nil {
		if _, err := parse(""); err != nil {
			status = agentcli.HealthStatus{
				State:   agentcli.HealthUnhealthy,
				Message: fmt.Sprintf("response parse failed: %v", err),
			}
		}
	}

	elapsed := time.Since(start)
	details["check_duration_ms"] = fmt.Sprintf("%d", elapsed.Milliseconds())

	if status.State == agentcli.HealthHealthy && elapsed > b.healthTimeout {
		status = agentcli.HealthStatus{
			State:   agentcli.HealthWarning,
			Message: fmt.Sprintf("health check exceeded %s", b.healthTimeout),
		}
	}

	status.Details = details
	status.CheckedAt = time.Now().UTC()
	return status
}
