// Package cliadapter defines the uniform capability interface every agent
// CLI adapter implements. Stage logic drives heterogeneous tools through
// this interface without knowing which one is underneath.
package cliadapter

import (
	"context"

	"github.com/Strob0t/Conductor/internal/domain/agentcli"
)

// Adapter is the closed capability set for one agent tool. Implementations
// are immutable once registered; replacing a tool's behavior means
// registering a new instance.
type Adapter interface {
	// Name returns the tool identifier this adapter answers for.
	Name() string

	// ExecutableName returns the CLI binary name launched inside the
	// agent container.
	ExecutableName() string

	// MemoryFilename returns the tool's instructions-file convention
	// (for example CLAUDE.md).
	MemoryFilename() string

	// Capabilities returns the static capability descriptor.
	Capabilities() agentcli.CapabilityDescriptor

	// ValidateModel reports whether the model string is acceptable.
	// Implementations are best-effort and default to permissive: an
	// unrecognized model must not hard-fail, because upstream model
	// catalogs change faster than this component is redeployed.
	ValidateModel(model string) bool

	// GenerateConfig validates the base config shape and renders the
	// tool's own config artifact through its template.
	GenerateConfig(ctx context.Context, cfg agentcli.AgentConfig) (string, error)

	// GenerateMemory renders the tool's instructions file for a container
	// and stage.
	GenerateMemory(ctx context.Context, cc agentcli.ContainerContext, stage string) (string, error)

	// FormatPrompt wraps a raw instruction string in the tool's prompt
	// envelope. Pure function, no side effects.
	FormatPrompt(prompt string) string

	// ParseResponse extracts tool calls, finish reason, and metadata from
	// the tool's native response shape. It tolerates zero, one, or many
	// tool calls and never fails on absent metadata.
	ParseResponse(raw string) (agentcli.ParsedResponse, error)

	// Initialize prepares the adapter for a run inside the given container.
	Initialize(ctx context.Context, cc agentcli.ContainerContext) error

	// Cleanup releases per-run resources.
	Cleanup(ctx context.Context, cc agentcli.ContainerContext) error

	// HealthCheck runs a self-test with synthetic inputs and reports the
	// result. Failures are advisory, never a veto on adapter use.
	HealthCheck(ctx context.Context) agentcli.HealthStatus
}
