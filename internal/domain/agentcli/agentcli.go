// Package agentcli defines the domain types shared by all agent CLI adapters:
// run configuration, capability descriptors, parsed responses, and health.
package agentcli

import (
	"errors"
	"fmt"
	"time"
)

// Bounds enforced on every AgentConfig before config generation.
const (
	MaxTokensFloor   = 1
	MaxTokensCeiling = 1_000_000
	TemperatureMin   = 0.0
	TemperatureMax   = 2.0
)

var (
	// ErrToolMismatch indicates a config addressed to a different tool than
	// the adapter that received it.
	ErrToolMismatch = errors.New("agentcli: config tool does not match adapter")

	// ErrEmptyTool indicates a config with no tool identifier.
	ErrEmptyTool = errors.New("agentcli: tool is required")

	// ErrEmptyModel indicates a config with no model identifier.
	ErrEmptyModel = errors.New("agentcli: model is required")

	// ErrInvalidMaxTokens indicates a token limit outside the accepted range.
	ErrInvalidMaxTokens = fmt.Errorf("agentcli: max_tokens must be in [%d, %d]", MaxTokensFloor, MaxTokensCeiling)

	// ErrInvalidTemperature indicates a temperature outside the accepted range.
	ErrInvalidTemperature = fmt.Errorf("agentcli: temperature must be in [%.1f, %.1f]", TemperatureMin, TemperatureMax)

	// ErrMissingContainerName indicates a container context without a name.
	ErrMissingContainerName = errors.New("agentcli: container name is required")

	// ErrMissingWorkingDir indicates a container context without a working directory.
	ErrMissingWorkingDir = errors.New("agentcli: working directory is required")
)

// ConfigFormat is the artifact format an adapter's config file uses.
type ConfigFormat string

const (
	FormatJSON     ConfigFormat = "json"
	FormatTOML     ConfigFormat = "toml"
	FormatYAML     ConfigFormat = "yaml"
	FormatMarkdown ConfigFormat = "markdown"
)

// AuthMethod is an authentication mechanism an agent CLI supports.
type AuthMethod string

const (
	AuthAPIKey       AuthMethod = "api_key"
	AuthSessionToken AuthMethod = "session_token"
	AuthOAuth        AuthMethod = "oauth"
	AuthNone         AuthMethod = "none"
)

// AgentConfig is one request to configure an agent run. It is constructed
// per stage invocation and discarded after the config is rendered.
type AgentConfig struct {
	Tool        string         `json:"tool"`
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature"`
	// RemoteTools are tool-server entries rendered verbatim into the config;
	// the generator never special-cases a name.
	RemoteTools []string `json:"remote_tools,omitempty"`
	// LocalServers are locally-enabled integrations, rendered the same way.
	LocalServers []string `json:"local_servers,omitempty"`
	// Settings is tool-specific passthrough, opaque to the caller.
	Settings map[string]any `json:"settings,omitempty"`
}

// Validate checks the base shape of the config against the identity of the
// adapter that will render it. Bound violations are hard failures.
func (c AgentConfig) Validate(adapterTool string) error {
	if c.Tool == "" {
		return ErrEmptyTool
	}
	if c.Tool != adapterTool {
		return fmt.Errorf("%w: got %q, adapter is %q", ErrToolMismatch, c.Tool, adapterTool)
	}
	if c.Model == "" {
		return ErrEmptyModel
	}
	if c.MaxTokens < MaxTokensFloor || c.MaxTokens > MaxTokensCeiling {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}
	if c.Temperature < TemperatureMin || c.Temperature > TemperatureMax {
		return fmt.Errorf("%w: got %g", ErrInvalidTemperature, c.Temperature)
	}
	return nil
}

// CapabilityDescriptor holds the static facts about one agent tool.
// It is immutable once the adapter is constructed.
type CapabilityDescriptor struct {
	Streaming        bool         `json:"streaming"`
	Multimodal       bool         `json:"multimodal"`
	FunctionCalling  bool         `json:"function_calling"`
	SystemPrompts    bool         `json:"system_prompts"`
	MaxContextTokens int          `json:"max_context_tokens"`
	MemoryFilename   string       `json:"memory_filename"`
	ConfigFormat     ConfigFormat `json:"config_format"`
	AuthMethods      []AuthMethod `json:"auth_methods"`
}

// ContainerContext is the minimal execution context an adapter lifecycle
// hook runs against.
type ContainerContext struct {
	Name       string `json:"name"`
	WorkingDir string `json:"working_dir"`
}

// Validate returns a hard error when required fields are missing.
func (cc ContainerContext) Validate() error {
	if cc.Name == "" {
		return ErrMissingContainerName
	}
	if cc.WorkingDir == "" {
		return ErrMissingWorkingDir
	}
	return nil
}

// HealthState classifies the outcome of one adapter health check.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthWarning   HealthState = "warning"
	HealthUnhealthy HealthState = "unhealthy"
	HealthUnknown   HealthState = "unknown"
)

// HealthStatus is the point-in-time result of one health check. The most
// recent status is authoritative; history is kept in a bounded ring buffer
// by the registry.
type HealthStatus struct {
	State     HealthState       `json:"state"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	CheckedAt time.Time         `json:"checked_at"`
}

// FinishReason describes why an agent turn ended.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCall      FinishReason = "tool_call"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// ToolCall is one structured tool invocation extracted from a response.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ResponseMetadata carries optional facts about a turn. Absent values stay
// at their zero value; parsers never fail on missing metadata.
type ResponseMetadata struct {
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`
}

// ParsedResponse is the normalized output of one agent turn.
type ParsedResponse struct {
	Content      string           `json:"content"`
	ToolCalls    []ToolCall       `json:"tool_calls,omitempty"`
	FinishReason FinishReason     `json:"finish_reason"`
	Metadata     ResponseMetadata `json:"metadata"`
}
