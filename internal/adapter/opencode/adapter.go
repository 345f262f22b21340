// Package opencode implements the agent CLI adapter for the OpenCode CLI.
// The CLI handles its own tool routing, so parsing stays permissive.
package opencode

import (
	"context"
	"time"

	"github.com/Strob0t/Conductor/internal/adapter/clibase"
	"github.com/Strob0t/Conductor/internal/domain/agentcli"
	"github.com/Strob0t/Conductor/internal/port/cliadapter"
	"github.com/Strob0t/Conductor/internal/port/render"
)

const (
	toolName       = "opencode"
	executableName = "opencode"
	memoryFilename = "OPENCODE.md"

	configTemplate = "opencode/config.json.tmpl"
	memoryTemplate = "opencode/memory.md.tmpl"

	maxContextTokens = 128_000
)

// Adapter drives the OpenCode CLI.
type Adapter struct {
	*clibase.Base
}

var _ cliadapter.Adapter = (*Adapter)(nil)

// New creates the OpenCode adapter backed by the given renderer.
func New(r render.Renderer, healthTimeout time.Duration) *Adapter {
	return &Adapter{Base: clibase.New(clibase.Options{
		Name:           toolName,
		Executable:     executableName,
		MemoryFilename: memoryFilename,
		Capabilities: agentcli.CapabilityDescriptor{
			Streaming:        true,
			Multimodal:       false,
			FunctionCalling:  true,
			SystemPrompts:    true,
			MaxContextTokens: maxContextTokens,
			MemoryFilename:   memoryFilename,
			ConfigFormat:     agentcli.FormatJSON,
			AuthMethods:      []agentcli.AuthMethod{agentcli.AuthAPIKey, agentcli.AuthOAuth},
		},
		ConfigTemplate: configTemplate,
		MemoryTemplate: memoryTemplate,
		Renderer:       r,
		HealthTimeout:  healthTimeout,
	})}
}

// ValidateModel has no pattern rules for this tool, so it stays permissive.
func (a *Adapter) ValidateModel(model string) bool {
	return model != ""
}

// FormatPrompt passes the instruction through unchanged.
func (a *Adapter) FormatPrompt(prompt string) string {
	return prompt
}

// ParseResponse treats the whole output as content. The CLI resolves tool
// calls internally and never surfaces them on stdout.
func (a *Adapter) ParseResponse(raw string) (agentcli.ParsedResponse, error) {
	return agentcli.ParsedResponse{
		Content:      raw,
		FinishReason: agentcli.FinishStop,
	}, nil
}

// HealthCheck runs the shared baseline check with this adapter's parser.
func (a *Adapter) HealthCheck(ctx context.Context) agentcli.HealthStatus {
	return a.Base.HealthCheck(ctx, a.ParseResponse)
}
