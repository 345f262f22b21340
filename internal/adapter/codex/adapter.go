// Package codex implements the agent CLI adapter for the Codex CLI: TOML
// config artifact, AGENTS.md memory file, and structured-document response
// parsing.
package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/Conductor/internal/adapter/clibase"
	"github.com/Strob0t/Conductor/internal/domain/agentcli"
	"github.com/Strob0t/Conductor/internal/port/cliadapter"
	"github.com/Strob0t/Conductor/internal/port/render"
)

const (
	toolName       = "codex"
	executableName = "codex"
	memoryFilename = "AGENTS.md"

	configTemplate = "codex/config.toml.tmpl"
	memoryTemplate = "codex/memory.md.tmpl"

	maxContextTokens = 128_000
)

// document is the structured response shape the CLI emits. Every field is
// optional; absent fields stay zero-valued.
type document struct {
	Response string `json:"response"`
	Model    string `json:"model"`
	Commands []struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"commands"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Adapter drives the Codex CLI.
type Adapter struct {
	*clibase.Base
}

var _ cliadapter.Adapter = (*Adapter)(nil)

// New creates the Codex adapter backed by the given renderer.
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
			ConfigFormat:     agentcli.FormatTOML,
			AuthMethods:      []agentcli.AuthMethod{agentcli.AuthAPIKey},
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

// FormatPrompt passes the instruction through unchanged; the CLI takes the
// raw task text on its input channel.
func (a *Adapter) FormatPrompt(prompt string) string {
	return prompt
}

// ParseResponse decodes the structured document. Input that is not valid
// JSON is treated as plain content rather than an error.
func (a *Adapter) ParseResponse(raw string) (agentcli.ParsedResponse, error) {
	resp := agentcli.ParsedResponse{
		Content:      raw,
		FinishReason: agentcli.FinishStop,
	}
	if raw == "" {
		return resp, nil
	}

	var doc document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return resp, nil
	}

	if doc.Response != "" {
		resp.Content = doc.Response
	}
	resp.Metadata = agentcli.ResponseMetadata{
		Model:        doc.Model,
		InputTokens:  doc.Usage.InputTokens,
		OutputTokens: doc.Usage.OutputTokens,
	}
	for i, c := range doc.Commands {
		resp.ToolCalls = append(resp.ToolCalls, agentcli.ToolCall{
			ID:        fmt.Sprintf("tool_%d", i),
			Name:      c.Name,
			Arguments: c.Args,
		})
	}
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = agentcli.FinishToolCall
	}
	return resp, nil
}

// HealthCheck runs the shared baseline check with this adapter's parser.
func (a *Adapter) HealthCheck(ctx context.Context) agentcli.HealthStatus {
	return a.Base.HealthCheck(ctx, a.ParseResponse)
}
