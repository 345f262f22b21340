// Package claude implements the agent CLI adapter for the Claude Code CLI:
// JSON config artifact, CLAUDE.md memory file, role-delimited prompts, and
// tagged-markup tool-call extraction.
package claude

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/Conductor/internal/adapter/clibase"
	"github.com/Strob0t/Conductor/internal/domain/agentcli"
	"github.com/Strob0t/Conductor/internal/port/cliadapter"
	"github.com/Strob0t/Conductor/internal/port/render"
)

const (
	toolName       = "claude"
	executableName = "claude"
	memoryFilename = "CLAUDE.md"

	configTemplate = "claude/config.json.tmpl"
	memoryTemplate = "claude/memory.md.tmpl"

	defaultMaxContext = 200_000

	// MaxContextEnv overrides the advertised context window without a
	// redeploy when the upstream limit changes.
	MaxContextEnv = "CLAUDE_MAX_CONTEXT_TOKENS"
)

var (
	invokeRe = regexp.MustCompile(`(?s)<invoke name="([^"]+)">(.*?)</invoke>`)
	paramRe  = regexp.MustCompile(`(?s)<parameter name="([^"]+)">(.*?)</parameter>`)
)

// Adapter drives the Claude CLI.
type Adapter struct {
	*clibase.Base
}

var _ cliadapter.Adapter = (*Adapter)(nil)

// New creates the Claude adapter backed by the given renderer.
func New(r render.Renderer, healthTimeout time.Duration) *Adapter {
	return &Adapter{Base: clibase.New(clibase.Options{
		Name:           toolName,
		Executable:     executableName,
		MemoryFilename: memoryFilename,
		Capabilities: agentcli.CapabilityDescriptor{
			Streaming:        true,
			Multimodal:       true,
			FunctionCalling:  true,
			SystemPrompts:    true,
			MaxContextTokens: maxContext(),
			MemoryFilename:   memoryFilename,
			ConfigFormat:     agentcli.FormatJSON,
			AuthMethods:      []agentcli.AuthMethod{agentcli.AuthSessionToken, agentcli.AuthAPIKey},
		},
		ConfigTemplate: configTemplate,
		MemoryTemplate: memoryTemplate,
		Renderer:       r,
		HealthTimeout:  healthTimeout,
	})}
}

func maxContext() int {
	if v := os.Getenv(MaxContextEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultMaxContext
}

// ValidateModel accepts anything in the claude model family and the short
// aliases the CLI resolves itself.
func (a *Adapter) ValidateModel(model string) bool {
	switch model {
	case "sonnet", "opus", "haiku":
		return true
	}
	return strings.HasPrefix(model, "claude-")
}

// FormatPrompt wraps the instruction in the role-delimited envelope the CLI
// expects on its input channel.
func (a *Adapter) FormatPrompt(prompt string) string {
	return "Human: " + prompt + "\n\nAssistant: "
}

// ParseResponse extracts tagged-markup tool calls. Responses without markup
// pass through as plain content; missing metadata stays zero-valued.
func (a *Adapter) ParseResponse(raw string) (agentcli.ParsedResponse, error) {
	resp := agentcli.ParsedResponse{
		Content:      raw,
		FinishReason: agentcli.FinishStop,
	}

	for i, m := range invokeRe.FindAllStringSubmatch(raw, -1) {
		call := agentcli.ToolCall{
			ID:   fmt.Sprintf("call_%d", i),
			Name: m[1],
		}
		for _, p := range paramRe.FindAllStringSubmatch(m[2], -1) {
			if call.Arguments == nil {
				call.Arguments = make(map[string]any)
			}
			call.Arguments[p[1]] = p[2]
		}
		resp.ToolCalls = append(resp.ToolCalls, call)
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
