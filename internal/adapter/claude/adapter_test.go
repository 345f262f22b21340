package claude

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/Conductor/internal/adapter/templates"
	"github.com/Strob0t/Conductor/internal/domain/agentcli"
)

func newAdapter(t *testing.T) *Adapter {
	t.Helper()
	return New(templates.New("", nil, 0), 30*time.Second)
}

func validConfig() agentcli.AgentConfig {
	return agentcli.AgentConfig{
		Tool:        "claude",
		Model:       "claude-sonnet-4",
		MaxTokens:   8192,
		Temperature: 0.7,
	}
}

func TestGenerateConfigRoundTrip(t *testing.T) {
	a := newAdapter(t)
	out, err := a.GenerateConfig(context.Background(), validConfig())
	if err != nil {
		t.Fatal(err)
	}

	var rendered struct {
		Model       string  `json:"model"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float64 `json:"temperature"`
	}
	if err := json.Unmarshal([]byte(out), &rendered); err != nil {
		t.Fatalf("rendered config is not valid JSON: %v\n%s", err, out)
	}
	if rendered.Model != "claude-sonnet-4" || rendered.MaxTokens != 8192 || rendered.Temperature != 0.7 {
		t.Fatalf("round-trip mismatch: %+v", rendered)
	}
}

func TestGenerateConfigRejectsBounds(t *testing.T) {
	a := newAdapter(t)
	cases := []struct {
		name   string
		mutate func(*agentcli.AgentConfig)
	}{
		{"zero max tokens", func(c *agentcli.AgentConfig) { c.MaxTokens = 0 }},
		{"max tokens over ceiling", func(c *agentcli.AgentConfig) { c.MaxTokens = 1_000_001 }},
		{"negative temperature", func(c *agentcli.AgentConfig) { c.Temperature = -0.1 }},
		{"temperature over ceiling", func(c *agentcli.AgentConfig) { c.Temperature = 2.1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			if _, err := a.GenerateConfig(context.Background(), cfg); err == nil {
				t.Fatal("invalid config produced output")
			}
		})
	}
}

func TestGenerateConfigToolMismatch(t *testing.T) {
	a := newAdapter(t)
	cfg := validConfig()
	cfg.Tool = "codex"
	_, err := a.GenerateConfig(context.Background(), cfg)
	if !errors.Is(err, agentcli.ErrToolMismatch) {
		t.Fatalf("got %v, want ErrToolMismatch", err)
	}
}

func TestGenerateConfigToolEntries(t *testing.T) {
	a := newAdapter(t)

	cfg := validConfig()
	out, err := a.GenerateConfig(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	var empty struct {
		Servers map[string]any `json:"mcpServers"`
	}
	if err := json.Unmarshal([]byte(out), &empty); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(empty.Servers) != 0 {
		t.Fatalf("empty tool list rendered entries: %v", empty.Servers)
	}

	cfg.RemoteTools = []string{"alpha", "beta"}
	out, err = a.GenerateConfig(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	var filled struct {
		Servers map[string]any `json:"mcpServers"`
	}
	if err := json.Unmarshal([]byte(out), &filled); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(filled.Servers) != 2 {
		t.Fatalf("got %d tool entries, want 2: %v", len(filled.Servers), filled.Servers)
	}
	for _, name := range []string{"alpha", "beta"} {
		if _, ok := filled.Servers[name]; !ok {
			t.Fatalf("missing tool entry %q: %v", name, filled.Servers)
		}
	}
}

func TestValidateModel(t *testing.T) {
	a := newAdapter(t)
	for _, m := range []string{"claude-sonnet-4", "claude-opus-4", "sonnet", "opus", "haiku"} {
		if !a.ValidateModel(m) {
			t.Fatalf("rejected %q", m)
		}
	}
	if a.ValidateModel("gpt-5") {
		t.Fatal("accepted model outside the family")
	}
}

func TestFormatPrompt(t *testing.T) {
	a := newAdapter(t)
	got := a.FormatPrompt("fix the build")
	if got != "Human: fix the build\n\nAssistant: " {
		t.Fatalf("envelope = %q", got)
	}
}

func TestParseResponsePlain(t *testing.T) {
	a := newAdapter(t)
	resp, err := a.ParseResponse("all done")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "all done" || resp.FinishReason != agentcli.FinishStop || len(resp.ToolCalls) != 0 {
		t.Fatalf("unexpected parse: %+v", resp)
	}
}

func TestParseResponseToolCalls(t *testing.T) {
	a := newAdapter(t)
	raw := `Working on it.
<function_calls>
<invoke name="read_file">
<parameter name="path">main.go</parameter>
</invoke>
<invoke name="run_tests">
<parameter name="package">./...</parameter>
<parameter name="verbose">true</parameter>
</invoke>
</function_calls>`

	resp, err := a.ParseResponse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if resp.FinishReason != agentcli.FinishToolCall {
		t.Fatalf("finish reason = %s", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("got %d tool calls, want 2", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Name != "read_file" || resp.ToolCalls[0].Arguments["path"] != "main.go" {
		t.Fatalf("first call: %+v", resp.ToolCalls[0])
	}
	if resp.ToolCalls[1].Arguments["verbose"] != "true" {
		t.Fatalf("second call: %+v", resp.ToolCalls[1])
	}
	if resp.ToolCalls[0].ID == resp.ToolCalls[1].ID {
		t.Fatal("tool call ids are not unique")
	}
}

func TestInitializeRequiresContainerContext(t *testing.T) {
	a := newAdapter(t)
	err := a.Initialize(context.Background(), agentcli.ContainerContext{WorkingDir: "/workspace"})
	if !errors.Is(err, agentcli.ErrMissingContainerName) {
		t.Fatalf("got %v, want ErrMissingContainerName", err)
	}
	err = a.Initialize(context.Background(), agentcli.ContainerContext{Name: "agent-0"})
	if !errors.Is(err, agentcli.ErrMissingWorkingDir) {
		t.Fatalf("got %v, want ErrMissingWorkingDir", err)
	}
	if err := a.Initialize(context.Background(), agentcli.ContainerContext{Name: "agent-0", WorkingDir: "/workspace"}); err != nil {
		t.Fatal(err)
	}
}

func TestHealthCheck(t *testing.T) {
	a := newAdapter(t)
	status := a.HealthCheck(context.Background())
	if status.State != agentcli.HealthHealthy {
		t.Fatalf("state = %s: %s", status.State, status.Message)
	}
	if status.Details["config_valid"] != "true" || status.Details["templates_working"] != "true" {
		t.Fatalf("details = %v", status.Details)
	}
	if _, ok := status.Details["check_duration_ms"]; !ok {
		t.Fatal("missing check_duration_ms detail")
	}
}
