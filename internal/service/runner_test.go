package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/Conductor/internal/bridge"
	"github.com/Strob0t/Conductor/internal/domain/agentcli"
	"github.com/Strob0t/Conductor/internal/domain/pipeline"
	"github.com/Strob0t/Conductor/internal/port/cliadapter"
	"github.com/Strob0t/Conductor/internal/port/codehost"
	"github.com/Strob0t/Conductor/internal/port/notifier"
	"github.com/Strob0t/Conductor/internal/port/progress"
	"github.com/Strob0t/Conductor/internal/registry"
)

// --- mocks ---

type mockAdapter struct {
	name string
}

var _ cliadapter.Adapter = (*mockAdapter)(nil)

func (m *mockAdapter) Name() string           { return m.name }
func (m *mockAdapter) ExecutableName() string { return "cat" }
func (m *mockAdapter) MemoryFilename() string { return "MEMORY.md" }
func (m *mockAdapter) Capabilities() agentcli.CapabilityDescriptor {
	return agentcli.CapabilityDescriptor{MaxContextTokens: 1000, ConfigFormat: agentcli.FormatJSON}
}
func (m *mockAdapter) ValidateModel(string) bool { return true }
func (m *mockAdapter) GenerateConfig(context.Context, agentcli.AgentConfig) (string, error) {
	return "{}", nil
}
func (m *mockAdapter) GenerateMemory(context.Context, agentcli.ContainerContext, string) (string, error) {
	return "memory", nil
}
func (m *mockAdapter) FormatPrompt(p string) string { return p }
func (m *mockAdapter) ParseResponse(raw string) (agentcli.ParsedResponse, error) {
	return agentcli.ParsedResponse{Content: raw, FinishReason: agentcli.FinishStop}, nil
}
func (m *mockAdapter) Initialize(_ context.Context, cc agentcli.ContainerContext) error {
	return cc.Validate()
}
func (m *mockAdapter) Cleanup(context.Context, agentcli.ContainerContext) error { return nil }
func (m *mockAdapter) HealthCheck(context.Context) agentcli.HealthStatus {
	return agentcli.HealthStatus{State: agentcli.HealthHealthy}
}

type memStore struct {
	mu      sync.Mutex
	records map[string]pipeline.StageProgress
	writes  []pipeline.Stage
	cleared int
}

var _ progress.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{records: make(map[string]pipeline.StageProgress)}
}

func (s *memStore) Write(_ context.Context, p pipeline.StageProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[p.Repository] = p
	s.writes = append(s.writes, p.Stage)
	return nil
}

func (s *memStore) Read(_ context.Context, repository string) (pipeline.StageProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[repository]
	if !ok {
		return pipeline.StageProgress{}, progress.ErrNotFound
	}
	return p, nil
}

func (s *memStore) Clear(_ context.Context, repository string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, repository)
	s.cleared++
	return nil
}

func (s *memStore) clearedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}

type mockProc struct {
	mu    sync.Mutex
	specs []bridge.RunSpec
	fail  func(call int) error
}

func (p *mockProc) Run(_ context.Context, spec bridge.RunSpec) (bridge.Result, error) {
	p.mu.Lock()
	p.specs = append(p.specs, spec)
	call := len(p.specs)
	p.mu.Unlock()
	if p.fail != nil {
		if err := p.fail(call); err != nil {
			return bridge.Result{ExitCode: 1}, err
		}
	}
	return bridge.Result{ExitCode: 0, Output: "done"}, nil
}

func (p *mockProc) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.specs)
}

type mockHost struct {
	mu           sync.Mutex
	attestations []string
}

var _ codehost.Provider = (*mockHost)(nil)

func (h *mockHost) CheckMergeReadiness(context.Context, string, string) (codehost.MergeReadiness, error) {
	return codehost.MergeReadiness{Merged: true}, nil
}

func (h *mockHost) PostAttestation(_ context.Context, _, _, body string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attestations = append(h.attestations, body)
	return nil
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []notifier.Notification
}

var _ notifier.Notifier = (*mockNotifier)(nil)

func (n *mockNotifier) Name() string                       { return "mock" }
func (n *mockNotifier) Capabilities() notifier.Capabilities { return notifier.Capabilities{} }
func (n *mockNotifier) Send(_ context.Context, msg notifier.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

type mockCaster struct {
	mu     sync.Mutex
	events []map[string]string
}

func (c *mockCaster) BroadcastEvent(_ context.Context, _ string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := payload.(map[string]string); ok {
		c.events = append(c.events, m)
	}
}

// --- fixtures ---

type fixture struct {
	runner *Runner
	store  *memStore
	proc   *mockProc
	host   *mockHost
	notify *mockNotifier
	caster *mockCaster
}

func newFixture(t *testing.T, cfg RunnerConfig) *fixture {
	t.Helper()
	reg := registry.New(registry.Config{})
	if err := reg.Register(&mockAdapter{name: "claude"}); err != nil {
		t.Fatal(err)
	}

	if cfg.WorkingDir == "" {
		cfg.WorkingDir = t.TempDir()
	}
	if cfg.WaitPollInterval == 0 {
		cfg.WaitPollInterval = time.Millisecond
	}

	f := &fixture{
		store:  newMemStore(),
		proc:   &mockProc{},
		host:   &mockHost{},
		notify: &mockNotifier{},
		caster: &mockCaster{},
	}
	f.runner = NewRunner(reg, f.store, f.proc, f.host, f.notify, f.caster, cfg)
	return f
}

func request() RunRequest {
	return RunRequest{
		Repository: "acme/widgets",
		Branch:     "feature/run-1",
		TaskID:     "task-1",
		Tool:       "claude",
		Model:      "claude-sonnet-4",
		Prompt:     "implement the feature",
	}
}

// --- tests ---

func TestRunFreshPipeline(t *testing.T) {
	f := newFixture(t, RunnerConfig{})
	if err := f.runner.Run(context.Background(), request()); err != nil {
		t.Fatal(err)
	}

	// Four agent stages run a process; the two waiting stages only poll.
	if f.proc.calls() != 4 {
		t.Fatalf("process runs = %d, want 4", f.proc.calls())
	}

	wantWrites := []pipeline.Stage{
		pipeline.StageImplementation,
		pipeline.StageQuality,
		pipeline.StageSecurity,
		pipeline.StageTesting,
		pipeline.StageWaitingIntegration,
		pipeline.StageWaitingMerge,
	}
	if len(f.store.writes) != len(wantWrites) {
		t.Fatalf("progress writes = %v", f.store.writes)
	}
	for i, st := range wantWrites {
		if f.store.writes[i] != st {
			t.Fatalf("write %d = %s, want %s", i, f.store.writes[i], st)
		}
	}
	if f.store.cleared != 1 {
		t.Fatalf("progress cleared %d times, want 1", f.store.cleared)
	}
	if len(f.host.attestations) != 1 {
		t.Fatalf("attestations = %d, want 1", len(f.host.attestations))
	}
}

func TestRunResumesFromPersistedStage(t *testing.T) {
	f := newFixture(t, RunnerConfig{})
	seed := pipeline.StageProgress{
		Repository: "acme/widgets",
		TaskID:     "task-1",
		Status:     pipeline.StatusInProgress,
		Stage:      pipeline.StageTesting,
		StartedAt:  time.Now().Add(-time.Hour),
	}
	if err := f.store.Write(context.Background(), seed); err != nil {
		t.Fatal(err)
	}
	f.store.writes = nil

	if err := f.runner.Run(context.Background(), request()); err != nil {
		t.Fatal(err)
	}

	// Only the testing stage spawns a process; security must not re-run.
	if f.proc.calls() != 1 {
		t.Fatalf("process runs = %d, want 1", f.proc.calls())
	}
	if len(f.host.attestations) != 0 {
		t.Fatal("security attestation duplicated on resume")
	}

	var skipped []string
	for _, ev := range f.caster.events {
		if ev["status"] == "skipped" {
			skipped = append(skipped, ev["stage"])
		}
	}
	if len(skipped) != 3 {
		t.Fatalf("skipped events = %v, want implementation/quality/security", skipped)
	}
}

func TestRunUnknownPersistedStageRestarts(t *testing.T) {
	f := newFixture(t, RunnerConfig{})
	if err := f.store.Write(context.Background(), pipeline.StageProgress{
		Repository: "acme/widgets",
		Stage:      pipeline.Stage("deploy-v2"),
		StartedAt:  time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	if err := f.runner.Run(context.Background(), request()); err != nil {
		t.Fatal(err)
	}
	// Restarted from the top: all four agent stages ran.
	if f.proc.calls() != 4 {
		t.Fatalf("process runs = %d, want 4", f.proc.calls())
	}
}

func TestRunRetriesRetryableStage(t *testing.T) {
	f := newFixture(t, RunnerConfig{
		MaxAttempts: map[pipeline.Stage]int{pipeline.StageImplementation: 3},
	})
	f.proc.fail = func(call int) error {
		if call <= 2 {
			return errors.New("transient")
		}
		return nil
	}

	if err := f.runner.Run(context.Background(), request()); err != nil {
		t.Fatal(err)
	}
	// Two failures, one success on implementation, then the other three.
	if f.proc.calls() != 6 {
		t.Fatalf("process runs = %d, want 6", f.proc.calls())
	}
}

func TestRunSecurityStageNeverRetried(t *testing.T) {
	f := newFixture(t, RunnerConfig{
		MaxAttempts: map[pipeline.Stage]int{pipeline.StageSecurity: 5},
	})
	f.proc.fail = func(call int) error {
		if call == 3 { // implementation, quality succeed; security fails
			return errors.New("attestation tool crashed")
		}
		return nil
	}

	err := f.runner.Run(context.Background(), request())
	if !errors.Is(err, ErrStageFailed) {
		t.Fatalf("got %v, want ErrStageFailed", err)
	}
	// The generous budget is ignored: exactly one security attempt.
	if f.proc.calls() != 3 {
		t.Fatalf("process runs = %d, want 3", f.proc.calls())
	}
	if len(f.notify.sent) != 1 {
		t.Fatalf("escalations = %d, want 1", len(f.notify.sent))
	}

	rec, err := f.store.Read(context.Background(), "acme/widgets")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != pipeline.StatusFailed || rec.Stage != pipeline.StageSecurity {
		t.Fatalf("persisted failure record = %+v", rec)
	}
}

func TestRunExhaustedRetriesEscalates(t *testing.T) {
	f := newFixture(t, RunnerConfig{
		MaxAttempts: map[pipeline.Stage]int{pipeline.StageImplementation: 2},
	})
	f.proc.fail = func(int) error { return errors.New("always broken") }

	err := f.runner.Run(context.Background(), request())
	if !errors.Is(err, ErrStageFailed) {
		t.Fatalf("got %v, want ErrStageFailed", err)
	}
	if f.proc.calls() != 2 {
		t.Fatalf("process runs = %d, want 2", f.proc.calls())
	}
	if len(f.notify.sent) != 1 {
		t.Fatalf("escalations = %d, want 1", len(f.notify.sent))
	}
}

func TestRunUnsupportedTool(t *testing.T) {
	f := newFixture(t, RunnerConfig{})
	req := request()
	req.Tool = "aider"

	err := f.runner.Run(context.Background(), req)
	if !errors.Is(err, registry.ErrUnsupportedTool) {
		t.Fatalf("got %v, want ErrUnsupportedTool", err)
	}
	if f.proc.calls() != 0 {
		t.Fatal("process ran despite unsupported tool")
	}
}
