package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/Conductor/internal/domain/agentcli"
	"github.com/Strob0t/Conductor/internal/domain/pipeline"
	"github.com/Strob0t/Conductor/internal/port/cliadapter"
	"github.com/Strob0t/Conductor/internal/port/messagequeue"
	"github.com/Strob0t/Conductor/internal/port/progress"
	"github.com/Strob0t/Conductor/internal/registry"
)

// stubAdapter is a minimal healthy adapter for handler tests.
type stubAdapter struct {
	name string
}

var _ cliadapter.Adapter = (*stubAdapter)(nil)

func (s *stubAdapter) Name() string           { return s.name }
func (s *stubAdapter) ExecutableName() string { return s.name }
func (s *stubAdapter) MemoryFilename() string { return "NOTES.md" }
func (s *stubAdapter) Capabilities() agentcli.CapabilityDescriptor {
	return agentcli.CapabilityDescriptor{MaxContextTokens: 100_000, MemoryFilename: "NOTES.md"}
}
func (s *stubAdapter) ValidateModel(string) bool { return true }
func (s *stubAdapter) GenerateConfig(context.Context, agentcli.AgentConfig) (string, error) {
	return "{}", nil
}
func (s *stubAdapter) GenerateMemory(context.Context, agentcli.ContainerContext, string) (string, error) {
	return "", nil
}
func (s *stubAdapter) FormatPrompt(p string) string { return p }
func (s *stubAdapter) ParseResponse(raw string) (agentcli.ParsedResponse, error) {
	return agentcli.ParsedResponse{Content: raw}, nil
}
func (s *stubAdapter) Initialize(context.Context, agentcli.ContainerContext) error { return nil }
func (s *stubAdapter) Cleanup(context.Context, agentcli.ContainerContext) error    { return nil }
func (s *stubAdapter) HealthCheck(context.Context) agentcli.HealthStatus {
	return agentcli.HealthStatus{State: agentcli.HealthHealthy, CheckedAt: time.Now()}
}

// memStore is an in-memory progress store.
type memStore struct {
	records map[string]pipeline.StageProgress
}

var _ progress.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{records: make(map[string]pipeline.StageProgress)}
}

func (m *memStore) Write(_ context.Context, p pipeline.StageProgress) error {
	m.records[p.Repository] = p
	return nil
}

func (m *memStore) Read(_ context.Context, repo string) (pipeline.StageProgress, error) {
	p, ok := m.records[repo]
	if !ok {
		return pipeline.StageProgress{}, progress.ErrNotFound
	}
	return p, nil
}

func (m *memStore) Clear(_ context.Context, repo string) error {
	delete(m.records, repo)
	return nil
}

// recordQueue captures published messages.
type recordQueue struct {
	published map[string][][]byte
}

var _ messagequeue.Queue = (*recordQueue)(nil)

func newRecordQueue() *recordQueue {
	return &recordQueue{published: make(map[string][][]byte)}
}

func (q *recordQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.published[subject] = append(q.published[subject], data)
	return nil
}

func (q *recordQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *recordQueue) Close() error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *memStore, *recordQueue) {
	t.Helper()
	reg := registry.New(registry.DefaultConfig())
	if err := reg.Register(&stubAdapter{name: "claude"}); err != nil {
		t.Fatal(err)
	}
	store := newMemStore()
	queue := newRecordQueue()

	r := chi.NewRouter()
	MountRoutes(r, NewHandlers(reg, store, queue, nil), nil)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store, queue
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestListAdapters(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/adapters")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out []adapterInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Tool != "claude" {
		t.Fatalf("adapters = %+v, want one claude entry", out)
	}
}

func TestAdapterHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/adapters/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]agentcli.HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["claude"].State != agentcli.HealthHealthy {
		t.Fatalf("claude state = %s, want healthy", out["claude"].State)
	}
}

func TestAdapterHistoryUnknownTool(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/adapters/goose/history")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetProgress(t *testing.T) {
	srv, store, _ := newTestServer(t)

	rec := pipeline.StageProgress{
		Repository: "acme/widgets",
		Stage:      pipeline.StageTesting,
		Status:     "in-progress",
	}
	if err := store.Write(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/progress?repository=acme%2Fwidgets")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got pipeline.StageProgress
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Stage != pipeline.StageTesting {
		t.Fatalf("stage = %s, want testing", got.Stage)
	}
}

func TestGetProgressNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/progress?repository=acme%2Fmissing")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetProgressMissingRepository(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/progress")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestClearProgress(t *testing.T) {
	srv, store, _ := newTestServer(t)

	rec := pipeline.StageProgress{Repository: "acme/widgets", Stage: pipeline.StageQuality}
	if err := store.Write(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/progress?repository=acme%2Fwidgets", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if _, err := store.Read(context.Background(), "acme/widgets"); err == nil {
		t.Fatal("record still present after clear")
	}
}

func TestStartRun(t *testing.T) {
	srv, _, queue := newTestServer(t)

	body := `{"repository":"acme/widgets","task_id":"t1","tool":"claude","model":"claude-sonnet-4","prompt":"go"}`
	resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if n := len(queue.published[messagequeue.SubjectRunStart]); n != 1 {
		t.Fatalf("published = %d, want 1", n)
	}
}

func TestStartRunMissingFields(t *testing.T) {
	srv, _, queue := newTestServer(t)

	body := `{"repository":"acme/widgets"}`
	resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if len(queue.published[messagequeue.SubjectRunStart]) != 0 {
		t.Fatal("incomplete run was published")
	}
}

func TestStartRunUnsupportedTool(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := `{"repository":"acme/widgets","task_id":"t1","tool":"goose","model":"m","prompt":"go"}`
	resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCancelRun(t *testing.T) {
	srv, _, queue := newTestServer(t)

	body := `{"repository":"acme/widgets"}`
	resp, err := http.Post(srv.URL+"/api/v1/runs/cancel", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if n := len(queue.published[messagequeue.SubjectRunCancel]); n != 1 {
		t.Fatalf("published = %d, want 1", n)
	}
}
