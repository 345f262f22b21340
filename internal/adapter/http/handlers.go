// Package http provides the Conductor admin API and HTTP middleware.
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Strob0t/Conductor/internal/domain/agentcli"
	"github.com/Strob0t/Conductor/internal/port/broadcast"
	"github.com/Strob0t/Conductor/internal/port/messagequeue"
	"github.com/Strob0t/Conductor/internal/port/progress"
	"github.com/Strob0t/Conductor/internal/registry"
)

const maxBodySize = 1 << 20 // 1 MiB

// Handlers holds dependencies for the admin API.
type Handlers struct {
	registry *registry.Registry
	store    progress.Store
	queue    messagequeue.Queue
	caster   broadcast.Broadcaster
}

// NewHandlers creates the admin API handler set. caster may be nil.
func NewHandlers(reg *registry.Registry, store progress.Store, queue messagequeue.Queue, caster broadcast.Broadcaster) *Handlers {
	return &Handlers{registry: reg, store: store, queue: queue, caster: caster}
}

// Health responds with a static liveness payload.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type adapterInfo struct {
	Tool         string                        `json:"tool"`
	Executable   string                        `json:"executable"`
	Capabilities agentcli.CapabilityDescriptor `json:"capabilities"`
}

// ListAdapters returns the registered adapters and their capabilities.
func (h *Handlers) ListAdapters(w http.ResponseWriter, _ *http.Request) {
	out := make([]adapterInfo, 0)
	for _, tool := range h.registry.Tools() {
		a, err := h.registry.Create(tool)
		if err != nil {
			continue
		}
		out = append(out, adapterInfo{
			Tool:         a.Name(),
			Executable:   a.ExecutableName(),
			Capabilities: a.Capabilities(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// AdapterHealth runs a health sweep across all adapters and returns the results.
func (h *Handlers) AdapterHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.HealthSummary(r.Context()))
}

// AdapterHistory returns the recent health history for one adapter.
func (h *Handlers) AdapterHistory(w http.ResponseWriter, r *http.Request) {
	tool := urlParam(r, "tool")
	if _, err := h.registry.Create(tool); err != nil {
		writeError(w, http.StatusNotFound, "unknown tool")
		return
	}
	writeJSON(w, http.StatusOK, h.registry.History(tool))
}

// GetProgress returns the persisted stage progress for a repository.
// The repository is passed as a query parameter because slugs contain slashes.
func (h *Handlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repository")
	if !requireField(w, repo, "repository") {
		return
	}
	rec, err := h.store.Read(r.Context(), repo)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ClearProgress deletes the persisted stage progress for a repository,
// forcing the next run to start from the first stage.
func (h *Handlers) ClearProgress(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repository")
	if !requireField(w, repo, "repository") {
		return
	}
	if err := h.store.Clear(r.Context(), repo); err != nil {
		writeInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartRun validates a run request and publishes it to the queue.
// The run executes asynchronously; the response only acknowledges enqueueing.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[messagequeue.RunStartPayload](w, r, maxBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.Repository, "repository") ||
		!requireField(w, req.TaskID, "task_id") ||
		!requireField(w, req.Tool, "tool") ||
		!requireField(w, req.Model, "model") ||
		!requireField(w, req.Prompt, "prompt") {
		return
	}
	if _, err := h.registry.Create(req.Tool); err != nil {
		writeError(w, http.StatusBadRequest, "unsupported tool")
		return
	}

	data, err := json.Marshal(req)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if err := h.queue.Publish(r.Context(), messagequeue.SubjectRunStart, data); err != nil {
		writeInternalError(w, err)
		return
	}
	h.broadcastRun(r.Context(), "run.accepted", req.Repository, req.TaskID)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"repository": req.Repository,
		"task_id":    req.TaskID,
	})
}

// CancelRun publishes a cancellation for the repository's active run.
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[messagequeue.RunCancelPayload](w, r, maxBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.Repository, "repository") {
		return
	}

	data, err := json.Marshal(req)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if err := h.queue.Publish(r.Context(), messagequeue.SubjectRunCancel, data); err != nil {
		writeInternalError(w, err)
		return
	}
	h.broadcastRun(r.Context(), "run.canceled", req.Repository, "")

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) broadcastRun(ctx context.Context, eventType, repo, taskID string) {
	if h.caster == nil {
		return
	}
	h.caster.BroadcastEvent(ctx, eventType, map[string]string{
		"repository": repo,
		"task_id":    taskID,
	})
}
