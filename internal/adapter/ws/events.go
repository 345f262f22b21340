package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/Conductor/internal/port/broadcast"
)

// Event type constants for WebSocket messages.
const (
	EventStage       = "stage"
	EventRunAccepted = "run.accepted"
	EventRunCanceled = "run.canceled"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// StageEvent is broadcast as a pipeline stage changes state.
type StageEvent struct {
	Repository string `json:"repository"`
	TaskID     string `json:"task_id"`
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
}

// RunEvent is broadcast when a run is accepted or canceled.
type RunEvent struct {
	Repository string `json:"repository"`
	TaskID     string `json:"task_id,omitempty"`
}

// BroadcastEvent marshals a typed event and broadcasts it to all clients.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
