package registry

import (
	"sync"

	"github.com/Strob0t/Conductor/internal/domain/agentcli"
)

// history is a bounded ring buffer of health statuses for one tool.
// Appends from concurrent check tasks serialize on the mutex so the stored
// order stays monotonic in time.
type history struct {
	mu      sync.Mutex
	limit   int
	entries []agentcli.HealthStatus
}

func newHistory(limit int) *history {
	return &history{limit: limit}
}

func (h *history) append(status agentcli.HealthStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, status)
	if len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
}

func (h *history) snapshot() []agentcli.HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]agentcli.HealthStatus, len(h.entries))
	copy(out, h.entries)
	return out
}

// consecutiveUnhealthy counts the unbroken run of Unhealthy entries at the
// tail of the history.
func (h *history) consecutiveUnhealthy() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].State != agentcli.HealthUnhealthy {
			break
		}
		n++
	}
	return n
}
