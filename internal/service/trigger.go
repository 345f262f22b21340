package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Strob0t/Conductor/internal/port/messagequeue"
)

// Trigger consumes run-start messages from the queue and hands them to the
// runner. The core never polls for work itself; the external trigger layer
// decides when a run begins.
type Trigger struct {
	queue  messagequeue.Queue
	runner *Runner

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewTrigger creates a trigger subscriber.
func NewTrigger(queue messagequeue.Queue, runner *Runner) *Trigger {
	return &Trigger{queue: queue, runner: runner, cancels: make(map[string]context.CancelFunc)}
}

// Start subscribes to the run subjects. The returned cancel funcs are
// managed by the queue; Start itself does not block.
func (t *Trigger) Start(ctx context.Context) error {
	if _, err := t.queue.Subscribe(ctx, messagequeue.SubjectRunStart, t.handleStart(ctx)); err != nil {
		return fmt.Errorf("service: subscribe %s: %w", messagequeue.SubjectRunStart, err)
	}
	if _, err := t.queue.Subscribe(ctx, messagequeue.SubjectRunCancel, t.handleCancel); err != nil {
		return fmt.Errorf("service: subscribe %s: %w", messagequeue.SubjectRunCancel, err)
	}
	return nil
}

func (t *Trigger) handleStart(base context.Context) messagequeue.Handler {
	return func(_ context.Context, subject string, data []byte) error {
		var p messagequeue.RunStartPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("service: decode %s: %w", subject, err)
		}
		if p.Repository == "" || p.TaskID == "" || p.Tool == "" {
			return fmt.Errorf("service: %s missing repository, task_id, or tool", subject)
		}

		runCtx, cancel := context.WithCancel(base)
		t.mu.Lock()
		if prev, ok := t.cancels[p.Repository]; ok {
			prev()
		}
		t.cancels[p.Repository] = cancel
		t.mu.Unlock()

		go func() {
			defer func() {
				t.mu.Lock()
				delete(t.cancels, p.Repository)
				t.mu.Unlock()
				cancel()
			}()
			err := t.runner.Run(runCtx, RunRequest{
				Repository: p.Repository,
				Branch:     p.Branch,
				TaskID:     p.TaskID,
				Workflow:   p.Workflow,
				Tool:       p.Tool,
				Model:      p.Model,
				Prompt:     p.Prompt,
			})
			if err != nil {
				slog.Error("pipeline run failed", "repository", p.Repository, "error", err)
			}
		}()
		return nil
	}
}

func (t *Trigger) handleCancel(_ context.Context, subject string, data []byte) error {
	var p messagequeue.RunCancelPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("service: decode %s: %w", subject, err)
	}
	t.mu.Lock()
	cancel, ok := t.cancels[p.Repository]
	t.mu.Unlock()
	if !ok {
		slog.Warn("cancel requested for unknown run", "repository", p.Repository)
		return nil
	}
	slog.Info("cancelling run", "repository", p.Repository)
	cancel()
	return nil
}
