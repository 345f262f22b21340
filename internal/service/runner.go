// Package service contains the orchestration layer: the stage runner that
// drives one repository through the pipeline, and the trigger subscriber
// that starts runs from queue messages.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	conotel "github.com/Strob0t/Conductor/internal/adapter/otel"
	"github.com/Strob0t/Conductor/internal/bridge"
	"github.com/Strob0t/Conductor/internal/domain/agentcli"
	"github.com/Strob0t/Conductor/internal/domain/pipeline"
	"github.com/Strob0t/Conductor/internal/port/broadcast"
	"github.com/Strob0t/Conductor/internal/port/cliadapter"
	"github.com/Strob0t/Conductor/internal/port/codehost"
	"github.com/Strob0t/Conductor/internal/port/notifier"
	"github.com/Strob0t/Conductor/internal/port/progress"
	"github.com/Strob0t/Conductor/internal/registry"
)

// ErrStageFailed wraps the terminal failure of one stage.
var ErrStageFailed = errors.New("service: stage failed")

// processRunner is the slice of the bridge the runner needs; narrowed for
// testing.
type processRunner interface {
	Run(ctx context.Context, spec bridge.RunSpec) (bridge.Result, error)
}

// RunRequest is one trigger to start or resume a pipeline run.
type RunRequest struct {
	Repository string
	Branch     string
	TaskID     string
	Workflow   string
	Tool       string
	Model      string
	Prompt     string
}

// RunnerConfig tunes the stage runner.
type RunnerConfig struct {
	WorkingDir string
	// FIFOName is the pipe filename created inside WorkingDir.
	FIFOName string
	// MaxAttempts overrides the per-stage attempt budget; stages absent
	// from the map get one attempt.
	MaxAttempts map[pipeline.Stage]int
	// MaxTokens and Temperature are applied to every agent config.
	MaxTokens   int
	Temperature float64
	// RemoteTools is the tool-capability list handed to config generation.
	RemoteTools []string
	// WaitPollInterval is the delay between merge-readiness polls in the
	// waiting stages.
	WaitPollInterval time.Duration
}

// Runner drives one repository run through the ordered stages.
type Runner struct {
	reg    *registry.Registry
	store  progress.Store
	proc   processRunner
	host   codehost.Provider
	notify notifier.Notifier
	caster broadcast.Broadcaster
	cfg    RunnerConfig
}

// NewRunner wires a stage runner. notify and caster may be nil.
func NewRunner(reg *registry.Registry, store progress.Store, proc processRunner, host codehost.Provider, notify notifier.Notifier, caster broadcast.Broadcaster, cfg RunnerConfig) *Runner {
	if cfg.FIFOName == "" {
		cfg.FIFOName = "agent-input.jsonl"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.WaitPollInterval <= 0 {
		cfg.WaitPollInterval = 30 * time.Second
	}
	return &Runner{reg: reg, store: store, proc: proc, host: host, notify: notify, caster: caster, cfg: cfg}
}

// Run executes the pipeline for req, resuming from persisted progress when
// a record exists. Progress is read once here; every transition writes
// before the stage acts, so a crash mid-stage resumes at that stage and
// never skips ahead.
func (r *Runner) Run(ctx context.Context, req RunRequest) error {
	ctx, span := conotel.StartRunSpan(ctx, req.Repository, req.TaskID, req.Tool)
	defer span.End()

	resume := pipeline.StageImplementation
	startedAt := time.Now().UTC()

	prev, err := r.store.Read(ctx, req.Repository)
	switch {
	case err == nil:
		plan, perr := pipeline.ComputeResume(prev.Stage)
		if perr != nil {
			slog.Warn("persisted stage not recognized, restarting pipeline",
				"repository", req.Repository, "stage", prev.Stage)
		}
		resume = plan.Resume
		startedAt = prev.StartedAt
		for _, skipped := range plan.Skipped {
			slog.Info("stage skipped on resume", "repository", req.Repository, "stage", skipped)
			r.broadcast(ctx, req, skipped, "skipped", "")
		}
	case errors.Is(err, progress.ErrNotFound):
		// Fresh run.
	default:
		return fmt.Errorf("service: read progress: %w", err)
	}

	stages := pipeline.Stages()
	started := false
	for _, st := range stages {
		if st == resume {
			started = true
		}
		if !started || st.IsTerminal() {
			continue
		}

		if err := r.writeProgress(ctx, req, st, pipeline.StatusInProgress, startedAt); err != nil {
			return err
		}
		r.broadcast(ctx, req, st, "started", "")

		if err := r.runStageWithRetry(ctx, req, st); err != nil {
			_ = r.writeProgress(ctx, req, st, pipeline.StatusFailed, startedAt)
			r.broadcast(ctx, req, st, "failed", err.Error())
			r.escalate(ctx, req, st, err)
			return fmt.Errorf("%w at %s: %w", ErrStageFailed, st, err)
		}
		r.broadcast(ctx, req, st, "completed", "")
	}

	if err := r.store.Clear(ctx, req.Repository); err != nil {
		return fmt.Errorf("service: clear progress: %w", err)
	}
	r.broadcast(ctx, req, pipeline.StageCompleted, "completed", "")
	slog.Info("pipeline completed", "repository", req.Repository, "task", req.TaskID)
	return nil
}

func (r *Runner) writeProgress(ctx context.Context, req RunRequest, st pipeline.Stage, status pipeline.Status, startedAt time.Time) error {
	err := r.store.Write(ctx, pipeline.StageProgress{
		Repository:  req.Repository,
		Branch:      req.Branch,
		TaskID:      req.TaskID,
		Workflow:    req.Workflow,
		Status:      status,
		Stage:       st,
		StartedAt:   startedAt,
		LastUpdated: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("service: write progress at %s: %w", st, err)
	}
	return nil
}

// runStageWithRetry applies the per-stage retry policy. Non-retryable
// stages escalate on the first failure; the decision comes from the stage
// itself, never a fall-through default.
func (r *Runner) runStageWithRetry(ctx context.Context, req RunRequest, st pipeline.Stage) error {
	budget := r.cfg.MaxAttempts[st]
	if budget <= 0 {
		budget = 1
	}

	var err error
	for attempt := 1; attempt <= budget; attempt++ {
		err = r.runStage(ctx, req, st, attempt)
		if err == nil {
			return nil
		}
		if !st.Retryable() {
			return err
		}
		if attempt < budget {
			slog.Warn("stage failed, retrying", "repository", req.Repository,
				"stage", st, "attempt", attempt, "error", err)
		}
	}
	return err
}

func (r *Runner) runStage(ctx context.Context, req RunRequest, st pipeline.Stage, attempt int) error {
	ctx, span := conotel.StartStageSpan(ctx, string(st), attempt)
	defer span.End()

	switch st {
	case pipeline.StageWaitingIntegration, pipeline.StageWaitingMerge:
		return r.waitStage(ctx, req, st)
	default:
		return r.agentStage(ctx, req, st, attempt)
	}
}

// waitStage polls the code-hosting collaborator until the stage's exit
// condition holds. The wait itself is unbounded; cancellation comes from
// ctx.
func (r *Runner) waitStage(ctx context.Context, req RunRequest, st pipeline.Stage) error {
	for {
		ready, err := r.host.CheckMergeReadiness(ctx, req.Repository, req.Branch)
		if err != nil {
			slog.Warn("merge readiness check failed", "repository", req.Repository, "error", err)
		} else {
			switch st {
			case pipeline.StageWaitingIntegration:
				if ready.Ready() {
					return nil
				}
			case pipeline.StageWaitingMerge:
				if ready.Merged {
					return nil
				}
			}
			slog.Info("waiting on external state", "repository", req.Repository,
				"stage", st, "conflicts", ready.Conflicts,
				"failing_checks", ready.FailingChecks, "unresolved_reviews", ready.UnresolvedReviews)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.WaitPollInterval):
		}
	}
}

// agentStage runs one agent process for the stage: adapter setup, config
// and memory-file generation, prompt delivery through the bridge, and
// response parsing. The security stage additionally posts its single
// attestation.
func (r *Runner) agentStage(ctx context.Context, req RunRequest, st pipeline.Stage, attempt int) error {
	adapter, err := r.reg.Create(req.Tool)
	if err != nil {
		return err
	}
	if !adapter.ValidateModel(req.Model) {
		slog.Warn("model not recognized by adapter, proceeding", "tool", req.Tool, "model", req.Model)
	}

	cc := agentcli.ContainerContext{
		Name:       fmt.Sprintf("%s-%s", pipeline.Slug(req.Repository), st),
		WorkingDir: r.cfg.WorkingDir,
	}
	if err := adapter.Initialize(ctx, cc); err != nil {
		return err
	}
	defer func() {
		if err := adapter.Cleanup(ctx, cc); err != nil {
			slog.Warn("adapter cleanup failed", "tool", req.Tool, "error", err)
		}
	}()

	if err := r.writeArtifacts(ctx, adapter, req, cc, st); err != nil {
		return err
	}

	message, err := json.Marshal(map[string]any{
		"type":             "task",
		"task_id":          req.TaskID,
		"stage":            string(st),
		"prompt":           adapter.FormatPrompt(req.Prompt),
		"attempt":          attempt,
		"continue_session": attempt > 1,
	})
	if err != nil {
		return fmt.Errorf("service: encode message: %w", err)
	}

	res, err := r.proc.Run(ctx, bridge.RunSpec{
		Command:  adapter.ExecutableName(),
		Dir:      r.cfg.WorkingDir,
		Env:      []string{"CONTEXT_VERSION=" + strconv.Itoa(attempt)},
		FIFOPath: filepath.Join(r.cfg.WorkingDir, r.cfg.FIFOName),
		Message:  message,
	})
	if err != nil {
		return err
	}

	parsed, err := adapter.ParseResponse(res.Output)
	if err != nil {
		return err
	}
	slog.Info("stage run finished", "repository", req.Repository, "stage", st,
		"finish_reason", parsed.FinishReason, "tool_calls", len(parsed.ToolCalls),
		"duration", res.Duration)

	if st == pipeline.StageSecurity {
		if err := r.host.PostAttestation(ctx, req.Repository, req.Branch, parsed.Content); err != nil {
			return fmt.Errorf("service: post attestation: %w", err)
		}
	}
	return nil
}

// writeArtifacts renders the adapter's config and memory files into the
// working directory before the process starts.
func (r *Runner) writeArtifacts(ctx context.Context, adapter cliadapter.Adapter, req RunRequest, cc agentcli.ContainerContext, st pipeline.Stage) error {
	cfgText, err := adapter.GenerateConfig(ctx, agentcli.AgentConfig{
		Tool:        req.Tool,
		Model:       req.Model,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
		RemoteTools: r.cfg.RemoteTools,
	})
	if err != nil {
		return err
	}
	cfgName := fmt.Sprintf("%s-config.%s", adapter.Name(), adapter.Capabilities().ConfigFormat)
	if err := os.WriteFile(filepath.Join(r.cfg.WorkingDir, cfgName), []byte(cfgText), 0o644); err != nil {
		return fmt.Errorf("service: write config: %w", err)
	}

	memory, err := adapter.GenerateMemory(ctx, cc, string(st))
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(r.cfg.WorkingDir, adapter.MemoryFilename()), []byte(memory), 0o644); err != nil {
		return fmt.Errorf("service: write memory file: %w", err)
	}
	return nil
}

func (r *Runner) broadcast(ctx context.Context, req RunRequest, st pipeline.Stage, status, detail string) {
	if r.caster == nil {
		return
	}
	r.caster.BroadcastEvent(ctx, "stage", map[string]string{
		"repository": req.Repository,
		"task_id":    req.TaskID,
		"stage":      string(st),
		"status":     status,
		"detail":     detail,
	})
}

// escalate surfaces a terminal stage failure to a human. Retryable stages
// only land here after their attempt budget is spent; non-retryable stages
// arrive immediately.
func (r *Runner) escalate(ctx context.Context, req RunRequest, st pipeline.Stage, cause error) {
	if r.notify == nil {
		return
	}
	err := r.notify.Send(ctx, notifier.Notification{
		Title:   fmt.Sprintf("Pipeline stage %s failed", st),
		Message: fmt.Sprintf("repository %s, task %s: %v", req.Repository, req.TaskID, cause),
		Level:   "error",
		Source:  "pipeline." + string(st),
	})
	if err != nil {
		slog.Error("failure notification not delivered", "error", err)
	}
}
