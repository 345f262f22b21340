package pipeline

import (
	"strings"
	"time"
)

// Status is the run-level state stored alongside the current stage.
type Status string

const (
	StatusInProgress Status = "in-progress"
	StatusSuspended  Status = "suspended"
	StatusFailed     Status = "failed"
	StatusCompleted  Status = "completed"
)

// StageProgress is the durable resume record for one repository's run.
// Exactly one live record exists per repository; it is written on every
// stage transition and deleted on terminal success.
type StageProgress struct {
	Repository  string    `json:"repository"`
	Branch      string    `json:"branch,omitempty"`
	TaskID      string    `json:"task_id"`
	Workflow    string    `json:"workflow,omitempty"`
	Status      Status    `json:"status"`
	Stage       Stage     `json:"stage"`
	RunHandle   string    `json:"run_handle,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// Slug derives the deterministic store key segment for a repository name.
// Lookups never depend on run-specific identifiers.
func Slug(repository string) string {
	return strings.ReplaceAll(repository, "/", "-")
}

// ProgressKey is the full store key for a repository's progress record.
func ProgressKey(repository string) string {
	return "run-progress-" + Slug(repository)
}
