// Package pipeline defines the ordered stage machine that drives one
// repository run: stage ordering, resume computation, and retry policy.
package pipeline

import (
	"errors"
	"fmt"
)

// Stage is one ordered phase of the pipeline. Values outside the enumerated
// set are carried verbatim for forward compatibility; Known reports false
// for them and resume logic refuses to place them.
type Stage string

const (
	StageImplementation      Stage = "implementation"
	StageQuality             Stage = "quality"
	StageSecurity            Stage = "security"
	StageTesting             Stage = "testing"
	StageWaitingIntegration  Stage = "waiting-external-integration"
	StageWaitingMerge        Stage = "waiting-merge"
	StageCompleted           Stage = "completed"
)

// stageOrder is the single source of truth for stage sequencing. Resume and
// transition logic derive positions from this slice only, so adding a stage
// here is the whole change.
var stageOrder = []Stage{
	StageImplementation,
	StageQuality,
	StageSecurity,
	StageTesting,
	StageWaitingIntegration,
	StageWaitingMerge,
	StageCompleted,
}

var (
	// ErrUnknownStage indicates a stage name outside the enumerated set.
	// Callers must not resume mid-pipeline when they see it.
	ErrUnknownStage = errors.New("pipeline: unknown stage")

	// ErrNoNextStage indicates a transition requested past the final stage.
	ErrNoNextStage = errors.New("pipeline: no stage after completed")
)

// Stages returns the enumerated stages in pipeline order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// ParseStage normalizes a stored stage name, accepting the historical
// aliases earlier deployments wrote.
func ParseStage(name string) Stage {
	switch name {
	case "implementation", "implementation-in-progress", "pending":
		return StageImplementation
	case "quality", "quality-in-progress":
		return StageQuality
	case "security", "security-in-progress":
		return StageSecurity
	case "testing", "testing-in-progress":
		return StageTesting
	case "waiting-external-integration", "waiting-integration":
		return StageWaitingIntegration
	case "waiting-merge", "waiting-pr-merged":
		return StageWaitingMerge
	case "completed":
		return StageCompleted
	default:
		return Stage(name)
	}
}

// Known reports whether s is one of the enumerated stages.
func (s Stage) Known() bool {
	_, ok := s.index()
	return ok
}

// IsTerminal reports whether the pipeline is finished at s.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted
}

func (s Stage) index() (int, bool) {
	for i, st := range stageOrder {
		if st == s {
			return i, true
		}
	}
	return 0, false
}

// Next returns the stage that follows s.
func (s Stage) Next() (Stage, error) {
	i, ok := s.index()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, s)
	}
	if i == len(stageOrder)-1 {
		return "", ErrNoNextStage
	}
	return stageOrder[i+1], nil
}

// Retryable reports whether a failure at s may be retried. The security
// stage posts a single attestation and is never retried: re-running it
// would produce a duplicate, contradictory artifact. The waiting stages
// only poll an external collaborator, so a failed poll is repeated by the
// wait loop itself, not by the retry machinery. Unknown stages are never
// retried.
func (s Stage) Retryable() bool {
	switch s {
	case StageImplementation, StageQuality, StageTesting:
		return true
	case StageSecurity:
		return false
	default:
		return false
	}
}

// ResumePlan is the outcome of resume computation: the stage to continue
// from and the strictly earlier stages to mark skipped. Earlier stages are
// marked skipped rather than omitted so stage preconditions expressed as
// "prior stage succeeded or was skipped" can pass on a resumed run.
type ResumePlan struct {
	Resume  Stage
	Skipped []Stage
}

// ComputeResume maps a persisted stage to its resume plan. An unknown stage
// name yields ErrUnknownStage together with a plan that restarts from the
// first stage; resume logic is authoritative only over enumerated stages
// and never guesses a position for anything else.
func ComputeResume(s Stage) (ResumePlan, error) {
	i, ok := s.index()
	if !ok {
		return ResumePlan{Resume: stageOrder[0]}, fmt.Errorf("%w: %q", ErrUnknownStage, s)
	}
	skipped := make([]Stage, i)
	copy(skipped, stageOrder[:i])
	return ResumePlan{Resume: s, Skipped: skipped}, nil
}
