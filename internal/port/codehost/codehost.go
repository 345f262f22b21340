// Package codehost defines the opaque code-hosting collaborator the waiting
// stages poll. The wire protocol lives entirely behind this port.
package codehost

import "context"

// MergeReadiness is the structured answer to "can this branch merge yet".
type MergeReadiness struct {
	Conflicts         bool     `json:"conflicts"`
	FailingChecks     bool     `json:"failing_checks"`
	UnresolvedReviews bool     `json:"unresolved_reviews"`
	Merged            bool     `json:"merged"`
	Details           []string `json:"details,omitempty"`
}

// Ready reports whether nothing blocks the merge.
func (m MergeReadiness) Ready() bool {
	return !m.Conflicts && !m.FailingChecks && !m.UnresolvedReviews
}

// Provider answers merge-readiness queries and accepts attestations for a
// repository branch.
type Provider interface {
	// CheckMergeReadiness reports the current merge blockers for the branch.
	CheckMergeReadiness(ctx context.Context, repository, branch string) (MergeReadiness, error)

	// PostAttestation publishes a single review attestation. Callers must
	// invoke this at most once per run; the security stage relies on it.
	PostAttestation(ctx context.Context, repository, branch, body string) error
}
