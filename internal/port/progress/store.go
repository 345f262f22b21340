// Package progress defines the persistence port for pipeline resume state.
package progress

import (
	"context"
	"errors"

	"github.com/Strob0t/Conductor/internal/domain/pipeline"
)

// ErrNotFound indicates no progress record exists for the repository.
var ErrNotFound = errors.New("progress: record not found")

// Store persists one StageProgress record per repository, keyed by the
// repository's deterministic slug. Writes are create-or-replace and may be
// duplicated (a repeat write of the same stage is idempotent).
type Store interface {
	// Write creates or replaces the record for p.Repository.
	Write(ctx context.Context, p pipeline.StageProgress) error

	// Read returns the record for repository, or ErrNotFound.
	Read(ctx context.Context, repository string) (pipeline.StageProgress, error)

	// Clear deletes the record for repository. Clearing a missing record
	// is not an error.
	Clear(ctx context.Context, repository string) error
}
