package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/Conductor/internal/domain/pipeline"
	"github.com/Strob0t/Conductor/internal/port/progress"
)

// Store implements progress.Store using PostgreSQL. Records are keyed by
// the repository slug, so one row per repository.
type Store struct {
	pool *pgxpool.Pool
}

var _ progress.Store = (*Store)(nil)

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Write creates or replaces the progress record for p.Repository.
func (s *Store) Write(ctx context.Context, p pipeline.StageProgress) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stage_progress (slug, repository, branch, task_id, workflow, status, stage, run_handle, started_at, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (slug) DO UPDATE SET
		   branch = EXCLUDED.branch,
		   task_id = EXCLUDED.task_id,
		   workflow = EXCLUDED.workflow,
		   status = EXCLUDED.status,
		   stage = EXCLUDED.stage,
		   run_handle = EXCLUDED.run_handle,
		   last_updated = EXCLUDED.last_updated`,
		pipeline.Slug(p.Repository), p.Repository, p.Branch, p.TaskID, p.Workflow,
		string(p.Status), string(p.Stage), p.RunHandle, p.StartedAt, p.LastUpdated)
	if err != nil {
		return fmt.Errorf("write progress %s: %w", p.Repository, err)
	}
	return nil
}

// Read returns the progress record for repository, or progress.ErrNotFound.
func (s *Store) Read(ctx context.Context, repository string) (pipeline.StageProgress, error) {
	var p pipeline.StageProgress
	var status, stage string
	err := s.pool.QueryRow(ctx,
		`SELECT repository, branch, task_id, workflow, status, stage, run_handle, started_at, last_updated
		 FROM stage_progress WHERE slug = $1`,
		pipeline.Slug(repository)).Scan(
		&p.Repository, &p.Branch, &p.TaskID, &p.Workflow, &status, &stage,
		&p.RunHandle, &p.StartedAt, &p.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.StageProgress{}, fmt.Errorf("%w: %s", progress.ErrNotFound, repository)
		}
		return pipeline.StageProgress{}, fmt.Errorf("read progress %s: %w", repository, err)
	}
	p.Status = pipeline.Status(status)
	p.Stage = pipeline.ParseStage(stage)
	return p, nil
}

// Clear deletes the progress record for repository. Deleting a missing
// record is not an error.
func (s *Store) Clear(ctx context.Context, repository string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM stage_progress WHERE slug = $1`, pipeline.Slug(repository))
	if err != nil {
		return fmt.Errorf("clear progress %s: %w", repository, err)
	}
	return nil
}
