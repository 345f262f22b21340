// Package natskv implements the progress store on NATS JetStream KV, for
// deployments that run without PostgreSQL. Records are JSON values keyed by
// the repository's progress key.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/Conductor/internal/domain/pipeline"
	"github.com/Strob0t/Conductor/internal/port/progress"
)

// BucketName is the KV bucket holding progress records.
const BucketName = "conductor-progress"

// Store wraps a NATS JetStream KeyValue bucket as a progress store.
type Store struct {
	kv jetstream.KeyValue
}

var _ progress.Store = (*Store)(nil)

// New creates a progress store over an existing KV bucket.
func New(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// NewBucket ensures the bucket exists and returns a store over it.
func NewBucket(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: BucketName})
	if err != nil {
		return nil, fmt.Errorf("natskv: create bucket: %w", err)
	}
	return New(kv), nil
}

// Write creates or replaces the record for p.Repository.
func (s *Store) Write(ctx context.Context, p pipeline.StageProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("natskv: marshal progress %s: %w", p.Repository, err)
	}
	if _, err := s.kv.Put(ctx, pipeline.ProgressKey(p.Repository), data); err != nil {
		return fmt.Errorf("natskv: write progress %s: %w", p.Repository, err)
	}
	return nil
}

// Read returns the record for repository, or progress.ErrNotFound.
func (s *Store) Read(ctx context.Context, repository string) (pipeline.StageProgress, error) {
	entry, err := s.kv.Get(ctx, pipeline.ProgressKey(repository))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return pipeline.StageProgress{}, fmt.Errorf("%w: %s", progress.ErrNotFound, repository)
		}
		return pipeline.StageProgress{}, fmt.Errorf("natskv: read progress %s: %w", repository, err)
	}

	var p pipeline.StageProgress
	if err := json.Unmarshal(entry.Value(), &p); err != nil {
		return pipeline.StageProgress{}, fmt.Errorf("natskv: decode progress %s: %w", repository, err)
	}
	// Normalize stage aliases written by earlier deployments.
	p.Stage = pipeline.ParseStage(string(p.Stage))
	return p, nil
}

// Clear deletes the record for repository. A missing record is not an error.
func (s *Store) Clear(ctx context.Context, repository string) error {
	err := s.kv.Delete(ctx, pipeline.ProgressKey(repository))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("natskv: clear progress %s: %w", repository, err)
	}
	return nil
}
