package jobstore

import (
	"context"

	"github.com/fedutinova/everwalk/internal/job"
	"github.com/google/uuid"
)

// Store persists video jobs. Writes are compare-and-swap on the job version so
// two writers can never interleave on the same row.
type Store interface {
	Create(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, id uuid.UUID) (*job.Job, error)
	// CompareAndSwap stores next if the row still carries current.Version.
	// It returns the stored job with its new version, common.ErrConflict when
	// the row moved on, or common.ErrJobNotFound.
	CompareAndSwap(ctx context.Context, current, next job.Job) (*job.Job, error)
}
