package jobstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/job"
	"github.com/google/uuid"
)

type row struct {
	mu  sync.Mutex
	job job.Job
}

// Memory keeps jobs in process. The map lock only guards membership; each row
// has its own lock so writers on different jobs never contend.
type Memory struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*row
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[uuid.UUID]*row)}
}

func (m *Memory) Create(ctx context.Context, j *job.Job) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.Version = 1

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rows[j.ID]; exists {
		return fmt.Errorf("job %s already exists: %w", j.ID, common.ErrConflict)
	}
	m.rows[j.ID] = &row{job: *j}
	return nil
}

func (m *Memory) lookup(id uuid.UUID) (*row, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rows[id]
	return r, ok
}

func (m *Memory) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	r, ok := m.lookup(id)
	if !ok {
		return nil, common.ErrJobNotFound
	}
	r.mu.Lock()
	out := r.job
	r.mu.Unlock()
	return &out, nil
}

func (m *Memory) CompareAndSwap(ctx context.Context, current, next job.Job) (*job.Job, error) {
	r, ok := m.lookup(current.ID)
	if !ok {
		return nil, common.ErrJobNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job.Version != current.Version {
		return nil, fmt.Errorf("job %s at version %d, expected %d: %w",
			current.ID, r.job.Version, current.Version, common.ErrConflict)
	}

	next.ID = current.ID
	next.Version = current.Version + 1
	r.job = next
	out := next
	return &out, nil
}
