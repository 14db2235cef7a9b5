package memq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/google/uuid"
)

type TaskType string

const (
	TypeVideoGenerate TaskType = "video_generate"
	TypePetReply      TaskType = "pet_reply"
)

// Task is a unit of background work. Payload is task specific JSON.
type Task struct {
	ID       uuid.UUID       `json:"id"`
	Type     TaskType        `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Enqueued time.Time       `json:"enqueued"`
}

// NewTask marshals payload into a task of the given type.
func NewTask(t TaskType, payload any) (*Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Task{ID: uuid.New(), Type: t, Payload: data}, nil
}

type TaskHandler func(ctx context.Context, t *Task) error

// Dispatcher hands tasks to a pool of consumers. Enqueue never blocks: a
// full dispatcher returns common.ErrQueueFull.
type Dispatcher interface {
	Enqueue(ctx context.Context, t *Task) error
	StartConsumers(ctx context.Context, n int, handler TaskHandler)
	Len() int
	Close() error
}

type memQueue struct {
	buf     chan *Task
	maxWait time.Duration

	mu     sync.RWMutex
	closed bool
	quit   chan struct{}
	wg     sync.WaitGroup
}

func NewMemoryQueue(buffer int, maxTaskDuration time.Duration) Dispatcher {
	return &memQueue{
		buf:     make(chan *Task, buffer),
		maxWait: maxTaskDuration,
		quit:    make(chan struct{}),
	}
}

func (q *memQueue) Enqueue(ctx context.Context, t *Task) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.Enqueued = time.Now()

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return common.ErrQueueClosed
	}

	select {
	case q.buf <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		slog.Warn("task rejected, queue full", "id", t.ID, "type", t.Type, "depth", len(q.buf))
		return common.ErrQueueFull
	}
}

func (q *memQueue) StartConsumers(ctx context.Context, n int, handler TaskHandler) {
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go func(workerID int) {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.quit:
					return
				case t := <-q.buf:
					q.run(ctx, t, handler, workerID)
				}
			}
		}(i + 1)
	}
}

func (q *memQueue) run(ctx context.Context, t *Task, handler TaskHandler, workerID int) {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, q.maxWait)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panicked", "id", t.ID, "type", t.Type, "panic", r, "worker", workerID)
		}
	}()

	if err := handler(runCtx, t); err != nil {
		slog.Error("task failed", "id", t.ID, "type", t.Type, "err", err, "worker", workerID)
		return
	}
	slog.Info("task done", "id", t.ID, "type", t.Type, "worker", workerID,
		"waited", start.Sub(t.Enqueued), "took", time.Since(start))
}

func (q *memQueue) Len() int {
	return len(q.buf)
}

// Close stops accepting tasks and waits for consumers to return. Tasks still
// buffered are dropped.
func (q *memQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.quit)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

// Mux routes tasks to a handler by type.
type Mux map[TaskType]TaskHandler

func (m Mux) Handle(ctx context.Context, t *Task) error {
	h, ok := m[t.Type]
	if !ok {
		return fmt.Errorf("unknown task type: %s", t.Type)
	}
	return h(ctx, t)
}
