// Package queue backs memq.Dispatcher with a Redis stream so queued video
// and reply tasks survive a restart of the service.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/memq"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Stream entry fields.
const (
	fieldID       = "task_id"
	fieldType     = "type"
	fieldPayload  = "payload"
	fieldEnqueued = "enqueued"
)

type RedisQueueConfig struct {
	Stream   string
	Group    string
	Consumer string
	// MaxJobTime bounds a single handler call.
	MaxJobTime time.Duration
	// MaxBacklog bounds undelivered plus in-flight entries; 0 means unbounded.
	MaxBacklog int64
	// ClaimInterval is how often abandoned entries are looked for.
	ClaimInterval time.Duration
	// ClaimTimeout is how long an entry may stay pending before another
	// consumer takes it over.
	ClaimTimeout time.Duration
}

func DefaultConfig() RedisQueueConfig {
	return RedisQueueConfig{
		Stream:        "everwalk:tasks",
		Group:         "workers",
		Consumer:      "everwalk",
		MaxJobTime:    10 * time.Minute,
		MaxBacklog:    256,
		ClaimInterval: 30 * time.Second,
		ClaimTimeout:  15 * time.Minute,
	}
}

// RedisQueue delivers each task to one consumer of a stream group. Finished
// entries are acked and deleted, so the stream length is the backlog.
type RedisQueue struct {
	rdb *redis.Client
	cfg RedisQueueConfig

	wg      sync.WaitGroup
	once    sync.Once
	closing chan struct{}
}

func NewRedisQueue(client *redis.Client, cfg RedisQueueConfig) (*RedisQueue, error) {
	def := DefaultConfig()
	if cfg.Consumer == "" {
		cfg.Consumer = def.Consumer
	}
	if cfg.MaxJobTime <= 0 {
		cfg.MaxJobTime = def.MaxJobTime
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = def.ClaimInterval
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = def.ClaimTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group %s: %w", cfg.Group, err)
	}

	slog.Info("redis dispatcher ready", "stream", cfg.Stream, "group", cfg.Group,
		"max_backlog", cfg.MaxBacklog, "claim_timeout", cfg.ClaimTimeout)
	return &RedisQueue{rdb: client, cfg: cfg, closing: make(chan struct{})}, nil
}

func (q *RedisQueue) deadLetterKey() string { return q.cfg.Stream + ":deadletter" }
func (q *RedisQueue) attemptsKey() string   { return q.cfg.Stream + ":attempts" }

func (q *RedisQueue) closed() bool {
	select {
	case <-q.closing:
		return true
	default:
		return false
	}
}

// Enqueue appends t to the stream. Once the backlog reaches MaxBacklog it
// returns common.ErrQueueFull without writing anything.
func (q *RedisQueue) Enqueue(ctx context.Context, t *memq.Task) error {
	if q.closed() {
		return common.ErrQueueClosed
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.Enqueued = time.Now().UTC()

	if q.cfg.MaxBacklog > 0 {
		n, err := q.rdb.XLen(ctx, q.cfg.Stream).Result()
		if err != nil {
			return fmt.Errorf("read backlog: %w", err)
		}
		if n >= q.cfg.MaxBacklog {
			slog.Warn("task rejected, queue full", "id", t.ID, "type", t.Type, "depth", n)
			return common.ErrQueueFull
		}
	}

	payload := string(t.Payload)
	if payload == "" {
		payload = "null"
	}
	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]any{
			fieldID:       t.ID.String(),
			fieldType:     string(t.Type),
			fieldPayload:  payload,
			fieldEnqueued: t.Enqueued.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("append %s task: %w", t.Type, err)
	}
	slog.Debug("task enqueued", "id", t.ID, "type", t.Type)
	return nil
}

// Len is the approximate backlog; it reads 0 when Redis is unreachable.
func (q *RedisQueue) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, err := q.rdb.XLen(ctx, q.cfg.Stream).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// DeadLetters counts tasks given up on after repeated abandonment.
func (q *RedisQueue) DeadLetters(ctx context.Context) (int64, error) {
	return q.rdb.XLen(ctx, q.deadLetterKey()).Result()
}

// Close stops consumers from taking new entries and waits for running
// handlers. Entries left in the stream are picked up on the next start.
func (q *RedisQueue) Close() error {
	q.once.Do(func() { close(q.closing) })
	q.wg.Wait()
	slog.Info("redis dispatcher closed", "stream", q.cfg.Stream)
	return nil
}

var _ memq.Dispatcher = (*RedisQueue)(nil)
