package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/memq"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func getTestRedisClient(t *testing.T) *redis.Client {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Skipf("Skipping Redis queue test: invalid Redis URL: %v", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping Redis queue test: Redis not available: %v", err)
	}

	return client
}

func newTestQueue(t *testing.T, client *redis.Client, prefix string, cfg RedisQueueConfig) *RedisQueue {
	t.Helper()
	stream := prefix + uuid.New().String()[:8]
	cfg.Stream = stream
	cfg.Group = "test-workers"
	if cfg.MaxJobTime == 0 {
		cfg.MaxJobTime = 5 * time.Second
	}
	if cfg.ClaimInterval == 0 {
		cfg.ClaimInterval = 10 * time.Second
	}
	if cfg.ClaimTimeout == 0 {
		cfg.ClaimTimeout = 30 * time.Second
	}

	t.Cleanup(func() {
		client.XGroupDestroy(context.Background(), stream, "test-workers")
		client.Del(context.Background(), stream, stream+":deadletter", stream+":attempts")
	})

	q, err := NewRedisQueue(client, cfg)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	return q
}

func TestRedisQueue_EnqueueAndConsume(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	q := newTestQueue(t, client, "test:tasks:", RedisQueueConfig{})
	defer q.Close()

	var processedCount int32
	processed := make(chan *memq.Task, 10)

	q.StartConsumers(ctx, 2, func(ctx context.Context, task *memq.Task) error {
		atomic.AddInt32(&processedCount, 1)
		processed <- task
		return nil
	})

	task1, _ := memq.NewTask(memq.TypeVideoGenerate, map[string]string{"test": "data1"})
	task2, _ := memq.NewTask(memq.TypePetReply, map[string]string{"test": "data2"})

	if err := q.Enqueue(ctx, task1); err != nil {
		t.Fatalf("Failed to enqueue task1: %v", err)
	}
	if err := q.Enqueue(ctx, task2); err != nil {
		t.Fatalf("Failed to enqueue task2: %v", err)
	}

	seen := map[uuid.UUID]memq.TaskType{}
	timeout := time.After(10 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case task := <-processed:
			seen[task.ID] = task.Type
		case <-timeout:
			t.Fatalf("Timeout waiting for tasks to be processed, got %d", atomic.LoadInt32(&processedCount))
		}
	}

	if seen[task1.ID] != memq.TypeVideoGenerate {
		t.Errorf("task1 not processed with its type, got %q", seen[task1.ID])
	}
	if seen[task2.ID] != memq.TypePetReply {
		t.Errorf("task2 not processed with its type, got %q", seen[task2.ID])
	}

	// Acked tasks leave the stream.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && q.Len() != 0 {
		time.Sleep(50 * time.Millisecond)
	}
	if q.Len() != 0 {
		t.Errorf("Expected empty backlog, got %d", q.Len())
	}
}

func TestRedisQueue_FailedTaskIsAcked(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	q := newTestQueue(t, client, "test:tasks:fail:", RedisQueueConfig{})
	defer q.Close()

	done := make(chan struct{})
	q.StartConsumers(ctx, 1, func(ctx context.Context, task *memq.Task) error {
		close(done)
		return errors.New("provider rejected the request")
	})

	if err := q.Enqueue(ctx, &memq.Task{Type: memq.TypeVideoGenerate, Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("Failed to enqueue task: %v", err)
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Timeout waiting for task to be processed")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && q.Len() != 0 {
		time.Sleep(100 * time.Millisecond)
	}
	if q.Len() != 0 {
		t.Errorf("Expected failed task to be acked, backlog %d", q.Len())
	}
}

func TestRedisQueue_Backpressure(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	q := newTestQueue(t, client, "test:tasks:full:", RedisQueueConfig{MaxBacklog: 3})
	defer q.Close()

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, &memq.Task{Type: memq.TypeVideoGenerate}); err != nil {
			t.Fatalf("Failed to enqueue task %d: %v", i, err)
		}
	}
	if q.Len() != 3 {
		t.Errorf("Expected backlog 3, got %d", q.Len())
	}

	err := q.Enqueue(ctx, &memq.Task{Type: memq.TypeVideoGenerate})
	if !errors.Is(err, common.ErrQueueFull) {
		t.Fatalf("Expected ErrQueueFull, got %v", err)
	}
}

func TestRedisQueue_EnqueueAfterClose(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	defer client.Close()

	q := newTestQueue(t, client, "test:tasks:closed:", RedisQueueConfig{})
	if err := q.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	err := q.Enqueue(context.Background(), &memq.Task{Type: memq.TypePetReply})
	if !errors.Is(err, common.ErrQueueClosed) {
		t.Fatalf("Expected ErrQueueClosed, got %v", err)
	}
}

func TestRedisQueue_Persistence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	streamName := "test:tasks:persist:" + uuid.New().String()[:8]

	defer client.Del(ctx, streamName, streamName+":deadletter", streamName+":attempts")
	defer client.XGroupDestroy(ctx, streamName, "test-workers")

	q1, err := NewRedisQueue(client, RedisQueueConfig{
		Stream:        streamName,
		Group:         "test-workers",
		MaxJobTime:    5 * time.Second,
		ClaimInterval: 10 * time.Second,
		ClaimTimeout:  30 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	task, _ := memq.NewTask(memq.TypeVideoGenerate, map[string]string{"test": "persistent"})
	if err := q1.Enqueue(ctx, task); err != nil {
		t.Fatalf("Failed to enqueue task: %v", err)
	}

	q1.Close()

	entries, err := client.XRange(ctx, streamName, "-", "+").Result()
	if err != nil {
		t.Fatalf("Failed to read stream: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 stored entry, got %d", len(entries))
	}
	if entries[0].Values[fieldType] != string(memq.TypeVideoGenerate) {
		t.Errorf("Unexpected stored type %v", entries[0].Values[fieldType])
	}

	// a fresh instance on the same stream picks the entry up
	q2, err := NewRedisQueue(client, RedisQueueConfig{
		Stream:        streamName,
		Group:         "test-workers",
		MaxJobTime:    5 * time.Second,
		ClaimInterval: 1 * time.Second,
		ClaimTimeout:  1 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create second queue: %v", err)
	}
	defer q2.Close()

	processed := make(chan *memq.Task, 1)

	consumerCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	q2.StartConsumers(consumerCtx, 1, func(ctx context.Context, task *memq.Task) error {
		processed <- task
		return nil
	})

	select {
	case got := <-processed:
		var payload map[string]string
		if err := json.Unmarshal(got.Payload, &payload); err != nil {
			t.Errorf("Failed to unmarshal payload: %v", err)
		}
		if payload["test"] != "persistent" {
			t.Errorf("Expected payload test=persistent, got %s", payload["test"])
		}
	case <-time.After(20 * time.Second):
		t.Error("Timeout waiting for persisted task to be processed")
	}
}

func TestRedisQueue_AbandonedTaskIsReclaimed(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	q := newTestQueue(t, client, "test:tasks:reclaim:", RedisQueueConfig{ClaimTimeout: 50 * time.Millisecond})
	defer q.Close()

	task, _ := memq.NewTask(memq.TypePetReply, map[string]string{"message": "hi"})
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("Failed to enqueue task: %v", err)
	}
	// a consumer takes the entry and dies without acking
	if _, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group: q.cfg.Group, Consumer: "crashed", Streams: []string{q.cfg.Stream, ">"}, Count: 1, Block: -1,
	}).Result(); err != nil {
		t.Fatalf("Failed to read entry: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	var got *memq.Task
	q.reclaim(ctx, func(ctx context.Context, t *memq.Task) error {
		got = t
		return nil
	})
	if got == nil || got.ID != task.ID {
		t.Fatalf("Expected task %s to be reclaimed, got %+v", task.ID, got)
	}
	if q.Len() != 0 {
		t.Errorf("Expected reclaimed task to be acked, backlog %d", q.Len())
	}
}

func TestRedisQueue_RepeatedlyAbandonedTaskIsBuried(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	q := newTestQueue(t, client, "test:tasks:bury:", RedisQueueConfig{ClaimTimeout: 50 * time.Millisecond})
	defer q.Close()

	if err := q.Enqueue(ctx, &memq.Task{Type: memq.TypeVideoGenerate, Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("Failed to enqueue task: %v", err)
	}
	res, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group: q.cfg.Group, Consumer: "crashed", Streams: []string{q.cfg.Stream, ">"}, Count: 1, Block: -1,
	}).Result()
	if err != nil {
		t.Fatalf("Failed to read entry: %v", err)
	}
	entry := res[0].Messages[0].ID
	client.HSet(ctx, q.attemptsKey(), entry, maxRedeliveries)
	time.Sleep(100 * time.Millisecond)

	q.reclaim(ctx, func(ctx context.Context, t *memq.Task) error {
		return errors.New("must not run")
	})

	n, err := q.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("DeadLetters error: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 dead letter, got %d", n)
	}
	if q.Len() != 0 {
		t.Errorf("Expected buried task to leave the stream, backlog %d", q.Len())
	}
}

func TestDecode(t *testing.T) {
	id := uuid.New()
	enqueued := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	valid := func() map[string]any {
		return map[string]any{
			fieldID:       id.String(),
			fieldType:     string(memq.TypeVideoGenerate),
			fieldPayload:  `{"job_id":"x"}`,
			fieldEnqueued: enqueued.Format(time.RFC3339Nano),
		}
	}

	task, err := decode(redis.XMessage{ID: "1-0", Values: valid()})
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if task.ID != id || task.Type != memq.TypeVideoGenerate || string(task.Payload) != `{"job_id":"x"}` {
		t.Errorf("Unexpected task %+v", task)
	}
	if !task.Enqueued.Equal(enqueued) {
		t.Errorf("Expected enqueued %v, got %v", enqueued, task.Enqueued)
	}

	broken := map[string]func(map[string]any){
		"missing id":    func(v map[string]any) { delete(v, fieldID) },
		"bad id":        func(v map[string]any) { v[fieldID] = "not-a-uuid" },
		"missing type":  func(v map[string]any) { delete(v, fieldType) },
		"missing body":  func(v map[string]any) { delete(v, fieldPayload) },
		"non json body": func(v map[string]any) { v[fieldPayload] = "{oops" },
	}
	for name, mutate := range broken {
		t.Run(name, func(t *testing.T) {
			v := valid()
			mutate(v)
			if _, err := decode(redis.XMessage{ID: "1-0", Values: v}); err == nil {
				t.Error("Expected decode error")
			}
		})
	}
}
