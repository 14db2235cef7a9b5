package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fedutinova/everwalk/internal/memq"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const readBlock = 5 * time.Second

// StartConsumers runs n readers on the group plus one reclaimer for entries
// abandoned by consumers that died mid-task.
func (q *RedisQueue) StartConsumers(ctx context.Context, n int, handler memq.TaskHandler) {
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("%s-%d", q.cfg.Consumer, i)
		q.wg.Go(func() { q.read(ctx, name, handler) })
	}
	q.wg.Go(func() { q.reclaimLoop(ctx, handler) })
	slog.Info("redis consumers started", "count", n, "stream", q.cfg.Stream)
}

func (q *RedisQueue) read(ctx context.Context, consumer string, handler memq.TaskHandler) {
	for ctx.Err() == nil && !q.closed() {
		res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    1,
			Block:    readBlock,
		}).Result()
		switch {
		case errors.Is(err, redis.Nil), ctx.Err() != nil:
			continue
		case err != nil:
			slog.Error("stream read failed", "consumer", consumer, "err", err)
			select {
			case <-ctx.Done():
			case <-q.closing:
			case <-time.After(time.Second):
			}
			continue
		}
		for _, s := range res {
			for _, msg := range s.Messages {
				q.handle(ctx, consumer, msg, handler)
			}
		}
	}
}

// handle runs one entry and acks it unless the service is stopping. A
// failing handler has already recorded the failure on its job, so only a
// consumer that dies mid-task leaves the entry for redelivery.
func (q *RedisQueue) handle(ctx context.Context, consumer string, msg redis.XMessage, handler memq.TaskHandler) {
	t, err := decode(msg)
	if err != nil {
		slog.Error("dropping malformed entry", "entry", msg.ID, "err", err)
		q.ack(ctx, msg.ID)
		return
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, q.cfg.MaxJobTime)
	err = runSafe(runCtx, t, handler)
	cancel()

	if err != nil {
		slog.Error("task failed", "id", t.ID, "type", t.Type, "consumer", consumer, "err", err)
	} else {
		slog.Info("task done", "id", t.ID, "type", t.Type, "consumer", consumer,
			"waited", start.Sub(t.Enqueued), "took", time.Since(start))
	}
	if ctx.Err() == nil {
		q.ack(ctx, msg.ID)
	}
}

func runSafe(ctx context.Context, t *memq.Task, handler memq.TaskHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return handler(ctx, t)
}

func decode(msg redis.XMessage) (*memq.Task, error) {
	field := func(name string) (string, error) {
		v, ok := msg.Values[name].(string)
		if !ok {
			return "", fmt.Errorf("missing field %q", name)
		}
		return v, nil
	}

	rawID, err := field(fieldID)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("task id: %w", err)
	}
	typ, err := field(fieldType)
	if err != nil {
		return nil, err
	}
	payload, err := field(fieldPayload)
	if err != nil {
		return nil, err
	}
	if !json.Valid([]byte(payload)) {
		return nil, fmt.Errorf("payload of %s task is not JSON", typ)
	}

	t := &memq.Task{ID: id, Type: memq.TaskType(typ), Payload: json.RawMessage(payload)}
	if raw, err := field(fieldEnqueued); err == nil {
		t.Enqueued, _ = time.Parse(time.RFC3339Nano, raw)
	}
	return t, nil
}

// ack removes the entry and its redelivery counter in one transaction.
func (q *RedisQueue) ack(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAck(ctx, q.cfg.Stream, q.cfg.Group, id)
		p.XDel(ctx, q.cfg.Stream, id)
		p.HDel(ctx, q.attemptsKey(), id)
		return nil
	})
	if err != nil {
		slog.Error("ack failed", "entry", id, "err", err)
	}
}
