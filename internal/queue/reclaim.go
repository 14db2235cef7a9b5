package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/fedutinova/everwalk/internal/memq"
	"github.com/redis/go-redis/v9"
)

// maxRedeliveries is how many times an abandoned entry is taken over before
// it is parked on the dead letter stream.
const maxRedeliveries = 3

const reclaimBatch = 50

func (q *RedisQueue) reclaimLoop(ctx context.Context, handler memq.TaskHandler) {
	tick := time.NewTicker(q.cfg.ClaimInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closing:
			return
		case <-tick.C:
			q.reclaim(ctx, handler)
		}
	}
}

// reclaim takes over entries idle for longer than ClaimTimeout, walking the
// pending list with XAUTOCLAIM until the cursor wraps.
func (q *RedisQueue) reclaim(ctx context.Context, handler memq.TaskHandler) {
	consumer := q.cfg.Consumer + "-reclaim"
	cursor := "0-0"
	for {
		msgs, next, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.cfg.Stream,
			Group:    q.cfg.Group,
			Consumer: consumer,
			MinIdle:  q.cfg.ClaimTimeout,
			Start:    cursor,
			Count:    reclaimBatch,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("reclaim failed", "stream", q.cfg.Stream, "err", err)
			}
			return
		}

		for _, msg := range msgs {
			n, err := q.rdb.HIncrBy(ctx, q.attemptsKey(), msg.ID, 1).Result()
			if err != nil {
				slog.Error("count redelivery", "entry", msg.ID, "err", err)
				continue
			}
			if n > maxRedeliveries {
				q.bury(ctx, msg, n)
				continue
			}
			slog.Warn("reclaimed abandoned task", "entry", msg.ID, "attempt", n)
			q.handle(ctx, consumer, msg, handler)
			if q.closed() || ctx.Err() != nil {
				return
			}
		}
		if next == "0-0" || len(msgs) == 0 {
			return
		}
		cursor = next
	}
}

// bury copies the entry to the dead letter stream and acks the original.
func (q *RedisQueue) bury(ctx context.Context, msg redis.XMessage, attempts int64) {
	values := map[string]any{
		"entry":    msg.ID,
		"attempts": attempts,
		"buried":   time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range msg.Values {
		values[k] = v
	}
	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{Stream: q.deadLetterKey(), Values: values}).Err(); err != nil {
		slog.Error("dead letter write failed", "entry", msg.ID, "err", err)
		return
	}
	slog.Warn("task moved to dead letter", "entry", msg.ID, "type", msg.Values[fieldType], "attempts", attempts)
	q.ack(ctx, msg.ID)
}
