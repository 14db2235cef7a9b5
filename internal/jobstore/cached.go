package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/job"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	statusKeyPrefix  = "video_job:status:"
	defaultStatusTTL = 10 * time.Minute
)

// Cached keeps a Redis copy of each job in front of another Store. Progress
// streams read the same job every couple of seconds, so most reads stay off
// the database. Writes go to the inner store first and the cache second.
type Cached struct {
	inner  Store
	client *redis.Client
	ttl    time.Duration
}

// putScript stores a job snapshot only when it is newer than the cached one,
// so a slow read-through fill cannot replace a later write.
var putScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

func NewCached(inner Store, client *redis.Client, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	return &Cached{inner: inner, client: client, ttl: ttl}
}

func statusKey(id uuid.UUID) string {
	return fmt.Sprintf("%s%s", statusKeyPrefix, id)
}

func (c *Cached) Create(ctx context.Context, j *job.Job) error {
	if err := c.inner.Create(ctx, j); err != nil {
		return err
	}
	c.put(ctx, j)
	return nil
}

func (c *Cached) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	data, err := c.client.HGet(ctx, statusKey(id), "data").Bytes()
	if err == nil {
		var j job.Job
		if err := json.Unmarshal(data, &j); err == nil {
			return &j, nil
		}
		slog.Warn("dropping unreadable cached job", "job_id", id)
		c.client.Del(ctx, statusKey(id))
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("job cache read failed", "job_id", id, "error", err)
	}

	j, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.put(ctx, j)
	return j, nil
}

func (c *Cached) CompareAndSwap(ctx context.Context, current, next job.Job) (*job.Job, error) {
	stored, err := c.inner.CompareAndSwap(ctx, current, next)
	if err != nil {
		// The caller may have acted on a cached copy older than the row.
		if errors.Is(err, common.ErrConflict) {
			c.refresh(ctx, current.ID)
		}
		return nil, err
	}
	c.put(ctx, stored)
	return stored, nil
}

func (c *Cached) put(ctx context.Context, j *job.Job) {
	data, err := json.Marshal(j)
	if err != nil {
		return
	}
	err = putScript.Run(ctx, c.client, []string{statusKey(j.ID)}, j.Version, data, c.ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		slog.Warn("job cache write failed", "job_id", j.ID, "error", err)
		// Never leave an older copy behind a newer row.
		c.client.Del(ctx, statusKey(j.ID))
	}
}

func (c *Cached) refresh(ctx context.Context, id uuid.UUID) {
	j, err := c.inner.Get(ctx, id)
	if err != nil {
		c.client.Del(ctx, statusKey(id))
		return
	}
	c.put(ctx, j)
}
