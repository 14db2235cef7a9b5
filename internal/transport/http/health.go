package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

type HealthStatus struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Runtime   *RuntimeInfo     `json:"runtime,omitempty"`
}

type Check struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type RuntimeInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	HeapAllocMB  uint64 `json:"heap_alloc_mb"`
}

// Health is the liveness probe; it touches no dependency.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthStatus{Status: StatusHealthy, Timestamp: time.Now().UTC()})
}

// Ready reports whether the service can take video requests. Postgres is
// required; Redis, the dispatcher backlog and the stream pool only degrade.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]Check{}
	overall := StatusHealthy
	degrade := func(name string, c Check, required bool) {
		checks[name] = c
		switch {
		case c.Status == StatusHealthy:
		case required:
			overall = StatusUnhealthy
		case overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	if h.Repo != nil {
		degrade("database", probe(ctx, func(ctx context.Context) (string, error) {
			if err := h.Repo.DB().Ping(ctx); err != nil {
				return "", err
			}
			busy, total := h.Repo.DB().Stats()
			return fmt.Sprintf("connections in use: %d/%d", busy, total), nil
		}), true)
	}
	if h.Redis != nil {
		degrade("redis", probe(ctx, func(ctx context.Context) (string, error) {
			return "connection successful", h.Redis.Ping(ctx)
		}), false)
	}
	if h.Q != nil {
		degrade("queue", h.checkQueue(ctx), false)
	}
	if h.Hub != nil {
		c := Check{Status: StatusHealthy, Message: fmt.Sprintf("streams open: %d/%d", h.Hub.Active(), h.Config.HubMaxSubscribers)}
		if h.Config.HubMaxSubscribers > 0 && h.Hub.Active() >= h.Config.HubMaxSubscribers {
			c.Status = StatusDegraded
		}
		degrade("progress", c, false)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	status := http.StatusOK
	if overall == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, HealthStatus{
		Status:    overall,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
		Runtime: &RuntimeInfo{
			GoVersion:    runtime.Version(),
			NumGoroutine: runtime.NumGoroutine(),
			HeapAllocMB:  mem.HeapAlloc >> 20,
		},
	})
}

func probe(ctx context.Context, fn func(context.Context) (string, error)) Check {
	start := time.Now()
	msg, err := fn(ctx)
	c := Check{Status: StatusHealthy, Message: msg, Duration: time.Since(start).String()}
	if err != nil {
		c.Status = StatusUnhealthy
		c.Message = err.Error()
	}
	return c
}

// deadLetterer is implemented by dispatchers that park abandoned tasks.
type deadLetterer interface {
	DeadLetters(ctx context.Context) (int64, error)
}

// checkQueue flags a backlog before Enqueue starts refusing video requests.
func (h *Handlers) checkQueue(ctx context.Context) Check {
	pending := h.Q.Len()
	c := Check{Status: StatusHealthy, Message: fmt.Sprintf("pending: %d", pending)}
	if h.Config.QueueBuf > 0 && pending >= h.Config.QueueBuf*3/4 {
		c.Status = StatusDegraded
		c.Message = fmt.Sprintf("backlog: %d of %d", pending, h.Config.QueueBuf)
	}
	if dl, ok := h.Q.(deadLetterer); ok {
		if n, err := dl.DeadLetters(ctx); err == nil && n > 0 {
			c.Message += fmt.Sprintf(", dead letters: %d", n)
		}
	}
	return c
}
