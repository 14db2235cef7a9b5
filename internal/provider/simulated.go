package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fedutinova/everwalk/internal/job"
	"github.com/google/uuid"
)

// simulatedIdle drops a generation nobody has polled for this long. Workers
// stop polling on failure, cancellation or timeout without telling the
// provider.
const simulatedIdle = 30 * time.Minute

type simulatedRun struct {
	polls   int
	touched time.Time
}

// Simulated renders nothing. Each poll moves a submitted job forward by a
// fixed step until it completes. It stands in for the real provider when no
// API key is configured.
type Simulated struct {
	baseURL string
	step    int
	now     func() time.Time

	mu   sync.Mutex
	runs map[string]*simulatedRun
}

func NewSimulated(baseURL string, step int) *Simulated {
	if step <= 0 {
		step = 25
	}
	return &Simulated{baseURL: baseURL, step: step, now: time.Now, runs: make(map[string]*simulatedRun)}
}

func (s *Simulated) Submit(ctx context.Context, imageURL, description string, kind job.InteractionKind) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &ProviderError{Op: "submit", Cause: err}
	}
	id := "sim-" + uuid.NewString()
	now := s.now()
	s.mu.Lock()
	for k, r := range s.runs {
		if now.Sub(r.touched) > simulatedIdle {
			delete(s.runs, k)
		}
	}
	s.runs[id] = &simulatedRun{touched: now}
	s.mu.Unlock()
	slog.Info("simulated video generation started", "provider_job_id", id, "prompt", BuildPrompt(description, kind))
	return id, nil
}

func (s *Simulated) Poll(ctx context.Context, providerJobID string) (job.Observation, error) {
	if err := ctx.Err(); err != nil {
		return job.Observation{}, &ProviderError{Op: "poll", Cause: err}
	}

	s.mu.Lock()
	r, ok := s.runs[providerJobID]
	var n int
	if ok {
		r.polls++
		r.touched = s.now()
		n = r.polls
		if n*s.step >= 100 {
			delete(s.runs, providerJobID)
		}
	}
	s.mu.Unlock()
	if !ok {
		return job.Observation{}, &ProviderError{Op: "poll", Cause: errors.New("unknown generation " + providerJobID)}
	}

	percent := n * s.step
	if percent < 100 {
		return job.Observation{State: job.RemoteProcessing, Percent: percent}, nil
	}
	return job.Observation{
		State:           job.RemoteCompleted,
		Percent:         100,
		ArtifactURL:     fmt.Sprintf("%s/%s.mp4", s.baseURL, providerJobID),
		ThumbnailURL:    fmt.Sprintf("%s/%s.jpg", s.baseURL, providerJobID),
		DurationSeconds: job.DefaultDurationSeconds,
	}, nil
}

// Len reports how many generations are being tracked.
func (s *Simulated) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}
