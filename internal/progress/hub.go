// Package progress fans job progress out to live observers.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/job"
	"github.com/google/uuid"
	"golang.org/x/text/language"
)

// JobReader is the read side of the job store.
type JobReader interface {
	Get(ctx context.Context, id uuid.UUID) (*job.Job, error)
}

type Snapshot struct {
	JobID           uuid.UUID  `json:"job_id"`
	Status          job.Status `json:"status"`
	ProgressPercent int        `json:"percent"`
	Message         string     `json:"message"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// Reason says why a subscription ended.
type Reason string

const (
	ReasonTerminal   Reason = "terminal"
	ReasonTimeout    Reason = "timeout"
	ReasonDisconnect Reason = "disconnect"
	ReasonError      Reason = "error"
)

type Config struct {
	PollInterval   time.Duration
	MaxStream      time.Duration
	MaxSubscribers int
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   2 * time.Second,
		MaxStream:      5 * time.Minute,
		MaxSubscribers: 512,
	}
}

// Hub keeps a set of subscriptions per job. Each subscription runs its own
// loop that re-reads the job on a fixed cadence or when Notify wakes it, and
// pushes a snapshot whenever status or progress changed.
type Hub struct {
	jobs JobReader
	cfg  Config
	sem  chan struct{}

	mu   sync.Mutex
	subs map[uuid.UUID]map[*Subscription]struct{}
}

func NewHub(jobs JobReader, cfg Config) *Hub {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxStream <= 0 {
		cfg.MaxStream = def.MaxStream
	}
	if cfg.MaxSubscribers <= 0 {
		cfg.MaxSubscribers = def.MaxSubscribers
	}
	return &Hub{
		jobs: jobs,
		cfg:  cfg,
		sem:  make(chan struct{}, cfg.MaxSubscribers),
		subs: make(map[uuid.UUID]map[*Subscription]struct{}),
	}
}

type Subscription struct {
	JobID uuid.UUID

	lang    language.Tag
	updates chan Snapshot
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	reason Reason
}

// Updates delivers snapshots in order. Intermediate snapshots may be skipped
// when the reader falls behind; the last one before close is always kept.
func (s *Subscription) Updates() <-chan Snapshot { return s.updates }

// Done is closed when the subscription loop has ended.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Reason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Subscribe starts streaming snapshots of a job. The loop ends when the job
// reaches a terminal state, MaxStream elapses, ctx ends or Unsubscribe is
// called. Ending a subscription never touches the job itself.
func (h *Hub) Subscribe(ctx context.Context, jobID uuid.UUID, lang language.Tag) (*Subscription, error) {
	j, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	select {
	case h.sem <- struct{}{}:
	default:
		return nil, common.ErrTooManySubscribers
	}

	s := &Subscription{
		JobID:   jobID,
		lang:    lang,
		updates: make(chan Snapshot, 1),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[jobID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	go h.run(ctx, s, j)
	return s, nil
}

// Unsubscribe ends a subscription. Safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscription) {
	s.once.Do(func() { close(s.stop) })
}

// Notify wakes every subscription on the job. It never blocks.
func (h *Hub) Notify(jobID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[jobID] {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Active returns the number of live subscriptions.
func (h *Hub) Active() int {
	return len(h.sem)
}

// Shutdown ends all subscriptions.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	var all []*Subscription
	for _, set := range h.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()
	for _, s := range all {
		h.Unsubscribe(s)
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[s.JobID]
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.JobID)
	}
}

func (h *Hub) run(ctx context.Context, s *Subscription, first *job.Job) {
	reason := ReasonDisconnect
	defer func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		h.remove(s)
		<-h.sem
		close(s.updates)
		close(s.done)
	}()

	deadline := time.NewTimer(h.cfg.MaxStream)
	defer deadline.Stop()
	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	last := first
	s.push(snapshotOf(first, s.lang))
	if first.Status.Terminal() {
		reason = ReasonTerminal
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-deadline.C:
			reason = ReasonTimeout
			return
		case <-ticker.C:
		case <-s.wake:
		}

		j, err := h.jobs.Get(ctx, s.JobID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, common.ErrNotFound) {
				reason = ReasonError
				return
			}
			slog.Warn("progress read failed", "job_id", s.JobID, "error", err)
			continue
		}

		if j.Status != last.Status || j.ProgressPercent != last.ProgressPercent {
			s.push(snapshotOf(j, s.lang))
			last = j
		}
		if j.Status.Terminal() {
			reason = ReasonTerminal
			return
		}
	}
}

// push replaces an unread snapshot with the newer one. Only the loop sends,
// so the second send cannot block.
func (s *Subscription) push(snap Snapshot) {
	select {
	case s.updates <- snap:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	s.updates <- snap
}

func snapshotOf(j *job.Job, lang language.Tag) Snapshot {
	return Snapshot{
		JobID:           j.ID,
		Status:          j.Status,
		ProgressPercent: j.ProgressPercent,
		Message:         job.HumanMessage(j.Status, j.ProgressPercent, j.ErrorMessage, lang),
		ErrorMessage:    j.ErrorMessage,
	}
}
