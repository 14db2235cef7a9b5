package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/job"
	"github.com/fedutinova/everwalk/internal/jobstore"
	"github.com/fedutinova/everwalk/internal/memq"
	"github.com/fedutinova/everwalk/internal/provider"
	"github.com/google/uuid"
)

type SubjectResolver interface {
	ResolveSubject(ctx context.Context, petID, ownerID uuid.UUID) (*job.Subject, error)
}

type ArtifactSaver interface {
	SaveArtifact(ctx context.Context, a *job.Artifact) error
}

// Notifier is told about every job write.
type Notifier interface {
	Notify(jobID uuid.UUID)
}

// Waiter blocks for d or until ctx ends.
type Waiter func(ctx context.Context, d time.Duration) error

func SleepWaiter(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type VideoConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
	// RetryDelay separates attempts at a job write that failed.
	RetryDelay time.Duration
}

func DefaultVideoConfig() VideoConfig {
	return VideoConfig{PollInterval: 5 * time.Second, MaxAttempts: 60, RetryDelay: 250 * time.Millisecond}
}

// writeAttempts bounds how often one job write is tried against the store.
const writeAttempts = 3

// errFinished stops a worker whose job was already ended by another writer.
var errFinished = errors.New("job already finished")

type VideoJobPayload struct {
	JobID uuid.UUID `json:"job_id"`
}

type VideoHandler struct {
	jobs      jobstore.Store
	provider  provider.Provider
	subjects  SubjectResolver
	artifacts ArtifactSaver
	notifier  Notifier
	wait      Waiter
	cfg       VideoConfig
	now       func() time.Time
}

func NewVideoHandler(
	jobs jobstore.Store,
	p provider.Provider,
	subjects SubjectResolver,
	artifacts ArtifactSaver,
	notifier Notifier,
	wait Waiter,
	cfg VideoConfig,
) *VideoHandler {
	def := DefaultVideoConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if wait == nil {
		wait = SleepWaiter
	}
	return &VideoHandler{
		jobs:      jobs,
		provider:  p,
		subjects:  subjects,
		artifacts: artifacts,
		notifier:  notifier,
		wait:      wait,
		cfg:       cfg,
		now:       time.Now,
	}
}

// HandleTask decodes a video task and runs it.
func (h *VideoHandler) HandleTask(ctx context.Context, t *memq.Task) error {
	if t.Type != memq.TypeVideoGenerate {
		return fmt.Errorf("unexpected task type: %s", t.Type)
	}
	var payload VideoJobPayload
	if err := json.Unmarshal(t.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	return h.Handle(ctx, payload.JobID)
}

// Handle drives one job from PENDING to a terminal state. A job that is no
// longer PENDING was taken by another delivery and is left alone.
func (h *VideoHandler) Handle(ctx context.Context, jobID uuid.UUID) (err error) {
	j, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	started, err := j.Start()
	if err != nil {
		slog.Info("video job already claimed", "job_id", jobID, "status", j.Status)
		return nil
	}
	cur, err := h.save(ctx, *j, started)
	if err != nil {
		if common.IsConflict(err) {
			slog.Info("video job claimed by another worker", "job_id", jobID)
			return nil
		}
		return fmt.Errorf("failed to start job: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("video job panicked", "job_id", jobID, "panic", r)
			err = fmt.Errorf("video job panicked: %v", r)
			if ferr := h.fail(ctx, cur, job.ErrorKindInternal, "internal error"); ferr != nil {
				err = errors.Join(err, ferr)
			}
		}
	}()

	return h.run(ctx, cur)
}

// run drives cur to a terminal state. It returns an error only when the job
// could not be recorded as finished, so the row may still read PROCESSING.
// cur is updated in place so a panic can still fail the latest version.
func (h *VideoHandler) run(ctx context.Context, cur *job.Job) error {
	log := slog.With("job_id", cur.ID, "pet_id", cur.SubjectID, "interaction", cur.InteractionKind)

	subject, err := h.subjects.ResolveSubject(ctx, cur.SubjectID, cur.OwnerID)
	if err != nil {
		log.Error("failed to resolve pet", "error", err)
		return h.fail(ctx, cur, job.ErrorKindInternal, "pet is no longer available")
	}

	providerJobID, err := h.provider.Submit(ctx, subject.SourceImageURL, subject.Description, cur.InteractionKind)
	if err != nil {
		log.Error("provider submit failed", "error", err)
		if ctx.Err() != nil {
			return h.fail(ctx, cur, job.ErrorKindCancelled, "video generation cancelled")
		}
		return h.fail(ctx, cur, job.ErrorKindProvider, "failed to start video generation")
	}
	err = h.persist(ctx, cur, func(j job.Job) (job.Job, bool, error) {
		next, err := j.Submitted(providerJobID)
		return next, true, err
	})
	if err != nil {
		return h.abandon(ctx, cur, "submit", err)
	}
	log.Info("video submitted", "provider_job_id", providerJobID)

	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		if err := h.wait(ctx, h.cfg.PollInterval); err != nil {
			log.Warn("video job wait interrupted", "attempt", attempt, "error", err)
			return h.fail(ctx, cur, job.ErrorKindCancelled, "video generation cancelled")
		}

		obs, err := h.provider.Poll(ctx, providerJobID)
		if err != nil {
			log.Error("provider poll failed", "attempt", attempt, "error", err)
			if ctx.Err() != nil {
				return h.fail(ctx, cur, job.ErrorKindCancelled, "video generation cancelled")
			}
			return h.fail(ctx, cur, job.ErrorKindProvider, "failed to check video status")
		}

		progress, terminal := job.Translate(obs.State, obs.Percent)
		if !terminal {
			err := h.persist(ctx, cur, func(j job.Job) (job.Job, bool, error) {
				return j.Advance(progress)
			})
			if err != nil {
				return h.abandon(ctx, cur, "progress", err)
			}
			continue
		}

		if obs.State == job.RemoteFailed {
			reason := obs.FailureReason
			if reason == "" {
				reason = "video generation failed"
			}
			log.Warn("provider reported failure", "reason", reason)
			return h.fail(ctx, cur, job.ErrorKindProvider, reason)
		}
		return h.finish(ctx, cur, obs)
	}

	log.Warn("video job timed out", "attempts", h.cfg.MaxAttempts)
	return h.fail(ctx, cur, job.ErrorKindTimeout, "video generation timed out")
}

// finish records the artifact and then COMPLETED. Once the artifact exists the
// completion write is retried on the latest row before giving up on the job.
func (h *VideoHandler) finish(ctx context.Context, cur *job.Job, obs job.Observation) error {
	ctx = context.WithoutCancel(ctx)
	duration := obs.DurationSeconds
	if duration <= 0 {
		duration = job.DefaultDurationSeconds
	}
	artifact := &job.Artifact{
		SubjectID:       cur.SubjectID,
		InteractionKind: cur.InteractionKind,
		VideoURL:        obs.ArtifactURL,
		ThumbnailURL:    obs.ThumbnailURL,
		DurationSeconds: duration,
		ProviderJobID:   cur.ProviderJobID,
	}
	if err := h.artifacts.SaveArtifact(ctx, artifact); err != nil {
		slog.Error("failed to save video", "job_id", cur.ID, "error", err)
		return h.fail(ctx, cur, job.ErrorKindProvider, "failed to save video")
	}

	err := h.persist(ctx, cur, func(j job.Job) (job.Job, bool, error) {
		next, err := j.Complete(h.now())
		return next, true, err
	})
	if err != nil {
		return h.abandon(ctx, cur, "complete", err)
	}
	slog.Info("video job completed", "job_id", cur.ID, "video_id", artifact.ID)
	return nil
}

// abandon ends a job whose step could not be written. A job finished by
// another writer needs nothing more.
func (h *VideoHandler) abandon(ctx context.Context, cur *job.Job, step string, cause error) error {
	if errors.Is(cause, errFinished) {
		slog.Info("video job finished elsewhere", "job_id", cur.ID, "status", cur.Status, "step", step)
		return nil
	}
	slog.Error("video job write failed", "job_id", cur.ID, "step", step, "error", cause)
	return h.fail(ctx, cur, job.ErrorKindInternal, "failed to record video progress")
}

// fail records FAILED even when ctx is already cancelled. The error is non
// nil only when the job could not be ended at all.
func (h *VideoHandler) fail(ctx context.Context, cur *job.Job, kind job.ErrorKind, message string) error {
	ctx = context.WithoutCancel(ctx)
	err := h.persist(ctx, cur, func(j job.Job) (job.Job, bool, error) {
		next, err := j.Fail(kind, message, h.now())
		return next, true, err
	})
	switch {
	case errors.Is(err, errFinished):
		return nil
	case err != nil:
		slog.Error("video job left unfinished", "job_id", cur.ID, "status", cur.Status, "error", err)
		return fmt.Errorf("fail job %s: %w", cur.ID, err)
	}
	slog.Warn("video job failed", "job_id", cur.ID, "kind", kind, "message", message,
		"progress", cur.ProgressPercent)
	return nil
}

// persist writes step(cur) and updates cur. After a failed write it re-reads
// the row and applies step to that version, up to writeAttempts times; a row
// that turned terminal meanwhile yields errFinished. step reports false when
// there is nothing to write.
func (h *VideoHandler) persist(ctx context.Context, cur *job.Job, step func(job.Job) (job.Job, bool, error)) error {
	var lastErr error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		if attempt > 1 {
			if h.cfg.RetryDelay > 0 {
				time.Sleep(h.cfg.RetryDelay)
			}
			fresh, err := h.jobs.Get(context.WithoutCancel(ctx), cur.ID)
			if err != nil {
				lastErr = errors.Join(lastErr, err)
				continue
			}
			*cur = *fresh
		}
		if cur.Status.Terminal() {
			return errFinished
		}

		next, write, err := step(*cur)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}
		saved, err := h.save(ctx, *cur, next)
		if err == nil {
			*cur = *saved
			return nil
		}
		lastErr = err
		slog.Warn("job write failed", "job_id", cur.ID, "status", next.Status, "attempt", attempt, "error", err)
	}
	return lastErr
}

func (h *VideoHandler) save(ctx context.Context, current, next job.Job) (*job.Job, error) {
	saved, err := h.jobs.CompareAndSwap(ctx, current, next)
	if err != nil {
		return nil, err
	}
	if h.notifier != nil {
		h.notifier.Notify(saved.ID)
	}
	return saved, nil
}
