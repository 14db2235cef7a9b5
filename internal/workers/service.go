package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/job"
	"github.com/fedutinova/everwalk/internal/jobstore"
	"github.com/fedutinova/everwalk/internal/memq"
	"github.com/google/uuid"
)

// VideoService accepts video requests and answers status queries.
type VideoService struct {
	jobs     jobstore.Store
	subjects SubjectResolver
	queue    memq.Dispatcher
	notifier Notifier
	now      func() time.Time
}

func NewVideoService(jobs jobstore.Store, subjects SubjectResolver, queue memq.Dispatcher, notifier Notifier) *VideoService {
	return &VideoService{
		jobs:     jobs,
		subjects: subjects,
		queue:    queue,
		notifier: notifier,
		now:      time.Now,
	}
}

// Create records a PENDING job and schedules one worker for it. When the
// dispatcher refuses the task the job is failed with kind scheduling and
// common.ErrQueueFull is returned.
func (s *VideoService) Create(ctx context.Context, petID uuid.UUID, kind job.InteractionKind, callerID uuid.UUID) (*job.Job, error) {
	if _, err := job.ParseInteractionKind(string(kind)); err != nil {
		return nil, common.ValidationError{Field: "interaction_type", Message: err.Error()}
	}
	if _, err := s.subjects.ResolveSubject(ctx, petID, callerID); err != nil {
		return nil, err
	}

	j := job.New(petID, callerID, kind, s.now())
	if err := s.jobs.Create(ctx, j); err != nil {
		return nil, common.WrapInternal("create video job", err)
	}

	task, err := memq.NewTask(memq.TypeVideoGenerate, VideoJobPayload{JobID: j.ID})
	if err != nil {
		return nil, common.WrapInternal("build video task", err)
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		slog.Warn("video job not scheduled", "job_id", j.ID, "error", err)
		s.rejectUnscheduled(ctx, j)
		return nil, fmt.Errorf("%w: %w", common.ErrQueueFull, err)
	}

	slog.Info("video job created", "job_id", j.ID, "pet_id", petID, "interaction", kind, "task_id", task.ID)
	return j, nil
}

// rejectUnscheduled walks an unscheduled job through PROCESSING to FAILED so
// it never stays PENDING without a worker.
func (s *VideoService) rejectUnscheduled(ctx context.Context, j *job.Job) {
	ctx = context.WithoutCancel(ctx)
	if err := s.failJob(ctx, j, job.ErrorKindScheduling, "video generation could not be scheduled"); err != nil {
		slog.Error("failed to mark unscheduled job", "job_id", j.ID, "error", err)
	}
}

func (s *VideoService) failJob(ctx context.Context, j *job.Job, kind job.ErrorKind, message string) error {
	cur := j
	if cur.Status == job.StatusPending {
		started, err := cur.Start()
		if err != nil {
			return err
		}
		if cur, err = s.jobs.CompareAndSwap(ctx, *cur, started); err != nil {
			return err
		}
	}
	failed, err := cur.Fail(kind, message, s.now())
	if err != nil {
		return err
	}
	saved, err := s.jobs.CompareAndSwap(ctx, *cur, failed)
	if err != nil {
		return err
	}
	*j = *saved
	if s.notifier != nil {
		s.notifier.Notify(j.ID)
	}
	return nil
}

func (s *VideoService) GetStatus(ctx context.Context, jobID uuid.UUID) (*job.Job, error) {
	return s.jobs.Get(ctx, jobID)
}

// GetStatusForUser hides jobs owned by other users.
func (s *VideoService) GetStatusForUser(ctx context.Context, jobID, callerID uuid.UUID) (*job.Job, error) {
	j, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.OwnerID != callerID {
		return nil, common.ErrJobNotFound
	}
	return j, nil
}

// UnfinishedLister finds jobs left PENDING or PROCESSING.
type UnfinishedLister interface {
	ListUnfinished(ctx context.Context) ([]job.Job, error)
}

// RecoverOrphans fails jobs that a previous process left unfinished. The in
// memory dispatcher loses its tasks on restart, so nothing would ever pick
// them up again. With a durable dispatcher PENDING jobs still have their task
// queued and are left alone; PROCESSING ones would be refused by the start
// transition on redelivery, so they are failed either way.
func (s *VideoService) RecoverOrphans(ctx context.Context, lister UnfinishedLister, durable bool) (int, error) {
	jobs, err := lister.ListUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unfinished jobs: %w", err)
	}
	var recovered int
	for i := range jobs {
		j := &jobs[i]
		if durable && j.Status == job.StatusPending {
			continue
		}
		if err := s.failJob(ctx, j, job.ErrorKindInternal, "video generation was interrupted"); err != nil {
			if errors.Is(err, common.ErrConflict) {
				continue
			}
			slog.Error("failed to recover job", "job_id", j.ID, "error", err)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		slog.Warn("recovered orphaned video jobs", "count", recovered)
	}
	return recovered, nil
}
