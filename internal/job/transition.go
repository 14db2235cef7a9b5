package job

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTransition = errors.New("invalid job transition")

// CanTransition reports whether from -> to is an edge of the job state machine.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

func (j Job) invalid(to Status) error {
	return fmt.Errorf("%w: %s -> %s (job %s)", ErrInvalidTransition, j.Status, to, j.ID)
}

// Start moves a pending job to PROCESSING at the accepted marker.
func (j Job) Start() (Job, error) {
	if !CanTransition(j.Status, StatusProcessing) {
		return j, j.invalid(StatusProcessing)
	}
	j.Status = StatusProcessing
	if j.ProgressPercent < ProgressAccepted {
		j.ProgressPercent = ProgressAccepted
	}
	return j, nil
}

// Submitted records the provider job id and moves progress to the submitted marker.
func (j Job) Submitted(providerJobID string) (Job, error) {
	if j.Status != StatusProcessing {
		return j, fmt.Errorf("%w: submit recorded while %s", ErrInvalidTransition, j.Status)
	}
	if providerJobID == "" {
		return j, errors.New("empty provider job id")
	}
	j.ProviderJobID = providerJobID
	if j.ProgressPercent < ProgressSubmitted {
		j.ProgressPercent = ProgressSubmitted
	}
	return j, nil
}

// Advance raises progress. It reports false when nothing changed, so callers
// can skip a write. Progress never goes down.
func (j Job) Advance(progress int) (Job, bool, error) {
	if j.Status != StatusProcessing {
		return j, false, fmt.Errorf("%w: progress update while %s", ErrInvalidTransition, j.Status)
	}
	if progress >= ProgressDone {
		progress = ProgressDone - 1
	}
	if progress <= j.ProgressPercent {
		return j, false, nil
	}
	j.ProgressPercent = progress
	return j, true, nil
}

func (j Job) Complete(now time.Time) (Job, error) {
	if !CanTransition(j.Status, StatusCompleted) {
		return j, j.invalid(StatusCompleted)
	}
	j.Status = StatusCompleted
	j.ProgressPercent = ProgressDone
	j.ErrorMessage = ""
	j.ErrorKind = ""
	j.CompletedAt = &now
	return j, nil
}

// Fail freezes progress at its current value.
func (j Job) Fail(kind ErrorKind, message string, now time.Time) (Job, error) {
	if !CanTransition(j.Status, StatusFailed) {
		return j, j.invalid(StatusFailed)
	}
	if message == "" {
		message = "video generation failed"
	}
	j.Status = StatusFailed
	j.ErrorKind = kind
	j.ErrorMessage = message
	j.CompletedAt = &now
	return j, nil
}
