package job

import (
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type InteractionKind string

const (
	InteractionFeeding InteractionKind = "FEEDING"
	InteractionPetting InteractionKind = "PETTING"
	InteractionPlaying InteractionKind = "PLAYING"
	InteractionWalking InteractionKind = "WALKING"
)

var interactionKinds = []InteractionKind{
	InteractionFeeding,
	InteractionPetting,
	InteractionPlaying,
	InteractionWalking,
}

// ParseInteractionKind accepts any letter case.
func ParseInteractionKind(raw string) (InteractionKind, error) {
	k := InteractionKind(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range interactionKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown interaction kind %q", raw)
}

// ErrorKind classifies why a job failed.
type ErrorKind string

const (
	ErrorKindProvider   ErrorKind = "provider"
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindCancelled  ErrorKind = "cancelled"
	ErrorKindScheduling ErrorKind = "scheduling"
	ErrorKindInternal   ErrorKind = "internal"
)

// Fixed progress markers for the local phases of a job.
const (
	ProgressAccepted  = 10
	ProgressSubmitted = 30
	ProgressDone      = 100
)

type Job struct {
	ID              uuid.UUID       `json:"id"`
	SubjectID       uuid.UUID       `json:"pet_id"`
	OwnerID         uuid.UUID       `json:"owner_id"`
	InteractionKind InteractionKind `json:"interaction_type"`
	Status          Status          `json:"status"`
	ProviderJobID   string          `json:"provider_job_id,omitempty"`
	ProgressPercent int             `json:"progress_percent"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ErrorKind       ErrorKind       `json:"error_kind,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	// Version is bumped by the store on every successful write.
	Version int64 `json:"version"`
}

// New returns a PENDING job with progress 0.
func New(subjectID, ownerID uuid.UUID, kind InteractionKind, now time.Time) *Job {
	return &Job{
		ID:              uuid.New(),
		SubjectID:       subjectID,
		OwnerID:         ownerID,
		InteractionKind: kind,
		Status:          StatusPending,
		CreatedAt:       now,
	}
}

// Subject is the slice of a pet the worker needs to build a provider request.
type Subject struct {
	ID             uuid.UUID
	OwnerID        uuid.UUID
	Name           string
	SourceImageURL string
	Description    string
}

type Artifact struct {
	ID              uuid.UUID       `json:"id"`
	SubjectID       uuid.UUID       `json:"pet_id"`
	InteractionKind InteractionKind `json:"interaction_type"`
	VideoURL        string          `json:"video_url"`
	ThumbnailURL    string          `json:"thumbnail_url,omitempty"`
	DurationSeconds int             `json:"duration_seconds"`
	ProviderJobID   string          `json:"provider_job_id"`
	CreatedAt       time.Time       `json:"created_at"`
}

const DefaultDurationSeconds = 5

// RemoteState is the provider's view of a render.
type RemoteState string

const (
	RemoteQueued     RemoteState = "queued"
	RemoteProcessing RemoteState = "processing"
	RemoteCompleted  RemoteState = "completed"
	RemoteFailed     RemoteState = "failed"
)

// Observation is one answer to a provider status poll.
type Observation struct {
	State           RemoteState
	Percent         int
	ArtifactURL     string
	ThumbnailURL    string
	DurationSeconds int
	FailureReason   string
}
