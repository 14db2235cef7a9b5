package http

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fedutinova/everwalk/internal/auth"
	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/job"
	"github.com/google/uuid"
	"golang.org/x/text/language"
)

type createVideoRequest struct {
	InteractionType string `json:"interaction_type" validate:"required,interaction"`
}

// JobView is a job as clients see it.
type JobView struct {
	JobID           uuid.UUID           `json:"job_id"`
	PetID           uuid.UUID           `json:"pet_id"`
	InteractionType job.InteractionKind `json:"interaction_type"`
	Status          job.Status          `json:"status"`
	ProgressPercent int                 `json:"progress_percent"`
	Message         string              `json:"message"`
	ErrorMessage    string              `json:"error_message,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
}

func newJobView(j *job.Job, lang language.Tag) JobView {
	return JobView{
		JobID:           j.ID,
		PetID:           j.SubjectID,
		InteractionType: j.InteractionKind,
		Status:          j.Status,
		ProgressPercent: j.ProgressPercent,
		Message:         job.HumanMessage(j.Status, j.ProgressPercent, j.ErrorMessage, lang),
		ErrorMessage:    j.ErrorMessage,
		CreatedAt:       j.CreatedAt,
		CompletedAt:     j.CompletedAt,
	}
}

func requestLanguage(r *http.Request) language.Tag {
	return job.MatchLanguage(r.Header.Get("Accept-Language"))
}

func (h *Handlers) createVideo(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	petID, err := pathID(r, "petID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createVideoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	kind, err := job.ParseInteractionKind(req.InteractionType)
	if err != nil {
		writeError(w, r, common.ValidationError{Field: "interaction_type", Message: err.Error()})
		return
	}

	j, err := h.Videos.Create(r.Context(), petID, kind, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/video-jobs/"+j.ID.String())
	writeJSON(w, http.StatusAccepted, newJobView(j, requestLanguage(r)))
}

func (h *Handlers) getVideoJob(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	jobID, err := pathID(r, "jobID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	j, err := h.Videos.GetStatusForUser(r.Context(), jobID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(j, requestLanguage(r)))
}

type progressEvent struct {
	Status  job.Status `json:"status"`
	Percent int        `json:"percent"`
	Message string     `json:"message"`
}

func writeEvent(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// streamProgress sends progress snapshots as server-sent events until the
// job finishes, the stream times out or the client goes away.
func (h *Handlers) streamProgress(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	jobID, err := pathID(r, "jobID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.Videos.GetStatusForUser(r.Context(), jobID, userID); err != nil {
		writeError(w, r, err)
		return
	}

	sub, err := h.Hub.Subscribe(r.Context(), jobID, requestLanguage(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer h.Hub.Unsubscribe(sub)

	rc := http.NewResponseController(w)
	// the server write timeout would cut the stream short
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for snap := range sub.Updates() {
		ev := progressEvent{Status: snap.Status, Percent: snap.ProgressPercent, Message: snap.Message}
		if err := writeEvent(w, "progress", ev); err != nil {
			slog.Debug("progress stream write failed", "job_id", jobID, "error", err)
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}

	reason := sub.Reason()
	_ = writeEvent(w, "done", map[string]string{"reason": string(reason)})
	_ = rc.Flush()
	slog.Debug("progress stream closed", "job_id", jobID, "reason", reason)
}

func (h *Handlers) listVideos(w http.ResponseWriter, r *http.Request) {
	pet, ok := h.ownedPet(w, r)
	if !ok {
		return
	}
	videos, err := h.Repo.ListVideos(r.Context(), pet.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, videos)
}
