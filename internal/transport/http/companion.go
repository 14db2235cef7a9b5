package http

import (
	"net/http"

	"github.com/fedutinova/everwalk/internal/auth"
	"github.com/fedutinova/everwalk/internal/models"
)

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,max=1000"`
}

func (h *Handlers) listDiaries(w http.ResponseWriter, r *http.Request) {
	pet, ok := h.ownedPet(w, r)
	if !ok {
		return
	}
	entries, err := h.Repo.ListDiaryEntries(r.Context(), pet.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.DiaryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handlers) createDiary(w http.ResponseWriter, r *http.Request) {
	pet, ok := h.ownedPet(w, r)
	if !ok {
		return
	}
	entry, err := h.Companion.WriteDiary(r.Context(), pet.ID, pet.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handlers) unreadDiaries(w http.ResponseWriter, r *http.Request) {
	pet, ok := h.ownedPet(w, r)
	if !ok {
		return
	}
	n, err := h.Repo.CountUnreadDiaries(r.Context(), pet.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unread_count": n})
}

func (h *Handlers) getDiary(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	diaryID, err := pathID(r, "diaryID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := h.Repo.GetDiaryEntryForOwner(r.Context(), diaryID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handlers) markDiaryRead(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	diaryID, err := pathID(r, "diaryID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Repo.MarkDiaryRead(r.Context(), diaryID, userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	pet, ok := h.ownedPet(w, r)
	if !ok {
		return
	}
	msgs, err := h.Repo.ListMessages(r.Context(), pet.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// sendMessage stores the message and answers before the pet's reply is
// written.
func (h *Handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
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
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	msg, err := h.Companion.SendMessage(r.Context(), petID, userID, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handlers) unreadMessages(w http.ResponseWriter, r *http.Request) {
	pet, ok := h.ownedPet(w, r)
	if !ok {
		return
	}
	n, err := h.Repo.CountUnreadMessages(r.Context(), pet.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unread_count": n})
}

func (h *Handlers) markMessageRead(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	messageID, err := pathID(r, "messageID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Repo.MarkMessageRead(r.Context(), messageID, userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
