package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fedutinova/everwalk/internal/auth"
	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/models"
)

type createPetRequest struct {
	Name         string   `json:"name" validate:"required,max=100"`
	Species      string   `json:"species" validate:"max=50"`
	MemorialDate string   `json:"memorial_date" validate:"omitempty,datetime=2006-01-02"`
	ImageURLs    []string `json:"image_urls" validate:"required,min=1,max=5,dive,required"`
}

const descriptionUnavailable = "AI description unavailable"

func (h *Handlers) createPet(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createPetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	pet := &models.Pet{
		UserID:  userID,
		Name:    req.Name,
		Species: req.Species,
	}
	if req.MemorialDate != "" {
		d, _ := time.Parse(time.DateOnly, req.MemorialDate)
		pet.MemorialDate = &d
	}
	for _, url := range req.ImageURLs {
		pet.Images = append(pet.Images, models.PetImage{ImageURL: url})
	}
	pet.AIDescription = h.describePet(r.Context(), req.ImageURLs)

	if err := h.Repo.CreatePet(r.Context(), pet); err != nil {
		writeError(w, r, common.WrapInternal("create pet", err))
		return
	}
	slog.Info("pet created", "pet_id", pet.ID, "user_id", userID, "images", len(pet.Images))
	writeJSON(w, http.StatusCreated, pet)
}

// describePet never fails the request; a missing description only makes
// the videos less faithful.
func (h *Handlers) describePet(ctx context.Context, imageRefs []string) string {
	if h.GPT == nil {
		return descriptionUnavailable
	}
	desc, err := h.GPT.DescribePet(ctx, imageRefs)
	if err != nil {
		slog.Warn("pet description failed", "error", err)
		return descriptionUnavailable
	}
	return desc
}

func (h *Handlers) listPets(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	pets, err := h.Repo.ListPets(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if pets == nil {
		pets = []models.Pet{}
	}
	writeJSON(w, http.StatusOK, pets)
}

func (h *Handlers) getPet(w http.ResponseWriter, r *http.Request) {
	pet, ok := h.ownedPet(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, pet)
}

func (h *Handlers) deletePet(w http.ResponseWriter, r *http.Request) {
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
	if err := h.Repo.DeactivatePet(r.Context(), petID, userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedPet loads the {petID} pet of the caller or writes the error response.
func (h *Handlers) ownedPet(w http.ResponseWriter, r *http.Request) (*models.Pet, bool) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	petID, err := pathID(r, "petID")
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	pet, err := h.Repo.GetPetForOwner(r.Context(), petID, userID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return pet, true
}
