package http

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/storage"
	"github.com/fedutinova/everwalk/internal/validation"
	"github.com/go-chi/chi/v5"
)

const presignTTL = 15 * time.Minute

func (h *Handlers) uploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, validation.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(validation.MaxFileSize); err != nil {
		writeError(w, r, common.ValidationError{Field: "file", Message: "failed to parse form"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, common.ValidationError{Field: "file", Message: "is required"})
		return
	}
	defer file.Close()

	contentType, verrs := validation.ValidateImageUpload(header, file)
	if len(verrs) > 0 {
		writeError(w, r, verrs)
		return
	}

	res, err := h.Storage.UploadFile(r.Context(), header.Filename, file, contentType)
	if err != nil {
		writeError(w, r, common.WrapInternal("upload file", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":          res.Key,
		"url":          res.URL,
		"content_type": contentType,
		"size":         header.Size,
	})
}

// serveFiles streams stored objects. With S3 behind it the client is sent to
// a short lived presigned URL instead.
func (h *Handlers) serveFiles(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")

	if storage.Mode(h.Config) == storage.ModeS3 {
		url, err := h.Storage.GetPresignedURL(r.Context(), key, presignTTL)
		if err != nil {
			writeError(w, r, err)
			return
		}
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
		return
	}

	rc, contentType, err := h.Storage.GetFile(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Debug("file stream interrupted", "key", key, "error", err)
	}
}
