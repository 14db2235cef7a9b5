// Package artifacts records finished videos.
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/fedutinova/everwalk/internal/job"
	"github.com/fedutinova/everwalk/internal/storage"
	"github.com/gabriel-vasile/mimetype"
)

const maxVideoBytes = 200 << 20

// Recorder persists artifact rows.
type Recorder interface {
	SaveArtifact(ctx context.Context, a *job.Artifact) error
}

// Store saves artifacts. With a storage backend configured it first copies
// the provider's video into our own bucket so the link outlives the
// provider's retention window.
type Store struct {
	rec     Recorder
	mirror  storage.Storage
	client  *http.Client
	maxSize int64
}

func NewStore(rec Recorder, mirror storage.Storage) *Store {
	return &Store{
		rec:     rec,
		mirror:  mirror,
		client:  &http.Client{Timeout: 2 * time.Minute},
		maxSize: maxVideoBytes,
	}
}

func (s *Store) SaveArtifact(ctx context.Context, a *job.Artifact) error {
	if a.VideoURL == "" {
		return fmt.Errorf("artifact has no video url")
	}
	var mirrored *storage.UploadResult
	if s.mirror != nil {
		res, err := s.copyVideo(ctx, a)
		if err != nil {
			slog.Warn("video mirroring failed, keeping provider url",
				"provider_job_id", a.ProviderJobID, "error", err)
		} else {
			mirrored = res
			a.VideoURL = res.URL
		}
	}
	if err := s.rec.SaveArtifact(ctx, a); err != nil {
		if mirrored != nil {
			if derr := s.mirror.DeleteFile(ctx, mirrored.Key); derr != nil {
				slog.Warn("orphaned mirrored video", "key", mirrored.Key, "error", derr)
			}
		}
		return fmt.Errorf("failed to record video: %w", err)
	}
	return nil
}

func (s *Store) copyVideo(ctx context.Context, a *job.Artifact) (*storage.UploadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.VideoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Everwalk-Video/1.0")
	req.Header.Set("Accept", "video/*")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download video: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read video: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("video exceeds %d bytes", s.maxSize)
	}

	mtype := mimetype.Detect(data)
	if !mtype.Is("video/mp4") && !mtype.Is("video/webm") && !mtype.Is("video/quicktime") {
		return nil, fmt.Errorf("unexpected video content type %s", mtype.String())
	}

	name := path.Base(a.ProviderJobID)
	if name == "" || name == "." || name == "/" {
		name = a.SubjectID.String()
	}
	res, err := s.mirror.UploadFile(ctx, name+mtype.Extension(), bytes.NewReader(data), mtype.String())
	if err != nil {
		return nil, err
	}
	slog.Info("video mirrored", "provider_job_id", a.ProviderJobID, "key", res.Key, "size", len(data))
	return res, nil
}
