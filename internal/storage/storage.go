package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/google/uuid"
)

// Storage holds pet photos and mirrored video artifacts.
type Storage interface {
	UploadFile(ctx context.Context, filename string, content io.Reader, contentType string) (*UploadResult, error)
	// GetFile returns the object and its content type. Missing keys wrap
	// common.ErrNotFound.
	GetFile(ctx context.Context, key string) (io.ReadCloser, string, error)
	GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error)
	DeleteFile(ctx context.Context, key string) error
}

type UploadResult struct {
	Key string
	URL string
}

// folderFor picks the top level folder for a content type.
func folderFor(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "video/"):
		return "videos"
	case strings.HasPrefix(contentType, "image/"):
		return "images"
	default:
		return "uploads"
	}
}

// generateKey builds <folder>/<yyyy/mm/dd>/<name>_<id><ext>.
func generateKey(filename, contentType string) string {
	filename = path.Base(filepath.ToSlash(filename))
	ext := strings.ToLower(path.Ext(filename))
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ' || r == '.':
			return '_'
		default:
			return -1
		}
	}, strings.TrimSuffix(filename, path.Ext(filename)))
	if name == "" {
		name = "file"
	}
	return path.Join(folderFor(contentType), time.Now().UTC().Format("2006/01/02"),
		name+"_"+uuid.NewString()[:8]+ext)
}

// checkKey rejects keys that could escape the storage root.
func checkKey(key string) error {
	if key == "" || !filepath.IsLocal(filepath.FromSlash(key)) {
		return fmt.Errorf("invalid storage key %q: %w", key, common.ErrBadRequest)
	}
	return nil
}
