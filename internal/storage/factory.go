package storage

import (
	"context"
	"fmt"

	appconfig "github.com/fedutinova/everwalk/internal/config"
)

// Mode names accepted in STORAGE_MODE.
const (
	ModeLocal = "local"
	ModeS3    = "s3"
)

// Mode normalises STORAGE_MODE; aliases from older deployments still work.
func Mode(cfg appconfig.Config) string {
	switch cfg.StorageMode {
	case "s3", "aws", "localstack":
		return ModeS3
	default:
		return ModeLocal
	}
}

func NewStorage(ctx context.Context, cfg appconfig.Config) (Storage, error) {
	switch Mode(cfg) {
	case ModeS3:
		s, err := NewS3Storage(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 storage: %w", err)
		}
		return s, nil
	default:
		s, err := NewLocalStorage(cfg.LocalStorageDir, cfg.LocalStorageURL)
		if err != nil {
			return nil, fmt.Errorf("local storage: %w", err)
		}
		return s, nil
	}
}
