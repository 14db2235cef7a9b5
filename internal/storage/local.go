package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/gabriel-vasile/mimetype"
)

// LocalStorage keeps files under a directory served back at baseURL.
type LocalStorage struct {
	root    *os.Root
	baseURL string
}

func NewLocalStorage(baseDir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	root, err := os.OpenRoot(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage directory: %w", err)
	}
	return &LocalStorage{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (s *LocalStorage) url(key string) string {
	return s.baseURL + "/" + key
}

func (s *LocalStorage) UploadFile(ctx context.Context, filename string, content io.Reader, contentType string) (*UploadResult, error) {
	key := generateKey(filename, contentType)
	if err := s.root.MkdirAll(filepath.Dir(filepath.FromSlash(key)), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory structure: %w", err)
	}

	f, err := s.root.Create(filepath.FromSlash(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	n, err := io.Copy(f, content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.root.Remove(filepath.FromSlash(key))
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	slog.Info("file stored locally", "key", key, "size", n)
	return &UploadResult{Key: key, URL: s.url(key)}, nil
}

// GetPresignedURL has nothing to sign locally; files are served as is.
func (s *LocalStorage) GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	return s.url(key), nil
}

func (s *LocalStorage) DeleteFile(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := s.root.Remove(filepath.FromSlash(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	slog.Info("file deleted locally", "key", key)
	return nil
}

func (s *LocalStorage) GetFile(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if err := checkKey(key); err != nil {
		return nil, "", err
	}
	f, err := s.root.Open(filepath.FromSlash(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("file %s: %w", key, common.ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to open file: %w", err)
	}

	// sniff from the head, then hand back a reader that replays it
	head := make([]byte, 3072)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}
	if n == 0 {
		f.Close()
		return nil, "", fmt.Errorf("file %s is empty: %w", key, common.ErrNotFound)
	}
	head = head[:n]
	contentType := mimetype.Detect(head).String()

	return struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), f), f}, contentType, nil
}
