package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fedutinova/everwalk/internal/common"
)

// smallest valid PNG header is enough for content sniffing
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestLocalStorage_UploadAndGet(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("NewLocalStorage error: %v", err)
	}
	ctx := context.Background()

	res, err := s.UploadFile(ctx, "my dog.png", bytes.NewReader(pngHeader), "image/png")
	if err != nil {
		t.Fatalf("UploadFile error: %v", err)
	}
	if !strings.HasPrefix(res.Key, "images/") {
		t.Fatalf("expected images/ prefix, got %s", res.Key)
	}
	if !strings.HasPrefix(res.URL, "http://localhost:8080/files/images/") {
		t.Fatalf("unexpected url %s", res.URL)
	}
	if _, err := os.Stat(filepath.Join(dir, res.Key)); err != nil {
		t.Fatalf("uploaded file missing: %v", err)
	}

	rc, contentType, err := s.GetFile(ctx, res.Key)
	if err != nil {
		t.Fatalf("GetFile error: %v", err)
	}
	defer rc.Close()
	if contentType != "image/png" {
		t.Fatalf("expected image/png, got %s", contentType)
	}
	data, _ := io.ReadAll(rc)
	if !bytes.Equal(data, pngHeader) {
		t.Fatalf("content mismatch")
	}

	if err := s.DeleteFile(ctx, res.Key); err != nil {
		t.Fatalf("DeleteFile error: %v", err)
	}
	if _, _, err := s.GetFile(ctx, res.Key); err == nil {
		t.Fatalf("expected error for deleted file")
	}
}

func TestGenerateKey_FolderByContentType(t *testing.T) {
	cases := map[string]string{
		"video/mp4":                "videos/",
		"image/jpeg":               "images/",
		"application/octet-stream": "uploads/",
	}
	for ct, prefix := range cases {
		if key := generateKey("clip.bin", ct); !strings.HasPrefix(key, prefix) {
			t.Errorf("%s: expected prefix %s, got %s", ct, prefix, key)
		}
	}
}

func TestLocalStorage_RejectsEscapingKeys(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("NewLocalStorage error: %v", err)
	}
	for _, key := range []string{"", "../secret", "/etc/passwd", "images/../../x"} {
		if _, _, err := s.GetFile(context.Background(), key); !errors.Is(err, common.ErrBadRequest) {
			t.Errorf("%q: expected ErrBadRequest, got %v", key, err)
		}
	}
}

func TestLocalStorage_MissingFileIsNotFound(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("NewLocalStorage error: %v", err)
	}
	if _, _, err := s.GetFile(context.Background(), "images/nope.png"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGenerateKey_SanitisesName(t *testing.T) {
	key := generateKey("../../My Dog (1).JPG", "image/jpeg")
	parts := strings.Split(key, "/")
	if len(parts) != 5 || parts[0] != "images" {
		t.Fatalf("unexpected key layout %s", key)
	}
	name := parts[4]
	if !strings.HasPrefix(name, "My_Dog_1_") || !strings.HasSuffix(name, ".jpg") {
		t.Fatalf("unexpected file name %s", name)
	}
}
