package artifacts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fedutinova/everwalk/internal/job"
	"github.com/fedutinova/everwalk/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	err   error
	saved []job.Artifact
}

func (f *fakeRecorder) SaveArtifact(ctx context.Context, a *job.Artifact) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, *a)
	return nil
}

// mp4Bytes starts with an ISO base media "ftyp" box.
var mp4Bytes = append([]byte{
	0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm',
	0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2',
}, make([]byte, 64)...)

func serveBytes(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newArtifact(url string) *job.Artifact {
	return &job.Artifact{
		SubjectID:       uuid.New(),
		InteractionKind: job.InteractionPlaying,
		VideoURL:        url,
		DurationSeconds: job.DefaultDurationSeconds,
		ProviderJobID:   "gen-42",
	}
}

func TestSaveArtifact_WithoutMirror(t *testing.T) {
	rec := &fakeRecorder{}
	s := NewStore(rec, nil)

	require.NoError(t, s.SaveArtifact(context.Background(), newArtifact("https://cdn.test/v.mp4")))
	require.Len(t, rec.saved, 1)
	assert.Equal(t, "https://cdn.test/v.mp4", rec.saved[0].VideoURL)
}

func TestSaveArtifact_RequiresURL(t *testing.T) {
	rec := &fakeRecorder{}
	err := NewStore(rec, nil).SaveArtifact(context.Background(), newArtifact(""))
	assert.Error(t, err)
	assert.Empty(t, rec.saved)
}

func TestSaveArtifact_MirrorsVideo(t *testing.T) {
	srv := serveBytes(t, http.StatusOK, mp4Bytes)
	dir := t.TempDir()
	local, err := storage.NewLocalStorage(dir, "http://files.test")
	require.NoError(t, err)

	rec := &fakeRecorder{}
	require.NoError(t, NewStore(rec, local).SaveArtifact(context.Background(), newArtifact(srv.URL+"/gen-42.mp4")))

	require.Len(t, rec.saved, 1)
	url := rec.saved[0].VideoURL
	require.True(t, strings.HasPrefix(url, "http://files.test/"), url)

	data, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(url, "http://files.test/")))
	require.NoError(t, err)
	assert.Equal(t, mp4Bytes, data)
}

func TestSaveArtifact_MirrorFailureKeepsProviderURL(t *testing.T) {
	local, err := storage.NewLocalStorage(t.TempDir(), "http://files.test")
	require.NoError(t, err)

	tests := map[string]*httptest.Server{
		"not found": serveBytes(t, http.StatusNotFound, nil),
		"not video": serveBytes(t, http.StatusOK, []byte("<html>expired</html>")),
	}
	for name, srv := range tests {
		t.Run(name, func(t *testing.T) {
			rec := &fakeRecorder{}
			url := srv.URL + "/gen-42.mp4"
			require.NoError(t, NewStore(rec, local).SaveArtifact(context.Background(), newArtifact(url)))
			require.Len(t, rec.saved, 1)
			assert.Equal(t, url, rec.saved[0].VideoURL)
		})
	}
}

func TestSaveArtifact_TooLarge(t *testing.T) {
	srv := serveBytes(t, http.StatusOK, mp4Bytes)
	local, err := storage.NewLocalStorage(t.TempDir(), "http://files.test")
	require.NoError(t, err)

	rec := &fakeRecorder{}
	s := NewStore(rec, local)
	s.maxSize = 16
	url := srv.URL + "/gen-42.mp4"
	require.NoError(t, s.SaveArtifact(context.Background(), newArtifact(url)))
	assert.Equal(t, url, rec.saved[0].VideoURL)
}

func TestSaveArtifact_RecorderError(t *testing.T) {
	boom := errors.New("db down")
	err := NewStore(&fakeRecorder{err: boom}, nil).SaveArtifact(context.Background(), newArtifact("https://cdn.test/v.mp4"))
	assert.ErrorIs(t, err, boom)
}

func TestSaveArtifact_RecorderErrorRemovesMirror(t *testing.T) {
	srv := serveBytes(t, http.StatusOK, mp4Bytes)
	dir := t.TempDir()
	local, err := storage.NewLocalStorage(dir, "http://files.test")
	require.NoError(t, err)

	err = NewStore(&fakeRecorder{err: errors.New("db down")}, local).
		SaveArtifact(context.Background(), newArtifact(srv.URL+"/gen-42.mp4"))
	require.Error(t, err)

	var files []string
	require.NoError(t, filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, p)
		}
		return err
	}))
	assert.Empty(t, files)
}
