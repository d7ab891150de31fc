package watcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docurag/docurag/pkg/config"
	"github.com/docurag/docurag/pkg/types"
)

type recordedUpload struct {
	fileName    string
	contentType string
	content     string
	metadata    map[string]string
}

type fakeIngestor struct {
	mu      sync.Mutex
	uploads []recordedUpload
}

func (f *fakeIngestor) Upload(ctx context.Context, r io.Reader, fileName, contentType, ownerID string, metadata map[string]string) (types.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return types.Document{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, recordedUpload{
		fileName:    fileName,
		contentType: contentType,
		content:     string(data),
		metadata:    metadata,
	})
	return types.Document{ID: uuid.NewString(), FileName: fileName}, nil
}

func (f *fakeIngestor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func (f *fakeIngestor) all() []recordedUpload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedUpload(nil), f.uploads...)
}

func startTestWatcher(t *testing.T, dir string) (*Watcher, *fakeIngestor) {
	t.Helper()
	ing := &fakeIngestor{}
	w, err := New(config.WatcherConfig{
		BaseDirectory: dir,
		Extensions:    []string{".txt", ".md"},
		DebounceMs:    50,
	}, ing, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { w.Stop() })
	return w, ing
}

func TestWatcherIngestsDroppedFile(t *testing.T) {
	dir := t.TempDir()
	_, ing := startTestWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("The tower was finished in 1889."), 0o644))

	require.Eventually(t, func() bool { return ing.count() == 1 }, 3*time.Second, 20*time.Millisecond)
	up := ing.all()[0]
	assert.Equal(t, "notes.txt", up.fileName)
	assert.Equal(t, "The tower was finished in 1889.", up.content)
	assert.Equal(t, "watcher", up.metadata["source"])
	assert.Equal(t, "notes.txt", up.metadata["path"])
	assert.Contains(t, up.contentType, "text/plain")
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	_, ing := startTestWatcher(t, dir)

	// A burst of writes inside the debounce window lands as one batch,
	// one upload per file.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("beta"), 0o644))

	require.Eventually(t, func() bool { return ing.count() == 2 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 2, ing.count(), "repeated events for the same files collapse")
}

func TestWatcherFiltersExtensions(t *testing.T) {
	dir := t.TempDir()
	_, ing := startTestWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "binary.exe"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kept.txt"), []byte("kept"), 0o644))

	require.Eventually(t, func() bool { return ing.count() == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "kept.txt", ing.all()[0].fileName)
}

func TestWatcherContainmentGuard(t *testing.T) {
	dir := t.TempDir()
	w, err := New(config.WatcherConfig{BaseDirectory: dir, Extensions: []string{".txt"}}, &fakeIngestor{}, nil)
	require.NoError(t, err)

	assert.True(t, w.within(dir))
	assert.True(t, w.within(filepath.Join(dir, "sub", "file.txt")))
	assert.False(t, w.within(filepath.Join(dir, "..", "escape.txt")))
	assert.False(t, w.within(filepath.Dir(dir)))
}

func TestWatcherRejectsFolderOutsideBase(t *testing.T) {
	dir := t.TempDir()
	w, err := New(config.WatcherConfig{
		BaseDirectory: dir,
		Folders:       []string{"../outside"},
		Extensions:    []string{".txt"},
	}, &fakeIngestor{}, nil)
	require.NoError(t, err)
	require.Error(t, w.Start(context.Background()), "no folder survives the containment guard")
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, _ := startTestWatcher(t, dir)
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

func TestWatcherMissingBaseDirectory(t *testing.T) {
	_, err := New(config.WatcherConfig{BaseDirectory: "/no/such/dir"}, &fakeIngestor{}, nil)
	require.Error(t, err)
}
