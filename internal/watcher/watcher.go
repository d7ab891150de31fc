// Package watcher ingests documents dropped into watched folders.
// Filesystem events are debounced into batches, filtered by extension,
// and guarded against paths escaping the configured base directory
// before they reach the ingest queue.
package watcher

import (
	"context"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"

	"github.com/docurag/docurag/pkg/config"
	"github.com/docurag/docurag/pkg/types"
)

const (
	defaultDebounce = 500 * time.Millisecond
	ingestQueueSize = 64
)

// Ingestor receives discovered files. The document registry satisfies
// this.
type Ingestor interface {
	Upload(ctx context.Context, r io.Reader, fileName, contentType, ownerID string, metadata map[string]string) (types.Document, error)
}

// Watcher watches configured folders and feeds new or changed files to
// the ingestor.
type Watcher struct {
	cfg      config.WatcherConfig
	ingestor Ingestor
	logger   hclog.Logger

	baseDir    string
	extensions map[string]bool
	debounce   time.Duration

	mu      sync.Mutex
	started bool
	fsw     *fsnotify.Watcher
	pending map[string]struct{}
	timer   *time.Timer
	queue   chan string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a watcher. The base directory must exist; watched folders
// are resolved against it and anything resolving outside it is
// rejected.
func New(cfg config.WatcherConfig, ingestor Ingestor, logger hclog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	base, err := filepath.Abs(cfg.BaseDirectory)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(base); err != nil {
		return nil, err
	}

	extensions := make(map[string]bool, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		extensions[strings.ToLower(ext)] = true
	}
	debounce := time.Duration(cfg.DebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	return &Watcher{
		cfg:        cfg,
		ingestor:   ingestor,
		logger:     logger.Named("watcher"),
		baseDir:    base,
		extensions: extensions,
		debounce:   debounce,
		pending:    make(map[string]struct{}),
	}, nil
}

// Start begins watching. Folders are the configured ones resolved
// against the base directory, or the base directory itself when none
// are configured.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	folders := w.cfg.Folders
	if len(folders) == 0 {
		folders = []string{"."}
	}
	watched := 0
	for _, folder := range folders {
		dir := folder
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(w.baseDir, dir)
		}
		dir = filepath.Clean(dir)
		if !w.within(dir) {
			w.logger.Warn("refusing to watch folder outside base directory", "folder", folder)
			continue
		}
		if err := fsw.Add(dir); err != nil {
			w.logger.Warn("cannot watch folder", "folder", dir, "error", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		fsw.Close()
		return os.ErrNotExist
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel
	w.queue = make(chan string, ingestQueueSize)
	w.started = true

	w.wg.Add(2)
	go w.eventLoop(runCtx)
	go w.ingestLoop(runCtx)

	w.logger.Info("watching folders", "base", w.baseDir, "folders", watched)
	return nil
}

// Stop ends watching and waits for in-flight ingestion to finish.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	w.cancel()
	if w.timer != nil {
		w.timer.Stop()
	}
	err := w.fsw.Close()
	w.mu.Unlock()

	w.wg.Wait()
	return err
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			w.observe(event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// observe records a candidate path and (re)arms the debounce timer, so
// a burst of events for the same drop becomes one batch.
func (w *Watcher) observe(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	if !w.within(abs) {
		w.logger.Warn("ignoring event outside base directory", "path", path)
		return
	}
	if !w.extensions[strings.ToLower(filepath.Ext(abs))] {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.pending[abs] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

// flush moves the pending batch onto the ingest queue.
func (w *Watcher) flush() {
	w.mu.Lock()
	batch := make([]string, 0, len(w.pending))
	for path := range w.pending {
		batch = append(batch, path)
	}
	w.pending = make(map[string]struct{})
	queue := w.queue
	started := w.started
	w.mu.Unlock()

	if !started {
		return
	}
	w.logger.Debug("ingest batch ready", "files", len(batch))
	for _, path := range batch {
		select {
		case queue <- path:
		default:
			w.logger.Warn("ingest queue full, dropping file", "path", path)
		}
	}
}

func (w *Watcher) ingestLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.queue:
			w.ingest(ctx, path)
		}
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		w.logger.Warn("cannot open dropped file", "path", path, "error", err)
		return
	}
	defer f.Close()

	rel, err := filepath.Rel(w.baseDir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	doc, err := w.ingestor.Upload(ctx, f, filepath.Base(path), contentTypeFor(path), "", map[string]string{
		"source": "watcher",
		"path":   rel,
	})
	if err != nil {
		w.logger.Warn("ingestion failed", "path", path, "error", err)
		return
	}
	w.logger.Info("ingested dropped file", "path", rel, "document_id", doc.ID)
}

// within reports whether abs is inside the base directory. This is the
// path-traversal guard: event paths and configured folders may not
// escape the base via "..".
func (w *Watcher) within(abs string) bool {
	rel, err := filepath.Rel(w.baseDir, abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
