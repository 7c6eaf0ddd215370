package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/doclens/doclens/internal/loader"
	"github.com/doclens/doclens/internal/ragerr"
)

// debounceWindow coalesces the burst of write events editors and copies
// produce into one ingest per file.
const debounceWindow = 2 * time.Second

// Watcher auto-ingests supported files dropped into a directory tree.
// Deletes are ignored: removal is an explicit API action.
type Watcher struct {
	pipeline *Pipeline
	root     string
	window   time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher builds a watcher over root. Start must be called to begin
// watching.
func NewWatcher(pipeline *Pipeline, root string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		pipeline: pipeline,
		root:     root,
		window:   debounceWindow,
		logger:   logger,
		timers:   make(map[string]*time.Timer),
	}
}

// Start watches the directory tree until ctx is cancelled. Create and
// write events on supported extensions schedule a debounced ingest; new
// subdirectories are added to the watch as they appear.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := addRecursive(fsw, w.root); err != nil {
		return err
	}
	w.logger.Info("watching directory for documents", slog.String("dir", w.root))

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fsw, ev)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
		return
	}

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addRecursive(fsw, ev.Name); err != nil {
				w.logger.Warn("cannot watch new directory",
					slog.String("dir", ev.Name), slog.Any("error", err))
			}
			return
		}
	}

	if !loader.IsSupported(ev.Name) {
		return
	}
	w.schedule(ctx, ev.Name)
}

// schedule (re)arms the debounce timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.window, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.ingestFile(ctx, path)
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) ingestFile(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("cannot read watched file",
			slog.String("path", path), slog.Any("error", err))
		return
	}

	filename := filepath.Base(path)
	_, err = w.pipeline.Ingest(ctx, filename, content, nil)
	switch {
	case err == nil:
		w.logger.Info("auto-ingested watched file", slog.String("filename", filename))
	case isDuplicate(err):
		w.logger.Debug("watched file already ingested", slog.String("filename", filename))
	default:
		w.logger.Warn("auto-ingest failed",
			slog.String("filename", filename), slog.Any("error", err))
	}
}

func isDuplicate(err error) bool {
	var e *ragerr.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == ragerr.KindFileUpload && e.Detail("reason") == ragerr.ReasonDuplicate
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}
