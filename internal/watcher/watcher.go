// Package watcher watches the inbox directory with fsnotify and hands settled invoice files to
// the pipeline.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/tagihan/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches one directory (not recursively) and invokes onFile once a matching file has
// stopped growing for the debounce interval. A path is never handed to onFile twice at once.
type Watcher struct {
	dir        string
	extensions []string
	onFile     func(path string)
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	pending  map[string]*pendingFile
	inflight map[string]struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// pendingFile is a file waiting to settle; size is what it measured when the timer was armed.
type pendingFile struct {
	timer *time.Timer
	size  int64
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must be quiet before onFile is called.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher for dir. extensions filter which files are reported (empty = all).
func NewWatcher(dir string, extensions []string, onFile func(path string), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:        filepath.Clean(dir),
		extensions: extensions,
		onFile:     onFile,
		debounce:   defaultDebounce,
		pending:    make(map[string]*pendingFile),
		inflight:   make(map[string]struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.OrNop(w.logger)
	return w
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Start creates the directory when missing and starts watching. It runs until ctx is cancelled
// or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw
	w.logger.Debug("watcher starting", zap.String("dir", w.dir), zap.Strings("extensions", w.extensions))
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if filepath.Dir(path) != w.dir {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if size, ok := w.eligible(path); ok {
			w.schedule(path, size)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.forget(path)
	}
}

// eligible reports whether path is a visible regular file with a matching extension, and its size.
func (w *Watcher) eligible(path string) (int64, bool) {
	if strings.HasPrefix(filepath.Base(path), ".") || !matchExtension(path, w.extensions) {
		return 0, false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}
	return info.Size(), true
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := normalizeExt(filepath.Ext(path))
	for _, e := range extensions {
		if normalizeExt(e) == ext {
			return true
		}
	}
	return false
}

func normalizeExt(ext string) string {
	return strings.TrimPrefix(strings.ToLower(ext), ".")
}

// schedule (re)arms the settle timer for path.
func (w *Watcher) schedule(path string, size int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return
	}
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
	}
	w.pending[path] = &pendingFile{
		size:  size,
		timer: time.AfterFunc(w.debounce, func() { w.settle(path) }),
	}
}

// settle runs when path has been quiet for the debounce interval. A file that is gone is dropped;
// one whose size changed without an event (slow copies on some filesystems) waits another round.
func (w *Watcher) settle(path string) {
	size, ok := w.eligible(path)
	w.mu.Lock()
	p, tracked := w.pending[path]
	if !tracked {
		w.mu.Unlock()
		return
	}
	if ok && size != p.size {
		w.mu.Unlock()
		w.schedule(path, size)
		return
	}
	delete(w.pending, path)
	w.mu.Unlock()
	if ok {
		w.logger.Debug("watcher file settled", zap.String("path", path), zap.Int64("size", size))
		w.dispatch(path)
	}
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

// dispatch calls onFile unless the same path is already being handled.
func (w *Watcher) dispatch(path string) {
	if w.onFile == nil {
		return
	}
	w.mu.Lock()
	if _, busy := w.inflight[path]; busy {
		w.mu.Unlock()
		w.logger.Debug("watcher file already in progress", zap.String("path", path))
		return
	}
	w.inflight[path] = struct{}{}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.inflight, path)
		w.mu.Unlock()
	}()
	w.onFile(path)
}

// SyncExistingFiles reports every matching file already in the directory. Call it after Start
// to pick up files dropped while the watcher was not running.
func (w *Watcher) SyncExistingFiles() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("watcher failed to read directory", zap.String("dir", w.dir), zap.Error(err))
		return
	}
	for _, e := range entries {
		path := filepath.Join(w.dir, e.Name())
		if e.IsDir() {
			continue
		}
		if _, ok := w.eligible(path); !ok {
			continue
		}
		w.logger.Debug("watcher syncing existing file", zap.String("path", path))
		w.dispatch(path)
	}
}

// Stop stops the watcher and releases resources. Pending files are dropped; a callback already
// running is not interrupted.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
