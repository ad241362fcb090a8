// Package watcher drives incremental index runs from file-system events.
// Events are debounced so a burst of saves triggers one pipeline run.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/codegraph-mcp/internal/indexer"
)

// DefaultDebounce is the quiet window after the last event before a run
const DefaultDebounce = 500 * time.Millisecond

// Watcher observes a source tree and reruns the incremental pipeline after
// changes settle
type Watcher struct {
	root     string
	idx      *indexer.Indexer
	debounce time.Duration
	fsw      *fsnotify.Watcher

	mu      sync.Mutex
	dirty   bool
	removed map[string]struct{}

	logger *slog.Logger
}

// New creates a watcher over root driving idx. debounce <= 0 selects the
// default window.
func New(root string, idx *indexer.Indexer, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}

	return &Watcher{
		root:     absRoot,
		idx:      idx,
		debounce: debounce,
		fsw:      fsw,
		removed:  make(map[string]struct{}),
		logger:   slog.Default(),
	}, nil
}

// Run watches until the context is cancelled. An initial incremental run
// brings the index current before any events are handled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	defer func() { _ = w.fsw.Close() }()

	if _, err := w.idx.Run(ctx, w.root, false); err != nil && err != indexer.ErrNoFiles {
		return err
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-timer.C:
			if err := w.flush(ctx); err != nil {
				return err
			}
		}
	}
}

// handleEvent records a change and reports whether the debounce window
// should restart
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}

	switch {
	case event.Op.Has(fsnotify.Create):
		// New directories need watching; new files trigger a run.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
		}
		w.markDirty()
		return true

	case event.Op.Has(fsnotify.Write):
		w.markDirty()
		return true

	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		if rel, err := filepath.Rel(w.root, event.Name); err == nil {
			w.mu.Lock()
			w.removed[rel] = struct{}{}
			w.dirty = true
			w.mu.Unlock()
		}
		return true
	}
	return false
}

func (w *Watcher) markDirty() {
	w.mu.Lock()
	w.dirty = true
	w.mu.Unlock()
}

// flush runs the incremental pipeline once for all changes accumulated
// during the debounce window
func (w *Watcher) flush(ctx context.Context) error {
	w.mu.Lock()
	if !w.dirty {
		w.mu.Unlock()
		return nil
	}
	removed := w.removed
	w.removed = make(map[string]struct{})
	w.dirty = false
	w.mu.Unlock()

	for rel := range removed {
		if _, err := os.Stat(filepath.Join(w.root, rel)); err == nil {
			continue // recreated during the window
		}
		if err := w.idx.RemoveFile(ctx, rel); err != nil {
			w.logger.Warn("failed to remove deleted file from index", "path", rel, "error", err)
		}
	}

	report, err := w.idx.Run(ctx, w.root, false)
	if err == indexer.ErrNoFiles {
		return nil
	}
	if err != nil {
		return err
	}
	w.logger.Info("incremental run complete",
		"indexed", report.FilesIndexed,
		"skipped", report.FilesSkipped,
		"failed", report.FilesFailed)
	return nil
}

// addRecursive watches dir and every subdirectory beneath it
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Debug("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}
