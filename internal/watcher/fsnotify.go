package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSNotifyWatcher implements Watcher using fsnotify.
type FSNotifyWatcher struct {
	mu sync.RWMutex

	watcher *fsnotify.Watcher
	config  Config
	ignore  *IgnorePatterns

	// Watched directories and the recursive roots they came from
	paths     map[string]bool
	recursive map[string]bool

	events chan Event
	errors chan error

	startTime   time.Time
	totalEvents atomic.Int64
	dropped     atomic.Int64
	totalErrors atomic.Int64
	lastError   error

	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// NewFSNotifyWatcher creates a new fsnotify-based watcher.
func NewFSNotifyWatcher(opts ...Option) (*FSNotifyWatcher, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	ignore := NewIgnorePatterns()
	if err := ignore.AddPatterns(config.IgnorePatterns); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	bufSize := config.BufferSize
	if bufSize <= 0 {
		bufSize = 256
	}

	w := &FSNotifyWatcher{
		watcher:   fsw,
		config:    config,
		ignore:    ignore,
		paths:     make(map[string]bool),
		recursive: make(map[string]bool),
		events:    make(chan Event, bufSize),
		errors:    make(chan error, bufSize),
		startTime: time.Now(),
		closeCh:   make(chan struct{}),
	}

	w.closedWg.Add(1)
	go w.processLoop()

	return w, nil
}

// Watch starts watching a single directory.
func (w *FSNotifyWatcher) Watch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(absPath); err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addLocked(absPath)
}

func (w *FSNotifyWatcher) addLocked(absPath string) error {
	if w.closed {
		return ErrWatcherClosed
	}
	if w.paths[absPath] {
		return ErrAlreadyWatching
	}
	if w.config.MaxWatches > 0 && len(w.paths) >= w.config.MaxWatches {
		return ErrWatchLimit
	}
	if err := w.watcher.Add(absPath); err != nil {
		return err
	}
	w.paths[absPath] = true
	return nil
}

// WatchRecursive watches a directory and all subdirectories not ignored.
func (w *FSNotifyWatcher) WatchRecursive(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}
	if !info.IsDir() {
		return w.Watch(absPath)
	}

	w.mu.Lock()
	w.recursive[absPath] = true
	w.mu.Unlock()

	return w.walkAndWatch(absPath)
}

// walkAndWatch adds every non-ignored directory under root.
func (w *FSNotifyWatcher) walkAndWatch(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries, continue walking
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && w.shouldIgnore(p, true) {
			return filepath.SkipDir
		}

		w.mu.Lock()
		addErr := w.addLocked(p)
		w.mu.Unlock()

		switch {
		case addErr == nil, errors.Is(addErr, ErrAlreadyWatching):
		case errors.Is(addErr, ErrWatcherClosed):
			return addErr
		default:
			w.recordError(addErr)
		}
		return nil
	})
}

// Unwatch stops watching a path and every watched directory beneath it.
func (w *FSNotifyWatcher) Unwatch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}

	removed := 0
	var firstErr error
	for p := range w.paths {
		if !isWithin(absPath, p) {
			continue
		}
		// The directory may already be gone, which drops the kernel watch
		if err := w.watcher.Remove(p); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) && firstErr == nil {
			firstErr = err
		}
		delete(w.paths, p)
		removed++
	}
	for p := range w.recursive {
		if isWithin(absPath, p) {
			delete(w.recursive, p)
		}
	}
	if removed == 0 {
		return ErrNotWatching
	}
	return firstErr
}

// isWithin reports whether p is dir or lies below it.
func isWithin(dir, p string) bool {
	if p == dir {
		return true
	}
	rel, err := filepath.Rel(dir, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Events returns the event channel.
func (w *FSNotifyWatcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel.
func (w *FSNotifyWatcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher.
func (w *FSNotifyWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	// Wait for processLoop to finish
	w.closedWg.Wait()

	close(w.events)
	close(w.errors)

	return w.watcher.Close()
}

// Stats returns watcher statistics.
func (w *FSNotifyWatcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return Stats{
		WatchedPaths: len(w.paths),
		TotalEvents:  w.totalEvents.Load(),
		Dropped:      w.dropped.Load(),
		Errors:       w.totalErrors.Load(),
		LastError:    w.lastError,
		StartTime:    w.startTime,
	}
}

// IsWatching returns true if the directory is being watched.
func (w *FSNotifyWatcher) IsWatching(path string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.paths[absPath]
}

// processLoop handles incoming fsnotify events.
func (w *FSNotifyWatcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case fsEvent, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(fsEvent)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				err = fmt.Errorf("%w: %w", ErrOverflow, err)
			}
			w.recordError(err)
			w.sendError(err)
		}
	}
}

// handleFSEvent converts and dispatches an fsnotify event.
func (w *FSNotifyWatcher) handleFSEvent(fsEvent fsnotify.Event) {
	op := convertOp(fsEvent.Op)
	if op == 0 {
		return
	}

	isDir := false
	if !op.Has(OpRemove) && !op.Has(OpRename) {
		if info, err := os.Stat(fsEvent.Name); err == nil {
			isDir = info.IsDir()
		}
	}

	if w.shouldIgnore(fsEvent.Name, isDir) {
		return
	}

	event := Event{
		Name:      fsEvent.Name,
		Op:        op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	}
	if w.config.EventFilter != nil && !w.config.EventFilter(event) {
		return
	}

	w.sendEvent(event)

	// New directories under a recursive root are watched too
	if op.Has(OpCreate) && isDir && w.underRecursiveRoot(fsEvent.Name) {
		_ = w.walkAndWatch(fsEvent.Name)
	}
}

func (w *FSNotifyWatcher) underRecursiveRoot(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if w.recursive[dir] {
			return true
		}
		if dir == filepath.Dir(dir) {
			return false
		}
	}
}

// convertOp converts fsnotify.Op to watcher.Op.
func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	if fsOp.Has(fsnotify.Chmod) {
		op |= OpChmod
	}
	return op
}

// shouldIgnore checks if a path should be ignored.
func (w *FSNotifyWatcher) shouldIgnore(path string, isDir bool) bool {
	if w.config.IgnoreHidden {
		base := filepath.Base(path)
		if len(base) > 1 && base[0] == '.' {
			return true
		}
	}
	return w.ignore.Match(path, isDir)
}

// sendEvent delivers an event without blocking the fsnotify loop.
func (w *FSNotifyWatcher) sendEvent(event Event) {
	select {
	case w.events <- event:
		w.totalEvents.Add(1)
	default:
		w.dropped.Add(1)
		err := fmt.Errorf("%w: event channel full", ErrOverflow)
		w.recordError(err)
		w.sendError(err)
	}
}

// sendError sends an error to the output channel.
func (w *FSNotifyWatcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

// recordError records an error in stats.
func (w *FSNotifyWatcher) recordError(err error) {
	w.totalErrors.Add(1)
	w.mu.Lock()
	w.lastError = err
	w.mu.Unlock()
}

// Ensure FSNotifyWatcher implements Watcher.
var _ Watcher = (*FSNotifyWatcher)(nil)
