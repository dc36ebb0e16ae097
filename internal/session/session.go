// Package session owns one dirty-tracking session over a set of workspace
// roots.
//
// Open discovers the checkouts, starts watching, and opens the tracker with
// everything dirty. Run drives the feeder and the updater until the context
// ends or the session is closed. Close kills the tracker before tearing down
// the watcher, so events still in flight are dropped rather than recorded.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/dirtyscope/internal/config"
	"github.com/dshills/dirtyscope/internal/dirty"
	"github.com/dshills/dirtyscope/internal/hook"
	"github.com/dshills/dirtyscope/internal/logging"
	"github.com/dshills/dirtyscope/internal/refresh"
	"github.com/dshills/dirtyscope/internal/vcs"
	"github.com/dshills/dirtyscope/internal/watcher"
)

// Options supplies collaborators that are not part of the file config.
type Options struct {
	Logger *slog.Logger

	// Handlers recompute each dirty scope, in order.
	Handlers []refresh.Handler

	// GitStatus adds a vcs.StatusHandler after Handlers. OnStatus, if set,
	// receives its results.
	GitStatus bool
	OnStatus  func(scope dirty.Scope, files []vcs.FileStatus)

	// Watcher replaces the fsnotify watcher. A successful Open takes
	// ownership and Close closes it; a failed Open leaves it open.
	Watcher watcher.Watcher
}

// Stats aggregates component counters.
type Stats struct {
	ID      uuid.UUID
	Owners  int
	Tracker dirty.Stats
	Watcher watcher.Stats
	Feeder  watcher.FeedStats
	Refresh refresh.Stats
	Filter  *hook.FilterStats
}

// Session wires the tracker to its producers and its consumer.
type Session struct {
	id     uuid.UUID
	cfg    *config.Config
	kinds  []string
	logger *slog.Logger

	registry *vcs.Registry
	tracker  *dirty.Tracker
	updater  *refresh.Updater
	watcher  watcher.Watcher
	feeder   *watcher.Feeder
	filter   *hook.LuaFilter

	mu      sync.Mutex
	running bool
	closed  bool
}

// Open builds a session from cfg. The returned session is already
// recording; call Run to start refreshing and Close when done.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		id:     uuid.New(),
		cfg:    cfg,
		kinds:  cfg.VCS.Kinds,
		logger: opts.Logger,
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	s.logger = s.logger.With(slog.String("session", s.id.String()))

	registry, err := Discover(ctx, cfg, s.logger)
	if err != nil {
		return nil, err
	}
	s.registry = registry

	handlers := opts.Handlers
	if opts.GitStatus {
		status := vcs.NewStatusHandler(s.logger)
		status.OnStatus = opts.OnStatus
		handlers = append(handlers, status)
	}
	updaterOpts := []refresh.Option{
		refresh.WithDebounce(cfg.Refresh.Debounce.Std()),
		refresh.WithInterval(cfg.Refresh.Interval.Std()),
		refresh.WithLogger(s.logger),
	}
	for _, h := range handlers {
		updaterOpts = append(updaterOpts, refresh.WithHandler(h))
	}
	s.updater = refresh.New(updaterOpts...)
	s.tracker = dirty.New(s.registry, s.updater, dirty.WithLogger(s.logger))

	// A changed root set invalidates every scope
	s.registry.OnChange(func(ev vcs.ChangeEvent) {
		s.logger.Info("vcs roots changed",
			slog.String("change", ev.Type.String()),
			slog.String("owner", ev.Owner.String()))
		s.tracker.MarkEverythingDirty()
	})

	if cfg.Hooks.Filter != "" {
		filter, err := hook.NewLuaFilterFile(cfg.Hooks.Filter, hook.WithLogger(s.logger))
		if err != nil {
			return nil, &InitError{Component: "filter", Err: err}
		}
		s.filter = filter
	}

	if err := s.startWatcher(opts.Watcher); err != nil {
		s.closeFilter()
		return nil, err
	}

	feedOpts := []watcher.FeedOption{
		watcher.WithMarkers(vcs.MarkerNames(s.kinds...)...),
		watcher.WithFeedLogger(s.logger),
	}
	if s.filter != nil {
		feedOpts = append(feedOpts, watcher.WithPathFilter(s.filter, s.registry))
	}
	s.feeder = watcher.NewFeeder(s.tracker, feedOpts...)

	s.tracker.Open()
	s.logger.Info("session opened",
		slog.Int("roots", len(cfg.Roots)),
		slog.Int("owners", s.registry.Len()))
	return s, nil
}

// Discover builds a registry of the checkout around each configured root
// and, if cfg.VCS.Nested is set, every checkout nested below it.
func Discover(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*vcs.Registry, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	registry := vcs.NewRegistry()
	skip := skipFunc(cfg)

	for _, root := range cfg.Roots {
		owner, err := vcs.Discover(root, cfg.VCS.Kinds...)
		switch {
		case err == nil:
			registry.Add(owner)
		case errors.Is(err, vcs.ErrRepositoryNotFound):
			logger.Debug("root is not inside a checkout", slog.String("path", root))
		default:
			return nil, &InitError{Component: "discovery", Err: err}
		}

		if !cfg.VCS.Nested {
			continue
		}
		nested, err := vcs.FindRoots(ctx, root, skip, cfg.VCS.Kinds...)
		if err != nil {
			return nil, &InitError{Component: "discovery", Err: err}
		}
		for _, o := range nested {
			registry.Add(o)
		}
	}

	if registry.Len() == 0 {
		return nil, ErrNoRoots
	}
	return registry, nil
}

// skipFunc keeps discovery out of directories the watcher ignores.
func skipFunc(cfg *config.Config) vcs.SkipFunc {
	ignore := watcher.NewIgnorePatterns()
	_ = ignore.AddPatterns(watcher.DefaultIgnorePatterns)
	_ = ignore.AddPatterns(cfg.Watcher.Ignore)
	return func(p string) bool {
		return ignore.Match(p, true)
	}
}

func (s *Session) startWatcher(w watcher.Watcher) error {
	owned := w == nil
	if owned {
		patterns := append(append([]string{}, watcher.DefaultIgnorePatterns...), s.cfg.Watcher.Ignore...)
		fsw, err := watcher.NewFSNotifyWatcher(
			watcher.WithBufferSize(s.cfg.Watcher.BufferSize),
			watcher.WithIgnorePatterns(patterns),
			watcher.WithIgnoreHidden(s.cfg.Watcher.IgnoreHidden),
			watcher.WithMaxWatches(s.cfg.Watcher.MaxWatches),
		)
		if err != nil {
			return &InitError{Component: "watcher", Err: err}
		}
		w = fsw
	}
	s.watcher = w

	for _, root := range s.cfg.Roots {
		if err := w.WatchRecursive(root); err != nil && !errors.Is(err, watcher.ErrAlreadyWatching) {
			if owned {
				w.Close()
			}
			return &InitError{Component: "watcher", Err: fmt.Errorf("watch %s: %w", root, err)}
		}
	}
	for _, owner := range s.registry.Owners() {
		s.watchMarker(owner)
	}
	return nil
}

// watchMarker watches the owner's metadata directory so that checkouts,
// commits and index updates reach the feeder.
func (s *Session) watchMarker(owner dirty.Owner) {
	dir, ok := markerDir(owner)
	if !ok {
		return
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return
	}
	if err := s.watcher.Watch(dir); err != nil && !errors.Is(err, watcher.ErrAlreadyWatching) {
		s.logger.Warn("cannot watch vcs metadata",
			slog.String("path", dir),
			slog.Any("error", err))
	}
}

func markerDir(owner dirty.Owner) (string, bool) {
	marker, err := vcs.Marker(owner.Kind)
	if err != nil {
		return "", false
	}
	return filepath.Join(owner.Root.OS(), marker), true
}

// Run feeds watcher events to the tracker and refreshes dirty scopes until
// ctx is done or the session is closed. It returns nil on either.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.feeder.Run(gctx, s.watcher); err != nil {
			return err
		}
		return errWatcherDone
	})
	g.Go(func() error {
		return s.updater.Run(gctx, s.tracker)
	})

	err := g.Wait()
	if errors.Is(err, errWatcherDone) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// AddRoot starts tracking the checkouts at or below path. Adding a root
// marks everything dirty.
func (s *Session) AddRoot(ctx context.Context, path string) ([]dirty.Owner, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	var owners []dirty.Owner
	if owner, err := vcs.Discover(path, s.kinds...); err == nil {
		owners = append(owners, owner)
	} else if !errors.Is(err, vcs.ErrRepositoryNotFound) {
		return nil, err
	}
	if s.cfg.VCS.Nested {
		nested, err := vcs.FindRoots(ctx, path, skipFunc(s.cfg), s.kinds...)
		if err != nil {
			return nil, err
		}
		owners = append(owners, nested...)
	}
	if len(owners) == 0 {
		return nil, ErrNoRoots
	}

	if err := s.watcher.WatchRecursive(path); err != nil && !errors.Is(err, watcher.ErrAlreadyWatching) {
		return nil, err
	}
	for _, o := range owners {
		s.registry.Add(o)
		s.watchMarker(o)
	}
	return owners, nil
}

// RemoveRoot stops tracking the checkout rooted at root and drops its
// watches. The root directory stays watched while another tracked
// checkout encloses it or lies below it.
func (s *Session) RemoveRoot(root string) error {
	if s.isClosed() {
		return ErrClosed
	}

	p := dirty.NewPath(root)
	var removed dirty.Owner
	for _, o := range s.registry.Owners() {
		if o.Root == p {
			removed = o
			break
		}
	}
	if err := s.registry.Unregister(root); err != nil {
		return err
	}

	if dir, ok := markerDir(removed); ok {
		s.unwatch(dir)
	}
	if s.rootInUse(p) {
		return nil
	}
	s.unwatch(p.OS())
	return nil
}

// rootInUse reports whether p is still needed by a remaining owner or a
// configured root.
func (s *Session) rootInUse(p dirty.Path) bool {
	for _, o := range s.registry.Owners() {
		if o.Root.Contains(p) || p.Contains(o.Root) {
			return true
		}
	}
	for _, r := range s.cfg.Roots {
		if dirty.NewPath(r).Contains(p) {
			return true
		}
	}
	return false
}

func (s *Session) unwatch(dir string) {
	if err := s.watcher.Unwatch(dir); err != nil && !errors.Is(err, watcher.ErrNotWatching) {
		s.logger.Warn("cannot unwatch",
			slog.String("path", dir),
			slog.Any("error", err))
	}
}

// Suspend holds back refresh signals; marks are still recorded.
func (s *Session) Suspend() {
	s.tracker.Suspend()
}

// Resume re-enables signals and wakes the updater if work piled up.
func (s *Session) Resume() {
	s.tracker.Resume()
}

// MarkEverythingDirty invalidates every tracked checkout.
func (s *Session) MarkEverythingDirty() {
	s.tracker.MarkEverythingDirty()
}

// ID returns the session identifier used in logs.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Owners returns the tracked checkouts.
func (s *Session) Owners() []dirty.Owner {
	return s.registry.Owners()
}

// Tracker returns the underlying tracker.
func (s *Session) Tracker() *dirty.Tracker {
	return s.tracker
}

// Updater returns the refresh loop, e.g. to register OnCycle callbacks.
func (s *Session) Updater() *refresh.Updater {
	return s.updater
}

// Stats returns a snapshot of every component's counters.
func (s *Session) Stats() Stats {
	st := Stats{
		ID:      s.id,
		Owners:  s.registry.Len(),
		Tracker: s.tracker.Stats(),
		Watcher: s.watcher.Stats(),
		Feeder:  s.feeder.Stats(),
		Refresh: s.updater.Stats(),
	}
	if s.filter != nil {
		fs := s.filter.Stats()
		st.Filter = &fs
	}
	return st
}

// Close kills the tracker, then stops the watcher and the filter. It is
// safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.tracker.Close()
	err := s.watcher.Close()
	s.closeFilter()

	s.logger.Info("session closed")
	return err
}

func (s *Session) closeFilter() {
	if s.filter != nil {
		s.filter.Close()
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
