package watcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/dirtyscope/internal/dirty"
	"github.com/dshills/dirtyscope/internal/logging"
)

// Sink receives batches of dirty paths. *dirty.Tracker satisfies it.
//
// MarkEverythingDirty is called when events were lost and the precise
// set of changed paths is unknown.
type Sink interface {
	FilesDirty(files, dirs []dirty.Path) bool
	MarkEverythingDirty()
}

// PathFilter decides whether a changed path under root is worth tracking.
type PathFilter interface {
	Accept(root, path string) bool
}

// FeedStats counts what a Feeder has done.
type FeedStats struct {
	Events    int64
	Batches   int64
	Filtered  int64
	Dropped   int64
	Errors    int64
	Overflows int64
}

// Feeder turns watcher events into dirty marks.
//
// Writes and chmods mark the file. Creating a directory marks it
// recursively. Removals and renames mark the path recursively since the
// watcher can no longer tell what it was. Any change inside a VCS marker
// directory (HEAD, index, refs) marks the whole checkout recursively,
// except *.lock files, which tools create and remove around every
// operation including read-only ones.
//
// When the watcher reports lost events the sink is marked everything
// dirty, since the lost paths cannot be recovered.
type Feeder struct {
	sink     Sink
	filter   PathFilter
	resolver dirty.OwnerResolver
	markers  map[string]bool
	maxBatch int
	logger   *slog.Logger

	events    atomic.Int64
	batches   atomic.Int64
	filtered  atomic.Int64
	dropped   atomic.Int64
	errors    atomic.Int64
	overflows atomic.Int64

	// Watcher drop count already accounted for
	seenDropped int64
}

// FeedOption configures a Feeder.
type FeedOption func(*Feeder)

// WithPathFilter sets a filter consulted for every event. The resolver
// supplies the root passed to the filter; without one the root is empty.
func WithPathFilter(filter PathFilter, resolver dirty.OwnerResolver) FeedOption {
	return func(f *Feeder) {
		f.filter = filter
		f.resolver = resolver
	}
}

// WithMarkers sets the VCS marker directory names (".git", ".hg").
func WithMarkers(names ...string) FeedOption {
	return func(f *Feeder) {
		for _, n := range names {
			f.markers[n] = true
		}
	}
}

// WithMaxBatch caps how many queued events are folded into one batch.
func WithMaxBatch(n int) FeedOption {
	return func(f *Feeder) {
		if n > 0 {
			f.maxBatch = n
		}
	}
}

// WithFeedLogger sets the logger.
func WithFeedLogger(logger *slog.Logger) FeedOption {
	return func(f *Feeder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFeeder creates a Feeder that writes into sink.
func NewFeeder(sink Sink, opts ...FeedOption) *Feeder {
	f := &Feeder{
		sink:     sink,
		markers:  make(map[string]bool),
		maxBatch: 128,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run consumes w's events until ctx is done or the event channel closes.
// Queued events are drained into a single batch per sink call.
func (f *Feeder) Run(ctx context.Context, w Watcher) error {
	events := w.Events()
	errs := w.Errors()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			f.handleError(w, err)

		case ev, ok := <-events:
			if !ok {
				f.drainErrors(w, errs)
				return nil
			}
			var b batch
			f.add(&b, ev)
		drain:
			for n := 1; n < f.maxBatch; n++ {
				select {
				case ev, ok := <-events:
					if !ok {
						break drain
					}
					f.add(&b, ev)
				default:
					break drain
				}
			}
			f.flush(b)
			if w.Stats().Dropped > f.seenDropped {
				f.overflow(w)
			}
		}
	}
}

func (f *Feeder) handleError(w Watcher, err error) {
	f.errors.Add(1)
	switch {
	case errors.Is(err, fsnotify.ErrEventOverflow):
		// Kernel queue overflow, not reflected in the watcher's drop count
		f.overflow(w)
	case errors.Is(err, ErrOverflow):
		if w.Stats().Dropped > f.seenDropped {
			f.overflow(w)
		}
	default:
		f.logger.Warn("watcher error", slog.Any("error", err))
	}
}

// drainErrors handles errors still queued after the event channel closed.
func (f *Feeder) drainErrors(w Watcher, errs <-chan error) {
	for errs != nil {
		select {
		case err, ok := <-errs:
			if !ok {
				return
			}
			f.handleError(w, err)
		default:
			return
		}
	}
}

// overflow marks everything dirty once for each run of lost events.
func (f *Feeder) overflow(w Watcher) {
	dropped := w.Stats().Dropped
	if dropped < f.seenDropped {
		dropped = f.seenDropped
	}
	f.seenDropped = dropped
	f.overflows.Add(1)
	f.logger.Warn("watcher lost events, marking everything dirty",
		slog.Int64("dropped", dropped))
	f.sink.MarkEverythingDirty()
}

// Handle feeds a single event to the sink.
func (f *Feeder) Handle(ev Event) {
	var b batch
	f.add(&b, ev)
	f.flush(b)
}

// Stats returns feeder counters.
func (f *Feeder) Stats() FeedStats {
	return FeedStats{
		Events:    f.events.Load(),
		Batches:   f.batches.Load(),
		Filtered:  f.filtered.Load(),
		Dropped:   f.dropped.Load(),
		Errors:    f.errors.Load(),
		Overflows: f.overflows.Load(),
	}
}

type batch struct {
	files []dirty.Path
	dirs  []dirty.Path
}

func (b batch) empty() bool {
	return len(b.files) == 0 && len(b.dirs) == 0
}

func (f *Feeder) add(b *batch, ev Event) {
	f.events.Add(1)
	p := dirty.PathOf(ev)
	if p.IsEmpty() {
		return
	}

	if root, ok := f.checkoutOf(p); ok {
		if !strings.HasSuffix(p.String(), ".lock") {
			b.dirs = append(b.dirs, root)
		}
		return
	}

	if f.filter != nil && !f.filter.Accept(f.rootOf(p), p.String()) {
		f.filtered.Add(1)
		return
	}

	switch {
	case ev.Op.Has(OpRemove), ev.Op.Has(OpRename):
		b.dirs = append(b.dirs, p)
	case ev.Op.Has(OpCreate) && ev.IsDir:
		b.dirs = append(b.dirs, p)
	case ev.IsDir:
		// Attribute changes on a directory say nothing about its contents
	default:
		b.files = append(b.files, p)
	}
}

// checkoutOf returns the checkout root when p is a marker directory or
// lies inside one.
func (f *Feeder) checkoutOf(p dirty.Path) (dirty.Path, bool) {
	if len(f.markers) == 0 {
		return "", false
	}
	for cur := p; ; cur = cur.Parent() {
		if f.markers[filepath.Base(cur.String())] {
			return cur.Parent(), true
		}
		if cur.Parent() == cur {
			return "", false
		}
	}
}

func (f *Feeder) rootOf(p dirty.Path) string {
	if f.resolver == nil {
		return ""
	}
	if owner, ok := f.resolver.ResolveOwner(p); ok {
		return owner.Root.String()
	}
	return ""
}

func (f *Feeder) flush(b batch) {
	if b.empty() {
		return
	}
	f.batches.Add(1)
	if f.sink.FilesDirty(b.files, b.dirs) {
		f.dropped.Add(1)
		f.logger.Debug("dirty batch dropped, tracker not alive",
			slog.Int("files", len(b.files)),
			slog.Int("dirs", len(b.dirs)))
	}
}
