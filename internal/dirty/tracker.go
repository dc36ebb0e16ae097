package dirty

import (
	"log/slog"
	"sync/atomic"

	"github.com/dshills/dirtyscope/internal/logging"
)

// Tracker records which regions of a version-controlled tree are stale and
// hands them to a single consumer in per-owner scopes.
//
// Producers may call the marking methods from any goroutine. Owner
// resolution happens before the lock is taken; the lock itself only covers
// set inserts and the snapshot/reset in RetrieveAndClear.
type Tracker struct {
	gate      Gate
	acc       *Accumulator
	resolver  OwnerResolver
	scheduler Scheduler
	builder   *ScopeBuilder
	logger    *slog.Logger

	marked     atomic.Int64
	unresolved atomic.Int64
	rejected   atomic.Int64
	signals    atomic.Int64
	retrievals atomic.Int64
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithBuilder replaces the scope builder.
func WithBuilder(b *ScopeBuilder) Option {
	return func(t *Tracker) {
		t.builder = b
	}
}

// New creates a tracker in the NotBorn stage. Nothing is recorded until
// Open is called. A nil scheduler is allowed; signals are then discarded.
func New(resolver OwnerResolver, scheduler Scheduler, opts ...Option) *Tracker {
	t := &Tracker{
		acc:       NewAccumulator(),
		resolver:  resolver,
		scheduler: scheduler,
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.scheduler == nil {
		t.scheduler = SchedulerFunc(func() {})
	}
	if t.builder == nil {
		t.builder = NewScopeBuilder(resolver, t.logger)
	}
	return t
}

// Open makes the tracker alive and marks everything dirty so the first
// retrieval is a full baseline. Calling Open again has no effect.
func (t *Tracker) Open() {
	if !t.gate.Born() {
		return
	}
	t.logger.Debug("dirty tracker alive")
	t.MarkEverythingDirty()
}

// Close kills the tracker and discards everything pending. The tracker is
// inert afterwards.
func (t *Tracker) Close() {
	t.gate.Kill(t.acc.Reset)
	t.logger.Debug("dirty tracker closed")
}

// Stage returns the lifecycle stage.
func (t *Tracker) Stage() Stage {
	return t.gate.Stage()
}

// Suspend keeps recording changes but stops signalling the scheduler.
func (t *Tracker) Suspend() {
	t.gate.Suspend()
}

// Resume lifts a suspension. If work piled up meanwhile, the scheduler is
// signalled once.
func (t *Tracker) Resume() {
	var nonEmpty bool
	resumed := t.gate.Resume(func() {
		nonEmpty = !t.acc.IsEmpty()
	})
	if resumed && nonEmpty {
		t.schedule()
	}
}

// MarkEverythingDirty invalidates every owner.
func (t *Tracker) MarkEverythingDirty() {
	t.takeDirt(func(a *Accumulator) {
		a.MarkEverything()
	})
}

// FileDirty marks a single file dirty.
func (t *Tracker) FileDirty(p Path) {
	owner, ok := t.resolve(p)
	if !ok {
		return
	}
	t.MarkDirty(owner, p, false)
}

// DirDirtyRecursively marks a directory and everything below it dirty.
func (t *Tracker) DirDirtyRecursively(p Path) {
	owner, ok := t.resolve(p)
	if !ok {
		return
	}
	t.MarkDirty(owner, p, true)
}

// MarkDirty records an entry whose owner is already known.
func (t *Tracker) MarkDirty(owner Owner, p Path, recursive bool) {
	t.takeDirt(func(a *Accumulator) {
		if recursive {
			a.AddDirRecursive(owner, p)
		} else {
			a.AddFile(owner, p)
		}
	})
}

type entry struct {
	owner Owner
	path  Path
}

// FilesDirty marks a batch of files and recursive directories in one
// critical section. It returns true if nothing could be recorded because
// the tracker is not alive. Paths without an owner are skipped.
func (t *Tracker) FilesDirty(files, dirs []Path) bool {
	fileEntries := t.resolveAll(files)
	dirEntries := t.resolveAll(dirs)
	if len(fileEntries) == 0 && len(dirEntries) == 0 {
		return false
	}

	drop := t.takeDirt(func(a *Accumulator) {
		for _, e := range fileEntries {
			a.AddFile(e.owner, e.path)
		}
		for _, e := range dirEntries {
			a.AddDirRecursive(e.owner, e.path)
		}
	})
	return !drop.Ran
}

// HasPendingWork reports whether anything is waiting for RetrieveAndClear.
// It is always false unless the tracker is alive.
func (t *Tracker) HasPendingWork() bool {
	var nonEmpty bool
	t.gate.DoIfAlive(func() {
		nonEmpty = !t.acc.IsEmpty()
	})
	return nonEmpty
}

// RetrieveAndClear atomically takes everything recorded so far and starts
// a new accumulation epoch. It returns false if the tracker is not alive or
// nothing was pending.
func (t *Tracker) RetrieveAndClear() (*Invalidated, bool) {
	var snap Snapshot
	drop := t.gate.DoIfAlive(func() {
		snap = t.acc.SnapshotAndReset()
	})
	if !drop.Ran || snap.IsEmpty() {
		return nil, false
	}

	t.retrievals.Add(1)
	inv := t.builder.Build(snap)
	t.logger.Debug("dirty scopes retrieved",
		slog.Bool("everything", inv.Everything),
		slog.Int("scopes", len(inv.Scopes)))
	return inv, true
}

// takeDirt applies fill under the gate and signals the scheduler if the
// notification rule says so.
func (t *Tracker) takeDirt(fill func(*Accumulator)) Drop {
	var nonEmpty bool
	drop := t.gate.DoIfAlive(func() {
		fill(t.acc)
		nonEmpty = !t.acc.IsEmpty()
	})

	if !drop.Ran {
		t.rejected.Add(1)
		return drop
	}
	t.marked.Add(1)
	if shouldSchedule(drop, nonEmpty) {
		t.schedule()
	}
	return drop
}

func (t *Tracker) schedule() {
	t.signals.Add(1)
	t.scheduler.ScheduleUpdate()
}

func (t *Tracker) resolve(p Path) (Owner, bool) {
	if p.IsEmpty() || t.resolver == nil {
		t.unresolved.Add(1)
		return Owner{}, false
	}
	owner, ok := t.resolver.ResolveOwner(p)
	if !ok {
		t.unresolved.Add(1)
		t.logger.Debug("no owner for dirty path", slog.String("path", p.String()))
	}
	return owner, ok
}

func (t *Tracker) resolveAll(paths []Path) []entry {
	if len(paths) == 0 {
		return nil
	}
	out := make([]entry, 0, len(paths))
	for _, p := range paths {
		if owner, ok := t.resolve(p); ok {
			out = append(out, entry{owner: owner, path: p})
		}
	}
	return out
}

// Stats returns counters describing tracker activity.
func (t *Tracker) Stats() Stats {
	return Stats{
		Stage:      t.gate.Stage(),
		Marked:     t.marked.Load(),
		Unresolved: t.unresolved.Load(),
		Rejected:   t.rejected.Load(),
		Signals:    t.signals.Load(),
		Retrievals: t.retrievals.Load(),
	}
}

// Stats contains counters describing tracker activity.
type Stats struct {
	Stage Stage

	// Marked counts guarded mutations that ran.
	Marked int64

	// Unresolved counts paths dropped because no owner claimed them.
	Unresolved int64

	// Rejected counts mutations ignored because the tracker was not alive.
	Rejected int64

	// Signals counts calls made to the scheduler.
	Signals int64

	// Retrievals counts non-empty retrievals.
	Retrievals int64
}
