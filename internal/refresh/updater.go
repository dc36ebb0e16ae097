// Package refresh drains the dirty tracker and recomputes each invalidated
// scope.
//
// An Updater is the tracker's Scheduler. Marks signal it; Run wakes up,
// waits out the debounce and rate limit, takes everything pending in one
// RetrieveAndClear and hands each scope to the registered handlers.
package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/dirtyscope/internal/dirty"
	"github.com/dshills/dirtyscope/internal/logging"
)

// Source yields pending invalidations. *dirty.Tracker satisfies it.
type Source interface {
	RetrieveAndClear() (*dirty.Invalidated, bool)
}

// Handler recomputes state for one dirty scope.
type Handler interface {
	HandleScope(ctx context.Context, scope dirty.Scope) error
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, scope dirty.Scope) error

// HandleScope calls f.
func (f HandlerFunc) HandleScope(ctx context.Context, scope dirty.Scope) error {
	return f(ctx, scope)
}

// Cycle describes one completed refresh.
type Cycle struct {
	ID          uuid.UUID
	Started     time.Time
	Duration    time.Duration
	Invalidated *dirty.Invalidated
	Failures    int
}

// Stats counts updater activity.
type Stats struct {
	Cycles   int64
	Scopes   int64
	Failures int64
	// Empty counts wakeups that found nothing to retrieve.
	Empty int64
}

// Updater consumes tracker signals and runs refresh cycles.
type Updater struct {
	*dirty.Signal

	handlers []Handler
	debounce time.Duration
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	onCycle []func(Cycle)

	cycles   atomic.Int64
	scopes   atomic.Int64
	failures atomic.Int64
	empty    atomic.Int64
}

// Option configures an Updater.
type Option func(*Updater)

// WithDebounce delays each cycle by d after the signal so bursts of marks
// land together.
func WithDebounce(d time.Duration) Option {
	return func(u *Updater) {
		u.debounce = d
	}
}

// WithInterval sets the minimum time between the starts of two cycles.
func WithInterval(d time.Duration) Option {
	return func(u *Updater) {
		u.interval = d
	}
}

// WithHandler adds a scope handler. Handlers run in the order added.
func WithHandler(h Handler) Option {
	return func(u *Updater) {
		u.handlers = append(u.handlers, h)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Updater) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// New creates an Updater. Pass it to dirty.New as the scheduler, then call
// Run with the tracker as source.
func New(opts ...Option) *Updater {
	u := &Updater{
		Signal: dirty.NewSignal(),
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// OnCycle registers a callback invoked after every non-empty cycle.
func (u *Updater) OnCycle(fn func(Cycle)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onCycle = append(u.onCycle, fn)
}

// Run waits for signals and refreshes until ctx is done.
func (u *Updater) Run(ctx context.Context, src Source) error {
	var last time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-u.C():
		}

		if err := sleep(ctx, u.debounce); err != nil {
			return err
		}
		if u.interval > 0 && !last.IsZero() {
			if err := sleep(ctx, u.interval-time.Since(last)); err != nil {
				return err
			}
		}

		// Marks arriving after this point signal again and get their own cycle
		u.Clear()
		last = time.Now()

		if _, err := u.RunCycle(ctx, src); err != nil {
			return err
		}
	}
}

// RunCycle retrieves pending work once and handles every scope. It returns
// false when there was nothing to do. Handler failures are logged and
// counted; only cancellation of ctx is returned as an error.
func (u *Updater) RunCycle(ctx context.Context, src Source) (bool, error) {
	inv, ok := src.RetrieveAndClear()
	if !ok {
		u.empty.Add(1)
		return false, nil
	}

	cycle := Cycle{
		ID:          uuid.New(),
		Started:     time.Now(),
		Invalidated: inv,
	}
	logger := u.logger.With(slog.String("cycle", cycle.ID.String()))
	logger.Debug("refresh cycle started",
		slog.Bool("everything", inv.Everything),
		slog.Int("scopes", len(inv.Scopes)))

	for _, scope := range inv.Scopes {
		for _, h := range u.handlers {
			if err := h.HandleScope(ctx, scope); err != nil {
				if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
					return true, ctx.Err()
				}
				cycle.Failures++
				logger.Warn("scope refresh failed",
					slog.String("owner", scope.Owner.String()),
					slog.Any("error", err))
			}
		}
		u.scopes.Add(1)
	}

	cycle.Duration = time.Since(cycle.Started)
	u.cycles.Add(1)
	u.failures.Add(int64(cycle.Failures))
	logger.Info("refresh cycle finished",
		slog.Int("scopes", len(inv.Scopes)),
		slog.Int("failures", cycle.Failures),
		slog.Duration("took", cycle.Duration))

	u.mu.Lock()
	callbacks := append([]func(Cycle){}, u.onCycle...)
	u.mu.Unlock()
	for _, fn := range callbacks {
		fn(cycle)
	}
	return true, nil
}

// Stats returns updater counters.
func (u *Updater) Stats() Stats {
	return Stats{
		Cycles:   u.cycles.Load(),
		Scopes:   u.scopes.Load(),
		Failures: u.failures.Load(),
		Empty:    u.empty.Load(),
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ dirty.Scheduler = (*Updater)(nil)
