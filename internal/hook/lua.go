// Package hook runs user scripts that veto paths before they are marked
// dirty.
//
// A filter script is plain Lua defining a global function:
//
//	function accept(root, path)
//	  return not path:match("%.gen%.go$")
//	end
//
// root is the checkout owning path, or "" when none does. Returning false
// drops the change. Any other result, including a script error, keeps it.
package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/dirtyscope/internal/logging"
)

// AcceptFunc is the global a filter script must define.
const AcceptFunc = "accept"

// DefaultCallTimeout bounds a single accept call.
const DefaultCallTimeout = 100 * time.Millisecond

// FilterStats counts filter decisions.
type FilterStats struct {
	Calls    int64
	Rejected int64
	Errors   int64
}

// LuaFilter evaluates accept(root, path) in a sandboxed Lua state.
//
// gopher-lua states are single-threaded; every call holds mu.
type LuaFilter struct {
	mu     sync.Mutex
	L      *lua.LState
	fn     *lua.LFunction
	closed bool

	name    string
	timeout time.Duration
	logger  *slog.Logger

	calls    atomic.Int64
	rejected atomic.Int64
	errors   atomic.Int64
}

// Option configures a LuaFilter.
type Option func(*LuaFilter)

// WithLogger sets the logger used for script errors and print output.
func WithLogger(logger *slog.Logger) Option {
	return func(f *LuaFilter) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithCallTimeout bounds each accept call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(f *LuaFilter) {
		f.timeout = d
	}
}

// NewLuaFilterFile loads a filter script from path.
func NewLuaFilterFile(path string, opts ...Option) (*LuaFilter, error) {
	return newLuaFilter(path, func(L *lua.LState) error {
		return L.DoFile(path)
	}, opts)
}

// NewLuaFilterString loads a filter script from source. name labels log
// output and errors.
func NewLuaFilterString(name, source string, opts ...Option) (*LuaFilter, error) {
	return newLuaFilter(name, func(L *lua.LState) error {
		fn, err := L.Load(strings.NewReader(source), name)
		if err != nil {
			return err
		}
		L.Push(fn)
		return L.PCall(0, lua.MultRet, nil)
	}, opts)
}

func newLuaFilter(name string, load func(*lua.LState) error, opts []Option) (*LuaFilter, error) {
	f := &LuaFilter{
		name:    name,
		timeout: DefaultCallTimeout,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(f)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)
	f.installPrint(L)

	if err := doWithRecovery(func() error { return load(L) }); err != nil {
		L.Close()
		return nil, fmt.Errorf("load %s: %w", name, err)
	}

	// Loading is done; remove what could pull in more code at run time
	for _, g := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(g, lua.LNil)
	}

	fn, ok := L.GetGlobal(AcceptFunc).(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("%s: %w", name, ErrNoAcceptFunction)
	}

	f.L = L
	f.fn = fn
	return f, nil
}

// openSafeLibraries opens base, table, string and math. io, os, debug and
// package stay closed.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// installPrint sends print output to the logger at debug level.
func (f *LuaFilter) installPrint(L *lua.LState) {
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, L.GetTop())
		for i := range parts {
			parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
		}
		f.logger.Debug("lua print",
			slog.String("script", f.name),
			slog.String("msg", strings.Join(parts, "\t")))
		return 0
	}))
}

// doWithRecovery executes fn, turning a panic into an error.
func doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// Call runs accept(root, path) and returns its verdict. Only an explicit
// false rejects.
func (f *LuaFilter) Call(root, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return true, ErrFilterClosed
	}

	if f.timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		f.L.SetContext(ctx)
		defer f.L.RemoveContext()
	}

	top := f.L.GetTop()
	err := doWithRecovery(func() error {
		f.L.Push(f.fn)
		f.L.Push(lua.LString(root))
		f.L.Push(lua.LString(path))
		return f.L.PCall(2, 1, nil)
	})
	if err != nil {
		f.L.SetTop(top)
		if ctx := f.L.Context(); ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return true, fmt.Errorf("%w: %v", ErrExecutionTimeout, err)
		}
		return true, err
	}

	ret := f.L.Get(-1)
	f.L.SetTop(top)
	return ret != lua.LFalse, nil
}

// Accept implements watcher.PathFilter. Script errors are logged and the
// path is kept.
func (f *LuaFilter) Accept(root, path string) bool {
	f.calls.Add(1)
	ok, err := f.Call(root, path)
	if err != nil {
		f.errors.Add(1)
		f.logger.Warn("filter script failed, keeping path",
			slog.String("script", f.name),
			slog.String("path", path),
			slog.Any("error", err))
		return true
	}
	if !ok {
		f.rejected.Add(1)
	}
	return ok
}

// Stats returns filter counters.
func (f *LuaFilter) Stats() FilterStats {
	return FilterStats{
		Calls:    f.calls.Load(),
		Rejected: f.rejected.Load(),
		Errors:   f.errors.Load(),
	}
}

// Close releases the Lua state. Later calls to Accept keep every path.
func (f *LuaFilter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	f.L.Close()
	return nil
}
