package session

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/dirtyscope/internal/config"
	"github.com/dshills/dirtyscope/internal/dirty"
	"github.com/dshills/dirtyscope/internal/refresh"
	"github.com/dshills/dirtyscope/internal/vcs"
	"github.com/dshills/dirtyscope/internal/watcher"
)

// fakeWatcher lets tests inject events without touching fsnotify.
type fakeWatcher struct {
	mu       sync.Mutex
	events   chan watcher.Event
	errors   chan error
	watching map[string]bool
	closed   bool

	// failWatch, if set, is returned by WatchRecursive
	failWatch error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		events:   make(chan watcher.Event, 100),
		errors:   make(chan error, 10),
		watching: make(map[string]bool),
	}
}

func (w *fakeWatcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching[path] {
		return watcher.ErrAlreadyWatching
	}
	w.watching[path] = true
	return nil
}

func (w *fakeWatcher) WatchRecursive(path string) error {
	if w.failWatch != nil {
		return w.failWatch
	}
	return w.Watch(path)
}

func (w *fakeWatcher) Unwatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p := range w.watching {
		if p == path || strings.HasPrefix(p, path+string(filepath.Separator)) {
			delete(w.watching, p)
		}
	}
	return nil
}

func (w *fakeWatcher) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *fakeWatcher) Events() <-chan watcher.Event { return w.events }
func (w *fakeWatcher) Errors() <-chan error         { return w.errors }

func (w *fakeWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.events)
		close(w.errors)
	}
	return nil
}

func (w *fakeWatcher) Stats() watcher.Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return watcher.Stats{WatchedPaths: len(w.watching)}
}

func (w *fakeWatcher) isWatching(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watching[path]
}

// workspace creates base/app (git) and base/lib (hg) plus a plain dir.
func workspace(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	for _, d := range []string{"app/.git", "app/src", "lib/.hg", "plain"} {
		if err := os.MkdirAll(filepath.Join(base, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return base
}

func testConfig(roots ...string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Roots = roots
	cfg.Refresh.Debounce = config.Duration(5 * time.Millisecond)
	return cfg
}

func waitCycle(t *testing.T, cycles <-chan refresh.Cycle) refresh.Cycle {
	t.Helper()
	select {
	case c := <-cycles:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("no refresh cycle")
		return refresh.Cycle{}
	}
}

func TestOpenDiscoversNestedRoots(t *testing.T) {
	base := workspace(t)
	fw := newFakeWatcher()

	s, err := Open(context.Background(), testConfig(base), Options{Watcher: fw})
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	defer s.Close()

	owners := s.Owners()
	if len(owners) != 2 {
		t.Fatalf("Owners() = %v, want app and lib", owners)
	}
	if owners[0].Kind != "git" || owners[1].Kind != "hg" {
		t.Errorf("kinds = %s, %s", owners[0].Kind, owners[1].Kind)
	}
	if s.Tracker().Stage() != dirty.StageAlive {
		t.Errorf("Stage = %v, want alive", s.Tracker().Stage())
	}
	if !s.Tracker().HasPendingWork() {
		t.Error("opening should mark everything dirty")
	}
	if !fw.isWatching(base) {
		t.Error("root should be watched")
	}
	if !fw.isWatching(filepath.Join(base, "app", ".git")) {
		t.Error("git metadata should be watched")
	}
}

func TestOpenNoRoots(t *testing.T) {
	base := t.TempDir()
	cfg := testConfig(base)

	if _, err := Open(context.Background(), cfg, Options{Watcher: newFakeWatcher()}); !errors.Is(err, ErrNoRoots) {
		t.Errorf("Open error = %v, want ErrNoRoots", err)
	}
}

func TestOpenInvalidConfig(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Logging.Level = "shout"

	if _, err := Open(context.Background(), cfg, Options{}); !errors.Is(err, config.ErrValidationFailed) {
		t.Errorf("Open error = %v, want validation failure", err)
	}
}

func TestOpenBadFilter(t *testing.T) {
	base := workspace(t)
	cfg := testConfig(base)
	cfg.Hooks.Filter = filepath.Join(base, "missing.lua")

	_, err := Open(context.Background(), cfg, Options{Watcher: newFakeWatcher()})
	var initErr *InitError
	if !errors.As(err, &initErr) || initErr.Component != "filter" {
		t.Errorf("Open error = %v, want filter InitError", err)
	}
}

func TestRunRefreshesScopes(t *testing.T) {
	base := workspace(t)
	fw := newFakeWatcher()
	s, err := Open(context.Background(), testConfig(base), Options{Watcher: fw})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	cycles := make(chan refresh.Cycle, 10)
	s.Updater().OnCycle(func(c refresh.Cycle) { cycles <- c })

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	first := waitCycle(t, cycles)
	if !first.Invalidated.Everything || len(first.Invalidated.Scopes) != 2 {
		t.Errorf("first cycle = %+v, want everything for both owners", first.Invalidated)
	}

	file := filepath.Join(base, "app", "src", "main.go")
	fw.events <- watcher.Event{Name: file, Op: watcher.OpWrite}

	c := waitCycle(t, cycles)
	if c.Invalidated.Everything || len(c.Invalidated.Scopes) != 1 {
		t.Fatalf("cycle = %+v, want one app scope", c.Invalidated)
	}
	scope := c.Invalidated.Scopes[0]
	if len(scope.Files) != 1 || scope.Files[0] != dirty.NewPath(file) {
		t.Errorf("files = %v, want %s", scope.Files, file)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Run error = %v, want nil after cancel", err)
	}
}

func TestMetadataChangeMarksCheckout(t *testing.T) {
	base := workspace(t)
	fw := newFakeWatcher()
	s, err := Open(context.Background(), testConfig(base), Options{Watcher: fw})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	cycles := make(chan refresh.Cycle, 10)
	s.Updater().OnCycle(func(c refresh.Cycle) { cycles <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	waitCycle(t, cycles)

	fw.events <- watcher.Event{Name: filepath.Join(base, "app", ".git", "HEAD"), Op: watcher.OpWrite}

	c := waitCycle(t, cycles)
	if len(c.Invalidated.Scopes) != 1 {
		t.Fatalf("scopes = %+v", c.Invalidated.Scopes)
	}
	if !c.Invalidated.Scopes[0].Covers(dirty.NewPath(filepath.Join(base, "app", "src", "x.go"))) {
		t.Errorf("scope %+v should cover the whole checkout", c.Invalidated.Scopes[0])
	}
}

func TestSuspendResume(t *testing.T) {
	base := workspace(t)
	fw := newFakeWatcher()
	s, err := Open(context.Background(), testConfig(base), Options{Watcher: fw})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	s.Tracker().RetrieveAndClear()
	s.Updater().Clear()

	s.Suspend()
	s.MarkEverythingDirty()
	if s.Updater().Pending() {
		t.Error("suspended session should not signal")
	}
	s.Resume()
	if !s.Updater().Pending() {
		t.Error("resume should signal pending work")
	}
}

func TestAddAndRemoveRoot(t *testing.T) {
	base := workspace(t)
	fw := newFakeWatcher()
	s, err := Open(context.Background(), testConfig(filepath.Join(base, "app")), Options{Watcher: fw})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if len(s.Owners()) != 1 {
		t.Fatalf("Owners() = %v, want only app", s.Owners())
	}
	s.Tracker().RetrieveAndClear()

	added, err := s.AddRoot(context.Background(), filepath.Join(base, "lib"))
	if err != nil {
		t.Fatalf("AddRoot error = %v", err)
	}
	if len(added) == 0 || added[0].Kind != "hg" {
		t.Errorf("added = %v", added)
	}
	inv, ok := s.Tracker().RetrieveAndClear()
	if !ok || !inv.Everything {
		t.Error("adding a root should mark everything dirty")
	}

	if _, err := s.AddRoot(context.Background(), filepath.Join(base, "plain")); !errors.Is(err, ErrNoRoots) {
		t.Errorf("AddRoot(plain) error = %v, want ErrNoRoots", err)
	}

	lib := filepath.Join(base, "lib")
	if !fw.isWatching(lib) || !fw.isWatching(filepath.Join(lib, ".hg")) {
		t.Fatal("added root and its metadata should be watched")
	}

	if err := s.RemoveRoot(lib); err != nil {
		t.Fatalf("RemoveRoot error = %v", err)
	}
	if len(s.Owners()) != 1 {
		t.Errorf("Owners() = %v after remove", s.Owners())
	}
	if fw.isWatching(lib) {
		t.Error("removed root is still watched")
	}
	if fw.isWatching(filepath.Join(lib, ".hg")) {
		t.Error("removed root's metadata is still watched")
	}
	if !fw.isWatching(filepath.Join(base, "app")) || !fw.isWatching(filepath.Join(base, "app", ".git")) {
		t.Error("remaining root lost its watches")
	}
}

func TestRemoveNestedRootKeepsConfiguredWatch(t *testing.T) {
	base := workspace(t)
	fw := newFakeWatcher()
	s, err := Open(context.Background(), testConfig(base), Options{Watcher: fw})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.RemoveRoot(filepath.Join(base, "lib")); err != nil {
		t.Fatalf("RemoveRoot error = %v", err)
	}
	if !fw.isWatching(base) {
		t.Error("configured root should stay watched")
	}
	if fw.isWatching(filepath.Join(base, "lib", ".hg")) {
		t.Error("removed root's metadata is still watched")
	}
	if err := s.RemoveRoot(filepath.Join(base, "lib")); err == nil {
		t.Error("second RemoveRoot should fail")
	}
}

func TestOpenLeavesCallerWatcherOpen(t *testing.T) {
	base := workspace(t)
	fw := newFakeWatcher()
	fw.failWatch = errors.New("no space left on device")

	_, err := Open(context.Background(), testConfig(base), Options{Watcher: fw})
	var initErr *InitError
	if !errors.As(err, &initErr) || initErr.Component != "watcher" {
		t.Fatalf("Open error = %v, want watcher InitError", err)
	}
	if fw.isClosed() {
		t.Error("Open closed a watcher it did not create")
	}
}

// initRepo creates a git checkout with one committed file.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{
		{"init", "-q"},
		{"add", "main.go"},
		{"-c", "user.name=test", "-c", "user.email=test@example.com", "commit", "-q", "-m", "init"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	return dir
}

func TestIdleRepoSettlesAfterBaseline(t *testing.T) {
	repo := initRepo(t)
	cfg := testConfig(repo)
	cfg.Refresh.Interval = 0

	var mu sync.Mutex
	statuses := 0
	s, err := Open(context.Background(), cfg, Options{
		GitStatus: true,
		OnStatus: func(dirty.Scope, []vcs.FileStatus) {
			mu.Lock()
			statuses++
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	defer s.Close()

	cycles := make(chan refresh.Cycle, 100)
	s.Updater().OnCycle(func(c refresh.Cycle) { cycles <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	if c := waitCycle(t, cycles); !c.Invalidated.Everything {
		t.Fatalf("first cycle = %+v, want baseline", c.Invalidated)
	}

	// git status ran against .git; nothing it does may count as a change
	time.Sleep(500 * time.Millisecond)
	if got := s.Stats().Refresh.Cycles; got != 1 {
		t.Errorf("Cycles = %d on an idle repo, want 1", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if statuses == 0 {
		t.Error("git status never ran")
	}
}

func TestLuaFilterDropsPaths(t *testing.T) {
	base := workspace(t)
	script := filepath.Join(base, "filter.lua")
	err := os.WriteFile(script, []byte(`
function accept(root, path)
  return not path:match("%.tmp$")
end
`), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(base)
	cfg.Hooks.Filter = script
	fw := newFakeWatcher()
	s, err := Open(context.Background(), cfg, Options{Watcher: fw})
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	defer s.Close()
	s.Tracker().RetrieveAndClear()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	fw.events <- watcher.Event{Name: filepath.Join(base, "app", "a.tmp"), Op: watcher.OpWrite}

	deadline := time.Now().Add(2 * time.Second)
	for s.Stats().Feeder.Filtered == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	st := s.Stats()
	if st.Filter == nil || st.Filter.Rejected != 1 || st.Feeder.Filtered != 1 {
		t.Errorf("filter stats = %+v, feeder = %+v, want one rejection", st.Filter, st.Feeder)
	}
	if s.Tracker().HasPendingWork() {
		t.Error("rejected path should not be recorded")
	}
}

func TestCloseStopsRun(t *testing.T) {
	base := workspace(t)
	fw := newFakeWatcher()
	s, err := Open(context.Background(), testConfig(base), Options{Watcher: fw})
	if err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()

	// Give Run a moment to start before closing
	time.Sleep(20 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after Close")
	}

	if s.Tracker().Stage() != dirty.StageDead {
		t.Errorf("Stage = %v, want dead", s.Tracker().Stage())
	}
	if s.Tracker().FilesDirty([]dirty.Path{dirty.NewPath(filepath.Join(base, "app", "x"))}, nil) != true {
		t.Error("marks after Close should be dropped")
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Run after Close error = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}
}

func TestEndToEndWithFSNotify(t *testing.T) {
	base := workspace(t)
	s, err := Open(context.Background(), testConfig(base), Options{})
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	defer s.Close()

	cycles := make(chan refresh.Cycle, 10)
	s.Updater().OnCycle(func(c refresh.Cycle) { cycles <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	waitCycle(t, cycles)

	file := dirty.NewPath(filepath.Join(base, "lib", "notes.txt"))
	if err := os.WriteFile(file.OS(), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-cycles:
			for _, scope := range c.Invalidated.Scopes {
				if scope.Covers(file) {
					return
				}
			}
		case <-deadline:
			t.Fatal("write was never refreshed")
		}
	}
}
