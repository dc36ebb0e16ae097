package hook

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const skipGenerated = `
function accept(root, path)
  if path:match("%.gen%.go$") then
    return false
  end
  return true
end
`

func TestLuaFilterAccept(t *testing.T) {
	f, err := NewLuaFilterString("skip.lua", skipGenerated)
	if err != nil {
		t.Fatalf("NewLuaFilterString error = %v", err)
	}
	defer f.Close()

	tests := []struct {
		path string
		want bool
	}{
		{"/proj/main.go", true},
		{"/proj/api.gen.go", false},
		{"/proj/gen.go", true},
	}
	for _, tt := range tests {
		if got := f.Accept("/proj", tt.path); got != tt.want {
			t.Errorf("Accept(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	stats := f.Stats()
	if stats.Calls != 3 || stats.Rejected != 1 || stats.Errors != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestLuaFilterRootArgument(t *testing.T) {
	f, err := NewLuaFilterString("root.lua", `
function accept(root, path)
  return root ~= ""
end
`)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if !f.Accept("/proj", "/proj/a") {
		t.Error("owned path should pass")
	}
	if f.Accept("", "/tmp/a") {
		t.Error("unowned path should be rejected by this script")
	}
}

func TestLuaFilterNilResultKeeps(t *testing.T) {
	f, err := NewLuaFilterString("nil.lua", "function accept(root, path) end")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if !f.Accept("/proj", "/proj/a") {
		t.Error("only an explicit false should reject")
	}
}

func TestLuaFilterErrorFailsOpen(t *testing.T) {
	f, err := NewLuaFilterString("boom.lua", `
function accept(root, path)
  error("boom")
end
`)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := f.Call("/proj", "/proj/a"); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Call error = %v, want script error", err)
	}
	if !f.Accept("/proj", "/proj/a") {
		t.Error("script error should keep the path")
	}
	if f.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", f.Stats().Errors)
	}
}

func TestLuaFilterTimeout(t *testing.T) {
	f, err := NewLuaFilterString("spin.lua", `
function accept(root, path)
  while true do end
end
`, WithCallTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	ok, err := f.Call("/proj", "/proj/a")
	if !errors.Is(err, ErrExecutionTimeout) {
		t.Errorf("Call error = %v, want ErrExecutionTimeout", err)
	}
	if !ok {
		t.Error("timed out call should keep the path")
	}
}

func TestLuaFilterSandbox(t *testing.T) {
	f, err := NewLuaFilterString("sandbox.lua", `
function accept(root, path)
  return io == nil and os == nil and dofile == nil and require == nil
end
`)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	ok, err := f.Call("", "/x")
	if err != nil {
		t.Fatalf("Call error = %v", err)
	}
	if !ok {
		t.Error("io, os and loaders should be unavailable")
	}
}

func TestLuaFilterLoadErrors(t *testing.T) {
	if _, err := NewLuaFilterString("none.lua", "x = 1"); !errors.Is(err, ErrNoAcceptFunction) {
		t.Errorf("error = %v, want ErrNoAcceptFunction", err)
	}
	if _, err := NewLuaFilterString("syntax.lua", "function accept("); err == nil {
		t.Error("syntax error should fail to load")
	}
	if _, err := NewLuaFilterFile(filepath.Join(t.TempDir(), "missing.lua")); err == nil {
		t.Error("missing file should fail to load")
	}
}

func TestLuaFilterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter.lua")
	if err := os.WriteFile(path, []byte(skipGenerated), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := NewLuaFilterFile(path)
	if err != nil {
		t.Fatalf("NewLuaFilterFile error = %v", err)
	}
	defer f.Close()

	if f.Accept("/proj", "/proj/x.gen.go") {
		t.Error("generated file should be rejected")
	}
}

func TestLuaFilterClosed(t *testing.T) {
	f, err := NewLuaFilterString("skip.lua", skipGenerated)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	f.Close()

	if _, err := f.Call("/proj", "/proj/x.gen.go"); !errors.Is(err, ErrFilterClosed) {
		t.Errorf("Call error = %v, want ErrFilterClosed", err)
	}
	if !f.Accept("/proj", "/proj/x.gen.go") {
		t.Error("closed filter should keep every path")
	}
}

func TestLuaFilterConcurrent(t *testing.T) {
	f, err := NewLuaFilterString("skip.lua", skipGenerated)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if f.Accept("/proj", "/proj/a.gen.go") {
					t.Error("generated file accepted")
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := f.Stats().Calls; got != 400 {
		t.Errorf("Calls = %d, want 400", got)
	}
}
