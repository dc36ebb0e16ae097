package vcs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dshills/dirtyscope/internal/dirty"
)

// Supported VCS kinds.
const (
	KindGit       = "git"
	KindMercurial = "hg"
	KindSVN       = "svn"
)

// markers maps each kind to the directory that marks a checkout root.
var markers = map[string]string{
	KindGit:       ".git",
	KindMercurial: ".hg",
	KindSVN:       ".svn",
}

// DefaultKinds returns the kinds probed when none are given, in probe order.
func DefaultKinds() []string {
	return []string{KindGit, KindMercurial, KindSVN}
}

// Marker returns the marker name for kind.
func Marker(kind string) (string, error) {
	m, ok := markers[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return m, nil
}

// MarkerNames returns the marker directory names of the given kinds, or of
// DefaultKinds when none are given. Unknown kinds are skipped.
func MarkerNames(kinds ...string) []string {
	if len(kinds) == 0 {
		kinds = DefaultKinds()
	}
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if m, ok := markers[k]; ok {
			names = append(names, m)
		}
	}
	return names
}

// rootKind reports which kind, if any, has a marker directly inside dir.
// A .git file (worktrees, submodules) counts as a marker.
func rootKind(dir string, kinds []string) (string, bool) {
	for _, kind := range kinds {
		marker, ok := markers[kind]
		if !ok {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return kind, true
		}
	}
	return "", false
}

// Discover finds the checkout containing path by walking up the directory
// tree. With no kinds given, DefaultKinds are probed.
func Discover(path string, kinds ...string) (dirty.Owner, error) {
	if len(kinds) == 0 {
		kinds = DefaultKinds()
	}
	for _, k := range kinds {
		if _, err := Marker(k); err != nil {
			return dirty.Owner{}, err
		}
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return dirty.Owner{}, fmt.Errorf("abs path: %w", err)
	}

	current := absPath
	for {
		if kind, ok := rootKind(current, kinds); ok {
			return dirty.Owner{Root: dirty.NewPath(current), Kind: kind}, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return dirty.Owner{}, ErrRepositoryNotFound
		}
		current = parent
	}
}

// SkipFunc reports whether a directory should not be searched.
type SkipFunc func(path string) bool

// FindRoots walks dir and returns every checkout root at or beneath it,
// including nested ones. Marker directories themselves are not descended
// into. With no kinds given, DefaultKinds are probed.
func FindRoots(ctx context.Context, dir string, skip SkipFunc, kinds ...string) ([]dirty.Owner, error) {
	if len(kinds) == 0 {
		kinds = DefaultKinds()
	}
	markerNames := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		m, err := Marker(k)
		if err != nil {
			return nil, err
		}
		markerNames[m] = true
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidRoot, absDir)
	}

	var owners []dirty.Owner
	err = filepath.WalkDir(absDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries, continue walking
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.IsDir() {
			return nil
		}
		if markerNames[d.Name()] {
			return filepath.SkipDir
		}
		if p != absDir && skip != nil && skip(p) {
			return filepath.SkipDir
		}
		if kind, ok := rootKind(p, kinds); ok {
			owners = append(owners, dirty.Owner{Root: dirty.NewPath(p), Kind: kind})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return owners, nil
}
