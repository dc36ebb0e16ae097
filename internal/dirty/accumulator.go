package dirty

import "sort"

type pathSet map[Path]struct{}

func (s pathSet) clone() pathSet {
	out := make(pathSet, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

func (s pathSet) sorted() []Path {
	out := make([]Path, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Accumulator collects dirty files and recursively dirty directories per
// owner, plus a global flag meaning everything is dirty.
//
// Adds are plain set inserts. A file beneath a directory that is already
// recursively dirty is kept; ScopeBuilder removes it later.
//
// An Accumulator is not safe for concurrent use. The tracker only touches it
// from inside Gate actions.
type Accumulator struct {
	files      map[Owner]pathSet
	dirs       map[Owner]pathSet
	everything bool
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		files: make(map[Owner]pathSet),
		dirs:  make(map[Owner]pathSet),
	}
}

// AddFile records p as dirty for owner.
func (a *Accumulator) AddFile(owner Owner, p Path) {
	add(a.files, owner, p)
}

// AddDirRecursive records p and everything under it as dirty for owner.
func (a *Accumulator) AddDirRecursive(owner Owner, p Path) {
	add(a.dirs, owner, p)
}

func add(m map[Owner]pathSet, owner Owner, p Path) {
	set, ok := m[owner]
	if !ok {
		set = make(pathSet)
		m[owner] = set
	}
	set[p] = struct{}{}
}

// MarkEverything sets the everything-dirty flag.
func (a *Accumulator) MarkEverything() {
	a.everything = true
}

// IsEmpty reports whether nothing is dirty.
func (a *Accumulator) IsEmpty() bool {
	if a.everything {
		return false
	}
	for _, set := range a.files {
		if len(set) > 0 {
			return false
		}
	}
	for _, set := range a.dirs {
		if len(set) > 0 {
			return false
		}
	}
	return true
}

// Reset clears all state.
func (a *Accumulator) Reset() {
	a.files = make(map[Owner]pathSet)
	a.dirs = make(map[Owner]pathSet)
	a.everything = false
}

// SnapshotAndReset returns a deep copy of the current state and clears it.
func (a *Accumulator) SnapshotAndReset() Snapshot {
	snap := a.snapshot()
	a.Reset()
	return snap
}

func (a *Accumulator) snapshot() Snapshot {
	snap := Snapshot{
		files:      make(map[Owner]pathSet, len(a.files)),
		dirs:       make(map[Owner]pathSet, len(a.dirs)),
		everything: a.everything,
	}
	for o, set := range a.files {
		if len(set) > 0 {
			snap.files[o] = set.clone()
		}
	}
	for o, set := range a.dirs {
		if len(set) > 0 {
			snap.dirs[o] = set.clone()
		}
	}
	return snap
}

// Snapshot is an immutable copy of an Accumulator taken at one instant.
type Snapshot struct {
	files      map[Owner]pathSet
	dirs       map[Owner]pathSet
	everything bool
}

// Everything reports whether the everything-dirty flag was set.
func (s Snapshot) Everything() bool {
	return s.everything
}

// IsEmpty reports whether the snapshot records nothing.
func (s Snapshot) IsEmpty() bool {
	return !s.everything && len(s.files) == 0 && len(s.dirs) == 0
}

// Owners returns the owners with entries, ordered by root.
func (s Snapshot) Owners() []Owner {
	seen := make(map[Owner]struct{}, len(s.files)+len(s.dirs))
	for o := range s.files {
		seen[o] = struct{}{}
	}
	for o := range s.dirs {
		seen[o] = struct{}{}
	}
	out := make([]Owner, 0, len(seen))
	for o := range seen {
		out = append(out, o)
	}
	sortOwners(out)
	return out
}

// Files returns the dirty files recorded for owner, sorted.
func (s Snapshot) Files(owner Owner) []Path {
	return s.files[owner].sorted()
}

// Dirs returns the recursively dirty directories recorded for owner, sorted.
func (s Snapshot) Dirs(owner Owner) []Path {
	return s.dirs[owner].sorted()
}

func sortOwners(owners []Owner) {
	sort.Slice(owners, func(i, j int) bool {
		if owners[i].Root != owners[j].Root {
			return owners[i].Root < owners[j].Root
		}
		return owners[i].Kind < owners[j].Kind
	})
}
