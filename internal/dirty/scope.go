package dirty

import (
	"log/slog"

	"github.com/dshills/dirtyscope/internal/logging"
)

// Scope is the dirty region of one owner.
type Scope struct {
	Owner Owner

	// Files are dirty files not covered by any entry in Dirs.
	Files []Path

	// Dirs are recursively dirty directories. None is nested in another.
	Dirs []Path

	// Everything means the whole owner root is dirty. Files and Dirs are
	// empty in that case.
	Everything bool
}

// IsEmpty reports whether the scope covers nothing.
func (s Scope) IsEmpty() bool {
	return !s.Everything && len(s.Files) == 0 && len(s.Dirs) == 0
}

// Covers reports whether p falls inside the scope.
func (s Scope) Covers(p Path) bool {
	if s.Everything {
		return s.Owner.Root.Contains(p)
	}
	for _, d := range s.Dirs {
		if d.Contains(p) {
			return true
		}
	}
	for _, f := range s.Files {
		if f == p {
			return true
		}
	}
	return false
}

// Paths returns Dirs followed by Files, or the owner root when everything
// is dirty.
func (s Scope) Paths() []Path {
	if s.Everything {
		return []Path{s.Owner.Root}
	}
	out := make([]Path, 0, len(s.Dirs)+len(s.Files))
	out = append(out, s.Dirs...)
	return append(out, s.Files...)
}

// Invalidated is the result of one retrieval.
type Invalidated struct {
	// Everything is true when the retrieval was a full-project baseline.
	Everything bool

	// Scopes holds one entry per owner, ordered by owner root.
	Scopes []Scope
}

// IsEmpty reports whether nothing was invalidated.
func (inv *Invalidated) IsEmpty() bool {
	return inv == nil || (!inv.Everything && len(inv.Scopes) == 0)
}

// ScopeFor returns the scope of owner, if present.
func (inv *Invalidated) ScopeFor(owner Owner) (Scope, bool) {
	if inv == nil {
		return Scope{}, false
	}
	for _, s := range inv.Scopes {
		if s.Owner == owner {
			return s, true
		}
	}
	return Scope{}, false
}

// ScopeBuilder turns a Snapshot into per-owner scopes. It keeps no state
// between calls and never runs under the tracker lock.
type ScopeBuilder struct {
	owners OwnerResolver
	logger *slog.Logger
}

// NewScopeBuilder creates a builder that expands everything-dirty snapshots
// to the owners known to resolver and drops owners it no longer knows.
// A nil logger discards output.
func NewScopeBuilder(resolver OwnerResolver, logger *slog.Logger) *ScopeBuilder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ScopeBuilder{owners: resolver, logger: logger}
}

// Build partitions snap into scopes.
func (b *ScopeBuilder) Build(snap Snapshot) *Invalidated {
	known := b.knownOwners()

	if snap.Everything() {
		inv := &Invalidated{Everything: true}
		for _, o := range known {
			inv.Scopes = append(inv.Scopes, Scope{Owner: o, Everything: true})
		}
		return inv
	}

	live := make(map[Owner]bool, len(known))
	for _, o := range known {
		live[o] = true
	}

	inv := &Invalidated{}
	for _, o := range snap.Owners() {
		if b.owners != nil && !live[o] {
			b.logger.Debug("dropping scope of unknown owner", slog.String("owner", o.String()))
			continue
		}
		scope := buildScope(o, snap.Files(o), snap.Dirs(o))
		if !scope.IsEmpty() {
			inv.Scopes = append(inv.Scopes, scope)
		}
	}
	return inv
}

func (b *ScopeBuilder) knownOwners() []Owner {
	if b.owners == nil {
		return nil
	}
	owners := b.owners.Owners()
	sortOwners(owners)
	return owners
}

// buildScope applies directory dominance. files and dirs must be sorted.
func buildScope(owner Owner, files, dirs []Path) Scope {
	dirSet := make(pathSet, len(dirs))
	for _, d := range dirs {
		dirSet[d] = struct{}{}
	}

	scope := Scope{Owner: owner}
	for _, d := range dirs {
		if !coveredByAncestor(dirSet, d.Parent(), d) {
			scope.Dirs = append(scope.Dirs, d)
		}
	}
	for _, f := range files {
		if !coveredByAncestor(dirSet, f, "") {
			scope.Files = append(scope.Files, f)
		}
	}
	return scope
}

// coveredByAncestor walks from p up to the filesystem root looking for a
// member of dirs. self is skipped so a directory does not cover itself.
func coveredByAncestor(dirs pathSet, p, self Path) bool {
	for {
		if p != self {
			if _, ok := dirs[p]; ok {
				return true
			}
		}
		parent := p.Parent()
		if parent == p || parent == "" {
			return false
		}
		p = parent
	}
}
