package dirty

import "errors"

// ErrNotFileURI is returned by PathFromURI for URIs that are not file:// URIs.
var ErrNotFileURI = errors.New("not a file URI")

// Owner is the subsystem responsible for validating paths under Root,
// typically one version-control checkout. Owners are compared by value.
type Owner struct {
	// Root is the top of the tree the owner validates.
	Root Path

	// Kind names the engine behind the root, e.g. "git".
	Kind string
}

// IsZero reports whether o is the zero Owner.
func (o Owner) IsZero() bool {
	return o.Root == "" && o.Kind == ""
}

// String returns a short description of the owner.
func (o Owner) String() string {
	if o.Kind == "" {
		return string(o.Root)
	}
	return o.Kind + ":" + string(o.Root)
}

// OwnerResolver maps paths to owners.
//
// Implementations may be comparatively slow and must be safe for concurrent
// use. The tracker never calls a resolver while holding its own lock, so a
// root configuration change between resolution and accumulation can leave an
// entry recorded against a stale owner. Such entries are dropped when scopes
// are built.
type OwnerResolver interface {
	// ResolveOwner returns the owner responsible for p.
	ResolveOwner(p Path) (Owner, bool)

	// Owners returns every currently known owner.
	Owners() []Owner
}

// StaticResolver is an OwnerResolver over a fixed set of owners.
// The owner with the longest root containing a path wins.
type StaticResolver []Owner

// ResolveOwner implements OwnerResolver.
func (s StaticResolver) ResolveOwner(p Path) (Owner, bool) {
	var best Owner
	found := false
	for _, o := range s {
		if o.Root.Contains(p) && (!found || len(o.Root) > len(best.Root)) {
			best = o
			found = true
		}
	}
	return best, found
}

// Owners implements OwnerResolver.
func (s StaticResolver) Owners() []Owner {
	out := make([]Owner, len(s))
	copy(out, s)
	return out
}
