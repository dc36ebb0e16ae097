package vcs

import (
	"sort"
	"sync"

	"github.com/dshills/dirtyscope/internal/dirty"
)

// ChangeType indicates the type of registry change.
type ChangeType int

const (
	// ChangeRootAdded indicates a root was registered.
	ChangeRootAdded ChangeType = iota
	// ChangeRootRemoved indicates a root was unregistered.
	ChangeRootRemoved
)

// String returns the string representation of the change type.
func (c ChangeType) String() string {
	switch c {
	case ChangeRootAdded:
		return "added"
	case ChangeRootRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// ChangeEvent describes a registry change.
type ChangeEvent struct {
	Type  ChangeType
	Owner dirty.Owner
}

// Registry holds the VCS roots of a session.
// Lookups take a read lock and run concurrently; registration is exclusive.
type Registry struct {
	mu       sync.RWMutex
	roots    map[dirty.Path]dirty.Owner
	onChange []func(ChangeEvent)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		roots: make(map[dirty.Path]dirty.Owner),
	}
}

// Register adds root with the given kind and returns its owner.
// Registering an existing root replaces its kind.
func (r *Registry) Register(root, kind string) (dirty.Owner, error) {
	p := dirty.NewPath(root)
	if p.IsEmpty() || kind == "" {
		return dirty.Owner{}, ErrInvalidRoot
	}
	owner := dirty.Owner{Root: p, Kind: kind}
	r.Add(owner)
	return owner, nil
}

// Add registers owner. Adding an identical owner again is a no-op.
func (r *Registry) Add(owner dirty.Owner) {
	r.mu.Lock()

	events := make([]ChangeEvent, 0, 2)
	if prev, ok := r.roots[owner.Root]; ok {
		if prev == owner {
			r.mu.Unlock()
			return
		}
		events = append(events, ChangeEvent{Type: ChangeRootRemoved, Owner: prev})
	}
	r.roots[owner.Root] = owner
	events = append(events, ChangeEvent{Type: ChangeRootAdded, Owner: owner})

	// Copy callbacks before releasing lock
	callbacks := make([]func(ChangeEvent), len(r.onChange))
	copy(callbacks, r.onChange)
	r.mu.Unlock()

	// Notify listeners (outside lock)
	for _, ev := range events {
		for _, cb := range callbacks {
			cb(ev)
		}
	}
}

// Unregister removes the root at path.
func (r *Registry) Unregister(root string) error {
	p := dirty.NewPath(root)

	r.mu.Lock()
	owner, ok := r.roots[p]
	if !ok {
		r.mu.Unlock()
		return ErrRootNotFound
	}
	delete(r.roots, p)

	callbacks := make([]func(ChangeEvent), len(r.onChange))
	copy(callbacks, r.onChange)
	r.mu.Unlock()

	ev := ChangeEvent{Type: ChangeRootRemoved, Owner: owner}
	for _, cb := range callbacks {
		cb(ev)
	}
	return nil
}

// ResolveOwner implements dirty.OwnerResolver.
func (r *Registry) ResolveOwner(p dirty.Path) (dirty.Owner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Walk up from p; the first registered ancestor is the longest match.
	for cur := p; cur != ""; {
		if owner, ok := r.roots[cur]; ok {
			return owner, true
		}
		parent := cur.Parent()
		if parent == cur {
			break
		}
		cur = parent
	}
	return dirty.Owner{}, false
}

// Owners implements dirty.OwnerResolver. Owners are ordered by root.
func (r *Registry) Owners() []dirty.Owner {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]dirty.Owner, 0, len(r.roots))
	for _, o := range r.roots {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Root < out[j].Root })
	return out
}

// Len returns the number of registered roots.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roots)
}

// OnChange registers a callback for root additions and removals.
func (r *Registry) OnChange(fn func(ChangeEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

var _ dirty.OwnerResolver = (*Registry)(nil)
