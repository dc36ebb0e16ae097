// Package vcs knows where version-control roots are and who owns a path.
//
// A Registry holds the roots of the current session and implements
// dirty.OwnerResolver: the owner of a path is the registered root with the
// longest prefix, so nested repositories win over their parents.
//
// Roots are found with Discover, which walks up from a path looking for a
// marker directory (.git, .hg, .svn), and FindRoots, which walks down a
// workspace folder collecting every checkout beneath it.
//
//	reg := vcs.NewRegistry()
//	owners, err := vcs.FindRoots(ctx, "/path/to/workspace", nil)
//	for _, o := range owners {
//	    reg.Add(o)
//	}
//
// Status runs git status restricted to a set of paths and is what the
// refresh loop uses to recompute a dirty scope.
package vcs
