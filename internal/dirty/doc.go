// Package dirty tracks which parts of a version-controlled project are
// stale and need their status recomputed.
//
// # Architecture
//
// The package is organized around these types:
//
//   - Tracker: entry point for producers and the single consumer
//   - Gate: lifecycle state machine guarding all mutable state
//   - Accumulator: per-owner sets of dirty files and recursive directories
//   - ScopeBuilder: turns a Snapshot into non-redundant per-owner Scopes
//   - Signal: edge-triggered Scheduler for the consumer
//
// # Usage
//
//	sig := dirty.NewSignal()
//	tracker := dirty.New(registry, sig)
//	tracker.Open() // alive, everything dirty
//	defer tracker.Close()
//
//	// any goroutine
//	tracker.FileDirty(dirty.NewPath("/proj/a.txt"))
//	tracker.DirDirtyRecursively(dirty.NewPath("/proj/vendor"))
//
//	// consumer
//	for range sig.C() {
//	    inv, ok := tracker.RetrieveAndClear()
//	    if !ok {
//	        continue
//	    }
//	    for _, scope := range inv.Scopes {
//	        // recompute scope.Owner for scope.Paths()
//	    }
//	}
//
// # Suspension
//
// Suspend keeps recording changes but stops signalling. Resume signals once
// if anything is pending.
//
// # Lifecycle
//
// A Tracker records nothing before Open and nothing after Close. Calls in
// either window return normally and have no effect, so asynchronous
// producers never need to check the lifecycle first.
package dirty
