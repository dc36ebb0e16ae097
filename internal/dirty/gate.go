package dirty

import "sync"

// Stage is a lifecycle stage of a Gate.
type Stage uint8

const (
	// StageNotBorn is the initial stage. Guarded actions do not run.
	StageNotBorn Stage = iota

	// StageAlive allows guarded actions to run.
	StageAlive

	// StageDead is terminal. Guarded actions never run again.
	StageDead
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	switch s {
	case StageNotBorn:
		return "not-born"
	case StageAlive:
		return "alive"
	case StageDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Drop reports the outcome of a guarded action.
type Drop struct {
	// Ran is true if the action executed.
	Ran bool

	// Suspended is the suspension flag observed under the lock.
	Suspended bool
}

// Gate serializes every guarded action behind one mutex and only lets them
// run while the gate is alive. It is the single source of thread safety for
// the state it guards.
//
//	NotBorn --Born--> Alive --Kill--> Dead
//	Alive <--Suspend/Resume--> Alive(suspended)
type Gate struct {
	mu        sync.Mutex
	stage     Stage
	suspended bool
}

// Born moves the gate from NotBorn to Alive.
// It reports whether the transition happened.
func (g *Gate) Born() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stage != StageNotBorn {
		return false
	}
	g.stage = StageAlive
	return true
}

// Kill moves the gate to Dead and runs cleanup under the lock.
// Cleanup only runs on the first call; later calls do nothing.
func (g *Gate) Kill(cleanup func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stage == StageDead {
		return
	}
	g.stage = StageDead
	g.suspended = false
	if cleanup != nil {
		cleanup()
	}
}

// Suspend sets the suspended flag if the gate is alive.
func (g *Gate) Suspend() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stage == StageAlive {
		g.suspended = true
	}
}

// Resume clears the suspended flag and runs onResume under the lock.
// Nothing happens unless the gate is alive and suspended.
func (g *Gate) Resume(onResume func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stage != StageAlive || !g.suspended {
		return false
	}
	g.suspended = false
	if onResume != nil {
		onResume()
	}
	return true
}

// DoIfAlive runs action under the lock if the gate is alive, suspended or not.
func (g *Gate) DoIfAlive(action func()) Drop {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stage != StageAlive {
		return Drop{Suspended: g.suspended}
	}
	action()
	return Drop{Ran: true, Suspended: g.suspended}
}

// DoIfAliveAndNotSuspended runs action under the lock only if the gate is
// alive and not suspended.
func (g *Gate) DoIfAliveAndNotSuspended(action func()) Drop {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stage != StageAlive || g.suspended {
		return Drop{Suspended: g.suspended}
	}
	action()
	return Drop{Ran: true}
}

// Stage returns the current stage.
func (g *Gate) Stage() Stage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stage
}

// Suspended reports whether the gate is alive and suspended.
func (g *Gate) Suspended() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suspended
}
