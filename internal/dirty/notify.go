package dirty

// Scheduler receives the "there is pending work" signal.
type Scheduler interface {
	ScheduleUpdate()
}

// SchedulerFunc adapts a function to a Scheduler.
type SchedulerFunc func()

// ScheduleUpdate calls f.
func (f SchedulerFunc) ScheduleUpdate() {
	f()
}

// shouldSchedule decides whether a guarded mutation must signal the
// scheduler: the action ran, the gate was not suspended, and the
// accumulator still holds work afterwards.
func shouldSchedule(drop Drop, nonEmpty bool) bool {
	return drop.Ran && !drop.Suspended && nonEmpty
}

// Signal is an edge-triggered Scheduler. Any number of ScheduleUpdate calls
// before the consumer reads C collapse into one pending signal.
type Signal struct {
	ch chan struct{}
}

// NewSignal creates a signal with nothing pending.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// ScheduleUpdate marks work as pending. It never blocks.
func (s *Signal) ScheduleUpdate() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C returns the channel that receives a value when work is pending.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}

// Pending reports whether a signal is waiting to be consumed.
func (s *Signal) Pending() bool {
	return len(s.ch) > 0
}

// Clear consumes a pending signal, if any, and reports whether there was one.
func (s *Signal) Clear() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

var _ Scheduler = (*Signal)(nil)
