package session

import "context"

// activeTask is the interrupt slot value: the identity of the currently
// executing task and its cancellation signal. Slot values are immutable;
// state changes swap in a fresh value so a single CAS linearizes
// "task matched" against "task finished".
type activeTask struct {
	id          string
	cancel      context.CancelFunc
	interrupted bool
}

// Outcome classifies the result of an interrupt request.
type Outcome int

const (
	// Interrupted means the active task matched and its cancellation signal
	// was raised.
	Interrupted Outcome = iota
	// Idle means the session had no active task at the moment of the call.
	Idle
	// NoMatch means the session has an active task but its id differs from
	// the requested one.
	NoMatch
)

// Begin records taskID as currently executing and returns the context the
// evaluation must be interruptible through, plus the matching end function.
// End clears the slot unconditionally (success, error, or cancellation) and
// must run before the queue pops the head.
func (s *Session) Begin(taskID string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	s.slot.Store(&activeTask{id: taskID, cancel: cancel})
	end := func() {
		if cur := s.slot.Swap(nil); cur != nil {
			cur.cancel()
		}
		cancel()
	}
	return ctx, end
}

// ActiveTask returns the id of the currently executing task, or "".
func (s *Session) ActiveTask() string {
	if cur := s.slot.Load(); cur != nil {
		return cur.id
	}
	return ""
}

// Interrupt resolves an interrupt request against the slot. requestedID may
// be empty, in which case any active task matches.
//
// The check-and-signal is atomic with respect to Begin/End: the slot value is
// read and swapped in one CAS, so a task that completes naturally in the
// window between matching and signaling makes the CAS fail and the request is
// re-evaluated against the new slot state. A stale id is never announced.
func (s *Session) Interrupt(requestedID string) (string, Outcome) {
	for {
		cur := s.slot.Load()
		if cur == nil {
			return "", Idle
		}
		if requestedID != "" && requestedID != cur.id {
			return cur.id, NoMatch
		}
		marked := &activeTask{id: cur.id, cancel: cur.cancel, interrupted: true}
		if s.slot.CompareAndSwap(cur, marked) {
			cur.cancel()
			return cur.id, Interrupted
		}
	}
}
