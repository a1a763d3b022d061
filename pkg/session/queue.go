package session

import (
	"github.com/aretw0/arbor/pkg/domain"
)

// taskQueue is the immutable FIFO value exchanged via compare-and-swap.
// The head of tasks is the active (executing) task; the rest are pending.
// A fresh value is allocated for every transition so CAS compares pointer
// identity, never contents.
type taskQueue struct {
	tasks []*domain.Task
}

// Submit enqueues task and returns immediately. Enqueue uses an optimistic
// read-modify-CAS retry loop, so submission never blocks on another
// submitter nor on a running task.
//
// The submitter whose CAS transitions the queue from empty to non-empty is
// the only one that schedules execution on the worker pool; otherwise the
// already-running drain picks the new entry up when the current head
// completes.
func (s *Session) Submit(task *domain.Task) error {
	if s.closed.Load() {
		return domain.ErrSessionClosed
	}
	for {
		old := s.queue.Load()
		next := &taskQueue{tasks: make([]*domain.Task, 0, len(old.tasks)+1)}
		next.tasks = append(append(next.tasks, old.tasks...), task)
		if s.queue.CompareAndSwap(old, next) {
			if len(old.tasks) == 0 {
				s.schedule()
			}
			return nil
		}
	}
}

// QueueDepth returns the number of tasks currently queued (including the
// executing head, if any).
func (s *Session) QueueDepth() int {
	return len(s.queue.Load().tasks)
}

// schedule hands the current head to the worker pool.
func (s *Session) schedule() {
	s.pool.Submit(s.runHead)
}

// runHead executes the queue head, then pops it and schedules the next
// pending task if one exists. Completion is unconditional: a panicking thunk
// must not stall the session forever.
func (s *Session) runHead() {
	head := s.queue.Load().tasks[0]

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("task panicked", "session", s.id, "task", head.ID, "panic", r)
			}
		}()
		head.Run()
	}()

	for {
		old := s.queue.Load()
		rest := make([]*domain.Task, len(old.tasks)-1)
		copy(rest, old.tasks[1:])
		if s.queue.CompareAndSwap(old, &taskQueue{tasks: rest}) {
			if len(rest) > 0 {
				s.schedule()
			}
			return
		}
	}
}
