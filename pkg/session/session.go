package session

import (
	"log/slog"
	"sync/atomic"

	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
)

// Session is a persistent evaluation context surviving across multiple
// requests. It owns one execution queue, one interrupt slot, one evaluator
// instance, and the binding snapshot threaded between its tasks.
//
// Invariant: at most one task per session executes at any instant, and the
// interrupt slot holds a task id if and only if the queue has an active
// (non-pending) head.
type Session struct {
	id string

	queue atomic.Pointer[taskQueue]
	slot  atomic.Pointer[activeTask]

	// snapshot is owned by the executing task; access is serialized by the
	// queue, never shared concurrently.
	snapshot atomic.Pointer[domain.Snapshot]

	eval   ports.Evaluator
	pool   ports.WorkerPool
	logger *slog.Logger

	closed atomic.Bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger configures a logger for queue internals.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// New creates a session with the given id, evaluator, and worker pool.
func New(id string, eval ports.Evaluator, pool ports.WorkerPool, opts ...Option) *Session {
	s := &Session{
		id:     id,
		eval:   eval,
		pool:   pool,
		logger: logging.NewNop(),
	}
	s.queue.Store(&taskQueue{})
	s.snapshot.Store(domain.NewSnapshot())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session's opaque unique token.
func (s *Session) ID() string {
	return s.id
}

// Evaluator returns the session's evaluator instance.
func (s *Session) Evaluator() ports.Evaluator {
	return s.eval
}

// Snapshot returns the binding snapshot left by the previous task.
// It must only be read from within an executing task or while the session is
// known to be idle (e.g. clone).
func (s *Session) Snapshot() *domain.Snapshot {
	return s.snapshot.Load()
}

// SetSnapshot records the snapshot the next task starts from.
// It must only be called by the executing task.
func (s *Session) SetSnapshot(snap *domain.Snapshot) {
	if snap != nil {
		s.snapshot.Store(snap)
	}
}

// Close marks the session closed and releases the evaluator. Queued tasks
// already submitted still drain; new submissions are rejected.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.eval != nil {
		return s.eval.Close()
	}
	return nil
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	return s.closed.Load()
}
