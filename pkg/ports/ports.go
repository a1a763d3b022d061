package ports

import (
	"context"

	"github.com/aretw0/arbor/pkg/domain"
)

// Transport is a bidirectional channel of structured messages, typically one
// per connection. Recv returns io.EOF at end of stream. Send must preserve
// ordering as issued by a single caller and be safe for concurrent use, since
// evaluation tasks send responses from pool workers.
type Transport interface {
	Recv() (domain.Message, error)
	Send(domain.Message) error
	Close() error
}

// WorkerPool schedules thunks with fire-and-forget semantics. Submit must not
// block the caller; there is no ordering guarantee across unrelated
// submissions.
type WorkerPool interface {
	Submit(fn func())
}

// Result is the outcome of evaluating a single form.
type Result struct {
	// Value is the printed representation of the form's value.
	Value string
	// NS is the namespace in effect after the form ran.
	NS string
}

// Evaluator executes code forms for one session. Implementations own the
// runtime-specific read/eval/print machinery; the evaluation engine only
// steps forms and threads snapshots. An Evaluator is never used by more than
// one task at a time (the session queue serializes access), but consecutive
// tasks may run on different pool workers.
type Evaluator interface {
	// SplitForms splits a raw code payload into top-level forms, carrying
	// file/line provenance into each form.
	SplitForms(code, file string, line int) ([]domain.Form, error)

	// HasNamespace reports whether ns resolves to a known namespace.
	HasNamespace(ns string) bool

	// EvalForm evaluates one form in the given namespace. The context
	// carries the task's cancellation signal; implementations must be
	// abortable through it.
	EvalForm(ctx context.Context, ns string, form domain.Form) (Result, error)

	// BindHistory seeds the rolling result history bindings from a snapshot,
	// used when a fresh evaluator instance picks up an existing session.
	BindHistory(results []string)

	// DrainOutput returns and clears output buffered since the last drain.
	DrainOutput() (stdout, stderr string)

	// Close releases the underlying runtime.
	Close() error
}

// EvaluatorFactory creates a fresh evaluator instance, one per session (or
// per evaluation when a message overrides the evaluator reference).
type EvaluatorFactory func() (Evaluator, error)

// SnapshotStore persists session binding snapshots. The in-process registry
// remains the source of truth; stores exist for introspection and recovery.
type SnapshotStore interface {
	Save(ctx context.Context, sessionID string, snap *domain.Snapshot) error
	Load(ctx context.Context, sessionID string) (*domain.Snapshot, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]string, error)
}
