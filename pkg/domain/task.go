package domain

// Task is one queued unit of work for a session. Tasks are created by the
// handler layer, consumed by the session execution queue, and never outlive
// their single execution.
type Task struct {
	// ID is the task identifier; interrupt requests match against it.
	ID string

	// SessionID references the owning session.
	SessionID string

	// Run is the task body. It must be safe to call exactly once.
	Run func()
}

// Form is a single top-level unit of code with source provenance for error
// reporting.
type Form struct {
	Text string
	File string
	Line int
}
