package domain

// HistoryDepth is the number of rolling results retained in a snapshot.
const HistoryDepth = 3

// DefaultNamespace is the namespace a fresh session evaluates in.
const DefaultNamespace = "user"

// Snapshot is the immutable record of dynamic evaluation context threaded
// between tasks of a session. The next task for a session starts from the
// snapshot left by the previous one; ownership transfers through the
// execution queue and is never shared concurrently.
type Snapshot struct {
	// NS is the current namespace.
	NS string `json:"ns"`

	// Results holds the printed representations of the last evaluated
	// values, most recent first, at most HistoryDepth entries.
	Results []string `json:"results,omitempty"`

	// LastError holds the rendering of the last evaluation error, if any.
	LastError string `json:"last_error,omitempty"`

	// File is the source file of the last evaluation, for error reporting.
	File string `json:"file,omitempty"`
}

// NewSnapshot returns the starting snapshot for a fresh session.
func NewSnapshot() *Snapshot {
	return &Snapshot{NS: DefaultNamespace}
}

// Clone returns a deep copy so callers can derive a new snapshot without
// mutating the one owned by a previous task.
func (s *Snapshot) Clone() *Snapshot {
	cp := *s
	cp.Results = append([]string(nil), s.Results...)
	return &cp
}

// WithResult returns a copy with value pushed onto the rolling history.
func (s *Snapshot) WithResult(value string) *Snapshot {
	cp := s.Clone()
	cp.Results = append([]string{value}, cp.Results...)
	if len(cp.Results) > HistoryDepth {
		cp.Results = cp.Results[:HistoryDepth]
	}
	return cp
}

// WithNS returns a copy bound to the given namespace.
func (s *Snapshot) WithNS(ns string) *Snapshot {
	cp := s.Clone()
	cp.NS = ns
	return cp
}

// WithError returns a copy recording an evaluation error.
func (s *Snapshot) WithError(rendering string) *Snapshot {
	cp := s.Clone()
	cp.LastError = rendering
	return cp
}
