package domain

// Status markers carried in the "status" field of responses.
const (
	StatusDone                = "done"
	StatusError               = "error"
	StatusEvalError           = "eval-error"
	StatusInterrupted         = "interrupted"
	StatusSessionIdle         = "session-idle"
	StatusInterruptIDMismatch = "interrupt-id-mismatch"
	StatusUnknownOp           = "unknown-op"
	StatusNoCode              = "no-code"
	StatusNoSession           = "no-session"
	StatusUnknownSession      = "unknown-session"
	StatusNamespaceNotFound   = "namespace-not-found"
	StatusSessionClosed       = "session-closed"
	StatusMalformed           = "malformed-message"
	StatusUnknownEvaluator    = "unknown-evaluator"
	StatusNoFile              = "no-file"
)

// DoneStatus builds a terminal status list ending in "done".
func DoneStatus(markers ...string) []string {
	return append(markers, StatusDone)
}
