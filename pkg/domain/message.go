package domain

import "fmt"

// Message is a structured request or response exchanged over a transport.
// The only required field on requests is "op". Messages are treated as
// immutable once dispatched; responses are always fresh values.
type Message map[string]any

// Well-known message fields.
const (
	FieldOp          = "op"
	FieldID          = "id"
	FieldSession     = "session"
	FieldCode        = "code"
	FieldNS          = "ns"
	FieldFile        = "file"
	FieldLine        = "line"
	FieldColumn      = "column"
	FieldEval        = "eval"
	FieldInterruptID = "interrupt-id"
	FieldStatus      = "status"
	FieldValue       = "value"
	FieldOut         = "out"
	FieldErr         = "err"
	FieldEx          = "ex"
	FieldRootEx      = "root-ex"
	FieldNewSession  = "new-session"
	FieldSessions    = "sessions"
	FieldOps         = "ops"
	FieldVersions    = "versions"
)

// Op returns the operation name, or "" if absent or not a string.
func (m Message) Op() string {
	return m.GetString(FieldOp)
}

// ID returns the correlation token, or "" if absent.
func (m Message) ID() string {
	return m.GetString(FieldID)
}

// Session returns the session identifier, or "" if absent.
func (m Message) Session() string {
	return m.GetString(FieldSession)
}

// GetString returns the string value of a field, or "" when the field is
// absent or not a string.
func (m Message) GetString(key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Reply builds a response correlated to this request: it copies the request's
// id and session fields (when present) and merges the given fields on top.
func (m Message) Reply(fields Message) Message {
	resp := make(Message, len(fields)+2)
	if id := m.ID(); id != "" {
		resp[FieldID] = id
	}
	if s := m.Session(); s != "" {
		resp[FieldSession] = s
	}
	for k, v := range fields {
		resp[k] = v
	}
	return resp
}

// HasStatus reports whether the message carries the given status marker.
// Status is a list of strings (e.g. ["error", "unknown-op", "done"]).
func (m Message) HasStatus(status string) bool {
	switch v := m[FieldStatus].(type) {
	case []string:
		for _, s := range v {
			if s == status {
				return true
			}
		}
	case []any:
		for _, s := range v {
			if s == status {
				return true
			}
		}
	case string:
		return v == status
	}
	return false
}

// String renders a compact debug representation.
func (m Message) String() string {
	return fmt.Sprintf("Message(op=%s id=%s session=%s)", m.Op(), m.ID(), m.Session())
}
