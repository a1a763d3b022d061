// Package eval implements the evaluation engine: it steps a code payload
// form-by-form against an evaluator, emits one response per completed form,
// and threads the binding snapshot into the session's next task.
package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
)

// Engine steps forms and reports results. It is stateless and safe for
// concurrent use across sessions; per-session serialization is the queue's
// job.
type Engine struct {
	logger *slog.Logger

	// silent decides which abrupt-termination causes are absorbed without a
	// value or error response. Cooperative cancellation is always silent;
	// this predicate extends the set for host-specific causes.
	silent func(error) bool
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSilentCause configures the predicate for termination causes that must
// not be reported as evaluation errors.
func WithSilentCause(pred func(error) bool) Option {
	return func(e *Engine) {
		e.silent = pred
	}
}

// New creates an evaluation engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger: logging.NewNop(),
		silent: func(err error) bool {
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate consumes the message's code payload and a starting snapshot and
// produces, per top-level form, either a value response or an error response.
// Evaluation of remaining forms stops after the first error. A cooperative
// cancellation is silently absorbed: the "interrupted" notification emitted
// by the interrupt path stands as the sole status, so the terminal "done" is
// suppressed too.
//
// The returned snapshot becomes the input snapshot for the session's next
// task. An explicit namespace override in the message is scoped to this one
// evaluation and reverted in the returned snapshot.
func (e *Engine) Evaluate(ctx context.Context, ev ports.Evaluator, snap *domain.Snapshot, msg domain.Message, send func(domain.Message) error) *domain.Snapshot {
	ns := snap.NS
	override := msg.GetString(domain.FieldNS)
	if override != "" {
		if !ev.HasNamespace(override) {
			e.send(send, msg.Reply(domain.Message{
				domain.FieldStatus: domain.DoneStatus(domain.StatusError, domain.StatusNamespaceNotFound),
				domain.FieldNS:     override,
			}))
			return snap
		}
		ns = override
	}

	file := msg.GetString(domain.FieldFile)
	line := intField(msg, domain.FieldLine)

	forms, err := ev.SplitForms(msg.GetString(domain.FieldCode), file, line)
	if err != nil {
		e.sendError(send, msg, err)
		e.send(send, msg.Reply(domain.Message{domain.FieldStatus: domain.DoneStatus()}))
		return snap
	}

	ev.BindHistory(snap.Results)
	if file != "" {
		snap = snap.Clone()
		snap.File = file
	}

	for _, form := range forms {
		if ctx.Err() != nil {
			e.flush(send, msg, ev)
			return snap
		}

		res, err := ev.EvalForm(ctx, ns, form)

		// Buffered output is flushed after every form so interleaved output
		// and result messages are never reordered relative to each other.
		e.flush(send, msg, ev)

		if err != nil {
			if ctx.Err() != nil || e.silent(err) {
				// Cancellation won the race: exit quietly, suppressing the
				// normal completion status.
				return snap
			}
			e.sendError(send, msg, err)
			snap = snap.WithError(err.Error())
			break
		}

		e.send(send, msg.Reply(domain.Message{
			domain.FieldValue: res.Value,
			domain.FieldNS:    res.NS,
		}))
		snap = snap.WithResult(res.Value)
		ns = res.NS
		if override == "" {
			// Namespace changes made by the form persist in the snapshot.
			// Under an explicit override they are scoped to this run.
			snap = snap.WithNS(res.NS)
		}
	}

	if ctx.Err() != nil {
		return snap
	}
	e.send(send, msg.Reply(domain.Message{domain.FieldStatus: domain.DoneStatus()}))
	return snap
}

// sendError reports an unhandled evaluation condition with the error's own
// identity and the identity of its deepest underlying cause.
func (e *Engine) sendError(send func(domain.Message) error, msg domain.Message, err error) {
	root := err
	for {
		cause := errors.Unwrap(root)
		if cause == nil {
			break
		}
		root = cause
	}
	e.logger.Debug("evaluation error", "id", msg.ID(), "session", msg.Session(), "err", err)
	e.send(send, msg.Reply(domain.Message{
		domain.FieldStatus: []string{domain.StatusEvalError},
		domain.FieldEx:     err.Error(),
		domain.FieldRootEx: root.Error(),
	}))
}

// flush drains evaluator output buffers, unconditionally, including at the
// end of an errored run.
func (e *Engine) flush(send func(domain.Message) error, msg domain.Message, ev ports.Evaluator) {
	stdout, stderr := ev.DrainOutput()
	if stdout != "" {
		e.send(send, msg.Reply(domain.Message{domain.FieldOut: stdout}))
	}
	if stderr != "" {
		e.send(send, msg.Reply(domain.Message{domain.FieldErr: stderr}))
	}
}

// send forwards a response, logging transport failures. A broken transport
// is a resource error: it never fails the session.
func (e *Engine) send(send func(domain.Message) error, resp domain.Message) {
	if err := send(resp); err != nil {
		e.logger.Warn("failed to send response", "err", err)
	}
}

func intField(msg domain.Message, key string) int {
	switch v := msg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		var n int
		_, _ = fmt.Sscanf(v, "%d", &n)
		return n
	}
	return 0
}
