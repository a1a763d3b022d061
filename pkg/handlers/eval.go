package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/eval"
	"github.com/aretw0/arbor/pkg/middleware"
	"github.com/aretw0/arbor/pkg/observability"
	"github.com/aretw0/arbor/pkg/ports"
	"github.com/aretw0/arbor/pkg/session"
	"github.com/google/uuid"
)

type evalRequest struct {
	ID      string `mapstructure:"id"`
	Session string `mapstructure:"session"`
	Code    string `mapstructure:"code"`
	NS      string `mapstructure:"ns"`
	Eval    string `mapstructure:"eval"`
	File    string `mapstructure:"file"`
	Line    int    `mapstructure:"line"`
	Column  int    `mapstructure:"column"`
}

// Eval services the "eval" op: it turns the request into a task and submits
// it to the session's execution queue. The reply stream (values, output,
// errors, done) is produced asynchronously by the evaluation engine once the
// queue schedules the task.
type Eval struct {
	registry  *session.Registry
	engine    *eval.Engine
	factories map[string]ports.EvaluatorFactory
	store     ports.SnapshotStore
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// EvalOption configures the Eval handler.
type EvalOption func(*Eval)

// WithEvaluatorFactory registers a named evaluator the "eval" message field
// can select for a single evaluation.
func WithEvaluatorFactory(name string, f ports.EvaluatorFactory) EvalOption {
	return func(h *Eval) {
		h.factories[name] = f
	}
}

// WithSnapshotStore persists the session snapshot after each task.
func WithSnapshotStore(store ports.SnapshotStore) EvalOption {
	return func(h *Eval) {
		h.store = store
	}
}

// WithMetrics records eval counts and durations.
func WithMetrics(m *observability.Metrics) EvalOption {
	return func(h *Eval) {
		h.metrics = m
	}
}

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) EvalOption {
	return func(h *Eval) {
		h.logger = logger
	}
}

// NewEval creates the eval handler.
func NewEval(registry *session.Registry, engine *eval.Engine, opts ...EvalOption) *Eval {
	h := &Eval{
		registry:  registry,
		engine:    engine,
		factories: make(map[string]ports.EvaluatorFactory),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Descriptor declares the eval capability.
func (h *Eval) Descriptor() middleware.Descriptor {
	return middleware.Descriptor{
		Name: "eval",
		Handles: map[string]string{
			"eval": "Evaluate code in a session. Requires :code and :session; optional :id, :ns, :eval, :file, :line, :column. Responds with one message per form and a terminal done status.",
		},
		Handler: h,
	}
}

// Handle validates the request and enqueues the evaluation task.
func (h *Eval) Handle(ctx context.Context, msg domain.Message, t ports.Transport) error {
	var req evalRequest
	if err := decode(msg, &req); err != nil {
		h.logger.Warn("eval: malformed message", "err", err)
		return t.Send(msg.Reply(domain.Message{
			domain.FieldStatus: domain.DoneStatus(domain.StatusError, domain.StatusMalformed),
		}))
	}
	if req.Code == "" {
		return t.Send(msg.Reply(domain.Message{
			domain.FieldStatus: domain.DoneStatus(domain.StatusError, domain.StatusNoCode),
		}))
	}
	return h.submit(msg, req, t)
}

// submit builds the task thunk and enqueues it. Shared with the load-file
// handler, which synthesizes an eval request from file contents.
func (h *Eval) submit(msg domain.Message, req evalRequest, t ports.Transport) error {
	if req.Session == "" {
		return t.Send(msg.Reply(domain.Message{
			domain.FieldStatus: domain.DoneStatus(domain.StatusError, domain.StatusNoSession),
		}))
	}
	sess, err := h.registry.Get(req.Session)
	if err != nil {
		return t.Send(msg.Reply(domain.Message{
			domain.FieldStatus: domain.DoneStatus(domain.StatusError, domain.StatusUnknownSession),
		}))
	}

	ev := sess.Evaluator()
	transient := false
	if req.Eval != "" {
		factory, ok := h.factories[req.Eval]
		if !ok {
			return t.Send(msg.Reply(domain.Message{
				domain.FieldStatus: domain.DoneStatus(domain.StatusError, domain.StatusUnknownEvaluator),
			}))
		}
		override, err := factory()
		if err != nil {
			h.logger.Error("eval: evaluator construction failed", "evaluator", req.Eval, "err", err)
			return t.Send(msg.Reply(domain.Message{
				domain.FieldStatus: domain.DoneStatus(domain.StatusError, domain.StatusUnknownEvaluator),
			}))
		}
		ev = override
		transient = true
	}

	taskID := req.ID
	if taskID == "" {
		taskID = uuid.NewString()
	}

	task := &domain.Task{
		ID:        taskID,
		SessionID: sess.ID(),
		Run: func() {
			ctx, end := sess.Begin(taskID)
			defer end()

			started := time.Now()
			next := h.engine.Evaluate(ctx, ev, sess.Snapshot(), msg, t.Send)
			sess.SetSnapshot(next)

			if h.metrics != nil {
				h.metrics.EvalsTotal.Inc()
				h.metrics.EvalDuration.Observe(time.Since(started).Seconds())
				h.metrics.TasksQueued.Dec()
			}
			if transient {
				if err := ev.Close(); err != nil {
					h.logger.Warn("eval: failed to close transient evaluator", "err", err)
				}
			}
			if h.store != nil {
				if err := h.store.Save(context.Background(), sess.ID(), next); err != nil {
					h.logger.Warn("eval: snapshot persistence failed", "session", sess.ID(), "err", err)
				}
			}
		},
	}

	if err := sess.Submit(task); err != nil {
		return t.Send(msg.Reply(domain.Message{
			domain.FieldStatus: domain.DoneStatus(domain.StatusError, domain.StatusSessionClosed),
		}))
	}
	if h.metrics != nil {
		h.metrics.TasksQueued.Inc()
	}
	h.logger.Debug("eval task queued", "session", sess.ID(), "task", taskID)
	return nil
}
