package handlers

import (
	"context"
	"log/slog"

	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/middleware"
	"github.com/aretw0/arbor/pkg/observability"
	"github.com/aretw0/arbor/pkg/ports"
	"github.com/aretw0/arbor/pkg/session"
)

type sessionRequest struct {
	Session string `mapstructure:"session"`
}

// SessionOps services the session lifecycle ops: clone, close, ls-sessions.
type SessionOps struct {
	registry *session.Registry
	factory  ports.EvaluatorFactory
	store    ports.SnapshotStore
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// SessionOpsOption configures the SessionOps handler.
type SessionOpsOption func(*SessionOps)

// WithSessionSnapshotStore removes persisted snapshots when sessions close.
func WithSessionSnapshotStore(store ports.SnapshotStore) SessionOpsOption {
	return func(h *SessionOps) {
		h.store = store
	}
}

// WithSessionMetrics tracks the live session gauge.
func WithSessionMetrics(m *observability.Metrics) SessionOpsOption {
	return func(h *SessionOps) {
		h.metrics = m
	}
}

// WithSessionLogger configures the structured logger.
func WithSessionLogger(logger *slog.Logger) SessionOpsOption {
	return func(h *SessionOps) {
		h.logger = logger
	}
}

// NewSessionOps creates the session lifecycle handler. factory builds the
// evaluator backing each new session.
func NewSessionOps(registry *session.Registry, factory ports.EvaluatorFactory, opts ...SessionOpsOption) *SessionOps {
	h := &SessionOps{
		registry: registry,
		factory:  factory,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Descriptor declares the session capability.
func (h *SessionOps) Descriptor() middleware.Descriptor {
	return middleware.Descriptor{
		Name: "session",
		Handles: map[string]string{
			"clone":       "Create a new session, optionally copying the snapshot of :session. Responds with :new-session.",
			"close":       "Close and unregister :session.",
			"ls-sessions": "List live session ids.",
		},
		Handler: h,
	}
}

// Handle routes the session lifecycle ops.
func (h *SessionOps) Handle(ctx context.Context, msg domain.Message, t ports.Transport) error {
	var req sessionRequest
	if err := decode(msg, &req); err != nil {
		return t.Send(msg.Reply(domain.Message{
			domain.FieldStatus: domain.DoneStatus(domain.StatusError, domain.StatusMalformed),
		}))
	}

	switch msg.Op() {
	case "clone":
		return h.clone(msg, req, t)
	case "close":
		return h.close(ctx, msg, req, t)
	default:
		return t.Send(msg.Reply(domain.Message{
			domain.FieldSessions: h.registry.IDs(),
			domain.FieldStatus:   domain.DoneStatus(),
		}))
	}
}

func (h *SessionOps) clone(msg domain.Message, req sessionRequest, t ports.Transport) error {
	ev, err := h.factory()
	if err != nil {
		h.logger.Error("clone: evaluator construction failed", "err", err)
		return t.Send(msg.Reply(domain.Message{
			domain.FieldStatus: domain.DoneStatus(domain.StatusError, domain.StatusUnknownEvaluator),
		}))
	}
	sess := h.registry.Create(ev)

	// Cloning an existing session carries its snapshot into the new one.
	if req.Session != "" {
		if src, err := h.registry.Get(req.Session); err == nil {
			sess.SetSnapshot(src.Snapshot().Clone())
		}
	}

	if h.metrics != nil {
		h.metrics.SessionsLive.Inc()
	}
	return t.Send(msg.Reply(domain.Message{
		domain.FieldNewSession: sess.ID(),
		domain.FieldStatus:     domain.DoneStatus(),
	}))
}

func (h *SessionOps) close(ctx context.Context, msg domain.Message, req sessionRequest, t ports.Transport) error {
	if req.Session == "" {
		return t.Send(msg.Reply(domain.Message{
			domain.FieldStatus: domain.DoneStatus(domain.StatusError, domain.StatusNoSession),
		}))
	}
	if err := h.registry.Remove(req.Session); err != nil {
		return t.Send(msg.Reply(domain.Message{
			domain.FieldStatus: domain.DoneStatus(domain.StatusError, domain.StatusUnknownSession),
		}))
	}
	if h.store != nil {
		if err := h.store.Delete(ctx, req.Session); err != nil {
			h.logger.Warn("close: snapshot cleanup failed", "session", req.Session, "err", err)
		}
	}
	if h.metrics != nil {
		h.metrics.SessionsLive.Dec()
	}
	return t.Send(msg.Reply(domain.Message{
		domain.FieldStatus: domain.DoneStatus(domain.StatusSessionClosed),
	}))
}
