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

type interruptRequest struct {
	Session     string `mapstructure:"session"`
	InterruptID string `mapstructure:"interrupt-id"`
}

// Interrupt services the "interrupt" op by resolving the request against the
// session's interrupt slot. The response is sent synchronously, so a
// successful "interrupted" notification is observable before the interrupted
// task's (suppressed) completion.
type Interrupt struct {
	registry *session.Registry
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// InterruptOption configures the Interrupt handler.
type InterruptOption func(*Interrupt)

// WithInterruptMetrics records interrupt outcomes.
func WithInterruptMetrics(m *observability.Metrics) InterruptOption {
	return func(h *Interrupt) {
		h.metrics = m
	}
}

// WithInterruptLogger configures the structured logger.
func WithInterruptLogger(logger *slog.Logger) InterruptOption {
	return func(h *Interrupt) {
		h.logger = logger
	}
}

// NewInterrupt creates the interrupt handler.
func NewInterrupt(registry *session.Registry, opts ...InterruptOption) *Interrupt {
	h := &Interrupt{
		registry: registry,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Descriptor declares the interrupt capability.
func (h *Interrupt) Descriptor() middleware.Descriptor {
	return middleware.Descriptor{
		Name: "interrupt",
		Handles: map[string]string{
			"interrupt": "Interrupt the session's in-flight evaluation. Requires :session; optional :interrupt-id. Responds with exactly one terminal status.",
		},
		Handler: h,
	}
}

// Handle resolves the interrupt and sends exactly one terminal message.
func (h *Interrupt) Handle(ctx context.Context, msg domain.Message, t ports.Transport) error {
	var req interruptRequest
	if err := decode(msg, &req); err != nil {
		return t.Send(msg.Reply(domain.Message{
			domain.FieldStatus: domain.DoneStatus(domain.StatusError, domain.StatusMalformed),
		}))
	}
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

	actual, outcome := sess.Interrupt(req.InterruptID)
	switch outcome {
	case session.Interrupted:
		h.record(domain.StatusInterrupted)
		h.logger.Debug("task interrupted", "session", req.Session, "task", actual)
		return t.Send(msg.Reply(domain.Message{
			domain.FieldInterruptID: actual,
			domain.FieldStatus:      domain.DoneStatus(domain.StatusInterrupted),
		}))
	case session.Idle:
		h.record(domain.StatusSessionIdle)
		return t.Send(msg.Reply(domain.Message{
			domain.FieldStatus: domain.DoneStatus(domain.StatusSessionIdle),
		}))
	default:
		h.record(domain.StatusInterruptIDMismatch)
		return t.Send(msg.Reply(domain.Message{
			domain.FieldStatus: domain.DoneStatus(domain.StatusError, domain.StatusInterruptIDMismatch),
		}))
	}
}

func (h *Interrupt) record(outcome string) {
	if h.metrics != nil {
		h.metrics.InterruptsTotal.WithLabelValues(outcome).Inc()
	}
}
