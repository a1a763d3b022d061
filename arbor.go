package arbor

import (
	"context"
	"log/slog"

	"github.com/aretw0/arbor/internal/logging"
	luaAdapter "github.com/aretw0/arbor/pkg/adapters/lua"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/eval"
	"github.com/aretw0/arbor/pkg/handlers"
	"github.com/aretw0/arbor/pkg/middleware"
	"github.com/aretw0/arbor/pkg/observability"
	"github.com/aretw0/arbor/pkg/ports"
	"github.com/aretw0/arbor/pkg/session"
	"github.com/aretw0/arbor/pkg/workers"
)

// Version is the server version reported by the describe op and the CLI.
const Version = "0.1.0"

// DefaultPoolSize bounds worker concurrency when none is configured.
const DefaultPoolSize = 16

// Server is the high-level entry point for the Arbor library. It wires the
// session registry, the evaluation engine, the shared worker pool, and the
// middleware pipeline, and dispatches transport messages into the pipeline.
type Server struct {
	registry *session.Registry
	pipeline *middleware.Pipeline
	pool     *workers.Pool
	engine   *eval.Engine
	metrics  *observability.Metrics
	store    ports.SnapshotStore
	logger   *slog.Logger

	factories        map[string]ports.EvaluatorFactory
	defaultEvaluator string

	defaults []middleware.Descriptor
}

// Option defines a functional option for configuring the Server.
type Option func(*Server)

// WithLogger sets a custom structured logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPoolSize bounds the shared worker pool.
func WithPoolSize(size int64) Option {
	return func(s *Server) {
		s.pool = workers.New(size)
	}
}

// WithSnapshotStore persists session snapshots after each task.
func WithSnapshotStore(store ports.SnapshotStore) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithMetrics enables the Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithEvaluator registers a named evaluator factory. The first registered
// name becomes the default unless WithDefaultEvaluator overrides it.
func WithEvaluator(name string, factory ports.EvaluatorFactory) Option {
	return func(s *Server) {
		if len(s.factories) == 0 {
			s.defaultEvaluator = name
		}
		s.factories[name] = factory
	}
}

// WithDefaultEvaluator selects which registered evaluator backs new sessions.
func WithDefaultEvaluator(name string) Option {
	return func(s *Server) {
		s.defaultEvaluator = name
	}
}

// New initializes an Arbor server with the built-in handler set composed
// into the active pipeline.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		logger:    logging.NewNop(),
		factories: make(map[string]ports.EvaluatorFactory),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.pool == nil {
		s.pool = workers.New(DefaultPoolSize, workers.WithLogger(s.logger))
	}
	if len(s.factories) == 0 {
		s.factories["lua"] = luaAdapter.New
		s.defaultEvaluator = "lua"
	}
	if _, ok := s.factories[s.defaultEvaluator]; !ok {
		return nil, domain.ErrUnknownEvaluator
	}

	s.registry = session.NewRegistry(s.pool, session.WithRegistryLogger(s.logger))
	s.engine = eval.New(eval.WithLogger(s.logger))

	evalOpts := []handlers.EvalOption{handlers.WithLogger(s.logger)}
	for name, f := range s.factories {
		evalOpts = append(evalOpts, handlers.WithEvaluatorFactory(name, f))
	}
	if s.store != nil {
		evalOpts = append(evalOpts, handlers.WithSnapshotStore(s.store))
	}
	if s.metrics != nil {
		evalOpts = append(evalOpts, handlers.WithMetrics(s.metrics))
	}
	evalHandler := handlers.NewEval(s.registry, s.engine, evalOpts...)

	interruptOpts := []handlers.InterruptOption{handlers.WithInterruptLogger(s.logger)}
	if s.metrics != nil {
		interruptOpts = append(interruptOpts, handlers.WithInterruptMetrics(s.metrics))
	}

	sessionOpts := []handlers.SessionOpsOption{handlers.WithSessionLogger(s.logger)}
	if s.store != nil {
		sessionOpts = append(sessionOpts, handlers.WithSessionSnapshotStore(s.store))
	}
	if s.metrics != nil {
		sessionOpts = append(sessionOpts, handlers.WithSessionMetrics(s.metrics))
	}

	s.defaults = []middleware.Descriptor{
		evalHandler.Descriptor(),
		handlers.NewInterrupt(s.registry, interruptOpts...).Descriptor(),
		handlers.NewSessionOps(s.registry, s.factories[s.defaultEvaluator], sessionOpts...).Descriptor(),
		handlers.NewLoadFile(evalHandler).Descriptor(),
		handlers.NewDescribe(s.Descriptors, map[string]string{"arbor": Version}).Descriptor(),
	}

	pipeline, err := middleware.NewPipeline(s.defaults...)
	if err != nil {
		return nil, err
	}
	s.pipeline = pipeline
	return s, nil
}

// Dispatch routes one message through the pipeline active at call time.
func (s *Server) Dispatch(ctx context.Context, msg domain.Message, t ports.Transport) error {
	return s.pipeline.Dispatch(ctx, msg, t)
}

// Extend hot-swaps the pipeline: the built-in descriptors plus the given
// extras are recomposed and installed as one atomic update. In-flight
// dispatches complete against the pipeline they started with.
func (s *Server) Extend(extras ...middleware.Descriptor) error {
	return s.pipeline.Swap(append(append([]middleware.Descriptor{}, s.defaults...), extras...)...)
}

// Descriptors returns the active pipeline's descriptor snapshot.
func (s *Server) Descriptors() []middleware.Descriptor {
	return s.pipeline.Descriptors()
}

// Registry exposes the session registry.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Pool exposes the shared worker pool.
func (s *Server) Pool() *workers.Pool {
	return s.pool
}

// Shutdown waits for in-flight work to drain.
func (s *Server) Shutdown() {
	s.pool.Wait()
}
