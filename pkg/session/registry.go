package session

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
	"github.com/google/uuid"
)

// Registry owns the set of live sessions. Sessions are created by the clone
// operation and destroyed on close.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	pool   ports.WorkerPool
	logger *slog.Logger
}

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger configures a logger passed down to created sessions.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry backed by the shared worker pool.
func NewRegistry(pool ports.WorkerPool, opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		pool:     pool,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create makes a new session with a fresh id, registers it, and returns it.
func (r *Registry) Create(eval ports.Evaluator) *Session {
	s := New(uuid.NewString(), eval, r.pool, WithLogger(r.logger))

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	r.logger.Debug("session created", "session", s.id)
	return s
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// Remove unregisters and closes the session.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return domain.ErrSessionNotFound
	}
	r.logger.Debug("session closed", "session", id)
	return s.Close()
}

// IDs returns the live session ids in stable order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
