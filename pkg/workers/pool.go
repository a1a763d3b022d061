// Package workers provides the shared worker pool executing both
// connection-handling continuations and session tasks.
package workers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aretw0/arbor/internal/logging"
	"golang.org/x/sync/semaphore"
)

// Pool is a growable pool with bounded concurrency. Submit never blocks the
// caller: each thunk gets its own goroutine gated by a weighted semaphore, so
// a slow task ties up one slot without stalling submission.
type Pool struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger *slog.Logger
}

// Option configures the Pool.
type Option func(*Pool)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// New creates a pool running at most size thunks concurrently.
func New(size int64, opts ...Option) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		sem:    semaphore.NewWeighted(size),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit schedules fn with fire-and-forget semantics. There is no ordering
// guarantee across unrelated submissions.
func (p *Pool) Submit(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("worker panicked", "panic", r)
			}
		}()
		fn()
	}()
}

// Wait blocks until all submitted thunks have finished. Intended for
// shutdown and tests.
func (p *Pool) Wait() {
	p.wg.Wait()
}
