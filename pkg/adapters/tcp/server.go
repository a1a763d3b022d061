// Package tcp serves the Arbor message protocol over TCP, one JSON document
// per line in each direction.
package tcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
)

// Dispatcher routes a single decoded message. The root arbor.Server
// satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg domain.Message, t ports.Transport) error
}

// Server accepts TCP connections and feeds their messages to a Dispatcher.
// Each connection gets a read loop on the shared worker pool; replies may
// arrive from any worker, so writes are serialized per connection.
type Server struct {
	addr       string
	dispatcher Dispatcher
	pool       ports.WorkerPool
	logger     *slog.Logger

	mu sync.Mutex
	ln net.Listener
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a TCP server listening on addr once Serve is called.
func NewServer(addr string, dispatcher Dispatcher, pool ports.WorkerPool, opts ...Option) *Server {
	s := &Server{
		addr:       addr,
		dispatcher: dispatcher,
		pool:       pool,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve listens and blocks accepting connections until ctx is canceled or
// the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info("tcp server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		c := newConn(conn)
		s.pool.Submit(func() {
			s.serveConn(ctx, c)
		})
	}
}

// Addr reports the bound address, useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// serveConn runs one connection's read loop. A malformed stream or a closed
// peer tears the connection down; per-message errors are reported in-band by
// the handlers.
func (s *Server) serveConn(ctx context.Context, c *Conn) {
	remote := c.conn.RemoteAddr().String()
	s.logger.Debug("connection opened", "remote", remote)
	defer func() {
		c.Close()
		s.logger.Debug("connection closed", "remote", remote)
	}()

	for {
		msg, err := c.Recv()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("read loop ended", "remote", remote, "error", err)
			}
			return
		}
		if err := s.dispatcher.Dispatch(ctx, msg, c); err != nil {
			s.logger.Warn("dispatch failed", "remote", remote, "op", msg.Op(), "error", err)
		}
	}
}

// Conn adapts a net.Conn to ports.Transport with newline-delimited JSON.
type Conn struct {
	conn net.Conn
	dec  *json.Decoder

	wmu sync.Mutex
	enc *json.Encoder

	closed sync.Once
}

func newConn(conn net.Conn) *Conn {
	return &Conn{
		conn: conn,
		dec:  json.NewDecoder(conn),
		enc:  json.NewEncoder(conn),
	}
}

// Recv blocks for the next message. io.EOF signals an orderly close.
func (c *Conn) Recv() (domain.Message, error) {
	var msg domain.Message
	if err := c.dec.Decode(&msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Send writes one reply. Safe for concurrent use; task goroutines and the
// read loop may reply on the same connection.
func (c *Conn) Send(msg domain.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.enc.Encode(msg)
}

// Close closes the underlying connection. Idempotent.
func (c *Conn) Close() error {
	var err error
	c.closed.Do(func() {
		err = c.conn.Close()
	})
	return err
}
