// Package mcp exposes Arbor sessions as MCP tools so agent hosts can create
// sessions, evaluate code, and interrupt running evaluations.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/arbor"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
)

// EvalResponse aggregates the reply stream of one evaluation into a single
// structured result.
type EvalResponse struct {
	Values []string `json:"values" jsonschema_description:"Result value of each evaluated form"`
	NS     string   `json:"ns,omitempty" jsonschema_description:"Namespace after evaluation"`
	Out    string   `json:"out,omitempty" jsonschema_description:"Captured standard output"`
	Err    string   `json:"err,omitempty" jsonschema_description:"Captured error output"`
	Ex     string   `json:"ex,omitempty" jsonschema_description:"Error message when evaluation failed"`
	Status []string `json:"status" jsonschema_description:"Terminal status markers"`
}

// Dispatcher routes a single message. The root arbor.Server satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg domain.Message, t ports.Transport) error
}

// Server wraps an Arbor dispatcher and exposes it as an MCP server.
type Server struct {
	dispatcher Dispatcher
	mcpServer  *server.MCPServer
	timeout    time.Duration
}

// Option configures the Server.
type Option func(*Server)

// WithTimeout bounds how long a tool call waits for a terminal reply.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

// NewServer creates a new MCP server instance.
func NewServer(dispatcher Dispatcher, opts ...Option) *Server {
	s := &Server{
		dispatcher: dispatcher,
		mcpServer:  server.NewMCPServer("arbor-mcp", arbor.Version),
		timeout:    time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	lifecycle.Go(ctx, func(ctx context.Context) error {
		serverErrors <- httpServer.ListenAndServe()
		return nil
	})

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	evalTool := mcp.NewTool("eval",
		mcp.WithDescription("Evaluate code in a session. Blocks until the evaluation completes, fails, or is interrupted."),
		mcp.WithString("code", mcp.Required(), mcp.Description("Source code to evaluate")),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session ID from new_session")),
		mcp.WithString("ns", mcp.Description("Namespace override for this evaluation only")),
		mcp.WithOutputSchema[EvalResponse](),
	)
	s.mcpServer.AddTool(evalTool, mcp.NewStructuredToolHandler(s.handleEval))

	interruptTool := mcp.NewTool("interrupt",
		mcp.WithDescription("Interrupt the session's running evaluation."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("interrupt_id", mcp.Description("Only interrupt if this request ID is running")),
	)
	s.mcpServer.AddTool(interruptTool, s.handleSimple("interrupt", func(args map[string]any) domain.Message {
		msg := domain.Message{domain.FieldOp: "interrupt"}
		if v, ok := args["session"].(string); ok {
			msg[domain.FieldSession] = v
		}
		if v, ok := args["interrupt_id"].(string); ok && v != "" {
			msg[domain.FieldInterruptID] = v
		}
		return msg
	}))

	newSessionTool := mcp.NewTool("new_session",
		mcp.WithDescription("Create a new evaluation session and return its ID."),
	)
	s.mcpServer.AddTool(newSessionTool, s.handleSimple("clone", func(map[string]any) domain.Message {
		return domain.Message{domain.FieldOp: "clone"}
	}))

	closeSessionTool := mcp.NewTool("close_session",
		mcp.WithDescription("Close a session and discard its state."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session ID")),
	)
	s.mcpServer.AddTool(closeSessionTool, s.handleSimple("close", func(args map[string]any) domain.Message {
		msg := domain.Message{domain.FieldOp: "close"}
		if v, ok := args["session"].(string); ok {
			msg[domain.FieldSession] = v
		}
		return msg
	}))

	listSessionsTool := mcp.NewTool("list_sessions",
		mcp.WithDescription("List the IDs of all live sessions."),
	)
	s.mcpServer.AddTool(listSessionsTool, s.handleSimple("ls-sessions", func(map[string]any) domain.Message {
		return domain.Message{domain.FieldOp: "ls-sessions"}
	}))
}

// handleSimple dispatches one message and returns the first terminal reply
// as JSON text.
func (s *Server) handleSimple(op string, build func(args map[string]any) domain.Message) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		replies, err := s.roundTrip(ctx, build(args))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err)), nil
		}
		jsonBytes, _ := json.Marshal(replies[len(replies)-1])
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}
}

func (s *Server) handleEval(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (EvalResponse, error) {
	msg := domain.Message{domain.FieldOp: "eval"}
	if v, ok := args["code"].(string); ok {
		msg[domain.FieldCode] = v
	}
	if v, ok := args["session"].(string); ok {
		msg[domain.FieldSession] = v
	}
	if v, ok := args["ns"].(string); ok && v != "" {
		msg[domain.FieldNS] = v
	}

	replies, err := s.roundTrip(ctx, msg)
	if err != nil {
		return EvalResponse{}, fmt.Errorf("eval failed: %w", err)
	}

	var resp EvalResponse
	for _, reply := range replies {
		if v := reply.GetString(domain.FieldValue); v != "" {
			resp.Values = append(resp.Values, v)
		}
		if v := reply.GetString(domain.FieldNS); v != "" {
			resp.NS = v
		}
		resp.Out += reply.GetString(domain.FieldOut)
		resp.Err += reply.GetString(domain.FieldErr)
		if v := reply.GetString(domain.FieldEx); v != "" {
			resp.Ex = v
		}
	}
	final := replies[len(replies)-1]
	if raw, ok := final[domain.FieldStatus].([]string); ok {
		resp.Status = raw
	} else if raw, ok := final[domain.FieldStatus].([]any); ok {
		for _, item := range raw {
			if str, ok := item.(string); ok {
				resp.Status = append(resp.Status, str)
			}
		}
	}
	return resp, nil
}

// roundTrip dispatches msg against a collecting transport and waits for the
// terminal done reply.
func (s *Server) roundTrip(ctx context.Context, msg domain.Message) ([]domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	c := newCollector()
	if err := s.dispatcher.Dispatch(ctx, msg, c); err != nil {
		return nil, err
	}
	return c.wait(ctx)
}

// collector is an in-process ports.Transport that buffers replies until a
// terminal done status arrives.
type collector struct {
	mu   sync.Mutex
	msgs []domain.Message
	done chan struct{}
	once sync.Once
}

func newCollector() *collector {
	return &collector{done: make(chan struct{})}
}

func (c *collector) Recv() (domain.Message, error) {
	return nil, fmt.Errorf("collector transport is send-only")
}

func (c *collector) Send(msg domain.Message) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	if msg.HasStatus(domain.StatusDone) {
		c.once.Do(func() { close(c.done) })
	}
	return nil
}

func (c *collector) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *collector) wait(ctx context.Context) ([]domain.Message, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) == 0 {
		return nil, fmt.Errorf("no reply received")
	}
	out := make([]domain.Message, len(c.msgs))
	copy(out, c.msgs)
	return out, nil
}
