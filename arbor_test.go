package arbor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/arbor"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/middleware"
	"github.com/aretw0/arbor/pkg/ports"
)

// chanTransport buffers replies on a channel so tests can wait for the
// asynchronous reply stream of queued evaluations.
type chanTransport struct {
	ch chan domain.Message
}

func newChanTransport() *chanTransport {
	return &chanTransport{ch: make(chan domain.Message, 64)}
}

func (t *chanTransport) Recv() (domain.Message, error) { return nil, nil }
func (t *chanTransport) Send(msg domain.Message) error {
	t.ch <- msg
	return nil
}
func (t *chanTransport) Close() error { return nil }

// collectUntilDone drains replies until a terminal done status or a timeout.
func (t *chanTransport) collectUntilDone(tb testing.TB) []domain.Message {
	tb.Helper()
	var msgs []domain.Message
	for {
		select {
		case msg := <-t.ch:
			msgs = append(msgs, msg)
			if msg.HasStatus(domain.StatusDone) {
				return msgs
			}
		case <-time.After(5 * time.Second):
			tb.Fatalf("timed out waiting for done, got %d messages so far", len(msgs))
			return msgs
		}
	}
}

func dispatch(tb testing.TB, srv *arbor.Server, tr ports.Transport, msg domain.Message) {
	tb.Helper()
	require.NoError(tb, srv.Dispatch(context.Background(), msg, tr))
}

func cloneSession(tb testing.TB, srv *arbor.Server, tr *chanTransport) string {
	tb.Helper()
	dispatch(tb, srv, tr, domain.Message{domain.FieldOp: "clone"})
	msgs := tr.collectUntilDone(tb)
	id, _ := msgs[len(msgs)-1][domain.FieldNewSession].(string)
	require.NotEmpty(tb, id)
	return id
}

func TestServerEvalRoundTrip(t *testing.T) {
	srv, err := arbor.New()
	require.NoError(t, err)
	defer srv.Shutdown()

	tr := newChanTransport()
	sessionID := cloneSession(t, srv, tr)

	dispatch(t, srv, tr, domain.Message{
		domain.FieldOp:      "eval",
		domain.FieldID:      "e1",
		domain.FieldSession: sessionID,
		domain.FieldCode:    "1 + 1",
	})
	msgs := tr.collectUntilDone(t)

	require.Len(t, msgs, 2)
	assert.Equal(t, "2", msgs[0][domain.FieldValue])
	assert.Equal(t, "e1", msgs[0].ID())
	assert.True(t, msgs[1].HasStatus(domain.StatusDone))
}

func TestServerStatePersistsAcrossEvals(t *testing.T) {
	srv, err := arbor.New()
	require.NoError(t, err)
	defer srv.Shutdown()

	tr := newChanTransport()
	sessionID := cloneSession(t, srv, tr)

	dispatch(t, srv, tr, domain.Message{
		domain.FieldOp:      "eval",
		domain.FieldSession: sessionID,
		domain.FieldCode:    "counter = 20",
	})
	tr.collectUntilDone(t)

	dispatch(t, srv, tr, domain.Message{
		domain.FieldOp:      "eval",
		domain.FieldSession: sessionID,
		domain.FieldCode:    "counter + 1",
	})
	msgs := tr.collectUntilDone(t)
	assert.Equal(t, "21", msgs[0][domain.FieldValue])
}

func TestServerPrintOutputPrecedesValue(t *testing.T) {
	srv, err := arbor.New()
	require.NoError(t, err)
	defer srv.Shutdown()

	tr := newChanTransport()
	sessionID := cloneSession(t, srv, tr)

	dispatch(t, srv, tr, domain.Message{
		domain.FieldOp:      "eval",
		domain.FieldSession: sessionID,
		domain.FieldCode:    `print("side effect") return 5`,
	})
	msgs := tr.collectUntilDone(t)

	require.GreaterOrEqual(t, len(msgs), 3)
	assert.Equal(t, "side effect\n", msgs[0][domain.FieldOut])
	assert.Equal(t, "5", msgs[1][domain.FieldValue])
}

func TestServerInterruptIdleSession(t *testing.T) {
	srv, err := arbor.New()
	require.NoError(t, err)
	defer srv.Shutdown()

	tr := newChanTransport()
	sessionID := cloneSession(t, srv, tr)

	dispatch(t, srv, tr, domain.Message{
		domain.FieldOp:      "interrupt",
		domain.FieldSession: sessionID,
	})
	msgs := tr.collectUntilDone(t)
	assert.True(t, msgs[len(msgs)-1].HasStatus(domain.StatusSessionIdle))
}

func TestServerInterruptRunningEvaluation(t *testing.T) {
	srv, err := arbor.New()
	require.NoError(t, err)
	defer srv.Shutdown()

	tr := newChanTransport()
	sessionID := cloneSession(t, srv, tr)

	dispatch(t, srv, tr, domain.Message{
		domain.FieldOp:      "eval",
		domain.FieldID:      "spin",
		domain.FieldSession: sessionID,
		domain.FieldCode:    "while true do end",
	})

	// Retry until the interrupt catches the task running; the eval is queued
	// asynchronously and may not have started yet.
	interruptTr := newChanTransport()
	deadline := time.Now().Add(5 * time.Second)
	for {
		dispatch(t, srv, interruptTr, domain.Message{
			domain.FieldOp:          "interrupt",
			domain.FieldSession:     sessionID,
			domain.FieldInterruptID: "spin",
		})
		msgs := interruptTr.collectUntilDone(t)
		if msgs[len(msgs)-1].HasStatus(domain.StatusInterrupted) {
			assert.Equal(t, "spin", msgs[len(msgs)-1][domain.FieldInterruptID])
			break
		}
		require.True(t, msgs[len(msgs)-1].HasStatus(domain.StatusSessionIdle))
		if time.Now().After(deadline) {
			t.Fatal("interrupt never caught the running evaluation")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The session stays usable after the interruption.
	dispatch(t, srv, tr, domain.Message{
		domain.FieldOp:      "eval",
		domain.FieldSession: sessionID,
		domain.FieldCode:    "3 * 3",
	})
	found := false
	for _, msg := range tr.collectUntilDone(t) {
		if msg[domain.FieldValue] == "9" {
			found = true
		}
	}
	assert.True(t, found, "session must evaluate normally after an interrupt")
}

func TestServerUnknownOp(t *testing.T) {
	srv, err := arbor.New()
	require.NoError(t, err)
	defer srv.Shutdown()

	tr := newChanTransport()
	dispatch(t, srv, tr, domain.Message{domain.FieldOp: "frobnicate", domain.FieldID: "x"})
	msgs := tr.collectUntilDone(t)

	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].HasStatus(domain.StatusUnknownOp))
	assert.Equal(t, "x", msgs[0].ID())
}

func TestServerDescribeListsAllOps(t *testing.T) {
	srv, err := arbor.New()
	require.NoError(t, err)
	defer srv.Shutdown()

	tr := newChanTransport()
	dispatch(t, srv, tr, domain.Message{domain.FieldOp: "describe"})
	msgs := tr.collectUntilDone(t)

	ops, ok := msgs[len(msgs)-1][domain.FieldOps].(map[string]map[string]string)
	require.True(t, ok)
	for _, op := range []string{"eval", "interrupt", "clone", "close", "ls-sessions", "describe", "load-file"} {
		assert.Contains(t, ops, op)
	}
}

func TestServerExtendHotSwapsPipeline(t *testing.T) {
	srv, err := arbor.New()
	require.NoError(t, err)
	defer srv.Shutdown()

	custom := middleware.Descriptor{
		Name:    "ping",
		Handles: map[string]string{"ping": "Reply with pong."},
		Handler: middleware.HandlerFunc(func(ctx context.Context, msg domain.Message, t ports.Transport) error {
			return t.Send(msg.Reply(domain.Message{
				"pong":             true,
				domain.FieldStatus: domain.DoneStatus(),
			}))
		}),
	}
	require.NoError(t, srv.Extend(custom))

	tr := newChanTransport()
	dispatch(t, srv, tr, domain.Message{domain.FieldOp: "ping"})
	msgs := tr.collectUntilDone(t)
	assert.Equal(t, true, msgs[0]["pong"])

	// Built-in ops keep working after the swap.
	dispatch(t, srv, tr, domain.Message{domain.FieldOp: "ls-sessions"})
	tr.collectUntilDone(t)
}

func TestServerExtendRejectsBrokenSet(t *testing.T) {
	srv, err := arbor.New()
	require.NoError(t, err)
	defer srv.Shutdown()

	err = srv.Extend(middleware.Descriptor{
		Name:     "broken",
		Handles:  map[string]string{"broken": "never composes"},
		Requires: []string{"ghost-capability"},
	})
	require.Error(t, err)

	// The original pipeline still serves.
	tr := newChanTransport()
	dispatch(t, srv, tr, domain.Message{domain.FieldOp: "ls-sessions"})
	msgs := tr.collectUntilDone(t)
	assert.True(t, msgs[len(msgs)-1].HasStatus(domain.StatusDone))
}

func TestServerSessionsEvaluateIndependently(t *testing.T) {
	srv, err := arbor.New()
	require.NoError(t, err)
	defer srv.Shutdown()

	const sessions = 4
	var wg sync.WaitGroup
	wg.Add(sessions)
	for i := 0; i < sessions; i++ {
		go func() {
			defer wg.Done()
			tr := newChanTransport()
			id := cloneSession(t, srv, tr)
			dispatch(t, srv, tr, domain.Message{
				domain.FieldOp:      "eval",
				domain.FieldSession: id,
				domain.FieldCode:    "local x = 2 return x * 2",
			})
			msgs := tr.collectUntilDone(t)
			assert.Equal(t, "4", msgs[0][domain.FieldValue])
		}()
	}
	wg.Wait()
}
