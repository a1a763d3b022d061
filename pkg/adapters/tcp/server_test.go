package tcp_test

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/arbor"
	"github.com/aretw0/arbor/pkg/adapters/tcp"
	"github.com/aretw0/arbor/pkg/domain"
)

func startServer(t *testing.T) (*tcp.Server, context.CancelFunc) {
	t.Helper()

	core, err := arbor.New()
	require.NoError(t, err)

	srv := tcp.NewServer("127.0.0.1:0", core, core.Pool())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := srv.Serve(ctx); err != nil {
			t.Errorf("serve failed: %v", err)
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Cleanup(func() {
		cancel()
		core.Shutdown()
	})
	return srv, cancel
}

type client struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

func dial(t *testing.T, srv *tcp.Server) *client {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{conn: conn, enc: json.NewEncoder(conn), dec: json.NewDecoder(conn)}
}

func (c *client) send(t *testing.T, msg domain.Message) {
	t.Helper()
	require.NoError(t, c.enc.Encode(msg))
}

// collectUntilDone reads replies until a terminal done status.
func (c *client) collectUntilDone(t *testing.T) []domain.Message {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msgs []domain.Message
	for {
		var msg domain.Message
		require.NoError(t, c.dec.Decode(&msg))
		msgs = append(msgs, msg)
		if msg.HasStatus(domain.StatusDone) {
			return msgs
		}
	}
}

func TestServerEvalOverTCP(t *testing.T) {
	srv, _ := startServer(t)
	c := dial(t, srv)

	c.send(t, domain.Message{domain.FieldOp: "clone"})
	msgs := c.collectUntilDone(t)
	sessionID, _ := msgs[len(msgs)-1][domain.FieldNewSession].(string)
	require.NotEmpty(t, sessionID)

	c.send(t, domain.Message{
		domain.FieldOp:      "eval",
		domain.FieldID:      "e1",
		domain.FieldSession: sessionID,
		domain.FieldCode:    "6 * 7",
	})
	msgs = c.collectUntilDone(t)

	require.Len(t, msgs, 2)
	assert.Equal(t, "42", msgs[0][domain.FieldValue])
	assert.Equal(t, "e1", msgs[0].ID())
	assert.True(t, msgs[1].HasStatus(domain.StatusDone))
}

func TestServerConcurrentConnections(t *testing.T) {
	srv, _ := startServer(t)

	c1 := dial(t, srv)
	c2 := dial(t, srv)

	c1.send(t, domain.Message{domain.FieldOp: "clone"})
	c2.send(t, domain.Message{domain.FieldOp: "clone"})

	s1, _ := c1.collectUntilDone(t)[0][domain.FieldNewSession].(string)
	s2, _ := c2.collectUntilDone(t)[0][domain.FieldNewSession].(string)
	require.NotEmpty(t, s1)
	require.NotEmpty(t, s2)
	assert.NotEqual(t, s1, s2)

	c1.send(t, domain.Message{domain.FieldOp: "eval", domain.FieldSession: s1, domain.FieldCode: "x = 1 return x"})
	c2.send(t, domain.Message{domain.FieldOp: "eval", domain.FieldSession: s2, domain.FieldCode: "x = 2 return x"})

	assert.Equal(t, "1", c1.collectUntilDone(t)[0][domain.FieldValue])
	assert.Equal(t, "2", c2.collectUntilDone(t)[0][domain.FieldValue])
}

func TestServerMalformedStreamClosesConnection(t *testing.T) {
	srv, _ := startServer(t)
	c := dial(t, srv)

	_, err := c.conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	// The server tears the connection down instead of replying.
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, 1)
	_, err = c.conn.Read(buf)
	assert.Error(t, err)
}

func TestServerShutdownStopsAccepting(t *testing.T) {
	srv, cancel := startServer(t)
	cancel()

	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", srv.Addr().String(), 100*time.Millisecond)
		if err != nil {
			return
		}
		conn.Close()
		if time.Now().After(deadline) {
			t.Fatal("listener still accepting after shutdown")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
