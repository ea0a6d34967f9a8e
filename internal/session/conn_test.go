package session

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrylevesque/roombridge/internal/actions"
)

// wsPair returns both ends of a real WebSocket connection.
func wsPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	var up websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- ws
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-conns:
	case <-time.After(5 * time.Second):
		t.Fatal("server side of the connection never arrived")
	}
	t.Cleanup(func() { server.Close() })
	return server, client
}

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *logBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *logBuffer) count(s string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Count(l.buf.String(), s)
}

// boundedConn accepts room frames and then reports a full send queue.
type boundedConn struct {
	*fakeConn
	room int
}

func (c *boundedConn) Send(data []byte) error {
	c.mu.Lock()
	full := len(c.sent) >= c.room
	c.mu.Unlock()
	if full {
		return ErrSendQueueFull
	}
	return c.fakeConn.Send(data)
}

func TestWSConnSendQueueFull(t *testing.T) {
	server, _ := wsPair(t)
	// No writer goroutine, so nothing drains the queue.
	c := &wsConn{
		id:   "ws--test",
		ws:   server,
		opts: ConnOptions{SendBuffer: 1}.withDefaults(),
		send: make(chan []byte, 1),
		done: make(chan struct{}),
	}

	require.NoError(t, c.Send([]byte(`{"type":"/a"}`)))
	assert.ErrorIs(t, c.Send([]byte(`{"type":"/b"}`)), ErrSendQueueFull)

	c.Close(websocket.CloseNormalClosure, "")
	assert.ErrorIs(t, c.Send([]byte(`{"type":"/c"}`)), ErrConnClosed)
}

func TestSlowClientDroppedOnFullQueue(t *testing.T) {
	m, tokens, _ := newTestManager(t)
	tokens.add("slow", "huddle1", "a")
	tokens.add("fast", "huddle1", "b")

	slow := &boundedConn{fakeConn: newFakeConn("slow-conn"), room: 1}
	fast := newFakeConn("fast-conn")
	_, err := m.BindConnection("slow", slow)
	require.NoError(t, err)
	_, err = m.BindConnection("fast", fast)
	require.NoError(t, err)

	m.BroadcastToRoom("huddle1", actions.Message{Type: "/one"})

	assert.True(t, slow.isClosed())
	assert.Equal(t, websocket.CloseGoingAway, slow.code)
	s, ok := m.Session("slow")
	require.True(t, ok, "a dropped client keeps its session")
	assert.False(t, s.Live)

	assert.Equal(t, []string{RoomKeyPath, "/one"}, fast.types())
	s, _ = m.Session("fast")
	assert.True(t, s.Live)
}

func TestMissedPongsUnbindOnce(t *testing.T) {
	logs := &logBuffer{}
	tokens := &fakeTokens{}
	tokens.add("t1", "huddle1", "client-1")
	m := NewManager(tokens, actions.NewRegistry(testLogger()), slog.New(slog.NewTextHandler(logs, nil)), ConnOptions{
		PingInterval: 20 * time.Millisecond,
		PongWait:     100 * time.Millisecond,
		WriteWait:    50 * time.Millisecond,
	})

	served := make(chan error, 1)
	var up websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		served <- m.ServeWebSocket(ws, "t1")
	}))
	defer srv.Close()

	// The client never reads, so the server's pings are never answered.
	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("connection outlived its pong deadline")
	}

	s, ok := m.Session("t1")
	require.True(t, ok)
	assert.False(t, s.Live)
	assert.Equal(t, 1, logs.count(`msg="client left"`))
	assert.Never(t, func() bool { return logs.count(`msg="client left"`) > 1 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestWritePumpFailureReportsDead(t *testing.T) {
	server, _ := wsPair(t)
	dead := make(chan Conn, 1)
	c := newWSConn(server, ConnOptions{}.withDefaults(), testLogger(), func(c Conn) { dead <- c })
	defer c.Close(websocket.CloseGoingAway, "")

	require.NoError(t, server.UnderlyingConn().Close())
	require.NoError(t, c.Send([]byte(`{"type":"/x"}`)))

	select {
	case got := <-dead:
		assert.Equal(t, c.ID(), got.ID())
	case <-time.After(5 * time.Second):
		t.Fatal("write failure was not reported")
	}
}
