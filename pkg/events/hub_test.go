package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()

	hub := NewHub(Options{Logger: zerolog.Nop()})
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string, want int) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.Count() == want }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func TestHub_Broadcast(t *testing.T) {
	hub, url := newTestHub(t)
	first := dial(t, hub, url, 1)
	second := dial(t, hub, url, 2)

	hub.Broadcast("task.created", map[string]interface{}{"task_id": "t-1"})
	hub.Broadcast("task.completed", map[string]interface{}{"task_id": "t-1"})

	for _, conn := range []*websocket.Conn{first, second} {
		var created, completed Message
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&created))
		require.NoError(t, conn.ReadJSON(&completed))

		assert.Equal(t, "event", created.Type)
		assert.Equal(t, "task.created", created.Event)
		assert.NotZero(t, created.Timestamp)
		assert.Equal(t, "task.completed", completed.Event)
		assert.Greater(t, completed.Seq, created.Seq)

		data, ok := created.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "t-1", data["task_id"])
	}
}

func TestHub_NoClients(t *testing.T) {
	hub := NewHub(Options{Logger: zerolog.Nop()})
	assert.NotPanics(t, func() { hub.Broadcast("task.created", nil) })
	assert.Equal(t, 0, hub.Count())
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, hub, url, 1)

	clients := hub.Clients()
	require.Len(t, clients, 1)
	assert.NotEmpty(t, clients[0].ID)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_Close(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, hub, url, 1)

	hub.Close()
	assert.Equal(t, 0, hub.Count())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))

	// New connections are refused.
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Closing twice is harmless.
	assert.NotPanics(t, hub.Close)
}
