package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defiguard/internal/models"
)

func TestHubKeepsBoundedHistory(t *testing.T) {
	hub := NewHub(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Send(ctx, models.OutboundMessage{Recipient: "alice", Text: fmt.Sprintf("m%d", i)}))
	}
	require.NoError(t, hub.Send(ctx, models.OutboundMessage{Recipient: "bob", Text: "hi"}))

	msgs := hub.Messages("alice")
	require.Len(t, msgs, 3)
	assert.Equal(t, "m2", msgs[0].Text)
	assert.Equal(t, "m4", msgs[2].Text)
	assert.Len(t, hub.Messages("bob"), 1)
	assert.Empty(t, hub.Messages("nobody"))
}

func TestWebsocketReceivesMessages(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws/frank"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return env.hub.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := env.do(t, http.MethodPost, "/v1/events", EventRequest{Type: EventText, Sender: "frank", Text: "help"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg models.OutboundMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "frank", msg.Recipient)
	assert.Contains(t, msg.Text, "DeFiGuard Help")

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return env.hub.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubDropsStalledClient(t *testing.T) {
	hub := NewHub(1).WithWriteTimeout(50 * time.Millisecond)
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.addClient("grace", conn)
	}))
	defer ts.Close()

	// the dialled side never reads, so the server's socket buffers fill up
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	payload := strings.Repeat("x", 1<<20)
	start := time.Now()
	for i := 0; i < 256 && hub.Connections() > 0; i++ {
		require.NoError(t, hub.Send(context.Background(), models.OutboundMessage{Recipient: "grace", Text: payload}))
	}
	assert.Zero(t, hub.Connections(), "stalled peer is removed after a write times out")
	assert.Less(t, time.Since(start), 30*time.Second)
	assert.Len(t, hub.Messages("grace"), 1)
}
