package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/loyalty-card/internal/logging"
)

func acceptGood(token string) (string, error) {
	switch token {
	case "good":
		return "identity-1", nil
	case "other":
		return "identity-2", nil
	}
	return "", errors.New("bad token")
}

func startHub(t *testing.T, handler MessageHandler) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(acceptGood, nil, logging.NewNopLogger())
	hub.SetMessageHandler(handler)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func readStatus(t *testing.T, conn *websocket.Conn) map[string]string {
	t.Helper()
	var status map[string]string
	require.NoError(t, conn.ReadJSON(&status))
	return status
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestQueryTokenAuthAndBroadcast(t *testing.T) {
	hub, url := startHub(t, nil)

	conn := dial(t, url+"?token=good")
	status := readStatus(t, conn)
	assert.Equal(t, "authenticated", status["status"])
	assert.Equal(t, "identity-1", status["identity_id"])

	waitClients(t, hub, 1)
	require.NoError(t, hub.BroadcastTyped("event", map[string]string{"kind": "mode_changed"}))

	msg := readMessage(t, conn)
	assert.Equal(t, "event", msg.Type)
	assert.JSONEq(t, `{"kind":"mode_changed"}`, string(msg.Data))
}

func TestFirstMessageAuth(t *testing.T) {
	hub, url := startHub(t, nil)

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(map[string]string{"token": "good"}))
	assert.Equal(t, "authenticated", readStatus(t, conn)["status"])
	waitClients(t, hub, 1)
}

func TestInvalidTokenClosesConnection(t *testing.T) {
	hub, url := startHub(t, nil)

	conn := dial(t, url+"?token=bad")
	assert.Equal(t, "invalid token", readStatus(t, conn)["error"])

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestMessageHandlerRepliesToSender(t *testing.T) {
	_, url := startHub(t, func(_ context.Context, c *Client, msgType string, data json.RawMessage) error {
		if msgType == "fail" {
			return errors.New("nope")
		}
		return c.SendTyped("echo", data)
	})

	conn := dial(t, url+"?token=good")
	readStatus(t, conn)

	require.NoError(t, conn.WriteJSON(Message{Type: "ping", Data: json.RawMessage(`{"n":1}`)}))
	msg := readMessage(t, conn)
	assert.Equal(t, "echo", msg.Type)
	assert.JSONEq(t, `{"n":1}`, string(msg.Data))

	require.NoError(t, conn.WriteJSON(Message{Type: "fail"}))
	msg = readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, string(msg.Data), "nope")
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, url := startHub(t, nil)

	conn := dial(t, url+"?token=good")
	readStatus(t, conn)
	waitClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitClients(t, hub, 0)
}

func TestRelayForwardsUntilClosed(t *testing.T) {
	hub, url := startHub(t, nil)

	conn := dial(t, url+"?token=good")
	readStatus(t, conn)
	waitClients(t, hub, 1)

	events := make(chan int, 2)
	events <- 1
	events <- 2
	close(events)

	done := make(chan struct{})
	go func() {
		Relay(context.Background(), hub, "tick", events)
		close(done)
	}()

	for _, want := range []string{"1", "2"} {
		msg := readMessage(t, conn)
		assert.Equal(t, "tick", msg.Type)
		assert.Equal(t, want, string(msg.Data))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after channel closed")
	}
}

func TestFollowIdentityDisconnectsOtherIdentities(t *testing.T) {
	hub, url := startHub(t, nil)

	mine := dial(t, url+"?token=good")
	readStatus(t, mine)
	theirs := dial(t, url+"?token=other")
	readStatus(t, theirs)
	waitClients(t, hub, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	states := make(chan string)
	go FollowIdentity(ctx, hub, states, func(id string) string { return id })

	states <- "identity-1"
	waitClients(t, hub, 1)
	_, _, err := theirs.ReadMessage()
	assert.Error(t, err, "connection of the previous identity is closed")

	require.NoError(t, hub.BroadcastTyped("event", map[string]string{"kind": "mode_changed"}))
	assert.Equal(t, "event", readMessage(t, mine).Type)

	// signed out
	states <- ""
	waitClients(t, hub, 0)
	_, _, err = mine.ReadMessage()
	assert.Error(t, err)
}

func TestDisconnectMismatchedKeepsMatchingClients(t *testing.T) {
	hub, url := startHub(t, nil)

	conn := dial(t, url+"?token=good")
	readStatus(t, conn)
	waitClients(t, hub, 1)

	assert.Equal(t, 0, hub.DisconnectMismatched("identity-1"))
	assert.Equal(t, 1, hub.ClientCount())
	assert.Equal(t, 1, hub.DisconnectMismatched("identity-2"))
	assert.Equal(t, 0, hub.ClientCount())
}
