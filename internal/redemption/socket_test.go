package redemption

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/loyalty-card/internal/logging"
	"github.com/redmonkez12/loyalty-card/internal/ws"
)

func dialScanner(t *testing.T, h *Handler) *websocket.Conn {
	t.Helper()
	return dialScannerAs(t, h, "staff-1")
}

func dialScannerAs(t *testing.T, h *Handler, identityID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := ws.NewHub(func(string) (string, error) { return identityID, nil }, nil, logging.NewNopLogger())
	hub.SetMessageHandler(h.HandleMessage)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?token=t", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var status map[string]string
	require.NoError(t, conn.ReadJSON(&status))
	require.Equal(t, "authenticated", status["status"])
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data any) ws.Message {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ws.Message{Type: msgType, Data: raw}))

	var reply ws.Message
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func TestSocketScanFlow(t *testing.T) {
	p, store, _ := setup(t, 4)
	conn := dialScanner(t, NewHandler(p))

	reply := send(t, conn, MessageScan, ScanRequest{Code: "customer-1"})
	require.Equal(t, MessageScanResult, reply.Type)
	var outcome Outcome
	require.NoError(t, json.Unmarshal(reply.Data, &outcome))
	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	assert.Equal(t, 5, points(t, store))

	reply = send(t, conn, MessageScan, ScanRequest{Code: "customer-1"})
	assert.Equal(t, MessageScanIgnored, reply.Type)
	assert.Equal(t, 5, points(t, store))

	reply = send(t, conn, MessageAcknowledge, nil)
	assert.Equal(t, MessageAcknowledged, reply.Type)

	reply = send(t, conn, MessageAcknowledge, nil)
	assert.Equal(t, "error", reply.Type)
}

func TestSocketRejectsBadCommands(t *testing.T) {
	p, _, _ := setup(t, 0)
	conn := dialScanner(t, NewHandler(p))

	reply := send(t, conn, MessageScan, ScanRequest{})
	assert.Equal(t, "error", reply.Type)

	reply = send(t, conn, "teleport", nil)
	assert.Equal(t, "error", reply.Type)
	assert.Contains(t, string(reply.Data), ErrUnknownCommand.Error())

	p.Disable()
	reply = send(t, conn, MessageScan, ScanRequest{Code: "customer-1"})
	assert.Equal(t, "error", reply.Type)
	assert.Contains(t, string(reply.Data), ErrScannerDisabled.Error())
}

func TestSocketRejectsScansFromPreviousOperator(t *testing.T) {
	p, store, pub := setup(t, 0)
	h := NewHandler(p)
	stale := dialScanner(t, h)

	// the device switched to another staff member
	p.Disable()
	p.Enable("staff-2")

	reply := send(t, stale, MessageScan, ScanRequest{Code: "customer-1"})
	assert.Equal(t, "error", reply.Type)
	assert.Contains(t, string(reply.Data), ErrOperatorMismatch.Error())
	assert.Equal(t, 0, points(t, store))
	assert.Empty(t, pub.events)

	reply = send(t, stale, MessageAcknowledge, nil)
	assert.Contains(t, string(reply.Data), ErrOperatorMismatch.Error())

	current := dialScannerAs(t, h, "staff-2")
	reply = send(t, current, MessageScan, ScanRequest{Code: "customer-1"})
	require.Equal(t, MessageScanResult, reply.Type)
	assert.Equal(t, 1, points(t, store))
	require.Len(t, pub.events, 1)
	assert.Equal(t, "staff-2", pub.events[0].OperatorID)
}
