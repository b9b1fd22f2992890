package network

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahertym/coopledger/types"
)

func TestEventHubFanOut(t *testing.T) {
	hub := NewEventHub()
	defer hub.Close()

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscriber registers asynchronously after the upgrade; give the
	// handler a beat before publishing.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == 1
	}, time.Second, 5*time.Millisecond)

	hub.CrossShardEvent(types.CrossShardTxn{
		ID:        "txn-1",
		FromShard: 0,
		ToShard:   2,
		Status:    types.StatusCommitted,
		UpdatedAt: time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var event Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "status", event.Type)
	assert.Equal(t, "txn-1", event.TxnID)
	assert.Equal(t, "Committed", event.Status)
	assert.Equal(t, 2, event.ToShard)
}

func TestEventHubFailureEvent(t *testing.T) {
	hub := NewEventHub()
	defer hub.Close()

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == 1
	}, time.Second, 5*time.Millisecond)

	hub.CrossShardEvent(types.CrossShardTxn{
		ID:         "txn-2",
		Status:     types.StatusFailed,
		FailReason: "insufficient balance",
		UpdatedAt:  time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var event Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "failure", event.Type)
	assert.Equal(t, "insufficient balance", event.FailReason)
}

func TestEventHubDropsDepartedSubscriber(t *testing.T) {
	hub := NewEventHub()
	defer hub.Close()

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == 1
	}, time.Second, 5*time.Millisecond)

	// The read pump notices the close frame and unregisters the peer
	// without waiting for the next event write.
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestEventHubNoSubscribers(t *testing.T) {
	hub := NewEventHub()
	defer hub.Close()

	// Publishing with no subscribers must not block or panic.
	hub.CrossShardEvent(types.CrossShardTxn{ID: "txn-3", Status: types.StatusCommitted})
}
