package network

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/fahertym/coopledger/types"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Subscribers only listen.
	maxMessageSize = 512

	// Per-subscriber event buffer; slow consumers are dropped rather than
	// allowed to stall the coordinator.
	eventQueueSize = 100
)

// Event is one coordinator lifecycle notification pushed to subscribers.
type Event struct {
	Type       string `json:"type"`
	TxnID      string `json:"txn_id"`
	Status     string `json:"status"`
	FailReason string `json:"fail_reason,omitempty"`
	FromShard  int    `json:"from_shard"`
	ToShard    int    `json:"to_shard"`
	Timestamp  int64  `json:"timestamp"`
}

// EventHub fans coordinator events out to WebSocket subscribers. It is the
// coordinator's operator-facing event sink; desync alarms arrive here.
type EventHub struct {
	mu       sync.RWMutex
	clients  map[*websocket.Conn]chan Event
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[*websocket.Conn]chan Event),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logrus.WithField("component", "events"),
	}
}

// CrossShardEvent implements crossshard.EventSink.
func (h *EventHub) CrossShardEvent(txn types.CrossShardTxn) {
	eventType := "status"
	if txn.Status == types.StatusFailed && txn.FailReason != "" {
		eventType = "failure"
	}
	event := Event{
		Type:       eventType,
		TxnID:      txn.ID,
		Status:     txn.Status.String(),
		FailReason: txn.FailReason,
		FromShard:  txn.FromShard,
		ToShard:    txn.ToShard,
		Timestamp:  txn.UpdatedAt.Unix(),
	}
	if txn.Status == types.StatusFailed {
		h.log.WithFields(logrus.Fields{"txn": txn.ID, "reason": txn.FailReason}).Warn("cross-shard failure event")
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn, queue := range h.clients {
		select {
		case queue <- event:
		default:
			h.log.WithField("peer", conn.RemoteAddr()).Warn("dropping slow event subscriber")
		}
	}
}

// ServeWS upgrades the request and streams events until the peer leaves.
// The read pump notices a departed peer; the write pump pushes events and
// keepalive pings.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithField("error", err).Warn("websocket upgrade failed")
		return
	}

	queue := make(chan Event, eventQueueSize)
	h.mu.Lock()
	h.clients[conn] = queue
	h.mu.Unlock()

	go h.writeLoop(conn, queue)
	go h.readLoop(conn)
}

// readLoop drains the connection. Subscribers send nothing meaningful; the
// loop exists to detect close frames and missed pongs.
func (h *EventHub) readLoop(conn *websocket.Conn) {
	defer h.drop(conn)
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) writeLoop(conn *websocket.Conn, queue chan Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.drop(conn)
	}()

	for {
		select {
		case event, ok := <-queue:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drop unregisters a subscriber and closes its connection. Safe to call
// from both pumps and Close.
func (h *EventHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if queue, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(queue)
	}
	h.mu.Unlock()
	conn.Close()
}

// Close disconnects every subscriber.
func (h *EventHub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		h.drop(conn)
	}
}
