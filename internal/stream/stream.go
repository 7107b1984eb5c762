// Package stream fans out engine events — quotes issued, trades booked,
// hedges placed, safe-mode transitions — to WebSocket dashboard clients,
// adapted from the teacher's trade.WSHub, and across replicas via Redis
// pub/sub, adapted from the teacher's store.CachedStore Redis usage
// (same client, Publish/Subscribe instead of read-through Get/Set).
// Like internal/journal, Hub is never read by internal/engine.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

// channel is the Redis pub/sub channel every cmd/server replica
// publishes to and subscribes from.
const channel = "lattice-mm:events"

// Event is a JSON message broadcast to every connected WebSocket client.
type Event struct {
	Type         string  `json:"type"` // "quote", "trade", "step_advance", "hedge", "safe_mode"
	OptionID     int     `json:"option_id,omitempty"`
	UnderlyingID int     `json:"underlying_id,omitempty"`
	Bid          float64 `json:"bid,omitempty"`
	Ask          float64 `json:"ask,omitempty"`
	Quantity     float64 `json:"quantity,omitempty"`
	SafeMode     bool    `json:"safe_mode,omitempty"`
}

// Hub manages WebSocket connections and, when rdb is non-nil, mirrors
// every published event through Redis so multiple cmd/server replicas
// share one event stream.
type Hub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	local      chan []byte
	mu         sync.RWMutex

	rdb *redis.Client
}

// NewHub returns a Hub. Pass a nil rdb to run single-replica, local-only.
func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		local:      make(chan []byte, 256),
		rdb:        rdb,
	}
}

// Run starts the hub's event loop. Must be called in a goroutine; it
// returns when ctx is cancelled. When rdb is configured, every event
// delivered to local clients — including this replica's own publishes —
// arrives through the Redis subscription, so all replicas see an
// identical, ordered stream.
func (h *Hub) Run(ctx context.Context) {
	var sub *redis.PubSub
	var msgs <-chan *redis.Message
	if h.rdb != nil {
		sub = h.rdb.Subscribe(ctx, channel)
		msgs = sub.Channel()
		defer sub.Close()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			slog.Info("stream client connected", "total", len(h.clients))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case data := <-h.local:
			h.deliver(data)

		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			h.deliver([]byte(m.Payload))
		}
	}
}

func (h *Hub) deliver(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// Publish broadcasts ev. With Redis configured, it publishes there and
// relies on Run's subscription to deliver it locally; otherwise it
// delivers directly.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	if h.rdb != nil {
		if err := h.rdb.Publish(ctx, channel, data).Err(); err != nil {
			slog.Error("stream publish failed", "err", err)
		}
		return
	}

	select {
	case h.local <- data:
	default:
		// Drop if the buffer is full rather than block the caller.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// HandleWS upgrades an HTTP request to a WebSocket connection and
// registers it with the hub.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
