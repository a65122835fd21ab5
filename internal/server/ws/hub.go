// Package ws pushes newly detected signals to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// replayLimit caps the signals replayed to a reconnecting client. It
	// leaves room in the send buffer for the status frame.
	replayLimit = sendBufferSize - 16

	replayTimeout = 3 * time.Second
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// envelope is the frame sent to clients.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// filterMsg is what a client sends to narrow its stream:
//
//	{"min_score": 60, "types": ["volume_spike"], "market_ids": ["501"]}
//
// Empty fields match everything. Each message replaces the previous filter.
type filterMsg struct {
	MinScore  float64             `json:"min_score"`
	Types     []domain.SignalKind `json:"types"`
	MarketIDs []string            `json:"market_ids"`
}

func (f filterMsg) matches(ev domain.SignalEvent) bool {
	if ev.Score < f.MinScore {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, ev.Kind) {
		return false
	}
	if len(f.MarketIDs) > 0 && !slices.Contains(f.MarketIDs, ev.MarketID) {
		return false
	}
	return true
}

// client represents a single WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	filter filterMsg
}

// broadcastMsg is one decoded signal event and its encoded frame.
type broadcastMsg struct {
	event domain.SignalEvent
	frame []byte
}

// Hub manages a set of connected WebSocket clients and forwards signal
// events from the signal bus to each client whose filter matches.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// NewHub creates a hub that bridges bus to connected WebSocket clients.
func NewHub(bus domain.SignalBus, mode string, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws")),
		mode:       mode,
		startedAt:  time.Now().UTC(),
	}
}

// Run subscribes to the signal channel and serves client registration and
// broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	msgCh, err := h.bus.Subscribe(ctx, domain.ChannelSignals)
	if err != nil {
		return err
	}
	h.logger.Info("ws: subscribed to channel", slog.String("channel", domain.ChannelSignals))
	defer close(h.done)
	go h.forward(ctx, msgCh)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg.event) {
					continue
				}
				select {
				case c.send <- msg.frame:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forward decodes bus payloads and hands them to the broadcast loop.
func (h *Hub) forward(ctx context.Context, msgCh <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", domain.ChannelSignals),
				)
				return
			}
			var ev domain.SignalEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				h.logger.Warn("ws: undecodable signal event", slog.String("error", err.Error()))
				continue
			}
			frame, err := json.Marshal(envelope{Type: "signal", Payload: json.RawMessage(data)})
			if err != nil {
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{event: ev, frame: frame}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. Query parameters min_score, type and market_id
// seed the client's filter. A client that passes last_id, the stream_id of
// the last signal it saw, first receives the logged signals after it.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		filter: filterFromQuery(r),
	}

	// Queue the status and replay frames before the hub can close c.send.
	c.sendInitialStatus()
	if lastID := r.URL.Query().Get("last_id"); lastID != "" {
		h.replay(r.Context(), c, lastID)
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// replay queues logged signals after lastID that match the client's filter.
// A bad ID or an unreachable log only costs the client its backlog.
func (h *Hub) replay(ctx context.Context, c *client, lastID string) {
	ctx, cancel := context.WithTimeout(ctx, replayTimeout)
	defer cancel()

	msgs, err := h.bus.StreamRead(ctx, domain.StreamSignals, lastID, replayLimit)
	if err != nil {
		h.logger.Warn("ws: replay failed",
			slog.String("last_id", lastID),
			slog.String("error", err.Error()),
		)
		return
	}
	sent := 0
	for _, m := range msgs {
		var ev domain.SignalEvent
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			continue
		}
		ev.StreamID = m.ID
		if !c.wants(ev) {
			continue
		}
		frame, err := json.Marshal(envelope{Type: "signal", Payload: ev})
		if err != nil {
			continue
		}
		select {
		case c.send <- frame:
			sent++
		default:
			h.logger.Warn("ws: replay truncated", slog.Int("sent", sent))
			return
		}
	}
	h.logger.Debug("ws: replayed signals", slog.String("last_id", lastID), slog.Int("sent", sent))
}

func filterFromQuery(r *http.Request) filterMsg {
	var f filterMsg
	q := r.URL.Query()
	if v := q.Get("min_score"); v != "" {
		_ = json.Unmarshal([]byte(v), &f.MinScore)
	}
	for _, t := range q["type"] {
		if k := domain.SignalKind(t); k.Valid() {
			f.Types = append(f.Types, k)
		}
	}
	f.MarketIDs = q["market_id"]
	return f
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads filter updates from the connection until it closes.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var f filterMsg
		if err := json.Unmarshal(message, &f); err != nil {
			continue
		}
		c.mu.Lock()
		c.filter = f
		c.mu.Unlock()
	}
}

func (c *client) wants(ev domain.SignalEvent) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter.matches(ev)
}

// sendInitialStatus lets a client mark the connection healthy before any
// signal arrives.
func (c *client) sendInitialStatus() {
	msg, err := json.Marshal(envelope{
		Type: "status",
		Payload: map[string]any{
			"mode":           c.hub.mode,
			"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
		},
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// writePump sends queued frames and periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
