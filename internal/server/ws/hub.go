// Package ws pushes feature build run events to dashboard clients over
// WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBufferSize = 64
)

// EventSource is the part of the signal bus the hub reads from.
type EventSource interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamTail(ctx context.Context, stream string, count int64) ([]domain.StreamMessage, error)
}

// Config controls the hub. Replay is the number of past run events sent to
// a client on connect.
type Config struct {
	AllowedOrigins []string
	Replay         int64
	StartedAt      time.Time
}

// Envelope is the frame format sent to clients.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Frame types.
const (
	TypeHello = "hello"
	TypeRun   = "run"
)

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans run events from the signal bus out to every connected client.
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	done       chan struct{}
	source     EventSource
	cfg        Config
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a Hub reading from source.
func NewHub(source EventSource, cfg Config, logger *slog.Logger) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	h := &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		source:     source,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts same-host requests, requests without an Origin and
// the configured origins.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// Run subscribes to run events and serves clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.source.Subscribe(ctx, domain.ChannelRuns)
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "subscribed to run events", slog.String("channel", domain.ChannelRuns))
	defer close(h.done)

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
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case payload, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					continue
				}
				h.logger.Warn("run event subscription closed")
				events = nil
				continue
			}
			frame, err := encode(TypeRun, payload)
			if err != nil {
				h.logger.Warn("dropping malformed run event", slog.String("error", err.Error()))
				continue
			}
			h.fanOut(frame)
		}
	}
}

func (h *Hub) fanOut(frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("dropping run event for slow client")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client. The first frame
// is a hello carrying the most recent run events.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}
	if hello, err := h.hello(r.Context()); err == nil {
		c.send <- hello
	} else {
		h.logger.Warn("hello frame failed", slog.String("error", err.Error()))
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

func (h *Hub) hello(ctx context.Context) ([]byte, error) {
	recent := []json.RawMessage{}
	if h.cfg.Replay > 0 {
		msgs, err := h.source.StreamTail(ctx, domain.StreamRuns, h.cfg.Replay)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			if json.Valid(m.Payload) {
				recent = append(recent, m.Payload)
			}
		}
	}

	payload, err := json.Marshal(map[string]any{
		"started_at": h.cfg.StartedAt.Format(time.RFC3339),
		"recent":     recent,
	})
	if err != nil {
		return nil, err
	}
	return encode(TypeHello, payload)
}

func encode(kind string, payload []byte) ([]byte, error) {
	return json.Marshal(Envelope{Type: kind, Payload: payload})
}

// readPump discards client frames and keeps the read deadline alive.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// writePump sends queued frames as text messages and pings periodically.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
