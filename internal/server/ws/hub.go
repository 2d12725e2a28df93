// Package ws pushes committed sales to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/KowsarAtz/nfts-price/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// maxResume caps how many stream entries a resuming client receives.
	maxResume = 500
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// envelope is the frame format sent to clients.
type envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// controlMsg is a client request. Collections filters the feed to the given
// collection addresses; an empty filter receives every sale. Since resumes
// from a stream entry id.
type controlMsg struct {
	Action      string   `json:"action"` // "subscribe", "unsubscribe" or "resume"
	Collections []string `json:"collections"`
	Since       string   `json:"since"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // collection address keys
	mu   sync.RWMutex
}

type broadcastMsg struct {
	collection string
	data       []byte
}

// directMsg is a frame for a single client.
type directMsg struct {
	c    *client
	data []byte
}

// Hub fans committed sales out to connected clients. Sales arrive either
// in-process through SaleCommitted or from the sale bus.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	direct     chan directMsg
	done       chan struct{}
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

var _ domain.SaleSink = (*Hub)(nil)

// NewHub creates a Hub. bus may be nil, in which case the hub only relays
// sales handed to SaleCommitted.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		direct:     make(chan directMsg),
		done:       make(chan struct{}),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws")),
		startedAt:  time.Now().UTC(),
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		go h.subscribe(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
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

		case m := <-h.direct:
			h.mu.RLock()
			if h.clients[m.c] {
				select {
				case m.c.send <- m.data:
				default:
					h.logger.Warn("dropping resumed message for slow client")
				}
			}
			h.mu.RUnlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg.collection) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// SaleCommitted broadcasts a sale committed in this process.
func (h *Hub) SaleCommitted(ctx context.Context, sale domain.Sale) error {
	payload, err := json.Marshal(sale)
	if err != nil {
		return err
	}
	return h.enqueue(ctx, domain.AddressKey(sale.Collection), "", payload)
}

func (h *Hub) enqueue(ctx context.Context, collection, id string, payload []byte) error {
	frame, err := json.Marshal(envelope{Type: "sale", ID: id, Payload: payload})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- broadcastMsg{collection: collection, data: frame}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) subscribe(ctx context.Context) {
	msgs, err := h.bus.Subscribe(ctx, domain.SalesChannel)
	if err != nil {
		h.logger.Error("failed to subscribe to sale bus",
			slog.String("channel", domain.SalesChannel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("subscribed to sale bus", slog.String("channel", domain.SalesChannel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("sale bus subscription closed")
				return
			}
			collection, err := saleCollection(data)
			if err != nil {
				h.logger.Warn("undecodable sale on bus", slog.String("error", err.Error()))
				continue
			}
			if err := h.enqueue(ctx, collection, "", data); err != nil {
				return
			}
		}
	}
}

func saleCollection(payload []byte) (string, error) {
	var sale domain.Sale
	if err := json.Unmarshal(payload, &sale); err != nil {
		return "", err
	}
	return domain.AddressKey(sale.Collection), nil
}

// HandleWS upgrades the request and registers the client. Collections given
// as a comma-separated ?collections= query parameter seed the filter.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	if q := r.URL.Query().Get("collections"); q != "" {
		c.update("subscribe", strings.Split(q, ","))
	}

	c.sendStatus()
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

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
				c.hub.logger.Warn("unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var msg controlMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		switch msg.Action {
		case "subscribe", "unsubscribe":
			c.update(msg.Action, msg.Collections)
		case "resume":
			c.resume(msg.Since)
		}
	}
}

func (c *client) update(action string, collections []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, col := range collections {
		key := strings.ToLower(strings.TrimSpace(col))
		if key == "" {
			continue
		}
		if action == "subscribe" {
			c.subs[key] = true
		} else {
			delete(c.subs, key)
		}
	}
}

func (c *client) wants(collection string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs) == 0 || c.subs[collection]
}

// resume replays sales appended to the durable stream after since.
func (c *client) resume(since string) {
	if c.hub.bus == nil {
		return
	}
	if since == "" {
		since = "0"
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	entries, err := c.hub.bus.StreamRead(ctx, domain.SalesStream, since, maxResume)
	if err != nil {
		c.hub.logger.Warn("resume failed", slog.String("since", since), slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		collection, err := saleCollection(e.Payload)
		if err != nil || !c.wants(collection) {
			continue
		}
		frame, err := json.Marshal(envelope{Type: "sale", ID: e.ID, Payload: e.Payload})
		if err != nil {
			continue
		}
		select {
		case c.hub.direct <- directMsg{c: c, data: frame}:
		case <-c.hub.done:
			return
		}
	}
}

func (c *client) sendStatus() {
	payload, err := json.Marshal(map[string]any{
		"connected":      true,
		"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
		"resumable":      c.hub.bus != nil,
	})
	if err != nil {
		return
	}
	frame, err := json.Marshal(envelope{Type: "status", Payload: payload})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

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
