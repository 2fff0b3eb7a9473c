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

	"github.com/alanyoungcy/mevbot/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Channels are the bus channels relayed to WebSocket clients.
var Channels = []string{
	domain.ChannelOpportunities,
	domain.ChannelPositions,
	domain.ChannelStats,
	domain.ChannelPrices,
	domain.ChannelStatus,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Envelope is the frame written to clients.
type Envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	subs map[string]bool
}

// subscribeMsg is sent by clients to change their channel set:
// {"action":"subscribe","channels":["positions"]}.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// Hub fans bus messages out to connected WebSocket clients.
type Hub struct {
	bus        domain.SignalBus
	status     func() any
	logger     *slog.Logger
	register   chan *client
	unregister chan *client
	broadcast  chan Envelope

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a hub relaying bus. status, if non-nil, supplies the
// snapshot sent to each client on connect.
func NewHub(bus domain.SignalBus, status func() any, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		status:     status,
		logger:     logger.With(slog.String("component", "ws_hub")),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Envelope, 256),
		clients:    make(map[*client]bool),
	}
}

// Run subscribes to every relayed channel and serves clients until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range Channels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			h.logger.ErrorContext(ctx, "subscribe failed",
				slog.String("channel", ch),
				slog.String("error", err.Error()),
			)
			continue
		}
		go h.relay(ctx, ch, msgs)
	}

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
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("clients", n))

		case env := <-h.broadcast:
			frame, err := json.Marshal(env)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.subscribed(env.Channel) {
					continue
				}
				select {
				case c.send <- frame:
				default:
					h.logger.Warn("dropping message for slow client", slog.String("channel", env.Channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) relay(ctx context.Context, channel string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				return
			}
			if !json.Valid(data) {
				data, _ = json.Marshal(string(data))
			}
			select {
			case h.broadcast <- Envelope{Channel: channel, Data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and subscribes the client to every channel.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(Channels)),
	}
	for _, ch := range Channels {
		c.subs[ch] = true
	}

	h.register <- c
	c.sendStatus()

	go c.writePump()
	go c.readPump()
}

func (c *client) sendStatus() {
	if c.hub.status == nil {
		return
	}
	data, err := json.Marshal(c.hub.status())
	if err != nil {
		return
	}
	frame, err := json.Marshal(Envelope{Channel: domain.ChannelStatus, Data: data})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range msg.Channels {
		switch msg.Action {
		case "subscribe":
			if slices.Contains(Channels, ch) {
				c.subs[ch] = true
			}
		case "unsubscribe":
			delete(c.subs, ch)
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(message, &msg) == nil && msg.Action != "" {
			c.apply(msg)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
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
