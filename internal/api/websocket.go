package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/atlas-desktop/adaptive-backend/internal/events"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType represents WebSocket message types
type MessageType string

const (
	MsgTypeMarketEvent  MessageType = "market_event"
	MsgTypeAdjustment   MessageType = "adjustment"
	MsgTypeHeartbeat    MessageType = "heartbeat"
	MsgTypeError        MessageType = "error"
	MsgTypeSubscribe    MessageType = "subscribe"
	MsgTypeUnsubscribe  MessageType = "unsubscribe"
	MsgTypeSubscribed   MessageType = "subscribed"
	MsgTypeUnsubscribed MessageType = "unsubscribed"
)

// Channel names. Symbol-scoped channels append ":<symbol>".
const (
	ChannelEvents      = "events"
	ChannelAdjustments = "adjustments"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// ErrTooManyClients is returned when the hub is at capacity
var ErrTooManyClients = errors.New("too many websocket clients")

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Client represents a WebSocket client
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.Mutex
	subscriptions map[string]bool
}

// Hub fans feed messages out to WebSocket clients by channel
type Hub struct {
	logger     *zap.Logger
	maxClients int

	mu       sync.RWMutex
	clients  map[*Client]bool
	channels map[string]map[*Client]bool
}

// NewHub creates a new WebSocket hub. maxClients <= 0 means unlimited.
func NewHub(logger *zap.Logger, maxClients int) *Hub {
	return &Hub{
		logger:     logger,
		maxClients: maxClients,
		clients:    make(map[*Client]bool),
		channels:   make(map[string]map[*Client]bool),
	}
}

// Run relays feed messages to subscribed clients and sends heartbeats until
// ctx is done or the feed closes. All clients are disconnected on return.
func (h *Hub) Run(ctx context.Context, feed *events.Feed) {
	sub := feed.Subscribe(0)
	defer feed.Unsubscribe(sub)
	defer h.closeAll()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			h.Relay(msg)

		case <-heartbeat.C:
			h.broadcast(MsgTypeHeartbeat, map[string]interface{}{
				"clients": h.ClientCount(),
			})
		}
	}
}

// Relay publishes one feed message to its global and symbol channels
func (h *Hub) Relay(msg events.Message) {
	switch {
	case msg.Event != nil:
		h.PublishToChannel(ChannelEvents, MsgTypeMarketEvent, msg.Event)
		h.PublishToChannel(ChannelEvents+":"+msg.Symbol, MsgTypeMarketEvent, msg.Event)
	case msg.Transition != nil:
		h.PublishToChannel(ChannelAdjustments, MsgTypeAdjustment, msg.Transition)
		h.PublishToChannel(ChannelAdjustments+":"+msg.Symbol, MsgTypeAdjustment, msg.Transition)
	}
}

// Register adds a client connection to the hub
func (h *Hub) Register(conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.maxClients > 0 && len(h.clients) >= h.maxClients {
		return nil, ErrTooManyClients
	}

	client := &Client{
		ID:            uuid.New().String(),
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		subscriptions: make(map[string]bool),
	}
	h.clients[client] = true

	h.logger.Info("Client connected",
		zap.String("clientId", client.ID),
		zap.Int("totalClients", len(h.clients)),
	)
	return client, nil
}

// Unregister removes a client and all its subscriptions
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	for channel, subs := range h.channels {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}

	h.logger.Info("Client disconnected",
		zap.String("clientId", client.ID),
		zap.Int("totalClients", len(h.clients)),
	)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.removeLocked(client)
	}
}

// Subscribe subscribes a client to a channel
func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true

	client.mu.Lock()
	client.subscriptions[channel] = true
	client.mu.Unlock()

	h.logger.Debug("Client subscribed",
		zap.String("clientId", client.ID),
		zap.String("channel", channel),
	)
}

// Unsubscribe unsubscribes a client from a channel
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.channels[channel]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}

	client.mu.Lock()
	delete(client.subscriptions, channel)
	client.mu.Unlock()
}

// PublishToChannel sends a message to every client subscribed to channel.
// Clients whose send buffer is full miss the message.
func (h *Hub) PublishToChannel(channel string, msgType MessageType, data interface{}) {
	body, err := encodeMessage(msgType, channel, data)
	if err != nil {
		h.logger.Error("Failed to encode websocket message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.channels[channel] {
		select {
		case client.send <- body:
		default:
			h.logger.Warn("Client send buffer full, dropping message",
				zap.String("clientId", client.ID),
				zap.String("channel", channel),
			)
		}
	}
}

func (h *Hub) broadcast(msgType MessageType, data interface{}) {
	body, err := encodeMessage(msgType, "", data)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- body:
		default:
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ChannelCount returns the number of subscribers of a channel
func (h *Hub) ChannelCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func encodeMessage(msgType MessageType, channel string, data interface{}) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(WSMessage{
		Type:      msgType,
		Channel:   channel,
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Subscriptions returns the channels the client is subscribed to
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		out = append(out, ch)
	}
	return out
}

// reply queues a direct message to this client. The hub read lock keeps the
// send channel from being closed underneath it.
func (c *Client) reply(msgType MessageType, channel string, data interface{}) {
	body, err := encodeMessage(msgType, channel, data)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- body:
	default:
	}
}

// ReadPump pumps subscription requests from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.reply(MsgTypeError, "", map[string]string{"error": "invalid message"})
			continue
		}
		if msg.Channel == "" {
			c.reply(MsgTypeError, "", map[string]string{"error": "channel required"})
			continue
		}

		switch msg.Type {
		case MsgTypeSubscribe:
			c.hub.Subscribe(c, msg.Channel)
			c.reply(MsgTypeSubscribed, msg.Channel, nil)
		case MsgTypeUnsubscribe:
			c.hub.Unsubscribe(c, msg.Channel)
			c.reply(MsgTypeUnsubscribed, msg.Channel, nil)
		default:
			c.reply(MsgTypeError, msg.Channel, map[string]string{"error": "unknown message type"})
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
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
