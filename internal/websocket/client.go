package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the feed is read-only and unauthenticated
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one feed subscriber. Every queued payload is written as its own
// text frame, so each frame is a single JSON Message.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// ClientMessage is a subscription command sent by a client
type ClientMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
}

// validTopic accepts the leaderboard topic and per-attendant topics
func validTopic(topic string) bool {
	if topic == TopicLeaderboard {
		return true
	}
	id, ok := strings.CutPrefix(topic, AttendantTopic(""))
	return ok && id != ""
}

// NewClient wraps an upgraded connection
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger.With("client_id", id),
	}
}

// readPump handles subscription commands until the connection fails
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd ClientMessage
		if err := c.conn.ReadJSON(&cmd); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.reply(Message{Type: MessageTypeError, Data: map[string]string{"error": "invalid message format"}})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		c.handle(cmd)
	}
}

func (c *Client) handle(cmd ClientMessage) {
	switch cmd.Type {
	case MessageTypeSubscribe:
		if !validTopic(cmd.Topic) {
			c.reply(Message{Type: MessageTypeError, Data: map[string]string{
				"error": `topic must be "leaderboard" or "attendant:<id>"`,
			}})
			return
		}
		c.hub.Subscribe(c, cmd.Topic)
		c.reply(Message{Type: MessageTypeSubscribed, Topic: cmd.Topic})

	case MessageTypeUnsubscribe:
		if cmd.Topic == "" {
			return
		}
		c.hub.Unsubscribe(c, cmd.Topic)
		c.reply(Message{Type: MessageTypeUnsubscribed, Topic: cmd.Topic})

	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong})

	default:
		c.logger.Debug("ignoring client message", "type", cmd.Type)
	}
}

// reply queues a direct response; it is dropped when the client is backlogged
func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump drains the send queue and keeps the connection alive
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// ServeWs upgrades the request and subscribes the client to the topics in
// the topic query parameter, or to the leaderboard when none is given.
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	topics := r.URL.Query()["topic"]
	for _, t := range topics {
		if !validTopic(t) {
			http.Error(w, "invalid topic", http.StatusBadRequest)
			return
		}
	}
	if len(topics) == 0 {
		topics = []string{TopicLeaderboard}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)
	for _, t := range topics {
		hub.Subscribe(client, t)
	}

	go client.writePump()
	go client.readPump()

	client.logger.Debug("websocket connected", "topics", topics)
}
