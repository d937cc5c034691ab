package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sales-arena/internal/domain"
)

// Message types
const (
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypePipelineEvent     = "pipeline_event"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypeSubscribed        = "subscribed"
	MessageTypeUnsubscribed      = "unsubscribed"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// TopicLeaderboard carries full ranking snapshots
const TopicLeaderboard = "leaderboard"

// AttendantTopic returns the topic carrying one attendant's pipeline events
func AttendantTopic(attendantID string) string {
	return "attendant:" + attendantID
}

// Message represents a WebSocket message
type Message struct {
	Type      string    `json:"type"`
	Topic     string    `json:"topic,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LeaderboardUpdate contains a committed ranking for broadcast
type LeaderboardUpdate struct {
	Entries         []domain.LeaderboardEntry `json:"entries"`
	TotalAttendants int                       `json:"total_attendants"`
	LastEventID     int64                     `json:"last_event_id"`
}

// Hub maintains the set of active clients and fans committed pipeline
// results out to the topics they subscribed to. Delivery is best effort:
// slow clients miss messages and can catch up from the events feed.
type Hub struct {
	// Subscribed clients by topic
	topics map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	topic  string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		topics:      make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.removeClient(client)

		case req := <-h.subscribe:
			h.setSubscription(req, true)

		case req := <-h.unsubscribe:
			h.setSubscription(req, false)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// removeClient drops client from every topic and closes its send queue,
// which makes its writePump send a close frame.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.allClients[client] {
		return
	}
	delete(h.allClients, client)
	for topic := range h.topics {
		h.dropLocked(topic, client)
	}
	close(client.send)
}

func (h *Hub) setSubscription(req *subscriptionRequest, on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !on {
		h.dropLocked(req.topic, req.client)
		return
	}
	if !h.allClients[req.client] {
		return
	}
	clients, ok := h.topics[req.topic]
	if !ok {
		clients = make(map[*Client]bool)
		h.topics[req.topic] = clients
	}
	clients[req.client] = true
}

func (h *Hub) dropLocked(topic string, client *Client) {
	clients, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.topics, topic)
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the clients subscribed to its topic
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	for client := range h.topics[message.Topic] {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "topic", message.Topic)
	}
}

// OnCommit pushes the events of a committed pipeline run to the owning
// attendants' topics and the new ranking, if any, to the leaderboard topic.
func (h *Hub) OnCommit(_ context.Context, events []domain.PipelineEvent, board []domain.LeaderboardEntry) {
	now := time.Now()
	var lastID int64
	for _, e := range events {
		lastID = max(lastID, e.ID)
		h.enqueue(&Message{
			Type:      MessageTypePipelineEvent,
			Topic:     AttendantTopic(e.AttendantID),
			Data:      e,
			Timestamp: now,
		})
	}
	if board != nil {
		h.BroadcastLeaderboardUpdate(board, lastID)
	}
}

// BroadcastLeaderboardUpdate sends a ranking snapshot to leaderboard subscribers
func (h *Hub) BroadcastLeaderboardUpdate(entries []domain.LeaderboardEntry, lastEventID int64) {
	h.enqueue(&Message{
		Type:  MessageTypeLeaderboardUpdate,
		Topic: TopicLeaderboard,
		Data: LeaderboardUpdate{
			Entries:         entries,
			TotalAttendants: len(entries),
			LastEventID:     lastEventID,
		},
		Timestamp: time.Now(),
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a topic
func (h *Hub) Subscribe(client *Client, topic string) {
	h.subscribe <- &subscriptionRequest{client: client, topic: topic}
}

// Unsubscribe removes a client from a topic
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.unsubscribe <- &subscriptionRequest{client: client, topic: topic}
}

// SubscriberCount returns the number of subscribers for a topic
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// TotalConnections returns the total number of connected clients
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
