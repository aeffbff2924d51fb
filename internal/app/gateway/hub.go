package gateway

import (
	"encoding/json"
	"sync"

	"restaurant-sync/internal/common/logger"
	"restaurant-sync/internal/notify"
)

// Client is one connected browser session. Send is drained by the session's
// writer goroutine; a full buffer drops the message rather than blocking the
// broadcast path.
type Client struct {
	ID    string
	Send  chan []byte
	Topic notify.Topic
}

// Hub fans envelopes out to browser clients by topic. Each client holds at
// most one topic; subscribing again replaces it.
type Hub struct {
	lg *logger.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

// ControlMessage is what browsers send over the socket to pick a topic.
type ControlMessage struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

func NewHub(lg *logger.Logger) *Hub {
	return &Hub{lg: lg, clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) SetTopic(client *Client, topic notify.Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Topic = topic
}

// Broadcast delivers payload to every client whose topic matches.
func (h *Hub) Broadcast(topic notify.Topic, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.Topic != topic {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.lg.Debug("client_send_dropped", map[string]any{"client_id": client.ID, "topic": string(topic)})
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ParseControl recognizes subscribe/unsubscribe frames; anything else is
// ignored by the session loop.
func ParseControl(data []byte) (ControlMessage, bool) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ControlMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return ControlMessage{}, false
	}
	return msg, true
}
