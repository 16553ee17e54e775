package realtime

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Client is one live websocket connection. A user with several open tabs
// has one Client per tab.
type Client struct {
	ID     string
	UserID uuid.UUID
	Conn   *WebSocketConn
	Send   chan []byte
}

// Hub indexes live connections by user so chat messages and notifications
// reach every open tab of the recipient.
type Hub struct {
	mu         sync.RWMutex
	byUser     map[uuid.UUID]map[string]*Client
	register   chan *Client
	unregister chan *Client
}

func NewHub() *Hub {
	return &Hub{
		byUser:     make(map[uuid.UUID]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) RegisterClient(client *Client) {
	h.register <- client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

// SendToUser pushes a payload to every live connection of one user.
func (h *Hub) SendToUser(userID uuid.UUID, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("realtime: marshal push payload: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.byUser[userID] {
		select {
		case client.Send <- payload:
		default:
			// slow consumer, drop instead of blocking
		}
	}
}

// SendToConversation delivers to both participants.
func (h *Hub) SendToConversation(clientID, freelancerID uuid.UUID, data interface{}) {
	h.SendToUser(clientID, data)
	h.SendToUser(freelancerID, data)
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			conns := h.byUser[client.UserID]
			if conns == nil {
				conns = make(map[string]*Client)
				h.byUser[client.UserID] = conns
			}
			conns[client.ID] = client
			h.mu.Unlock()
			log.Printf("realtime: client connected (user %s)", client.UserID)

		case client := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.byUser[client.UserID]; ok {
				if old, ok := conns[client.ID]; ok {
					delete(conns, client.ID)
					close(old.Send)
				}
				if len(conns) == 0 {
					delete(h.byUser, client.UserID)
				}
			}
			h.mu.Unlock()
		}
	}
}
