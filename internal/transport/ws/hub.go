package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MsgRoomsSnapshot MessageType = "rooms_snapshot"
	MsgRoomUpdated   MessageType = "room_updated"
	MsgStepTick      MessageType = "step_tick"
	MsgError         MessageType = "error"
)

// Message is the WebSocket envelope format
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub manages the front-desk terminal connections. Every terminal
// sees every bay, so all room traffic is fanned out to all of them.
type Hub struct {
	terminals map[*Connection]bool

	mu sync.RWMutex

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *Message

	logger *zap.Logger
}

// Connection represents one terminal's WebSocket connection
type Connection struct {
	StationID string
	StaffID   string
	Send      chan []byte
	Hub       *Hub
}

// NewHub creates a new WebSocket hub
func NewHub(logger *zap.Logger) *Hub {
	h := &Hub{
		terminals:  make(map[*Connection]bool),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *Message, 256),
		logger:     logger,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.terminals[conn] = true
			h.mu.Unlock()
			h.logger.Info("terminal connected",
				zap.String("station", conn.StationID), zap.String("staff", conn.StaffID))

		case conn := <-h.unregister:
			h.mu.Lock()
			if h.terminals[conn] {
				delete(h.terminals, conn)
				close(conn.Send)
				h.logger.Info("terminal disconnected",
					zap.String("station", conn.StationID))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for conn := range h.terminals {
				select {
				case conn.Send <- data:
				default:
					// Drop message if buffer full
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// Broadcast sends a message to every connected terminal (implements
// service.Broadcaster).
func (h *Hub) Broadcast(msgType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("broadcast payload marshal failed", zap.Error(err))
		return
	}
	h.broadcast <- &Message{
		Type:    MessageType(msgType),
		Payload: data,
	}
}
