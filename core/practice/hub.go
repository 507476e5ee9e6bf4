package practice

import (
	"encoding/json"
	"sync"
	"time"

	"countcoach/logger"

	"github.com/gorilla/websocket"
)

// MessageType names a websocket message.
type MessageType string

const (
	// Connection lifecycle.
	MsgTypeJoin  MessageType = "join"
	MsgTypeError MessageType = "error"
	MsgTypePing  MessageType = "ping"
	MsgTypePong  MessageType = "pong"

	// Client -> server: transport and configuration.
	MsgTypePlay     MessageType = "play"     // transport started
	MsgTypePause    MessageType = "pause"    // transport paused / ended
	MsgTypeSeek     MessageType = "seek"     // transport jumped
	MsgTypePosition MessageType = "position" // periodic transport report
	MsgTypeConfig   MessageType = "config"   // overlay config update
	MsgTypeAnchor   MessageType = "anchor"   // set count-"1" anchor time
	MsgTypeSection  MessageType = "section"  // move the loop window

	// Server -> client.
	MsgTypeCount   MessageType = "count"   // current count label, for display
	MsgTypeTrigger MessageType = "trigger" // schedule a sound on the client clock
	MsgTypeCancel  MessageType = "cancel"  // cancel a scheduled sound
	MsgTypeStatus  MessageType = "status"  // surfaced status message
)

// WSMessage is the envelope for every practice websocket message.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// PositionData is a transport report: song position plus the client's audio
// clock reading taken at the same instant.
type PositionData struct {
	Position float64 `json:"position"`
	Clock    float64 `json:"clock"`
	Playing  bool    `json:"playing"`
}

// SeekData carries the transport position after a jump.
type SeekData struct {
	Position float64 `json:"position"`
}

// TriggerData schedules one overlay sound on the client's audio clock.
type TriggerData struct {
	ID   string  `json:"id"`
	Key  string  `json:"key"`
	At   float64 `json:"at"`
	Gain float64 `json:"gain"`
}

// CancelData cancels a previously sent trigger.
type CancelData struct {
	ID string `json:"id"`
}

// CountData carries the current count label for display.
type CountData struct {
	Label string `json:"label"`
}

// AnchorData carries a user-chosen "this is count 1" time.
type AnchorData struct {
	Time float64 `json:"time"`
}

// StatusData carries a user-facing status message.
type StatusData struct {
	Message string `json:"message"`
}

// Client is one websocket connection attached to a practice session.
type Client struct {
	Hub       *Hub
	Conn      *websocket.Conn
	Send      chan []byte
	SessionID string
	UserID    int64
	// Driver marks the connection whose transport reports drive the
	// session; observers only receive count/trigger traffic.
	Driver bool
}

// BroadcastMessage targets every client in one session room.
type BroadcastMessage struct {
	SessionID string
	Message   []byte
}

// Hub tracks websocket clients per practice session and broadcasts overlay
// traffic to them. One goroutine owns all registration state, in the style
// of a chat-room hub.
type Hub struct {
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	mu   sync.RWMutex
	done chan struct{}
}

// NewHub creates a hub. Call Run in a goroutine.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastToSession(msg)

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop shuts the hub down.
func (h *Hub) Stop() {
	close(h.done)
}

// Register queues a client for registration.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister queues a client for removal.
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// Broadcast sends a typed message to every client in a session room.
func (h *Hub) Broadcast(sessionID string, msgType MessageType, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		logger.Error("marshal broadcast data failed", logger.ErrorField(err))
		return
	}
	msg := WSMessage{
		Type:      msgType,
		SessionID: sessionID,
		Data:      payload,
		Timestamp: time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		logger.Error("marshal broadcast message failed", logger.ErrorField(err))
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{SessionID: sessionID, Message: raw}:
	default:
		logger.Warn("hub broadcast channel full, dropping message",
			logger.String("session", sessionID),
			logger.String("type", string(msgType)))
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[client.SessionID] == nil {
		h.rooms[client.SessionID] = make(map[*Client]bool)
	}
	h.rooms[client.SessionID][client] = true

	logger.Info("practice client registered",
		logger.String("session", client.SessionID),
		logger.Int64("user", client.UserID),
		logger.Bool("driver", client.Driver))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.rooms[client.SessionID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.Send)
			if len(clients) == 0 {
				delete(h.rooms, client.SessionID)
			}
		}
	}

	logger.Info("practice client unregistered",
		logger.String("session", client.SessionID),
		logger.Int64("user", client.UserID))
}

func (h *Hub) broadcastToSession(msg *BroadcastMessage) {
	h.mu.RLock()
	clients, ok := h.rooms[msg.SessionID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	// Copy so we do not hold the lock while sending.
	clientList := make([]*Client, 0, len(clients))
	for client := range clients {
		clientList = append(clientList, client)
	}
	h.mu.RUnlock()

	for _, client := range clientList {
		select {
		case client.Send <- msg.Message:
		default:
			// Slow client; drop the message rather than block the hub.
			logger.Warn("dropping message to slow practice client",
				logger.String("session", client.SessionID),
				logger.Int64("user", client.UserID))
		}
	}
}

// RoomEmpty reports whether a session room has no clients left.
func (h *Hub) RoomEmpty(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID]) == 0
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, clients := range h.rooms {
		for client := range clients {
			close(client.Send)
		}
		delete(h.rooms, id)
	}
}
