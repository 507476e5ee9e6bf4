package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"countcoach/cache"
	"countcoach/core/auth"
	"countcoach/core/overlay"
	"countcoach/core/practice"
	"countcoach/logger"
	"countcoach/model"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 54 * time.Second
	wsMaxMessageSize = 4096
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// PracticeWSHandler attaches a websocket client to a practice session room.
// The session owner's connection drives the overlay (transport reports,
// config changes); other connections only observe count and trigger traffic.
// Authentication uses a ?token= query parameter since browsers cannot set
// headers on websocket upgrades.
func (h *APIHandler) PracticeWSHandler(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.ParseToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	sessionID := mux.Vars(r)["id"]
	session, err := h.sessionRepo.GetByID(r.Context(), sessionID)
	if err != nil || session == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	runner := h.registry.GetOrCreate(sessionID, func() *practice.Runner {
		return h.buildRunner(session)
	})

	client := &practice.Client{
		Hub:       h.hub,
		Conn:      conn,
		Send:      make(chan []byte, 64),
		SessionID: sessionID,
		UserID:    claims.UserID,
		Driver:    claims.UserID == session.UserID,
	}
	h.hub.Register(client)

	if msg := runner.Session.Status(); msg != "" {
		h.hub.Broadcast(sessionID, practice.MsgTypeStatus, practice.StatusData{Message: msg})
	}

	go h.writePump(client)
	h.readPump(client, runner)
}

// buildRunner constructs the live side of a session from its persisted form,
// seeding the beat timeline from the analysis cache when one exists.
func (h *APIHandler) buildRunner(session *model.PracticeSession) *practice.Runner {
	section := overlay.Section{Start: session.SectionStart, End: session.SectionEnd}
	cfg := practice.Config{
		Mode:           overlay.Mode(session.Mode),
		CountsPerCycle: session.CountsPerCycle,
		Subdivision:    overlay.Subdivision(session.Subdivision),
		ClickGain:      session.ClickGain,
		VoiceGain:      session.VoiceGain,
	}

	runner := practice.NewRunner(session.ID, h.hub, h.schedBase(), section, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := cache.GetAnalysis(ctx, session.TrackID, session.SectionStart, session.SectionEnd)
	if err != nil {
		logger.Warn("analysis cache read failed", logger.ErrorField(err))
	}
	if result != nil {
		runner.Session.SetTimeline(result.BeatTimes)
	}
	if session.AnchorTime != nil {
		runner.Session.SetAnchorTime(*session.AnchorTime)
	}
	return runner
}

// readPump reads client messages until the connection drops. Runs on the
// handler goroutine; tears the room down when the last client leaves.
func (h *APIHandler) readPump(client *practice.Client, runner *practice.Runner) {
	defer func() {
		h.hub.Unregister(client)
		client.Conn.Close()
		if h.hub.RoomEmpty(client.SessionID) {
			h.registry.Remove(client.SessionID)
		}
	}()

	client.Conn.SetReadLimit(wsMaxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, raw, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("practice websocket closed unexpectedly",
					logger.String("session", client.SessionID),
					logger.ErrorField(err))
			}
			return
		}

		var msg practice.WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warn("malformed practice message",
				logger.String("session", client.SessionID),
				logger.ErrorField(err))
			continue
		}

		if msg.Type == practice.MsgTypePing {
			h.sendMessage(client, practice.MsgTypePong, nil)
			continue
		}
		// Observers cannot drive the session.
		if !client.Driver {
			continue
		}
		runner.HandleMessage(&msg)
	}
}

// writePump forwards hub messages to the websocket and keeps the connection
// alive with pings.
func (h *APIHandler) writePump(client *practice.Client) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendMessage writes one message directly to a single client.
func (h *APIHandler) sendMessage(client *practice.Client, msgType practice.MessageType, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	msg := practice.WSMessage{
		Type:      msgType,
		SessionID: client.SessionID,
		Data:      payload,
		Timestamp: time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case client.Send <- raw:
	default:
	}
}
