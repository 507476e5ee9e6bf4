package practice

import (
	"encoding/json"
	"sync"

	"countcoach/core/overlay"
	"countcoach/logger"
)

// Runner is the live, websocket-driven side of one practice session: one
// remote transport, one scheduler, one Session controller. The server keeps
// one Runner per session room and routes client messages into it.
type Runner struct {
	Session   *Session
	Transport *RemoteTransport
}

// NewRunner builds the scheduler/session pair for a remote session. base
// supplies the service-wide scheduling knobs; count labels and triggers flow
// back to the room through hub.
func NewRunner(id string, hub *Hub, base overlay.Config, section overlay.Section, cfg Config) *Runner {
	transport := NewRemoteTransport()
	player := &wsPlayer{sessionID: id, hub: hub, clock: transport}

	base.OnCount = func(label string) {
		hub.Broadcast(id, MsgTypeCount, CountData{Label: label})
	}

	sched := overlay.NewScheduler(transport, player, base)
	return &Runner{
		Session:   NewSession(id, sched, base, section, cfg),
		Transport: transport,
	}
}

// HandleMessage routes one client message into the session. Unknown types
// are ignored; malformed payloads are logged and dropped, never fatal.
func (r *Runner) HandleMessage(msg *WSMessage) {
	switch msg.Type {
	case MsgTypePosition:
		var data PositionData
		if !decodeData(msg, &data) {
			return
		}
		r.Transport.Report(data.Position, data.Clock, data.Playing)

	case MsgTypePlay:
		var data PositionData
		if decodeData(msg, &data) {
			r.Transport.Report(data.Position, data.Clock, true)
		}
		r.Session.Play(r.Transport)

	case MsgTypePause:
		r.Session.Pause()

	case MsgTypeSeek:
		var data PositionData
		if decodeData(msg, &data) {
			r.Transport.Report(data.Position, data.Clock, data.Playing)
		}
		r.Session.Seek()

	case MsgTypeConfig:
		var cfg Config
		if !decodeData(msg, &cfg) {
			return
		}
		r.Session.SetConfig(cfg)

	case MsgTypeAnchor:
		var data AnchorData
		if !decodeData(msg, &data) {
			return
		}
		r.Session.SetAnchorTime(data.Time)

	case MsgTypeSection:
		var sec overlay.Section
		if !decodeData(msg, &sec) {
			return
		}
		if sec.Start < sec.End {
			r.Session.SetSection(sec)
		}
	}
}

// Shutdown stops scheduling; called when the last client leaves the room.
func (r *Runner) Shutdown() {
	r.Session.Pause()
}

func decodeData(msg *WSMessage, v interface{}) bool {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		logger.Warn("malformed practice message payload",
			logger.String("type", string(msg.Type)),
			logger.ErrorField(err))
		return false
	}
	return true
}

// Registry holds the live Runner for each session that currently has
// websocket clients.
type Registry struct {
	mu      sync.Mutex
	runners map[string]*Runner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]*Runner)}
}

// GetOrCreate returns the session's runner, building it with create on first
// use.
func (g *Registry) GetOrCreate(sessionID string, create func() *Runner) *Runner {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.runners[sessionID]; ok {
		return r
	}
	r := create()
	g.runners[sessionID] = r
	return r
}

// Get returns the runner for a session, if live.
func (g *Registry) Get(sessionID string) (*Runner, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.runners[sessionID]
	return r, ok
}

// Remove shuts down and forgets a session's runner.
func (g *Registry) Remove(sessionID string) {
	g.mu.Lock()
	r, ok := g.runners[sessionID]
	delete(g.runners, sessionID)
	g.mu.Unlock()
	if ok {
		r.Shutdown()
	}
}
