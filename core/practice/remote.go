package practice

import (
	"sync"
	"time"

	"countcoach/core/overlay"

	"github.com/google/uuid"
)

// reportMaxAge bounds how old the last transport report may be before the
// transport counts as not ready. A browser posting reports a few times a
// second stays well inside this.
const reportMaxAge = 2 * time.Second

// RemoteTransport tracks the playback position of a transport living on the
// other side of a websocket. Between reports the position is extrapolated
// with wall time while playing; a stale or absent report makes the transport
// not-ready, which the scheduler treats as a skipped tick.
type RemoteTransport struct {
	mu      sync.Mutex
	pos     float64
	clock   float64
	playing bool
	at      time.Time

	now func() time.Time // test hook
}

// NewRemoteTransport creates a transport with no report yet.
func NewRemoteTransport() *RemoteTransport {
	return &RemoteTransport{now: time.Now}
}

// Report installs a fresh transport reading.
func (r *RemoteTransport) Report(pos, clock float64, playing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = pos
	r.clock = clock
	r.playing = playing
	r.at = r.now()
}

// Position implements overlay.Transport.
func (r *RemoteTransport) Position() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.at.IsZero() {
		return 0, false
	}
	elapsed := r.now().Sub(r.at)
	if elapsed > reportMaxAge {
		return 0, false
	}
	if !r.playing {
		return r.pos, true
	}
	return r.pos + elapsed.Seconds(), true
}

// Now implements overlay.Clock by extrapolating the client's audio clock
// from its last report. The periodic re-reads keep drift inside the report
// interval, and the scheduler re-converts on every tick anyway.
func (r *RemoteTransport) Now() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.at.IsZero() {
		return 0
	}
	return r.clock + r.now().Sub(r.at).Seconds()
}

// wsPlayer implements overlay.Player by sending trigger messages to the
// session room; the client performs the actual sound scheduling on its own
// audio clock.
type wsPlayer struct {
	sessionID string
	hub       *Hub
	clock     overlay.Clock
}

func (p *wsPlayer) PlayAt(key string, when float64, gain float64) (overlay.Voice, error) {
	id := uuid.NewString()
	p.hub.Broadcast(p.sessionID, MsgTypeTrigger, TriggerData{
		ID:   id,
		Key:  key,
		At:   when,
		Gain: gain,
	})
	return &wsVoice{id: id, at: when, player: p}, nil
}

// wsVoice is the server-side handle for one remote trigger. Stop tells the
// client to cancel it; the client skips cancels for sounds already finished.
type wsVoice struct {
	id      string
	at      float64
	player  *wsPlayer
	mu      sync.Mutex
	stopped bool
}

func (v *wsVoice) Stop() {
	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return
	}
	v.stopped = true
	v.mu.Unlock()

	v.player.hub.Broadcast(v.player.sessionID, MsgTypeCancel, CancelData{ID: v.id})
}

// Done lets the scheduler prune handles for sounds that must long since have
// played out on the client.
func (v *wsVoice) Done() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped {
		return true
	}
	return v.player.clock.Now() > v.at+2.0
}
