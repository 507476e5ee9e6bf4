// Package practice wires timeline, event building and the overlay scheduler
// into a controlled session: every input change flows through an explicit
// rebuild-and-restart, never implicit propagation.
package practice

import (
	"sync"

	"countcoach/core/overlay"
	"countcoach/core/timeline"
	"countcoach/logger"
)

// Config is the user-facing overlay configuration for one session.
type Config struct {
	Mode           overlay.Mode        `json:"mode"`
	CountsPerCycle int                 `json:"countsPerCycle"`
	Subdivision    overlay.Subdivision `json:"subdivision"`
	ClickGain      float64             `json:"clickGain"`
	VoiceGain      float64             `json:"voiceGain"`
}

// Normalize fills invalid fields with defaults. CountsPerCycle is 4 or 8.
func (c Config) Normalize() Config {
	if !c.Mode.Valid() {
		c.Mode = overlay.ModeBoth
	}
	if c.CountsPerCycle != 4 && c.CountsPerCycle != 8 {
		c.CountsPerCycle = 8
	}
	if !c.Subdivision.Valid() {
		c.Subdivision = overlay.SubdivisionNone
	}
	if c.ClickGain <= 0 {
		c.ClickGain = 1.0
	}
	if c.VoiceGain <= 0 {
		c.VoiceGain = 1.0
	}
	return c
}

// affectsEvents reports whether switching from c to next changes the derived
// event list (as opposed to only dispatch gains/channels).
func (c Config) affectsEvents(next Config) bool {
	return c.CountsPerCycle != next.CountsPerCycle || c.Subdivision != next.Subdivision
}

// Session owns one practice run: the current beat timeline, section window,
// overlay config and anchor, plus the scheduler driving the overlay. All
// mutation goes through Set* methods, which diff their input, rebuild the
// derived event list when needed, and restart the scheduler if it is running.
type Session struct {
	mu sync.Mutex

	ID string

	beats      timeline.BeatTimeline
	section    overlay.Section
	cfg        Config
	anchorTime *float64
	anchor     int

	events []overlay.Event

	sched     *overlay.Scheduler
	schedBase overlay.Config
	transport overlay.Transport
	playing   bool

	status string
}

// NewSession creates a stopped session. schedBase carries the service-wide
// scheduling knobs (tick, lookahead, boost...); per-session mode and gains
// are layered on top at start time.
func NewSession(id string, sched *overlay.Scheduler, schedBase overlay.Config, section overlay.Section, cfg Config) *Session {
	s := &Session{
		ID:        id,
		sched:     sched,
		schedBase: schedBase,
		section:   section,
		cfg:       cfg.Normalize(),
	}
	s.rebuildLocked()
	return s
}

// SetTimeline replaces the beat timeline wholesale (a fresh analysis result
// arrived). A previously chosen anchor time is re-resolved against the new
// beats so the anchor sticks to the same musical beat even though its index
// may shift.
func (s *Session) SetTimeline(beats []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.beats = timeline.NewBeatTimeline(beats)
	s.resolveAnchorLocked()
	s.rebuildLocked()
	s.restartLocked()

	if s.beats.Empty() {
		s.status = "no beats detected; overlay disabled"
	} else {
		s.status = ""
	}
}

// SetSection moves the loop window.
func (s *Session) SetSection(section overlay.Section) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.section == section {
		return
	}
	s.section = section
	s.rebuildLocked()
	s.restartLocked()
}

// SetConfig applies a new overlay config. Changes that alter the event list
// rebuild it; any change at all restarts a running scheduler, since dispatch
// channels and gains are installed at session start rather than patched live.
func (s *Session) SetConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg = cfg.Normalize()
	if s.cfg == cfg {
		return
	}
	rebuild := s.cfg.affectsEvents(cfg)
	s.cfg = cfg
	if rebuild {
		s.rebuildLocked()
	}
	s.restartLocked()
}

// SetAnchorTime snaps the count-"1" anchor to the beat nearest t.
func (s *Session) SetAnchorTime(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.anchorTime = &t
	old := s.anchor
	s.resolveAnchorLocked()
	if s.anchor == old {
		return
	}
	s.rebuildLocked()
	s.restartLocked()
}

// Play starts overlay scheduling against the given transport.
func (s *Session) Play(transport overlay.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transport = transport
	s.playing = true
	s.sched.SetConfig(s.schedConfigLocked())
	s.sched.Start(s.events, transport)
}

// Pause stops scheduling and releases all in-flight overlay sounds. The
// transport position is the transport's business; only the overlay stops.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = false
	s.sched.Stop()
}

// Seek restarts the scheduling session so the cursor re-aligns with the
// transport's new position. Call after the transport has moved.
func (s *Session) Seek() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restartLocked()
}

// Events returns a copy of the current derived event list.
func (s *Session) Events() []overlay.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]overlay.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Anchor returns the current anchor index.
func (s *Session) Anchor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anchor
}

// Status returns the last surfaced status message, empty when healthy.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Config returns the session's current overlay config.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Session) resolveAnchorLocked() {
	if s.anchorTime == nil {
		s.anchor = timeline.ClampAnchor(s.beats, s.anchor)
		return
	}
	idx := timeline.ResolveAnchor(s.beats, *s.anchorTime)
	if idx < 0 {
		// Empty timeline: anchoring is undefined, fall back to 0.
		s.anchor = 0
		return
	}
	s.anchor = idx
}

func (s *Session) rebuildLocked() {
	s.events = overlay.Build(s.beats, s.anchor, s.section, s.cfg.CountsPerCycle, s.cfg.Subdivision)
	logger.Debug("event list rebuilt",
		logger.String("session", s.ID),
		logger.Int("events", len(s.events)),
		logger.Int("anchor", s.anchor))
}

func (s *Session) restartLocked() {
	if !s.playing || s.transport == nil {
		return
	}
	s.sched.SetConfig(s.schedConfigLocked())
	s.sched.Restart(s.events, s.transport)
}

func (s *Session) schedConfigLocked() overlay.Config {
	cfg := s.schedBase
	cfg.Mode = s.cfg.Mode
	cfg.ClickGain = s.cfg.ClickGain
	cfg.VoiceGain = s.cfg.VoiceGain
	return cfg
}
