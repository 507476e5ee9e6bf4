package overlay

import (
	"errors"
	"sync"
	"time"

	"countcoach/logger"
)

// ErrNoSample is returned by a Player when no buffer is loaded for a key.
// The scheduler treats it as a silent no-op for that one trigger.
var ErrNoSample = errors.New("overlay: no sample for key")

// Transport exposes the current playback position in song-absolute seconds.
// ok is false when the transport is not ready; the scheduler skips that tick
// and retries on the next one.
type Transport interface {
	Position() (pos float64, ok bool)
}

// Clock is the playback engine's scheduling clock, in seconds. Trigger
// instants handed to the Player are absolute values of this clock.
type Clock interface {
	Now() float64
}

// Voice is a handle to one scheduled sound instance. Stop must silence the
// instance even if it has not started sounding yet, and must be safe to call
// more than once.
type Voice interface {
	Stop()
}

// Player schedules a sound buffer to begin at an absolute clock instant.
type Player interface {
	PlayAt(key string, when float64, gain float64) (Voice, error)
}

// Config carries the scheduling and mixing knobs for one scheduler.
type Config struct {
	// TickInterval is the polling period. Non-positive disables the
	// internal ticker; the owner drives Tick itself (tests do this).
	TickInterval time.Duration
	// Lookahead is how far ahead of the transport position events are
	// committed to the engine clock.
	Lookahead time.Duration
	// ResumeSlack lets an event marginally behind the start position
	// still fire, so resuming exactly on a beat does not swallow it.
	ResumeSlack time.Duration
	// VoiceAdvance shifts voice triggers early so the spoken digit lands
	// on the beat. Clamped so a trigger is never scheduled in the past.
	VoiceAdvance time.Duration

	Mode         Mode
	ClickGain    float64
	VoiceGain    float64
	VoiceBoost   float64
	DownbeatGain float64

	// OnCount, when set, receives each event's label as it is committed.
	OnCount func(label string)
}

// Scheduler fires overlay events with sub-tick precision while the transport
// plays. It owns its cursor and in-flight voice bookkeeping exclusively; all
// entry points serialize on one mutex, so a tick can never race a stop or a
// restart. Every restart path goes through a full Stop, never an in-place
// patch.
type Scheduler struct {
	mu     sync.Mutex
	clock  Clock
	player Player
	cfg    Config

	events    []Event
	transport Transport
	cursor    int
	running   bool
	aligned   bool
	lastPos   float64

	ticker *time.Ticker
	done   chan struct{}

	voices []Voice
}

// NewScheduler creates an idle scheduler.
func NewScheduler(clock Clock, player Player, cfg Config) *Scheduler {
	return &Scheduler{clock: clock, player: player, cfg: cfg}
}

// Start installs a fresh event list and transport and begins ticking. If a
// session is already running it is fully stopped first, so an old and a new
// session can never overlap. The cursor starts at the first event at or past
// the current transport position, less the resume slack, so resuming
// mid-section does not replay already-passed events.
func (s *Scheduler) Start(events []Event, transport Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	s.events = events
	s.transport = transport
	s.cursor = 0
	s.aligned = false
	if pos, ok := transport.Position(); ok {
		s.alignLocked(pos)
	}
	s.running = true

	if s.cfg.TickInterval > 0 {
		s.ticker = time.NewTicker(s.cfg.TickInterval)
		s.done = make(chan struct{})
		go s.run(s.ticker, s.done)
	}

	logger.Debug("overlay scheduler started",
		logger.Int("events", len(events)),
		logger.Int("cursor", s.cursor))
}

// Stop cancels the tick loop, stops every in-flight voice, and clears the
// session state. It is synchronous: once Stop returns, no further trigger
// calls occur, including ones already committed within the lookahead horizon.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Restart is the seek / config-change path: full stop, then start against
// the (possibly rebuilt) event list and the transport's new position.
func (s *Scheduler) Restart(events []Event, transport Transport) {
	s.Start(events, transport)
}

// SetConfig replaces the scheduling config. It only takes effect on the next
// Start; callers restart the session rather than patching a live one.
func (s *Scheduler) SetConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Running reports whether a scheduling session is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Cursor returns the index of the next unfired event.
func (s *Scheduler) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Scheduler) stopLocked() {
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.done)
		s.ticker = nil
		s.done = nil
	}
	for _, v := range s.voices {
		v.Stop()
	}
	s.voices = nil
	s.events = nil
	s.transport = nil
	s.cursor = 0
	s.aligned = false
	s.lastPos = 0
	s.running = false
}

// alignLocked points the cursor at the first event at or past pos, less the
// resume slack, and records pos as the last observed position.
func (s *Scheduler) alignLocked(pos float64) {
	s.cursor = firstEventAt(s.events, pos-s.cfg.ResumeSlack.Seconds())
	s.lastPos = pos
	s.aligned = true
}

func (s *Scheduler) run(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick reads the transport position once and commits every event inside the
// lookahead horizon to the engine clock. Converting song-relative distance to
// clock-absolute time on every tick, rather than once at start, is what keeps
// the overlay locked to actual playback progress instead of drifting on wall
// time.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	pos, ok := s.transport.Position()
	if !ok {
		// Transport not ready; retry next tick.
		return
	}
	if !s.aligned {
		// Transport was not ready at Start. Align here instead of firing
		// every event before the current position in one burst.
		s.alignLocked(pos)
	} else if pos < s.lastPos-s.cfg.ResumeSlack.Seconds() {
		// The position jumped backward: the section looped back to its
		// start. Realign so the next pass gets counted too.
		s.alignLocked(pos)
	}
	s.lastPos = pos
	now := s.clock.Now()
	horizon := s.cfg.Lookahead.Seconds()

	for s.cursor < len(s.events) && s.events[s.cursor].Time-pos <= horizon {
		ev := s.events[s.cursor]
		s.fireLocked(ev, now+(ev.Time-pos), now)
		if s.cfg.OnCount != nil {
			s.cfg.OnCount(ev.Label)
		}
		s.cursor++
	}
}

// fireLocked dispatches the click and/or voice triggers for one event. A
// missing sample never aborts the tick loop.
func (s *Scheduler) fireLocked(ev Event, at, now float64) {
	if s.cfg.Mode.Click() && ev.Primary {
		s.playLocked(ClickKey, at, s.cfg.ClickGain)
	}
	if s.cfg.Mode.Voice() {
		gain := s.cfg.VoiceGain * s.cfg.VoiceBoost
		if ev.Label == "1" {
			gain *= s.cfg.DownbeatGain
		}
		when := at - s.cfg.VoiceAdvance.Seconds()
		if when < now {
			when = now
		}
		s.playLocked(ev.Label, when, gain)
	}
}

func (s *Scheduler) playLocked(key string, when, gain float64) {
	v, err := s.player.PlayAt(key, when, gain)
	if err != nil {
		if !errors.Is(err, ErrNoSample) {
			logger.Warn("overlay trigger failed",
				logger.String("key", key),
				logger.ErrorField(err))
		}
		return
	}
	if len(s.voices) >= 128 {
		s.pruneVoicesLocked()
	}
	s.voices = append(s.voices, v)
}

// pruneVoicesLocked drops handles whose sound has already finished, so a
// multi-minute session does not accumulate one handle per trigger.
func (s *Scheduler) pruneVoicesLocked() {
	kept := s.voices[:0]
	for _, v := range s.voices {
		if d, ok := v.(interface{ Done() bool }); ok && d.Done() {
			continue
		}
		kept = append(kept, v)
	}
	s.voices = kept
}

// firstEventAt returns the index of the first event whose time is >= t.
func firstEventAt(events []Event, t float64) int {
	lo, hi := 0, len(events)
	for lo < hi {
		mid := (lo + hi) / 2
		if events[mid].Time < t {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
