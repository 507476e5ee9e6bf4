package overlay

import (
	"testing"
	"time"
)

// fakeTransport is a settable transport position.
type fakeTransport struct {
	pos float64
	ok  bool
}

func (f *fakeTransport) Position() (float64, bool) { return f.pos, f.ok }

// fakePlayer records every trigger and hands out stoppable voices.
type fakePlayer struct {
	clock    float64
	triggers []trigger
	voices   []*fakeVoice
}

type trigger struct {
	key  string
	when float64
	gain float64
}

type fakeVoice struct {
	stopped bool
}

func (v *fakeVoice) Stop() { v.stopped = true }

func (p *fakePlayer) Now() float64 { return p.clock }

func (p *fakePlayer) PlayAt(key string, when, gain float64) (Voice, error) {
	p.triggers = append(p.triggers, trigger{key: key, when: when, gain: gain})
	v := &fakeVoice{}
	p.voices = append(p.voices, v)
	return v, nil
}

func testConfig() Config {
	return Config{
		// TickInterval 0: tests drive Tick directly.
		Lookahead:    250 * time.Millisecond,
		ResumeSlack:  30 * time.Millisecond,
		VoiceAdvance: 70 * time.Millisecond,
		Mode:         ModeBoth,
		ClickGain:    1.0,
		VoiceGain:    1.0,
		VoiceBoost:   1.8,
		DownbeatGain: 1.7,
	}
}

func testEvents() []Event {
	return []Event{
		{Time: 1.0, Label: "1", Primary: true},
		{Time: 1.5, Label: "2", Primary: true},
		{Time: 2.0, Label: "3", Primary: true},
	}
}

func TestSchedulerFiresWithinHorizon(t *testing.T) {
	transport := &fakeTransport{pos: 0.9, ok: true}
	player := &fakePlayer{clock: 10.0}
	s := NewScheduler(player, player, testConfig())

	s.Start(testEvents(), transport)
	s.Tick()

	// pos 0.9 + 250ms horizon covers the 1.0 event only.
	if len(player.triggers) != 2 { // click + voice for "1"
		t.Fatalf("expected 2 triggers, got %d: %v", len(player.triggers), player.triggers)
	}
	if s.Cursor() != 1 {
		t.Fatalf("expected cursor 1, got %d", s.Cursor())
	}
}

func TestSchedulerTriggerInstants(t *testing.T) {
	transport := &fakeTransport{pos: 0.9, ok: true}
	player := &fakePlayer{clock: 10.0}
	s := NewScheduler(player, player, testConfig())

	s.Start(testEvents(), transport)
	s.Tick()

	// Event at 1.0, position 0.9: the event is 0.1s ahead, so the click
	// lands at clock 10.1 and the voice 70ms earlier.
	var click, voice *trigger
	for i := range player.triggers {
		switch player.triggers[i].key {
		case ClickKey:
			click = &player.triggers[i]
		case "1":
			voice = &player.triggers[i]
		}
	}
	if click == nil || voice == nil {
		t.Fatalf("missing click or voice trigger: %v", player.triggers)
	}
	if diff := click.when - 10.1; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("click instant: expected 10.1, got %v", click.when)
	}
	if diff := voice.when - 10.03; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("voice instant: expected 10.03, got %v", voice.when)
	}
}

func TestSchedulerVoiceAdvanceClamped(t *testing.T) {
	// Event almost on top of the position: the advanced voice instant would
	// land in the past and must clamp to now.
	transport := &fakeTransport{pos: 0.99, ok: true}
	player := &fakePlayer{clock: 10.0}
	s := NewScheduler(player, player, testConfig())

	s.Start([]Event{{Time: 1.0, Label: "2", Primary: true}}, transport)
	s.Tick()

	for _, tr := range player.triggers {
		if tr.key == "2" && tr.when < 10.0 {
			t.Fatalf("voice scheduled in the past: %v", tr.when)
		}
	}
}

func TestSchedulerGains(t *testing.T) {
	transport := &fakeTransport{pos: 0.9, ok: true}
	player := &fakePlayer{clock: 0}
	cfg := testConfig()
	cfg.Lookahead = 2 * time.Second
	s := NewScheduler(player, player, cfg)

	s.Start(testEvents(), transport)
	s.Tick()

	for _, tr := range player.triggers {
		switch tr.key {
		case ClickKey:
			if tr.gain != 1.0 {
				t.Fatalf("click gain: expected 1.0, got %v", tr.gain)
			}
		case "1":
			// Downbeat: voice gain x boost x accent.
			want := 1.0 * 1.8 * 1.7
			if diff := tr.gain - want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("downbeat gain: expected %v, got %v", want, tr.gain)
			}
		case "2", "3":
			want := 1.0 * 1.8
			if diff := tr.gain - want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("voice gain for %s: expected %v, got %v", tr.key, want, tr.gain)
			}
		}
	}
}

func TestSchedulerClickOnlySkipsSubdivisions(t *testing.T) {
	transport := &fakeTransport{pos: 0.0, ok: true}
	player := &fakePlayer{clock: 0}
	cfg := testConfig()
	cfg.Mode = ModeClick
	cfg.Lookahead = 5 * time.Second
	s := NewScheduler(player, player, cfg)

	events := []Event{
		{Time: 1.0, Label: "1", Primary: true},
		{Time: 1.25, Label: AndLabel, Primary: false},
		{Time: 1.5, Label: "2", Primary: true},
	}
	s.Start(events, transport)
	s.Tick()

	// Click mode: primaries click, the "&" produces nothing.
	if len(player.triggers) != 2 {
		t.Fatalf("expected 2 click triggers, got %d: %v", len(player.triggers), player.triggers)
	}
	for _, tr := range player.triggers {
		if tr.key != ClickKey {
			t.Fatalf("unexpected trigger key %q in click mode", tr.key)
		}
	}
}

func TestSchedulerResumeSkipsPassedEvents(t *testing.T) {
	transport := &fakeTransport{pos: 1.6, ok: true}
	player := &fakePlayer{clock: 0}
	s := NewScheduler(player, player, testConfig())

	s.Start(testEvents(), transport)

	// Events at 1.0 and 1.5 are behind position 1.6 (beyond the 30ms
	// slack); the cursor must start at the 2.0 event.
	if s.Cursor() != 2 {
		t.Fatalf("expected cursor 2 after resume, got %d", s.Cursor())
	}
}

func TestSchedulerResumeSlackKeepsBoundaryEvent(t *testing.T) {
	// Position just past an event, within the slack: the event still fires.
	transport := &fakeTransport{pos: 1.52, ok: true}
	player := &fakePlayer{clock: 0}
	s := NewScheduler(player, player, testConfig())

	s.Start(testEvents(), transport)
	if s.Cursor() != 1 {
		t.Fatalf("expected cursor 1 within resume slack, got %d", s.Cursor())
	}
}

func TestSchedulerTransportNotReady(t *testing.T) {
	transport := &fakeTransport{pos: 0, ok: false}
	player := &fakePlayer{clock: 0}
	s := NewScheduler(player, player, testConfig())

	s.Start(testEvents(), transport)
	s.Tick()

	if len(player.triggers) != 0 {
		t.Fatalf("expected no triggers while transport not ready, got %d", len(player.triggers))
	}

	// Once the transport reports, scheduling proceeds.
	transport.ok = true
	transport.pos = 0.9
	s.Tick()
	if len(player.triggers) == 0 {
		t.Fatal("expected triggers after transport became ready")
	}
}

func TestSchedulerLateAlignmentSkipsPassedEvents(t *testing.T) {
	// The transport is not ready at Start and only reports mid-section.
	// Alignment must happen on that first ready tick: events at 1.0 and
	// 1.5 are already behind position 1.9 and must not fire.
	transport := &fakeTransport{ok: false}
	player := &fakePlayer{clock: 10.0}
	s := NewScheduler(player, player, testConfig())

	s.Start(testEvents(), transport)

	transport.ok = true
	transport.pos = 1.9
	s.Tick()

	if len(player.triggers) != 2 { // click + voice for "3" only
		t.Fatalf("expected 2 triggers, got %d: %v", len(player.triggers), player.triggers)
	}
	for _, tr := range player.triggers {
		if tr.key != ClickKey && tr.key != "3" {
			t.Fatalf("unexpected trigger key %q", tr.key)
		}
		if tr.when < player.clock {
			t.Fatalf("trigger %q scheduled in the past: %v < %v", tr.key, tr.when, player.clock)
		}
	}
	if s.Cursor() != 3 {
		t.Fatalf("expected cursor 3, got %d", s.Cursor())
	}
}

func TestSchedulerRealignsAfterLoopWrap(t *testing.T) {
	// When the section loops, the transport position jumps back to the
	// section start. The cursor must realign so the next pass gets
	// counted instead of staying parked past the last event.
	transport := &fakeTransport{pos: 0.9, ok: true}
	player := &fakePlayer{clock: 10.0}
	cfg := testConfig()
	cfg.Lookahead = 5 * time.Second
	s := NewScheduler(player, player, cfg)

	s.Start(testEvents(), transport)
	s.Tick()

	firstPass := len(player.triggers)
	if firstPass != 6 { // click + voice for each of the three events
		t.Fatalf("expected 6 triggers on first pass, got %d", firstPass)
	}
	if s.Cursor() != 3 {
		t.Fatalf("expected cursor 3 after first pass, got %d", s.Cursor())
	}

	transport.pos = 0.5
	player.clock = 12.0
	s.Tick()

	if len(player.triggers) != 2*firstPass {
		t.Fatalf("expected %d triggers after loop wrap, got %d", 2*firstPass, len(player.triggers))
	}
	if s.Cursor() != 3 {
		t.Fatalf("expected cursor 3 after second pass, got %d", s.Cursor())
	}
}

func TestSchedulerStopReleasesVoices(t *testing.T) {
	transport := &fakeTransport{pos: 0.9, ok: true}
	player := &fakePlayer{clock: 0}
	cfg := testConfig()
	cfg.Lookahead = 5 * time.Second
	s := NewScheduler(player, player, cfg)

	s.Start(testEvents(), transport)
	s.Tick()
	if len(player.voices) == 0 {
		t.Fatal("expected in-flight voices before stop")
	}

	s.Stop()
	for i, v := range player.voices {
		if !v.stopped {
			t.Fatalf("voice %d not stopped", i)
		}
	}
	if s.Running() {
		t.Fatal("expected scheduler stopped")
	}

	// No further triggers after a synchronous stop.
	n := len(player.triggers)
	s.Tick()
	if len(player.triggers) != n {
		t.Fatal("trigger fired after Stop")
	}
}

func TestSchedulerRestartRealignsCursor(t *testing.T) {
	transport := &fakeTransport{pos: 0.9, ok: true}
	player := &fakePlayer{clock: 0}
	s := NewScheduler(player, player, testConfig())

	s.Start(testEvents(), transport)
	s.Tick()

	// Seek forward; restart realigns to the first event at or after the
	// new position.
	transport.pos = 1.9
	s.Restart(testEvents(), transport)
	if s.Cursor() != 2 {
		t.Fatalf("expected cursor 2 after seek restart, got %d", s.Cursor())
	}
}

func TestSchedulerOnCount(t *testing.T) {
	transport := &fakeTransport{pos: 0.0, ok: true}
	player := &fakePlayer{clock: 0}
	cfg := testConfig()
	cfg.Lookahead = 5 * time.Second
	var labels []string
	cfg.OnCount = func(label string) { labels = append(labels, label) }
	s := NewScheduler(player, player, cfg)

	s.Start(testEvents(), transport)
	s.Tick()

	want := []string{"1", "2", "3"}
	if len(labels) != len(want) {
		t.Fatalf("expected %d count callbacks, got %d", len(want), len(labels))
	}
	for i, l := range labels {
		if l != want[i] {
			t.Fatalf("count %d: expected %q, got %q", i, want[i], l)
		}
	}
}

func TestSchedulerOffModeFiresNothing(t *testing.T) {
	transport := &fakeTransport{pos: 0.0, ok: true}
	player := &fakePlayer{clock: 0}
	cfg := testConfig()
	cfg.Mode = ModeOff
	cfg.Lookahead = 5 * time.Second
	s := NewScheduler(player, player, cfg)

	s.Start(testEvents(), transport)
	s.Tick()

	if len(player.triggers) != 0 {
		t.Fatalf("expected no triggers in off mode, got %d", len(player.triggers))
	}
	// The cursor still advances so a mode switch resumes in the right spot.
	if s.Cursor() != 3 {
		t.Fatalf("expected cursor 3, got %d", s.Cursor())
	}
}
