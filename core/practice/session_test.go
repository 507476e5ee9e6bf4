package practice

import (
	"testing"
	"time"

	"countcoach/core/overlay"
)

type stubTransport struct {
	pos float64
	ok  bool
}

func (s *stubTransport) Position() (float64, bool) { return s.pos, s.ok }

type stubPlayer struct {
	clock    float64
	triggers int
}

func (s *stubPlayer) Now() float64 { return s.clock }

type stubVoice struct{}

func (stubVoice) Stop() {}

func (s *stubPlayer) PlayAt(key string, when, gain float64) (overlay.Voice, error) {
	s.triggers++
	return stubVoice{}, nil
}

func newTestSession(t *testing.T) (*Session, *overlay.Scheduler, *stubPlayer) {
	t.Helper()
	player := &stubPlayer{}
	base := overlay.Config{
		Lookahead:    250 * time.Millisecond,
		ResumeSlack:  30 * time.Millisecond,
		VoiceAdvance: 70 * time.Millisecond,
		VoiceBoost:   1.8,
		DownbeatGain: 1.7,
	}
	sched := overlay.NewScheduler(player, player, base)
	session := NewSession("test", sched, base, overlay.Section{Start: 0, End: 10}, Config{
		Mode:           overlay.ModeBoth,
		CountsPerCycle: 4,
		Subdivision:    overlay.SubdivisionNone,
		ClickGain:      1.0,
		VoiceGain:      1.0,
	})
	return session, sched, player
}

func TestSessionTimelineRebuildsEvents(t *testing.T) {
	session, _, _ := newTestSession(t)

	if len(session.Events()) != 0 {
		t.Fatal("expected no events before a timeline arrives")
	}

	session.SetTimeline([]float64{1.0, 2.0, 3.0})
	events := session.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Label != "1" || events[2].Label != "3" {
		t.Fatalf("unexpected labels: %v", events)
	}
	if session.Status() != "" {
		t.Fatalf("unexpected status: %q", session.Status())
	}
}

func TestSessionEmptyTimelineSurfacesStatus(t *testing.T) {
	session, _, _ := newTestSession(t)

	session.SetTimeline(nil)
	if session.Status() == "" {
		t.Fatal("expected a status message for an empty timeline")
	}
	if len(session.Events()) != 0 {
		t.Fatal("expected no events for an empty timeline")
	}

	session.SetTimeline([]float64{1.0})
	if session.Status() != "" {
		t.Fatal("expected status cleared once beats arrive")
	}
}

func TestSessionSectionChangeFiltersEvents(t *testing.T) {
	session, _, _ := newTestSession(t)
	session.SetTimeline([]float64{1.0, 2.0, 3.0, 4.0, 5.0})

	session.SetSection(overlay.Section{Start: 2.0, End: 4.0})
	events := session.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events in the narrowed section, got %d", len(events))
	}
	if events[0].Time != 2.0 || events[2].Time != 4.0 {
		t.Fatalf("unexpected section events: %v", events)
	}
}

func TestSessionConfigRebuildOnlyWhenEventsChange(t *testing.T) {
	session, _, _ := newTestSession(t)
	session.SetTimeline([]float64{1.0, 2.0, 3.0, 4.0, 5.0})

	// Gain change: same event list.
	before := session.Events()
	session.SetConfig(Config{
		Mode:           overlay.ModeBoth,
		CountsPerCycle: 4,
		Subdivision:    overlay.SubdivisionNone,
		ClickGain:      0.5,
		VoiceGain:      1.0,
	})
	after := session.Events()
	if len(before) != len(after) {
		t.Fatalf("gain change must not change the event list: %d vs %d", len(before), len(after))
	}

	// Subdivision change: midpoints appear.
	session.SetConfig(Config{
		Mode:           overlay.ModeBoth,
		CountsPerCycle: 4,
		Subdivision:    overlay.SubdivisionAnd,
		ClickGain:      0.5,
		VoiceGain:      1.0,
	})
	withAnd := session.Events()
	if len(withAnd) != 9 { // 5 beats + 4 midpoints
		t.Fatalf("expected 9 events with subdivision, got %d", len(withAnd))
	}
}

func TestSessionConfigNormalized(t *testing.T) {
	session, _, _ := newTestSession(t)

	session.SetConfig(Config{CountsPerCycle: 7})
	cfg := session.Config()
	if cfg.CountsPerCycle != 8 {
		t.Fatalf("expected counts normalized to 8, got %d", cfg.CountsPerCycle)
	}
	if !cfg.Mode.Valid() || !cfg.Subdivision.Valid() {
		t.Fatalf("expected valid defaults, got %+v", cfg)
	}
	if cfg.ClickGain <= 0 || cfg.VoiceGain <= 0 {
		t.Fatalf("expected positive default gains, got %+v", cfg)
	}
}

func TestSessionAnchorRelabels(t *testing.T) {
	session, _, _ := newTestSession(t)
	session.SetTimeline([]float64{1.0, 2.0, 3.0, 4.0})

	session.SetAnchorTime(3.1)
	if session.Anchor() != 2 {
		t.Fatalf("expected anchor index 2, got %d", session.Anchor())
	}
	events := session.Events()
	if events[2].Label != "1" {
		t.Fatalf("expected anchored beat labeled 1, got %q", events[2].Label)
	}
	if events[0].Label != "3" {
		t.Fatalf("expected backward wrap label 3, got %q", events[0].Label)
	}
}

func TestSessionAnchorSurvivesTimelineReplacement(t *testing.T) {
	session, _, _ := newTestSession(t)
	session.SetTimeline([]float64{1.0, 2.0, 3.0})
	session.SetAnchorTime(2.0)

	// A re-analysis shifts every beat slightly; the anchor re-resolves to
	// the nearest beat in the new timeline.
	session.SetTimeline([]float64{0.98, 2.02, 3.01, 4.0})
	if session.Anchor() != 1 {
		t.Fatalf("expected anchor re-resolved to index 1, got %d", session.Anchor())
	}
}

func TestSessionPlayPauseSeek(t *testing.T) {
	session, sched, player := newTestSession(t)
	session.SetTimeline([]float64{1.0, 2.0, 3.0})

	transport := &stubTransport{pos: 0.9, ok: true}
	session.Play(transport)
	if !sched.Running() {
		t.Fatal("expected scheduler running after Play")
	}

	sched.Tick()
	if player.triggers == 0 {
		t.Fatal("expected triggers while playing")
	}

	// Seek: the cursor realigns with the transport's new position.
	transport.pos = 2.9
	session.Seek()
	if sched.Cursor() != 2 {
		t.Fatalf("expected cursor 2 after seek, got %d", sched.Cursor())
	}

	session.Pause()
	if sched.Running() {
		t.Fatal("expected scheduler stopped after Pause")
	}
	n := player.triggers
	sched.Tick()
	if player.triggers != n {
		t.Fatal("expected no triggers after Pause")
	}
}

func TestSessionConfigChangeRestartsWhilePlaying(t *testing.T) {
	session, sched, _ := newTestSession(t)
	session.SetTimeline([]float64{1.0, 2.0, 3.0})

	transport := &stubTransport{pos: 2.5, ok: true}
	session.Play(transport)

	session.SetConfig(Config{
		Mode:           overlay.ModeClick,
		CountsPerCycle: 4,
		Subdivision:    overlay.SubdivisionNone,
		ClickGain:      1.0,
		VoiceGain:      1.0,
	})
	if !sched.Running() {
		t.Fatal("expected scheduler still running after config change")
	}
	if sched.Cursor() != 2 {
		t.Fatalf("expected restart to realign cursor to 2, got %d", sched.Cursor())
	}
}
