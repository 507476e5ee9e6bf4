package overlay

import (
	"testing"

	"countcoach/core/timeline"
)

func checkEvents(t *testing.T, got []Event, want []Event) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestBuildLabelsWithSubdivision(t *testing.T) {
	beats := timeline.NewBeatTimeline([]float64{0.5, 1.0, 1.5, 2.0})
	section := Section{Start: 0.0, End: 2.5}

	got := Build(beats, 0, section, 4, SubdivisionAnd)
	checkEvents(t, got, []Event{
		{Time: 0.5, Label: "1", Primary: true},
		{Time: 0.75, Label: "&", Primary: false},
		{Time: 1.0, Label: "2", Primary: true},
		{Time: 1.25, Label: "&", Primary: false},
		{Time: 1.5, Label: "3", Primary: true},
		{Time: 1.75, Label: "&", Primary: false},
		{Time: 2.0, Label: "4", Primary: true},
	})
}

func TestBuildLabelCycling(t *testing.T) {
	beats := make([]float64, 12)
	for i := range beats {
		beats[i] = float64(i)
	}
	tl := timeline.NewBeatTimeline(beats)
	section := Section{Start: 0, End: 11}

	got := Build(tl, 0, section, 8, SubdivisionNone)
	wantLabels := []string{"1", "2", "3", "4", "5", "6", "7", "8", "1", "2", "3", "4"}
	if len(got) != len(wantLabels) {
		t.Fatalf("expected %d events, got %d", len(wantLabels), len(got))
	}
	for i, ev := range got {
		if ev.Label != wantLabels[i] {
			t.Fatalf("event %d: expected label %q, got %q", i, wantLabels[i], ev.Label)
		}
	}
}

func TestBuildAnchorWrapsBackward(t *testing.T) {
	// Anchor at index 5 of an 8-count cycle: beats before the anchor count
	// backward from "1", wrapping through "8".
	beats := make([]float64, 8)
	for i := range beats {
		beats[i] = float64(i)
	}
	tl := timeline.NewBeatTimeline(beats)
	section := Section{Start: 0, End: 7}

	got := Build(tl, 5, section, 8, SubdivisionNone)
	wantLabels := []string{"4", "5", "6", "7", "8", "1", "2", "3"}
	for i, ev := range got {
		if ev.Label != wantLabels[i] {
			t.Fatalf("event %d: expected label %q, got %q", i, wantLabels[i], ev.Label)
		}
	}
}

func TestBuildSectionFiltering(t *testing.T) {
	tl := timeline.NewBeatTimeline([]float64{0.0, 1.0, 2.0, 3.0, 4.0})
	section := Section{Start: 1.0, End: 3.0}

	got := Build(tl, 0, section, 4, SubdivisionNone)
	checkEvents(t, got, []Event{
		{Time: 1.0, Label: "2", Primary: true},
		{Time: 2.0, Label: "3", Primary: true},
		{Time: 3.0, Label: "4", Primary: true},
	})
}

func TestBuildBoundaryTolerance(t *testing.T) {
	// A beat a hair outside the boundary still counts.
	tl := timeline.NewBeatTimeline([]float64{1.0 - 5e-7, 2.0, 3.0 + 5e-7})
	section := Section{Start: 1.0, End: 3.0}

	got := Build(tl, 0, section, 4, SubdivisionNone)
	if len(got) != 3 {
		t.Fatalf("expected boundary beats retained, got %d events", len(got))
	}
}

func TestBuildSingleBeatNoMidpoints(t *testing.T) {
	tl := timeline.NewBeatTimeline([]float64{2.0})
	section := Section{Start: 1.0, End: 3.0}

	got := Build(tl, 0, section, 8, SubdivisionAnd)
	checkEvents(t, got, []Event{
		{Time: 2.0, Label: "1", Primary: true},
	})
}

func TestBuildEmptyWindow(t *testing.T) {
	tl := timeline.NewBeatTimeline([]float64{1.0, 2.0})
	section := Section{Start: 10.0, End: 20.0}

	got := Build(tl, 0, section, 8, SubdivisionAnd)
	if got == nil {
		t.Fatal("expected non-nil empty list")
	}
	if len(got) != 0 {
		t.Fatalf("expected no events, got %d", len(got))
	}
}

func TestBuildSortedAndBounded(t *testing.T) {
	beats := make([]float64, 40)
	for i := range beats {
		beats[i] = 0.3 * float64(i)
	}
	tl := timeline.NewBeatTimeline(beats)
	section := Section{Start: 1.0, End: 10.0}

	got := Build(tl, 7, section, 8, SubdivisionAnd)
	for i := 1; i < len(got); i++ {
		if got[i].Time < got[i-1].Time {
			t.Fatalf("events out of order at %d: %v after %v", i, got[i], got[i-1])
		}
	}

	primaries := 0
	for _, ev := range got {
		if ev.Primary {
			primaries++
		}
	}
	// N primaries can carry at most N-1 midpoints.
	if len(got)-primaries > primaries-1 {
		t.Fatalf("too many subdivisions: %d primaries, %d total", primaries, len(got))
	}
}

func TestBuildIdempotent(t *testing.T) {
	tl := timeline.NewBeatTimeline([]float64{0.5, 1.0, 1.5, 2.0})
	section := Section{Start: 0, End: 3}

	a := Build(tl, 1, section, 4, SubdivisionAnd)
	b := Build(tl, 1, section, 4, SubdivisionAnd)
	checkEvents(t, b, a)
}

func TestBuildOutOfRangeAnchorFallsBack(t *testing.T) {
	tl := timeline.NewBeatTimeline([]float64{1.0, 2.0, 3.0})
	section := Section{Start: 0, End: 4}

	got := Build(tl, 99, section, 4, SubdivisionNone)
	if got[0].Label != "1" {
		t.Fatalf("expected anchor fallback to index 0, first label %q", got[0].Label)
	}
}

func TestModeChannels(t *testing.T) {
	if !ModeBoth.Click() || !ModeBoth.Voice() {
		t.Fatal("click+voice must enable both channels")
	}
	if ModeClick.Voice() || ModeVoice.Click() {
		t.Fatal("single-channel modes must not enable the other channel")
	}
	if ModeOff.Click() || ModeOff.Voice() {
		t.Fatal("off must disable both channels")
	}
	if Mode("loud").Valid() {
		t.Fatal("unknown mode must be invalid")
	}
}
