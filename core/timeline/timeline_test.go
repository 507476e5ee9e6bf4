package timeline

import "testing"

func TestNewBeatTimelineSortsAndCopies(t *testing.T) {
	src := []float64{2.0, 0.5, 1.0}
	tl := NewBeatTimeline(src)

	want := []float64{0.5, 1.0, 2.0}
	if len(tl) != len(want) {
		t.Fatalf("expected %d beats, got %d", len(want), len(tl))
	}
	for i, v := range want {
		if tl[i] != v {
			t.Fatalf("beat %d: expected %v, got %v", i, v, tl[i])
		}
	}

	// The input slice must not be touched.
	if src[0] != 2.0 {
		t.Fatalf("input slice was mutated: %v", src)
	}
}

func TestResolveAnchorNearest(t *testing.T) {
	tl := NewBeatTimeline([]float64{1.0, 2.0, 3.0, 5.0})

	if got := ResolveAnchor(tl, 4.1); got != 3 {
		t.Fatalf("target 4.1: expected index 3, got %d", got)
	}
	if got := ResolveAnchor(tl, 0.0); got != 0 {
		t.Fatalf("target before first beat: expected index 0, got %d", got)
	}
	if got := ResolveAnchor(tl, 100.0); got != 3 {
		t.Fatalf("target after last beat: expected index 3, got %d", got)
	}
	if got := ResolveAnchor(tl, 2.2); got != 1 {
		t.Fatalf("target 2.2: expected index 1, got %d", got)
	}
}

func TestResolveAnchorTieBreaksEarlier(t *testing.T) {
	tl := NewBeatTimeline([]float64{1.0, 3.0})

	// Exactly between two beats: the earlier index wins.
	if got := ResolveAnchor(tl, 2.0); got != 0 {
		t.Fatalf("equidistant target: expected index 0, got %d", got)
	}
}

func TestResolveAnchorEmpty(t *testing.T) {
	var tl BeatTimeline
	if got := ResolveAnchor(tl, 1.0); got != -1 {
		t.Fatalf("empty timeline: expected -1, got %d", got)
	}
	if !tl.Empty() {
		t.Fatal("expected Empty() on nil timeline")
	}
}

func TestClampAnchor(t *testing.T) {
	tl := NewBeatTimeline([]float64{1.0, 2.0, 3.0})

	if got := ClampAnchor(tl, 1); got != 1 {
		t.Fatalf("in-range anchor: expected 1, got %d", got)
	}
	if got := ClampAnchor(tl, -2); got != 0 {
		t.Fatalf("negative anchor: expected 0, got %d", got)
	}
	if got := ClampAnchor(tl, 7); got != 0 {
		t.Fatalf("out-of-range anchor: expected 0, got %d", got)
	}
}
