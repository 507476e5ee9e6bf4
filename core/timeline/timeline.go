package timeline

import "sort"

// BeatTimeline is the ordered list of detected beat timestamps across the
// whole track, in seconds. It is replaced wholesale whenever a new analysis
// result arrives; indices are only meaningful within one instance.
type BeatTimeline []float64

// NewBeatTimeline copies beats into a timeline. Analyzer responses are
// expected, but not guaranteed, to be ordered, so unsorted input is sorted.
func NewBeatTimeline(beats []float64) BeatTimeline {
	t := make(BeatTimeline, len(beats))
	copy(t, beats)
	if !sort.Float64sAreSorted(t) {
		sort.Stable(byTime(t))
	}
	return t
}

type byTime []float64

func (b byTime) Len() int           { return len(b) }
func (b byTime) Less(i, j int) bool { return b[i] < b[j] }
func (b byTime) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }

// Empty reports whether the timeline has no beats.
func (t BeatTimeline) Empty() bool { return len(t) == 0 }

// ResolveAnchor finds the index of the beat closest to target. Ties resolve
// to the earlier index. Returns -1 when the timeline is empty; callers fall
// back to index 0 and treat anchoring as undefined.
func ResolveAnchor(t BeatTimeline, target float64) int {
	if len(t) == 0 {
		return -1
	}
	best := 0
	bestDist := abs(t[0] - target)
	for i := 1; i < len(t); i++ {
		if d := abs(t[i] - target); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// ClampAnchor maps any anchor index into the valid range for the timeline,
// defaulting to 0 when out of range or when the timeline is empty.
func ClampAnchor(t BeatTimeline, anchor int) int {
	if anchor < 0 || anchor >= len(t) {
		return 0
	}
	return anchor
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
