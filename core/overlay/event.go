// Package overlay derives labeled count events from a beat timeline and
// fires them against a playback transport with lookahead scheduling.
package overlay

import (
	"sort"
	"strconv"

	"countcoach/core/timeline"
)

// Epsilon tolerance when filtering beats against the section window, so a
// beat sitting exactly on a boundary is not lost to float rounding.
const timeEpsilon = 1e-6

// Asset keys. Count labels "1".."8" double as asset keys; the click and the
// off-beat "and" have fixed keys of their own.
const (
	ClickKey = "click"
	AndLabel = "&"
)

// Mode selects which overlay channels play.
type Mode string

const (
	ModeOff   Mode = "off"
	ModeClick Mode = "click"
	ModeVoice Mode = "voice"
	ModeBoth  Mode = "click+voice"
)

// Click reports whether the mode includes click playback.
func (m Mode) Click() bool { return m == ModeClick || m == ModeBoth }

// Voice reports whether the mode includes voice playback.
func (m Mode) Voice() bool { return m == ModeVoice || m == ModeBoth }

// Valid reports whether m is one of the recognized modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeOff, ModeClick, ModeVoice, ModeBoth:
		return true
	}
	return false
}

// Subdivision selects off-beat interpolation between counted beats.
type Subdivision string

const (
	SubdivisionNone Subdivision = "none"
	SubdivisionAnd  Subdivision = "and"
)

// Valid reports whether s is one of the recognized subdivision modes.
func (s Subdivision) Valid() bool {
	return s == SubdivisionNone || s == SubdivisionAnd
}

// Section is the playable window in song-absolute seconds.
type Section struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Contains reports whether t lies inside the section, with boundary tolerance.
func (s Section) Contains(t float64) bool {
	return t >= s.Start-timeEpsilon && t <= s.End+timeEpsilon
}

// Event is a single scheduled overlay instant. Primary events sit on a
// detected beat and carry a count label; non-primary events are interpolated
// "&" subdivisions. Events are derived data, always recomputed from the
// timeline, section and config, never persisted.
type Event struct {
	Time    float64 `json:"time"`
	Label   string  `json:"label"`
	Primary bool    `json:"primary"`
}

// Build derives the ordered event list for one scheduling session.
//
// Beats are filtered to the section window, labeled 1..countsPerCycle with
// the anchor beat as "1" (wrapping in both directions), and, when subdivision
// is "and", midpoints between consecutive retained beats that fall inside the
// window become non-primary "&" events. The result is stably sorted by time,
// primary before non-primary on ties. An empty filtered set yields an empty
// (non-nil) list.
func Build(beats timeline.BeatTimeline, anchor int, section Section, countsPerCycle int, subdivision Subdivision) []Event {
	events := make([]Event, 0, len(beats)*2)
	if countsPerCycle <= 0 {
		return events
	}
	anchor = timeline.ClampAnchor(beats, anchor)

	// Retained beats keep their original timeline index so labels wrap
	// correctly no matter where the section sits relative to the anchor.
	type retained struct {
		index int
		time  float64
	}
	kept := make([]retained, 0, len(beats))
	for i, t := range beats {
		if section.Contains(t) {
			kept = append(kept, retained{index: i, time: t})
		}
	}
	if len(kept) == 0 {
		return events
	}

	for _, b := range kept {
		rel := ((b.index-anchor)%countsPerCycle + countsPerCycle) % countsPerCycle
		events = append(events, Event{
			Time:    b.time,
			Label:   strconv.Itoa(rel + 1),
			Primary: true,
		})
	}

	if subdivision == SubdivisionAnd {
		// Midpoints only between retained beats, never before the first
		// or after the last.
		for k := 0; k+1 < len(kept); k++ {
			mid := (kept[k].time + kept[k+1].time) / 2
			if section.Contains(mid) {
				events = append(events, Event{Time: mid, Label: AndLabel, Primary: false})
			}
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Time != events[j].Time {
			return events[i].Time < events[j].Time
		}
		return events[i].Primary && !events[j].Primary
	})
	return events
}
