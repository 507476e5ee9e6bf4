// Package engine is the local playback host: it plays the practice track,
// loops the active section, and exposes the transport position and a
// sample-counted scheduling clock the overlay scheduler fires against.
package engine

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"countcoach/core/overlay"
	"countcoach/logger"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
)

// Engine owns the speaker, the track streamer, and the overlay sample store.
// It implements overlay.Transport, overlay.Clock and overlay.Player. The
// scheduling clock is driven by samples actually pulled by the audio device,
// not by wall time, so scheduled instants stay glued to what the hardware
// plays.
type Engine struct {
	mu    sync.Mutex
	sr    beep.SampleRate
	mixer *beep.Mixer
	store *overlay.Store
	track *trackStreamer

	// clockSamples counts samples the device has consumed.
	clockSamples int64
}

// New creates an engine over the given sample store. The speaker is not
// initialized until a track is loaded, because the device sample rate follows
// the track.
func New(store *overlay.Store) *Engine {
	return &Engine{store: store}
}

// LoadTrack decodes the wav file at path, initializes the speaker at the
// track's sample rate, and installs a paused track streamer looping over
// section.
func (e *Engine) LoadTrack(path string, section overlay.Section) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open track: %w", err)
	}
	streamer, format, err := wav.Decode(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("decode track: %w", err)
	}
	buf := beep.NewBuffer(format)
	buf.Append(streamer)
	streamer.Close()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mixer == nil {
		e.sr = format.SampleRate
		if err := speaker.Init(e.sr, e.sr.N(50*time.Millisecond)); err != nil {
			return fmt.Errorf("init speaker: %w", err)
		}
		e.mixer = &beep.Mixer{}
		speaker.Play(&countingStreamer{mixer: e.mixer, count: &e.clockSamples})
	} else if format.SampleRate != e.sr {
		return fmt.Errorf("track sample rate %d does not match device rate %d", format.SampleRate, e.sr)
	}

	track := newTrackStreamer(buf, e.sr, section)
	speaker.Lock()
	if e.track != nil {
		e.track.release()
	}
	e.track = track
	e.mixer.Add(track)
	speaker.Unlock()

	logger.Info("track loaded",
		logger.String("path", path),
		logger.Int("sampleRate", int(e.sr)),
		logger.Float64("sectionStart", section.Start),
		logger.Float64("sectionEnd", section.End))
	return nil
}

// SetSection moves the loop window. The next Stream call snaps the position
// into the new window.
func (e *Engine) SetSection(section overlay.Section) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.track != nil {
		e.track.setSection(section)
	}
}

// Play starts (or resumes) the transport.
func (e *Engine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.track != nil {
		e.track.setPlaying(true)
	}
}

// Pause halts the transport, keeping its position.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.track != nil {
		e.track.setPlaying(false)
	}
}

// SeekTo jumps the transport to t seconds (song-absolute).
func (e *Engine) SeekTo(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.track != nil {
		e.track.seekTo(t)
	}
}

// Position implements overlay.Transport. ok is false until a track is
// loaded.
func (e *Engine) Position() (float64, bool) {
	e.mu.Lock()
	track := e.track
	e.mu.Unlock()
	if track == nil {
		return 0, false
	}
	return track.position(), true
}

// Playing reports whether the transport is running.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.track != nil && e.track.isPlaying()
}

// Now implements overlay.Clock: seconds of audio the device has consumed.
// Zero until a track initializes the device.
func (e *Engine) Now() float64 {
	e.mu.Lock()
	sr := e.sr
	e.mu.Unlock()
	if sr == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&e.clockSamples)) / float64(sr)
}

// PlayAt implements overlay.Player: schedule the sample for key to begin at
// the clock instant `when`, at the given linear gain.
func (e *Engine) PlayAt(key string, when float64, gain float64) (overlay.Voice, error) {
	buf, format, ok := e.store.Buffer(key)
	if !ok {
		return nil, overlay.ErrNoSample
	}

	e.mu.Lock()
	sr, mixer := e.sr, e.mixer
	e.mu.Unlock()
	if mixer == nil {
		return nil, fmt.Errorf("no track loaded")
	}

	delay := when - e.Now()
	if delay < 0 {
		delay = 0
	}
	lead := sr.N(time.Duration(delay * float64(time.Second)))

	var s beep.Streamer = buf.Streamer(0, buf.Len())
	if format.SampleRate != sr {
		s = beep.Resample(4, format.SampleRate, sr, s)
	}
	if gain != 1 {
		// effects.Gain outputs input * (1 + Gain).
		s = &effects.Gain{Streamer: s, Gain: gain - 1}
	}

	v := &voice{s: beep.Seq(beep.Silence(lead), s)}
	speaker.Lock()
	mixer.Add(v)
	speaker.Unlock()
	return v, nil
}

// countingStreamer wraps the mixer and counts samples pulled by the device.
type countingStreamer struct {
	mixer *beep.Mixer
	count *int64
}

func (c *countingStreamer) Stream(samples [][2]float64) (int, bool) {
	n, ok := c.mixer.Stream(samples)
	atomic.AddInt64(c.count, int64(n))
	return n, ok
}

func (c *countingStreamer) Err() error { return nil }

// trackStreamer streams the decoded track inside the section window, looping
// back to the section start when it runs past the end. While paused it emits
// silence so the device keeps pulling and the clock keeps advancing.
type trackStreamer struct {
	mu       sync.Mutex
	buf      *beep.Buffer
	sr       beep.SampleRate
	start    int
	end      int
	cur      int
	playing  bool
	released bool
}

func newTrackStreamer(buf *beep.Buffer, sr beep.SampleRate, section overlay.Section) *trackStreamer {
	t := &trackStreamer{buf: buf, sr: sr}
	t.setSection(section)
	t.cur = t.start
	return t
}

func (t *trackStreamer) setSection(section overlay.Section) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start = clampSample(t.sr.N(secondsDuration(section.Start)), t.buf.Len())
	t.end = clampSample(t.sr.N(secondsDuration(section.End)), t.buf.Len())
	if t.end <= t.start {
		t.end = t.buf.Len()
	}
	if t.cur < t.start || t.cur >= t.end {
		t.cur = t.start
	}
}

func (t *trackStreamer) setPlaying(p bool) {
	t.mu.Lock()
	t.playing = p
	t.mu.Unlock()
}

func (t *trackStreamer) isPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

func (t *trackStreamer) seekTo(sec float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos := clampSample(t.sr.N(secondsDuration(sec)), t.buf.Len())
	if pos < t.start {
		pos = t.start
	}
	if pos >= t.end {
		pos = t.start
	}
	t.cur = pos
}

func (t *trackStreamer) position() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.cur) / float64(t.sr)
}

func (t *trackStreamer) release() {
	t.mu.Lock()
	t.released = true
	t.mu.Unlock()
}

func (t *trackStreamer) Stream(samples [][2]float64) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.released {
		return 0, false
	}
	if !t.playing {
		for i := range samples {
			samples[i] = [2]float64{}
		}
		return len(samples), true
	}

	total := 0
	for total < len(samples) {
		if t.cur >= t.end {
			// Loop back to the section start.
			t.cur = t.start
		}
		chunk := t.end - t.cur
		if chunk > len(samples)-total {
			chunk = len(samples) - total
		}
		if chunk <= 0 {
			break
		}
		s := t.buf.Streamer(t.cur, t.cur+chunk)
		n, _ := s.Stream(samples[total : total+chunk])
		if n == 0 {
			break
		}
		t.cur += n
		total += n
	}
	for i := total; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	return len(samples), true
}

func (t *trackStreamer) Err() error { return nil }

// voice is one scheduled overlay sound. Stop silences it immediately, even
// before its lead-in silence has elapsed; the mixer then drops it.
type voice struct {
	mu      sync.Mutex
	s       beep.Streamer
	stopped bool
	done    bool
}

func (v *voice) Stream(samples [][2]float64) (int, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped || v.done {
		return 0, false
	}
	n, ok := v.s.Stream(samples)
	if !ok {
		v.done = true
	}
	return n, ok
}

func (v *voice) Err() error { return nil }

// Stop implements overlay.Voice. Safe to call repeatedly.
func (v *voice) Stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
}

// Done reports whether the sound has finished on its own.
func (v *voice) Done() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.done || v.stopped
}

func clampSample(n, max int) int {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}

func secondsDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
