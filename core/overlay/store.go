package overlay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"countcoach/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
)

// ErrAssetNotFound is returned by a Source when no object exists for a key.
var ErrAssetNotFound = errors.New("overlay: asset not found")

// Source fetches the raw bytes of one sample asset by key.
type Source interface {
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)
}

// LoadStatus summarizes one EnsureLoaded pass.
type LoadStatus string

const (
	// StatusLoaded means every asset decoded.
	StatusLoaded LoadStatus = "loaded"
	// StatusPartial means optional assets are missing but the overlay is
	// usable; missing keys become silent no-ops at trigger time.
	StatusPartial LoadStatus = "partial"
	// StatusFailed means the click or a numbered voice is unavailable.
	StatusFailed LoadStatus = "failed"
)

// SampleKeys lists every asset the store manages: one click, voices "1".."8",
// and the optional off-beat "&".
func SampleKeys() []string {
	keys := make([]string, 0, 10)
	keys = append(keys, ClickKey)
	for i := 1; i <= 8; i++ {
		keys = append(keys, fmt.Sprintf("%d", i))
	}
	keys = append(keys, AndLabel)
	return keys
}

// requiredKey reports whether a missing asset should fail the whole load.
// Only the "&" sample is optional.
func requiredKey(key string) bool {
	return key != AndLabel
}

// Store lazily loads and caches the fixed set of overlay sound assets,
// decoded into beep buffers. Loading happens at most once until Invalidate;
// per-key absence is recorded rather than aborting the load.
type Store struct {
	mu      sync.RWMutex
	source  Source
	buffers map[string]*beep.Buffer
	formats map[string]beep.Format
	missing map[string]bool
	loaded  bool
	status  LoadStatus
}

// NewStore creates a store over the given asset source.
func NewStore(source Source) *Store {
	return &Store{
		source:  source,
		buffers: make(map[string]*beep.Buffer),
		formats: make(map[string]beep.Format),
		missing: make(map[string]bool),
	}
}

// EnsureLoaded loads and decodes every asset that is not yet cached. A second
// call while assets are loaded is a no-op returning the recorded status.
// Missing optional assets degrade to StatusPartial; a missing click or
// numbered voice yields StatusFailed with a non-nil error, but the store
// stays usable for whatever did decode.
func (st *Store) EnsureLoaded(ctx context.Context) (LoadStatus, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.loaded {
		return st.status, nil
	}

	var firstErr error
	requiredMissing := false
	optionalMissing := false

	for _, key := range SampleKeys() {
		if _, ok := st.buffers[key]; ok {
			continue
		}
		buf, format, err := st.fetchAndDecode(ctx, key)
		if err != nil {
			st.missing[key] = true
			if requiredKey(key) {
				requiredMissing = true
				if firstErr == nil {
					firstErr = fmt.Errorf("load sample %q: %w", key, err)
				}
				logger.Error("overlay sample unavailable",
					logger.String("key", key),
					logger.ErrorField(err))
			} else {
				optionalMissing = true
				logger.Info("optional overlay sample unavailable",
					logger.String("key", key))
			}
			continue
		}
		delete(st.missing, key)
		st.buffers[key] = buf
		st.formats[key] = format
	}

	st.loaded = true
	switch {
	case requiredMissing:
		st.status = StatusFailed
	case optionalMissing:
		st.status = StatusPartial
	default:
		st.status = StatusLoaded
	}
	return st.status, firstErr
}

func (st *Store) fetchAndDecode(ctx context.Context, key string) (*beep.Buffer, beep.Format, error) {
	rc, err := st.source.Fetch(ctx, key)
	if err != nil {
		return nil, beep.Format{}, err
	}
	streamer, format, err := wav.Decode(rc)
	if err != nil {
		rc.Close()
		return nil, beep.Format{}, fmt.Errorf("decode wav: %w", err)
	}
	buf := beep.NewBuffer(format)
	buf.Append(streamer)
	streamer.Close()
	return buf, format, nil
}

// Buffer returns the decoded buffer for a key, or ok=false when the key is
// missing or not yet loaded.
func (st *Store) Buffer(key string) (*beep.Buffer, beep.Format, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	buf, ok := st.buffers[key]
	if !ok {
		return nil, beep.Format{}, false
	}
	return buf, st.formats[key], true
}

// Status returns the result of the last EnsureLoaded pass.
func (st *Store) Status() LoadStatus {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if !st.loaded {
		return StatusFailed
	}
	return st.status
}

// Invalidate drops every cached buffer so the next EnsureLoaded reloads from
// the source.
func (st *Store) Invalidate() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.buffers = make(map[string]*beep.Buffer)
	st.formats = make(map[string]beep.Format)
	st.missing = make(map[string]bool)
	st.loaded = false
}

// WatchDir invalidates the store whenever a .wav under dir changes, so a
// replaced sample file is picked up without a restart. Returns a stop
// function. Only meaningful when the store's source reads from dir.
func (st *Store) WatchDir(dir string) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create sample watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch sample dir %s: %w", dir, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 &&
					strings.HasSuffix(event.Name, ".wav") {
					logger.Info("overlay sample changed, reloading",
						logger.String("file", event.Name))
					st.Invalidate()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("sample watcher error", logger.ErrorField(err))
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}

// DirSource reads samples from a local directory. Keys map to file names:
// "click" -> click.wav, "1".."8" -> 1.wav.., "&" -> and.wav.
type DirSource struct {
	Dir string
}

// Fetch opens the wav file for a key.
func (d DirSource) Fetch(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(d.Dir, SampleFileName(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrAssetNotFound
		}
		return nil, err
	}
	return f, nil
}

// SampleFileName maps an asset key to its well-known file name. The "&" key
// is not filesystem- or URL-safe, so it stores as "and.wav".
func SampleFileName(key string) string {
	if key == AndLabel {
		return "and.wav"
	}
	return key + ".wav"
}
