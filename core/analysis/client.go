// Package analysis talks to the external beat-tracking service. The service
// owns tempo detection; this side only ships audio out and brings beat
// timestamps back.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"countcoach/logger"
)

// MinSectionSeconds is the shortest window the analyzer accepts. Shorter
// sections are rejected locally before any upload happens.
const MinSectionSeconds = 4.0

// Result is the analyzer's verdict for one section. BeatTimes are absolute
// seconds within the original track, not relative to the section.
type Result struct {
	OK         bool      `json:"ok"`
	SampleRate int       `json:"sr,omitempty"`
	BPM        float64   `json:"bpm,omitempty"`
	BeatTimes  []float64 `json:"beat_times,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Client is an HTTP client for the beat analyzer.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client against the given analyzer base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBaseURL overrides the analyzer base URL.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// Analyze uploads the audio file at audioPath and asks for beat tracking of
// [start, end]. A service-side failure comes back as Result{OK: false} with
// the service's error message and a nil error; only transport-level problems
// return a non-nil error. Either way, callers must treat a not-OK result as
// an empty beat timeline.
func (c *Client) Analyze(ctx context.Context, audioPath string, start, end float64) (*Result, error) {
	if end-start < MinSectionSeconds {
		return &Result{
			OK:    false,
			Error: fmt.Sprintf("section too short for beat tracking: need at least %.0f seconds", MinSectionSeconds),
		}, nil
	}

	body, contentType, err := buildMultipart(audioPath)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/analyze?%s", c.baseURL, url.Values{
		"section_start": []string{strconv.FormatFloat(start, 'f', -1, 64)},
		"section_end":   []string{strconv.FormatFloat(end, 'f', -1, 64)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyze request failed: %w", err)
	}
	defer resp.Body.Close()

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode analyze response (status %d): %w", resp.StatusCode, err)
	}

	logger.Info("beat analysis finished",
		logger.Bool("ok", result.OK),
		logger.Float64("bpm", result.BPM),
		logger.Int("beats", len(result.BeatTimes)),
		logger.Duration("took", time.Since(started)))

	if !result.OK && result.Error == "" {
		result.Error = fmt.Sprintf("analyzer returned status %d", resp.StatusCode)
	}
	return &result, nil
}

// buildMultipart reads the whole file into a multipart body. Sections are a
// few minutes of audio at most, so buffering in memory is fine and keeps the
// request retryable.
func buildMultipart(audioPath string) (io.Reader, string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio for analysis: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf("create multipart field: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy audio into request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize multipart body: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
