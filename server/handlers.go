package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"countcoach/cache"
	"countcoach/config"
	"countcoach/core/analysis"
	"countcoach/core/overlay"
	"countcoach/core/practice"
	"countcoach/logger"
	"countcoach/model"
	"countcoach/repository"
	"countcoach/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/minio/minio-go/v7"
)

// APIHandler handles all API requests.
type APIHandler struct {
	trackRepo   repository.TrackRepository
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	analyzer    *analysis.Client
	store       *overlay.Store
	samples     overlay.Source
	hub         *practice.Hub
	registry    *practice.Registry
	cfg         *config.Config
}

// NewAPIHandler creates the API handler with its dependencies.
func NewAPIHandler(
	trackRepo repository.TrackRepository,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	analyzer *analysis.Client,
	store *overlay.Store,
	samples overlay.Source,
	hub *practice.Hub,
	registry *practice.Registry,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		trackRepo:   trackRepo,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		analyzer:    analyzer,
		store:       store,
		samples:     samples,
		hub:         hub,
		registry:    registry,
		cfg:         cfg,
	}
}

var nonAlphaNumeric = regexp.MustCompile(`[^a-zA-Z0-9_\-\.]`)
var multipleSpaces = regexp.MustCompile(`\s+`)

func generateSafeFilenamePrefix(title, artist string) string {
	if strings.TrimSpace(title) == "" {
		title = "Untitled_Track"
	}

	var parts []string
	if strings.TrimSpace(artist) != "" {
		parts = append(parts, strings.TrimSpace(artist))
	}
	parts = append(parts, strings.TrimSpace(title))

	base := strings.Join(parts, " - ")
	base = multipleSpaces.ReplaceAllString(base, "_")
	base = nonAlphaNumeric.ReplaceAllString(base, "")

	if len(base) > 150 {
		base = base[:150]
	}
	return base
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.Error("failed to encode response", logger.ErrorField(err))
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// schedBase builds the service-wide scheduler configuration.
func (h *APIHandler) schedBase() overlay.Config {
	return overlay.Config{
		TickInterval: h.cfg.TickInterval,
		Lookahead:    h.cfg.Lookahead,
		ResumeSlack:  h.cfg.ResumeSlack,
		VoiceAdvance: h.cfg.VoiceAdvance,
		ClickGain:    h.cfg.ClickGain,
		VoiceGain:    h.cfg.VoiceGain,
		VoiceBoost:   h.cfg.VoiceBoost,
		DownbeatGain: h.cfg.DownbeatGain,
	}
}

// GetTracksHandler lists the authenticated user's tracks.
func (h *APIHandler) GetTracksHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	tracks, err := h.trackRepo.GetAllTracksByUserID(userID)
	if err != nil {
		logger.Error("failed to list tracks", logger.Int64("user", userID), logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "failed to list tracks")
		return
	}
	respondJSON(w, http.StatusOK, tracks)
}

// UploadTrackHandler accepts a multipart audio upload and stores it in object
// storage.
func (h *APIHandler) UploadTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	// 100 MB limit.
	if err := r.ParseMultipartForm(100 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	title := r.FormValue("title")
	if strings.TrimSpace(title) == "" {
		title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}
	artist := r.FormValue("artist")

	var duration float32
	if d := r.FormValue("duration"); d != "" {
		if v, err := strconv.ParseFloat(d, 32); err == nil && v > 0 {
			duration = float32(v)
		}
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = ".wav"
	}
	objectPath := fmt.Sprintf("audio/%d/%s_%s%s",
		userID, generateSafeFilenamePrefix(title, artist), uuid.NewString()[:8], ext)

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()
	if err := storage.UploadObject(ctx, h.cfg, objectPath, file, header.Size, contentType); err != nil {
		logger.Error("track upload failed", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "failed to store audio")
		return
	}

	track := &model.Track{
		UserID:     userID,
		Title:      title,
		Artist:     artist,
		ObjectPath: objectPath,
		Duration:   duration,
	}
	id, err := h.trackRepo.CreateTrack(track)
	if err != nil {
		logger.Error("failed to create track record", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "failed to save track")
		return
	}
	track.ID = id

	logger.Info("track uploaded",
		logger.Int64("track", id),
		logger.Int64("user", userID),
		logger.String("object", objectPath))
	respondJSON(w, http.StatusCreated, track)
}

// DeleteTrackHandler removes a track, its stored audio and cached analyses.
func (h *APIHandler) DeleteTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	track, ok := h.ownedTrack(w, r, userID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := storage.DeleteObject(ctx, h.cfg, track.ObjectPath); err != nil {
		// The record still goes; a stray object is recoverable.
		logger.Warn("failed to delete track object", logger.ErrorField(err))
	}
	if err := cache.DropAnalysis(ctx, track.ID); err != nil {
		logger.Warn("failed to drop cached analyses", logger.ErrorField(err))
	}

	if err := h.trackRepo.DeleteTrack(track.ID); err != nil {
		logger.Error("failed to delete track", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "failed to delete track")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": track.ID})
}

// TrackAudioHandler streams the track's audio from object storage.
func (h *APIHandler) TrackAudioHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	track, ok := h.ownedTrack(w, r, userID)
	if !ok {
		return
	}

	client := storage.GetMinioClient()
	if client == nil {
		respondError(w, http.StatusInternalServerError, "object storage unavailable")
		return
	}

	object, err := client.GetObject(r.Context(), h.cfg.MinioBucket, track.ObjectPath, minio.GetObjectOptions{})
	if err != nil {
		respondError(w, http.StatusNotFound, "audio not found")
		return
	}
	defer object.Close()

	w.Header().Set("Content-Type", audioContentType(track.ObjectPath))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := io.Copy(w, object); err != nil {
		logger.Warn("audio stream interrupted", logger.ErrorField(err))
	}
}

// AnalyzeTrackHandler runs beat tracking for a section of a track. Results
// are cached; a live practice session named via ?session= gets the fresh
// timeline pushed into it.
func (h *APIHandler) AnalyzeTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	track, ok := h.ownedTrack(w, r, userID)
	if !ok {
		return
	}

	start, err := strconv.ParseFloat(r.URL.Query().Get("section_start"), 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "section_start is required")
		return
	}
	end, err := strconv.ParseFloat(r.URL.Query().Get("section_end"), 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "section_end is required")
		return
	}
	if end <= start {
		respondError(w, http.StatusBadRequest, "section_end must be greater than section_start")
		return
	}

	result, err := cache.GetAnalysis(r.Context(), track.ID, start, end)
	if err != nil {
		logger.Warn("analysis cache read failed", logger.ErrorField(err))
	}
	if result == nil {
		result, err = h.runAnalysis(r.Context(), track, start, end)
		if err != nil {
			logger.Error("analysis failed", logger.Int64("track", track.ID), logger.ErrorField(err))
			respondError(w, http.StatusBadGateway, "analysis service unavailable")
			return
		}
		if err := cache.PutAnalysis(r.Context(), track.ID, start, end, result); err != nil {
			logger.Warn("analysis cache write failed", logger.ErrorField(err))
		}
	}

	// Feed the new timeline into a live session, if one was named. A not-OK
	// result installs an empty timeline, which disables the overlay and
	// surfaces a status message instead of failing playback.
	if sessionID := r.URL.Query().Get("session"); sessionID != "" {
		if runner, ok := h.registry.Get(sessionID); ok {
			runner.Session.SetTimeline(result.BeatTimes)
			if msg := runner.Session.Status(); msg != "" {
				h.hub.Broadcast(sessionID, practice.MsgTypeStatus, practice.StatusData{Message: msg})
			}
		}
	}

	respondJSON(w, http.StatusOK, result)
}

// runAnalysis pulls the audio down to a temp file and ships it to the
// analyzer.
func (h *APIHandler) runAnalysis(ctx context.Context, track *model.Track, start, end float64) (*analysis.Result, error) {
	localPath := filepath.Join(h.cfg.UploadDir, fmt.Sprintf("analyze_%d_%s%s",
		track.ID, uuid.NewString()[:8], filepath.Ext(track.ObjectPath)))
	defer os.Remove(localPath)

	if err := storage.DownloadToFile(ctx, h.cfg, track.ObjectPath, localPath); err != nil {
		return nil, fmt.Errorf("fetch audio for analysis: %w", err)
	}
	return h.analyzer.Analyze(ctx, localPath, start, end)
}

// CreateSessionHandler persists a new practice session.
func (h *APIHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var session model.PracticeSession
	if err := json.NewDecoder(r.Body).Decode(&session); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if session.SectionEnd <= session.SectionStart {
		respondError(w, http.StatusBadRequest, "section end must be greater than section start")
		return
	}
	if track, err := h.trackRepo.GetTrackByID(session.TrackID); err != nil || track == nil || track.UserID != userID {
		respondError(w, http.StatusBadRequest, "unknown track")
		return
	}

	session.ID = uuid.NewString()
	session.UserID = userID
	normalizeSessionConfig(&session)

	if err := h.sessionRepo.Create(r.Context(), &session); err != nil {
		logger.Error("failed to create session", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

// GetSessionsHandler lists the user's practice sessions.
func (h *APIHandler) GetSessionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	sessions, err := h.sessionRepo.GetByUserID(r.Context(), userID)
	if err != nil {
		logger.Error("failed to list sessions", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	respondJSON(w, http.StatusOK, sessions)
}

// GetSessionHandler fetches one practice session.
func (h *APIHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	session, ok := h.ownedSession(w, r, userID)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// UpdateSessionHandler updates a persisted session and, if it is live,
// applies the changes to the running overlay.
func (h *APIHandler) UpdateSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	session, ok := h.ownedSession(w, r, userID)
	if !ok {
		return
	}

	var update model.PracticeSession
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if update.SectionEnd <= update.SectionStart {
		respondError(w, http.StatusBadRequest, "section end must be greater than section start")
		return
	}

	session.SectionStart = update.SectionStart
	session.SectionEnd = update.SectionEnd
	session.AnchorTime = update.AnchorTime
	session.Mode = update.Mode
	session.CountsPerCycle = update.CountsPerCycle
	session.Subdivision = update.Subdivision
	session.ClickGain = update.ClickGain
	session.VoiceGain = update.VoiceGain
	normalizeSessionConfig(session)

	if err := h.sessionRepo.Update(r.Context(), session); err != nil {
		logger.Error("failed to update session", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "failed to update session")
		return
	}

	if runner, ok := h.registry.Get(session.ID); ok {
		applySessionToRunner(runner, session)
	}
	respondJSON(w, http.StatusOK, session)
}

// DeleteSessionHandler tears down any live runner and deletes the session.
func (h *APIHandler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	session, ok := h.ownedSession(w, r, userID)
	if !ok {
		return
	}

	h.registry.Remove(session.ID)
	if err := h.sessionRepo.Delete(r.Context(), session.ID); err != nil {
		logger.Error("failed to delete session", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": session.ID})
}

// SampleHandler serves one overlay sample asset so clients can preload the
// same sounds the server schedules.
func (h *APIHandler) SampleHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	valid := false
	for _, k := range overlay.SampleKeys() {
		if k == key {
			valid = true
			break
		}
	}
	if !valid {
		respondError(w, http.StatusNotFound, "unknown sample key")
		return
	}

	rc, err := h.samples.Fetch(r.Context(), key)
	if err != nil {
		if err == overlay.ErrAssetNotFound {
			respondError(w, http.StatusNotFound, "sample not available")
			return
		}
		logger.Error("failed to fetch sample", logger.String("key", key), logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "failed to fetch sample")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if _, err := io.Copy(w, rc); err != nil {
		logger.Warn("sample stream interrupted", logger.ErrorField(err))
	}
}

// OverlayStatusHandler reports the sample store's load state.
func (h *APIHandler) OverlayStatusHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  string(h.store.Status()),
		"samples": overlay.SampleKeys(),
	})
}

// ownedTrack loads the {id} track and enforces ownership. Writes the error
// response itself when it returns false.
func (h *APIHandler) ownedTrack(w http.ResponseWriter, r *http.Request, userID int64) (*model.Track, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid track id")
		return nil, false
	}
	track, err := h.trackRepo.GetTrackByID(id)
	if err != nil {
		logger.Error("failed to load track", logger.Int64("track", id), logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "failed to load track")
		return nil, false
	}
	if track == nil || track.UserID != userID {
		respondError(w, http.StatusNotFound, "track not found")
		return nil, false
	}
	return track, true
}

// ownedSession loads the {id} session and enforces ownership.
func (h *APIHandler) ownedSession(w http.ResponseWriter, r *http.Request, userID int64) (*model.PracticeSession, bool) {
	id := mux.Vars(r)["id"]
	session, err := h.sessionRepo.GetByID(r.Context(), id)
	if err != nil {
		logger.Error("failed to load session", logger.String("session", id), logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	if session == nil || session.UserID != userID {
		respondError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return session, true
}

// normalizeSessionConfig mirrors practice.Config.Normalize for the persisted
// form.
func normalizeSessionConfig(s *model.PracticeSession) {
	cfg := practice.Config{
		Mode:           overlay.Mode(s.Mode),
		CountsPerCycle: s.CountsPerCycle,
		Subdivision:    overlay.Subdivision(s.Subdivision),
		ClickGain:      s.ClickGain,
		VoiceGain:      s.VoiceGain,
	}.Normalize()
	s.Mode = string(cfg.Mode)
	s.CountsPerCycle = cfg.CountsPerCycle
	s.Subdivision = string(cfg.Subdivision)
	s.ClickGain = cfg.ClickGain
	s.VoiceGain = cfg.VoiceGain
}

// applySessionToRunner pushes persisted settings into a live runner.
func applySessionToRunner(runner *practice.Runner, s *model.PracticeSession) {
	runner.Session.SetSection(overlay.Section{Start: s.SectionStart, End: s.SectionEnd})
	runner.Session.SetConfig(practice.Config{
		Mode:           overlay.Mode(s.Mode),
		CountsPerCycle: s.CountsPerCycle,
		Subdivision:    overlay.Subdivision(s.Subdivision),
		ClickGain:      s.ClickGain,
		VoiceGain:      s.VoiceGain,
	})
	if s.AnchorTime != nil {
		runner.Session.SetAnchorTime(*s.AnchorTime)
	}
}

func audioContentType(objectPath string) string {
	switch strings.ToLower(filepath.Ext(objectPath)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
