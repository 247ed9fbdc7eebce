package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/lesson-progress-tracker/internal/auth"
	"github.com/JakeFAU/lesson-progress-tracker/internal/course"
	"github.com/JakeFAU/lesson-progress-tracker/internal/metrics"
	"github.com/JakeFAU/lesson-progress-tracker/internal/tracker"
	"github.com/JakeFAU/lesson-progress-tracker/internal/watch"
)

const (
	maxBodyBytes   = 64 << 10
	catalogTimeout = 5 * time.Second
)

// Tracker is the session surface consumed by the HTTP layer.
type Tracker interface {
	Start(ctx context.Context, req tracker.StartRequest) (tracker.Snapshot, error)
	Switch(ctx context.Context, id uuid.UUID, lesson course.Position) (tracker.Snapshot, error)
	Observe(id uuid.UUID, sample watch.Sample) (tracker.Snapshot, error)
	ObserveMessage(id uuid.UUID, origin string, data []byte) (tracker.Snapshot, bool, error)
	Snapshot(id uuid.UUID) (tracker.Snapshot, error)
	End(id uuid.UUID) error
}

// CourseCatalog resolves course structure when a client omits it.
type CourseCatalog interface {
	Course(ctx context.Context, courseID string) (course.Course, error)
}

// SessionHandler serves the /v1/sessions routes.
type SessionHandler struct {
	tracker Tracker
	catalog CourseCatalog
	logger  *zap.Logger
}

// NewSessionHandler wires the tracker, optional catalog, and logger.
func NewSessionHandler(t Tracker, catalog CourseCatalog, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{tracker: t, catalog: catalog, logger: logger}
}

type startSessionRequest struct {
	CourseID     string `json:"course_id"`
	TotalLessons *int   `json:"total_lessons"`
	ModuleIndex  int    `json:"module_index"`
	LessonIndex  int    `json:"lesson_index"`
	VideoURL     string `json:"video_url"`
}

type switchLessonRequest struct {
	ModuleIndex *int `json:"module_index"`
	LessonIndex *int `json:"lesson_index"`
}

type sampleRequest struct {
	CurrentTime *float64 `json:"current_time"`
	Duration    *float64 `json:"duration"`
}

type messageRequest struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

type sessionDTO struct {
	SessionID        string   `json:"session_id"`
	CourseID         string   `json:"course_id"`
	LessonID         string   `json:"lesson_id"`
	WatchedSeconds   float64  `json:"watched_seconds"`
	Completed        bool     `json:"completed"`
	CompletedLessons []string `json:"completed_lessons"`
	CoursePercent    int      `json:"course_percent"`
	EmbedURL         string   `json:"embed_url,omitempty"`
}

// Start handles POST /v1/sessions. It returns 201 with the new session,
// 400 for invalid input, 503 when total_lessons is omitted and the course
// catalog cannot supply it.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	learner, _ := auth.LearnerFrom(r.Context())
	var req startSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.CourseID = strings.TrimSpace(req.CourseID)
	if req.CourseID == "" {
		writeError(w, http.StatusBadRequest, "course_id is required")
		return
	}
	pos := course.Position{Module: req.ModuleIndex, Lesson: req.LessonIndex}

	total := 0
	if req.TotalLessons != nil {
		total = *req.TotalLessons
	}
	videoURL := req.VideoURL
	if req.TotalLessons == nil || videoURL == "" {
		c, err := h.lookupCourse(r.Context(), req.CourseID)
		switch {
		case err == nil:
			lesson, ok := c.Lesson(pos)
			if !ok {
				writeError(w, http.StatusBadRequest, "lesson not found in course")
				return
			}
			if req.TotalLessons == nil {
				total = c.TotalLessons()
			}
			if videoURL == "" {
				videoURL = lesson.VideoURL
			}
		case req.TotalLessons == nil:
			h.logger.Warn("course lookup failed", zap.String("course_id", req.CourseID), zap.Error(err))
			if errors.Is(err, errNoCatalog) {
				writeError(w, http.StatusBadRequest, "total_lessons is required")
				return
			}
			writeError(w, http.StatusServiceUnavailable, "course catalog unavailable")
			return
		default:
			h.logger.Debug("course lookup failed; continuing without video url",
				zap.String("course_id", req.CourseID), zap.Error(err))
		}
	}

	snap, err := h.tracker.Start(r.Context(), tracker.StartRequest{
		Learner:      learner,
		CourseID:     req.CourseID,
		TotalLessons: total,
		Lesson:       pos,
	})
	if err != nil {
		h.writeTrackerError(w, err)
		return
	}
	dto := toSessionDTO(snap)
	dto.EmbedURL = course.EmbedURL(videoURL, r.Header.Get("Origin"))
	writeJSON(w, http.StatusCreated, dto)
}

var errNoCatalog = errors.New("course catalog not configured")

func (h *SessionHandler) lookupCourse(ctx context.Context, courseID string) (course.Course, error) {
	if h.catalog == nil {
		return course.Course{}, errNoCatalog
	}
	ctx, cancel := context.WithTimeout(ctx, catalogTimeout)
	defer cancel()
	c, err := h.catalog.Course(ctx, courseID)
	if err != nil {
		return course.Course{}, err //nolint:wrapcheck // logged by the caller with context
	}
	return c, nil
}

// Get handles GET /v1/sessions/{session_id}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	snap, err := h.tracker.Snapshot(id)
	if err != nil {
		h.writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(snap))
}

// Switch handles POST /v1/sessions/{session_id}/lesson.
func (h *SessionHandler) Switch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	var req switchLessonRequest
	if err := decodeBody(w, r, &req); err != nil || req.ModuleIndex == nil || req.LessonIndex == nil {
		writeError(w, http.StatusBadRequest, "module_index and lesson_index are required")
		return
	}
	snap, err := h.tracker.Switch(r.Context(), id, course.Position{Module: *req.ModuleIndex, Lesson: *req.LessonIndex})
	if err != nil {
		h.writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(snap))
}

// Sample handles POST /v1/sessions/{session_id}/samples. Implausible samples
// are accepted and simply do not advance the estimate.
func (h *SessionHandler) Sample(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	var req sampleRequest
	if err := decodeBody(w, r, &req); err != nil || req.CurrentTime == nil || req.Duration == nil {
		writeError(w, http.StatusBadRequest, "current_time and duration are required")
		return
	}
	snap, err := h.tracker.Observe(id, watch.Sample{CurrentTime: *req.CurrentTime, Duration: *req.Duration})
	if err != nil {
		h.writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"watched_seconds": roundSeconds(snap.WatchedSeconds),
		"completed":       snap.LessonComplete,
		"course_percent":  snap.CoursePercent,
	})
}

// Message handles POST /v1/sessions/{session_id}/messages, relaying a raw
// player postMessage payload. Noise is acknowledged with accepted=false.
func (h *SessionHandler) Message(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	snap, accepted, err := h.tracker.ObserveMessage(id, req.Origin, req.Data)
	if err != nil {
		h.writeTrackerError(w, err)
		return
	}
	metrics.ObservePlayerMessage(accepted)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":        accepted,
		"watched_seconds": roundSeconds(snap.WatchedSeconds),
		"completed":       snap.LessonComplete,
	})
}

// End handles DELETE /v1/sessions/{session_id}.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	if err := h.tracker.End(id); err != nil {
		h.writeTrackerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedSession parses the session id and verifies the caller owns it. Sessions
// of other learners are reported as missing.
func (h *SessionHandler) ownedSession(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session_id")
		return uuid.UUID{}, false
	}
	snap, err := h.tracker.Snapshot(id)
	if err != nil {
		h.writeTrackerError(w, err)
		return uuid.UUID{}, false
	}
	learner, _ := auth.LearnerFrom(r.Context())
	if snap.Learner != learner {
		writeError(w, http.StatusNotFound, "session not found")
		return uuid.UUID{}, false
	}
	return id, true
}

func (h *SessionHandler) writeTrackerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracker.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, tracker.ErrInvalidRequest), errors.Is(err, course.ErrInvalidLessonID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tracker.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "tracker shutting down")
	default:
		h.logger.Error("tracker call failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err //nolint:wrapcheck // mapped to 400 by callers
	}
	return nil
}

func toSessionDTO(snap tracker.Snapshot) sessionDTO {
	completed := snap.CompletedLessons
	if completed == nil {
		completed = []string{}
	}
	return sessionDTO{
		SessionID:        snap.SessionID.String(),
		CourseID:         snap.CourseID,
		LessonID:         snap.LessonID,
		WatchedSeconds:   roundSeconds(snap.WatchedSeconds),
		Completed:        snap.LessonComplete,
		CompletedLessons: completed,
		CoursePercent:    snap.CoursePercent,
	}
}

func roundSeconds(v float64) float64 {
	return math.Round(v*100) / 100
}
