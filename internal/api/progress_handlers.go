package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/lesson-progress-tracker/internal/auth"
	"github.com/JakeFAU/lesson-progress-tracker/internal/store"
)

const (
	defaultLessonLimit = 100
	maxLessonLimit     = 1000
	progressTimeout    = 3 * time.Second
)

// ProgressHandler exposes read-only persisted progress for the caller.
type ProgressHandler struct {
	repo    store.ProgressRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the repository and logger.
func NewProgressHandler(repo store.ProgressRepository, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		repo:    repo,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// GetCourseProgress handles GET /api/courses/{course_id}/progress. It returns
// {"progress": {...}} on success, 404 when the caller has no progress for the
// course, 503 if the repo is not configured, or 500 otherwise.
func (h *ProgressHandler) GetCourseProgress(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	learner, courseID, ok := scope(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cp, err := h.repo.GetCourseProgress(ctx, learner, courseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no progress for course")
			return
		}
		h.logger.Error("get course progress failed", zap.String("course_id", courseID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	if cp.CompletedLessons == nil {
		cp.CompletedLessons = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": cp})
}

// ListLessons handles GET /api/courses/{course_id}/lessons?limit=&offset=. It
// returns {"lessons": [...]} on success, 400 for invalid paging, 503 when the
// repository is missing, or 500 for repository errors.
func (h *ProgressHandler) ListLessons(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	learner, courseID, ok := scope(w, r)
	if !ok {
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultLessonLimit, maxLessonLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	lessons, err := h.repo.ListLessonProgress(ctx, learner, courseID, limit, offset)
	if err != nil {
		h.logger.Error("list lesson progress failed", zap.String("course_id", courseID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list lessons")
		return
	}
	if lessons == nil {
		lessons = []store.LessonProgress{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"lessons": lessons})
}

func scope(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	learner, ok := auth.LearnerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "learner identity required")
		return "", "", false
	}
	courseID := strings.TrimSpace(chi.URLParam(r, "course_id"))
	if courseID == "" {
		writeError(w, http.StatusBadRequest, "course_id is required")
		return "", "", false
	}
	return learner, courseID, true
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
