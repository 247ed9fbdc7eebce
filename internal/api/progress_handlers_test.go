package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lesson-progress-tracker/internal/auth"
	"github.com/JakeFAU/lesson-progress-tracker/internal/store"
)

func TestGetCourseProgress(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/courses/42/progress", testLearner, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	ctx := context.Background()
	at := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	require.NoError(t, env.repo.UpsertWatchTime(ctx, testLearner, "42", "0-0", 150, at))
	require.NoError(t, env.repo.MarkLessonComplete(ctx, testLearner, "42", "0-0", 25, at))

	rec = env.do(t, http.MethodGet, "/api/courses/42/progress", testLearner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	payload := decode(t, rec)["progress"].(map[string]any)
	require.Equal(t, float64(25), payload["percent"])
	require.Equal(t, []any{"0-0"}, payload["completed_lessons"])

	// Another learner sees nothing.
	rec = env.do(t, http.MethodGet, "/api/courses/42/progress", "grace@example.com", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListLessons(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ctx := context.Background()
	at := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	for _, lesson := range []string{"0-0", "0-1", "1-0"} {
		require.NoError(t, env.repo.UpsertWatchTime(ctx, testLearner, "42", lesson, 30, at))
	}

	rec := env.do(t, http.MethodGet, "/api/courses/42/lessons?limit=2", testLearner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode(t, rec)["lessons"], 2)

	rec = env.do(t, http.MethodGet, "/api/courses/42/lessons?limit=2&offset=2", testLearner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode(t, rec)["lessons"], 1)

	rec = env.do(t, http.MethodGet, "/api/courses/99/lessons", testLearner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []any{}, decode(t, rec)["lessons"])

	for _, q := range []string{"limit=0", "limit=abc", "offset=-1"} {
		rec = env.do(t, http.MethodGet, "/api/courses/42/lessons?"+q, testLearner, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

type brokenRepo struct {
	store.ProgressRepository
}

func (brokenRepo) GetCourseProgress(context.Context, string, string) (store.CourseProgress, error) {
	return store.CourseProgress{}, errors.New("connection reset")
}

func (brokenRepo) ListLessonProgress(context.Context, string, string, int, int) ([]store.LessonProgress, error) {
	return nil, errors.New("connection reset")
}

func TestProgressHandlerErrors(t *testing.T) {
	t.Parallel()

	withLearner := func(path string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		return req.WithContext(auth.WithLearner(req.Context(), testLearner))
	}

	unavailable := NewProgressHandler(nil, nil)
	rec := httptest.NewRecorder()
	unavailable.GetCourseProgress(rec, withLearner("/api/courses/42/progress"))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env := newTestEnv(t, func(d *Deps) { d.Progress = brokenRepo{} })
	require.Equal(t, http.StatusInternalServerError,
		env.do(t, http.MethodGet, "/api/courses/42/progress", testLearner, nil).Code)
	require.Equal(t, http.StatusInternalServerError,
		env.do(t, http.MethodGet, "/api/courses/42/lessons", testLearner, nil).Code)
}
