package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/lesson-progress-tracker/internal/api"
	"github.com/JakeFAU/lesson-progress-tracker/internal/config"
	sqlitestore "github.com/JakeFAU/lesson-progress-tracker/internal/storage/sqlite"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return &cfg
}

func buildApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	return app
}

func startSession(t *testing.T, h http.Handler, learner string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"course_id":     "42",
		"total_lessons": 4,
		"module_index":  0,
		"lesson_index":  1,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(body))
	req.Header.Set(api.LearnerHeader, learner)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestBuildWithDefaults(t *testing.T) {
	app := buildApp(t, testConfig(t))

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	startSession(t, app.Handler(), "ada@example.com")
	require.NotNil(t, app.limiter)
	require.Nil(t, app.backend)
	require.Nil(t, app.publisher)
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildExportsRuntimeStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	app, err := Build(context.Background(), testConfig(t),
		WithLogger(zap.NewNop()),
		WithRegisterer(reg),
	)
	require.NoError(t, err)

	startSession(t, app.Handler(), "ada@example.com")
	expected := `
# HELP lesson_tracker_open_sessions Viewer sessions currently held by the tracker.
# TYPE lesson_tracker_open_sessions gauge
lesson_tracker_open_sessions 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "lesson_tracker_open_sessions"))
	count, err := testutil.GatherAndCount(reg,
		"lesson_tracker_progress_events_dropped_total",
		"lesson_tracker_progress_events_delivered_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildSQLiteAndLocalArchive(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.DB.Driver = config.DriverSQLite
	cfg.DB.DSN = filepath.Join(dir, "tracker.db")
	cfg.Archive.Backend = config.ArchiveLocal
	cfg.Archive.LocalDir = filepath.Join(dir, "archive")
	cfg.API.RateLimitRPS = 0

	app := buildApp(t, cfg)
	require.Nil(t, app.limiter)
	require.Len(t, app.ready, 1)

	startSession(t, app.Handler(), "ada@example.com")
	require.NoError(t, app.Close(context.Background()))

	var archived []string
	err := filepath.WalkDir(cfg.Archive.LocalDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".ndjson") {
			archived = append(archived, path)
		}
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, archived)

	// The hub drained into the store before the database was closed.
	reopened, err := sqlitestore.NewProgressStore(context.Background(), cfg.DB.DSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	cp, err := reopened.GetCourseProgress(context.Background(), "ada@example.com", "42")
	require.NoError(t, err)
	require.False(t, cp.LastAccessed.IsZero())
}

func TestBuildRejectsBadAuthSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = ""

	_, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.ErrorContains(t, err, "auth init failed")
}

func TestNewAppRequiresConfig(t *testing.T) {
	_, err := NewApp(nil, zap.NewNop())
	require.Error(t, err)
}
