package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lesson-progress-tracker/internal/clock/manual"
	"github.com/JakeFAU/lesson-progress-tracker/internal/course"
	"github.com/JakeFAU/lesson-progress-tracker/internal/id/uuid"
	"github.com/JakeFAU/lesson-progress-tracker/internal/progress"
	"github.com/JakeFAU/lesson-progress-tracker/internal/storage/memory"
	"github.com/JakeFAU/lesson-progress-tracker/internal/store"
	"github.com/JakeFAU/lesson-progress-tracker/internal/tracker"
)

const testLearner = "ada@example.com"

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) count(stage progress.Stage) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, evt := range c.events {
		if evt.Stage == stage {
			n++
		}
	}
	return n
}

type fakeCatalog struct {
	course course.Course
	err    error
	calls  int
}

func (f *fakeCatalog) Course(_ context.Context, courseID string) (course.Course, error) {
	f.calls++
	if f.err != nil {
		return course.Course{}, f.err
	}
	c := f.course
	c.ID = courseID
	return c, nil
}

func sampleCourse() course.Course {
	return course.Course{
		Title: "Go in Practice",
		Modules: []course.Module{
			{Title: "Basics", Lessons: []course.Lesson{
				{Title: "Intro", VideoURL: "https://www.youtube.com/watch?v=abc123"},
				{Title: "Types", VideoURL: "https://youtu.be/def456"},
			}},
			{Title: "Concurrency", Lessons: []course.Lesson{
				{Title: "Goroutines", VideoURL: "https://www.youtube.com/embed/ghi789"},
				{Title: "Channels", VideoURL: "https://www.youtube.com/embed/jkl012"},
			}},
		},
	}
}

type testEnv struct {
	server  *Server
	clock   *manual.Clock
	emitter *captureEmitter
	repo    *memory.ProgressStore
	catalog *fakeCatalog
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	clk := manual.New(time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC))
	emitter := &captureEmitter{}
	repo := memory.NewProgressStore()
	mgr, err := tracker.New(tracker.Config{}, clk, emitter, repo, uuid.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close(context.Background()) })

	catalog := &fakeCatalog{course: sampleCourse()}
	deps := Deps{
		Tracker:  mgr,
		Catalog:  catalog,
		Progress: repo,
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := NewServer(deps)
	require.NoError(t, err)
	return &testEnv{server: srv, clock: clk, emitter: emitter, repo: repo, catalog: catalog}
}

func (e *testEnv) do(t *testing.T, method, path, learner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if learner != "" {
		req.Header.Set(LearnerHeader, learner)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) startSession(t *testing.T, body map[string]any) sessionDTO {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/sessions", testLearner, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var dto sessionDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	return dto
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

var errCatalogDown = errors.New("catalog down")

var _ store.ProgressRepository = (*memory.ProgressStore)(nil)

func newRawRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(LearnerHeader, testLearner)
	return req
}

func serve(env *testEnv, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}
