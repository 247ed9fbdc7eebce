package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/lesson-progress-tracker/internal/store"
	"github.com/JakeFAU/lesson-progress-tracker/internal/watch"
)

type courseKey struct {
	learner  string
	courseID string
}

type courseRow struct {
	percent      int
	lastAccessed time.Time
	lessons      map[string]store.LessonProgress
}

// ProgressStore provides an in-memory store.ProgressRepository for development/testing.
type ProgressStore struct {
	mu      sync.RWMutex
	courses map[courseKey]*courseRow
}

// NewProgressStore constructs an empty ProgressStore.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{courses: make(map[courseKey]*courseRow)}
}

var _ store.ProgressRepository = (*ProgressStore)(nil)

func (s *ProgressStore) course(learner, courseID string) *courseRow {
	key := courseKey{learner: learner, courseID: courseID}
	row, ok := s.courses[key]
	if !ok {
		row = &courseRow{lessons: make(map[string]store.LessonProgress)}
		s.courses[key] = row
	}
	return row
}

func (row *courseRow) lesson(learner, courseID, lessonID string) store.LessonProgress {
	lp, ok := row.lessons[lessonID]
	if !ok {
		lp = store.LessonProgress{Learner: learner, CourseID: courseID, LessonID: lessonID}
	}
	return lp
}

// UpsertWatchTime keeps the larger of the stored and reported watched seconds.
func (s *ProgressStore) UpsertWatchTime(
	_ context.Context,
	learner, courseID, lessonID string,
	watchedSeconds float64,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.course(learner, courseID)
	lp := row.lesson(learner, courseID, lessonID)
	if watchedSeconds > lp.WatchedSeconds {
		lp.WatchedSeconds = watchedSeconds
	}
	lp.UpdatedAt = at
	row.lessons[lessonID] = lp
	return nil
}

// MarkLessonComplete flags the lesson complete; the first completion time wins.
func (s *ProgressStore) MarkLessonComplete(
	_ context.Context,
	learner, courseID, lessonID string,
	coursePercent int,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.course(learner, courseID)
	lp := row.lesson(learner, courseID, lessonID)
	if !lp.Completed {
		completedAt := at
		lp.Completed = true
		lp.CompletedAt = &completedAt
	}
	lp.UpdatedAt = at
	row.lessons[lessonID] = lp
	if coursePercent > row.percent {
		row.percent = coursePercent
	}
	return nil
}

// TouchCourse records the last access time.
func (s *ProgressStore) TouchCourse(_ context.Context, learner, courseID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.course(learner, courseID)
	if at.After(row.lastAccessed) {
		row.lastAccessed = at
	}
	return nil
}

// GetCourseProgress returns the aggregate or store.ErrNotFound.
func (s *ProgressStore) GetCourseProgress(_ context.Context, learner, courseID string) (store.CourseProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.courses[courseKey{learner: learner, courseID: courseID}]
	if !ok {
		return store.CourseProgress{}, store.ErrNotFound
	}
	var watched float64
	for _, lp := range row.lessons {
		watched += lp.WatchedSeconds
	}
	return store.CourseProgress{
		Learner:          learner,
		CourseID:         courseID,
		Percent:          row.percent,
		CompletedLessons: row.completed(),
		WatchMinutes:     watch.WatchMinutes(watched),
		LastAccessed:     row.lastAccessed,
	}, nil
}

// ListLessonProgress returns copies ordered by lesson id.
func (s *ProgressStore) ListLessonProgress(
	_ context.Context,
	learner, courseID string,
	limit, offset int,
) ([]store.LessonProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.courses[courseKey{learner: learner, courseID: courseID}]
	if !ok {
		return []store.LessonProgress{}, nil
	}
	out := make([]store.LessonProgress, 0, len(row.lessons))
	for _, lp := range row.lessons {
		if lp.CompletedAt != nil {
			completedAt := *lp.CompletedAt
			lp.CompletedAt = &completedAt
		}
		out = append(out, lp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessonID < out[j].LessonID })
	return page(out, limit, offset), nil
}

// CompletedLessons returns the sorted ids of completed lessons.
func (s *ProgressStore) CompletedLessons(_ context.Context, learner, courseID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.courses[courseKey{learner: learner, courseID: courseID}]
	if !ok {
		return []string{}, nil
	}
	return row.completed(), nil
}

func (row *courseRow) completed() []string {
	ids := make([]string, 0, len(row.lessons))
	for id, lp := range row.lessons {
		if lp.Completed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
