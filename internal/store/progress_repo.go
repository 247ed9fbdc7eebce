// Package store declares interfaces for persisting learner progress.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// LessonProgress models one learner's progress on a single lesson.
type LessonProgress struct {
	// Learner is the authenticated viewer (email or subject).
	Learner string `json:"learner"`
	// CourseID scopes the lesson.
	CourseID string `json:"course_id"`
	// LessonID is the composite "<module>-<lesson>" identifier.
	LessonID string `json:"lesson_id"`
	// WatchedSeconds is the best cumulative estimate reported by any session.
	WatchedSeconds float64 `json:"watched_seconds"`
	// Completed flips once and never reverts.
	Completed bool `json:"completed"`
	// CompletedAt is nil until Completed is set.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// UpdatedAt records the last write.
	UpdatedAt time.Time `json:"updated_at"`
}

// CourseProgress aggregates a learner's progress across a course.
type CourseProgress struct {
	Learner          string    `json:"learner"`
	CourseID         string    `json:"course_id"`
	Percent          int       `json:"percent"`
	CompletedLessons []string  `json:"completed_lessons"`
	WatchMinutes     int       `json:"watch_minutes"`
	LastAccessed     time.Time `json:"last_accessed"`
}

// ProgressRepository persists learner progress produced by viewer sessions.
type ProgressRepository interface {
	// UpsertWatchTime records watched seconds for a lesson, keeping the larger value.
	UpsertWatchTime(ctx context.Context, learner, courseID, lessonID string, watchedSeconds float64, at time.Time) error
	// MarkLessonComplete flags a lesson complete and raises the course percent.
	MarkLessonComplete(ctx context.Context, learner, courseID, lessonID string, coursePercent int, at time.Time) error
	// TouchCourse records the last time the learner accessed the course.
	TouchCourse(ctx context.Context, learner, courseID string, at time.Time) error

	// GetCourseProgress loads the course aggregate or returns ErrNotFound.
	GetCourseProgress(ctx context.Context, learner, courseID string) (CourseProgress, error)
	// ListLessonProgress returns per-lesson rows ordered by lesson id.
	ListLessonProgress(ctx context.Context, learner, courseID string, limit, offset int) ([]LessonProgress, error)
	// CompletedLessons returns the sorted ids of completed lessons.
	CompletedLessons(ctx context.Context, learner, courseID string) ([]string, error)
}
