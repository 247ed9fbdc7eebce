package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lesson-progress-tracker/internal/progress"
	"github.com/JakeFAU/lesson-progress-tracker/internal/store"
)

// StoreSink persists progress via a store.ProgressRepository. Watch time and
// access updates are collapsed per batch to reduce write amplification.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type lessonKey struct {
	learner  string
	courseID string
	lessonID string
}

type courseKey struct {
	learner  string
	courseID string
}

type watchDelta struct {
	seconds float64
	at      time.Time
}

// Consume applies completions in order, then the largest watch time per
// lesson, then the latest access per course. It respects ctx deadlines and
// returns the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	watched := make(map[lessonKey]*watchDelta)
	var watchOrder []lessonKey
	accessed := make(map[courseKey]time.Time)
	var accessOrder []courseKey

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageLessonCompleted:
			if err := s.repo.MarkLessonComplete(ctx, evt.Learner, evt.CourseID, evt.LessonID, evt.CoursePercent, evt.TS); err != nil {
				return fmt.Errorf("mark lesson complete: %w", err)
			}
		case progress.StageAccessed:
			key := courseKey{learner: evt.Learner, courseID: evt.CourseID}
			prev, ok := accessed[key]
			if !ok {
				accessOrder = append(accessOrder, key)
			}
			if !ok || evt.TS.After(prev) {
				accessed[key] = evt.TS
			}
		}
		if recordsWatchTime(evt) {
			key := lessonKey{learner: evt.Learner, courseID: evt.CourseID, lessonID: evt.LessonID}
			delta := watched[key]
			if delta == nil {
				delta = &watchDelta{}
				watched[key] = delta
				watchOrder = append(watchOrder, key)
			}
			if evt.WatchedSeconds > delta.seconds {
				delta.seconds = evt.WatchedSeconds
			}
			if evt.TS.After(delta.at) {
				delta.at = evt.TS
			}
		}
	}

	for _, key := range watchOrder {
		delta := watched[key]
		if err := s.repo.UpsertWatchTime(ctx, key.learner, key.courseID, key.lessonID, delta.seconds, delta.at); err != nil {
			return fmt.Errorf("upsert watch time: %w", err)
		}
	}
	for _, key := range accessOrder {
		if err := s.repo.TouchCourse(ctx, key.learner, key.courseID, accessed[key]); err != nil {
			return fmt.Errorf("touch course: %w", err)
		}
	}
	return nil
}

func recordsWatchTime(evt progress.Event) bool {
	if evt.LessonID == "" || evt.WatchedSeconds <= 0 {
		return false
	}
	switch evt.Stage {
	case progress.StageWatchSync, progress.StageLessonCompleted, progress.StageSessionEnd:
		return true
	}
	return false
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
