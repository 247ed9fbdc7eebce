package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/lesson-progress-tracker/internal/backend"
	"github.com/JakeFAU/lesson-progress-tracker/internal/progress"
)

// ProgressUpdater is the subset of the remote course API used by BackendSink.
type ProgressUpdater interface {
	UpdateProgress(ctx context.Context, update backend.ProgressUpdate) error
	UpdateAccess(ctx context.Context, learner, courseID string, at time.Time) error
}

// BackendSink forwards completions, watch-time syncs and access updates to
// the remote course API. Failed calls are not retried.
type BackendSink struct {
	api ProgressUpdater
}

// NewBackendSink constructs a BackendSink.
func NewBackendSink(api ProgressUpdater) *BackendSink {
	return &BackendSink{api: api}
}

// Consume issues one call per relevant event and joins any errors so a
// failing learner does not block the rest of the batch.
func (s *BackendSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.api == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if err := s.forward(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("%s %s/%s: %w", evt.Stage, evt.CourseID, evt.LessonID, err))
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
	}
	return errors.Join(errs...)
}

func (s *BackendSink) forward(ctx context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageLessonCompleted:
		percent := evt.CoursePercent
		return s.api.UpdateProgress(ctx, backend.ProgressUpdate{
			CourseID:         evt.CourseID,
			Email:            evt.Learner,
			Progress:         &percent,
			CompletedLessons: evt.CompletedLessons,
			LastAccessed:     evt.TS.UTC(),
			WatchTime:        evt.WatchMinutes,
		})
	case progress.StageWatchSync:
		return s.api.UpdateProgress(ctx, backend.ProgressUpdate{
			CourseID:     evt.CourseID,
			Email:        evt.Learner,
			LastAccessed: evt.TS.UTC(),
			WatchTime:    evt.WatchMinutes,
		})
	case progress.StageAccessed:
		return s.api.UpdateAccess(ctx, evt.Learner, evt.CourseID, evt.TS)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *BackendSink) Close(context.Context) error {
	return nil
}
