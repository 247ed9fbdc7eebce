package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/lesson-progress-tracker/internal/progress"
)

// LogSink writes one structured line per event. Milestones log at info;
// WATCH_SYNC and ACCESSED repeat for every active viewer and log at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps logger; nil discards.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func stageLevel(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageWatchSync, progress.StageAccessed:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// Consume logs the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		ce := s.logger.Check(stageLevel(evt.Stage), "progress event")
		if ce == nil {
			continue
		}
		fields := []zap.Field{
			zap.Stringer("session_id", evt.SessionUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.String("learner", evt.Learner),
			zap.String("course_id", evt.CourseID),
		}
		if evt.LessonID != "" {
			fields = append(fields,
				zap.String("lesson_id", evt.LessonID),
				zap.Float64("watched_seconds", evt.WatchedSeconds),
				zap.Int("watch_minutes", evt.WatchMinutes))
		}
		fields = append(fields, zap.Int("course_percent", evt.CoursePercent))
		if len(evt.CompletedLessons) > 0 {
			fields = append(fields, zap.Strings("completed_lessons", evt.CompletedLessons))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		ce.Write(fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
