package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/lesson-progress-tracker/internal/store"
	"github.com/JakeFAU/lesson-progress-tracker/internal/watch"
)

// ProgressStore implements store.ProgressRepository on SQLite. Timestamps are
// stored as Unix milliseconds.
type ProgressStore struct {
	db *sql.DB
}

var _ store.ProgressRepository = (*ProgressStore)(nil)

// NewProgressStore opens path, applies migrations and returns the store.
func NewProgressStore(ctx context.Context, path string) (*ProgressStore, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &ProgressStore{db: db}, nil
}

// Ping reports whether the database is reachable.
func (s *ProgressStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *ProgressStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func (s *ProgressStore) ensureCourse(ctx context.Context, tx *sql.Tx, learner, courseID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO course_progress (learner, course_id, percent)
		VALUES (?, ?, 0)
		ON CONFLICT (learner, course_id) DO NOTHING`, learner, courseID)
	if err != nil {
		return fmt.Errorf("failed to ensure course row: %w", err)
	}
	return nil
}

func (s *ProgressStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpsertWatchTime stores the larger of the existing and reported watched seconds.
func (s *ProgressStore) UpsertWatchTime(
	ctx context.Context,
	learner, courseID, lessonID string,
	watchedSeconds float64,
	at time.Time,
) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureCourse(ctx, tx, learner, courseID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lesson_progress (learner, course_id, lesson_id, watched_seconds, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (learner, course_id, lesson_id) DO UPDATE
			SET watched_seconds = MAX(lesson_progress.watched_seconds, excluded.watched_seconds),
				updated_at = excluded.updated_at`,
			learner, courseID, lessonID, watchedSeconds, millis(at))
		if err != nil {
			return fmt.Errorf("failed to upsert watch time: %w", err)
		}
		return nil
	})
}

// MarkLessonComplete flags the lesson complete and raises the course percent.
func (s *ProgressStore) MarkLessonComplete(
	ctx context.Context,
	learner, courseID, lessonID string,
	coursePercent int,
	at time.Time,
) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO course_progress (learner, course_id, percent)
			VALUES (?, ?, ?)
			ON CONFLICT (learner, course_id) DO UPDATE
			SET percent = MAX(course_progress.percent, excluded.percent)`,
			learner, courseID, coursePercent)
		if err != nil {
			return fmt.Errorf("failed to update course percent: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO lesson_progress (learner, course_id, lesson_id, completed, completed_at, updated_at)
			VALUES (?, ?, ?, 1, ?, ?)
			ON CONFLICT (learner, course_id, lesson_id) DO UPDATE
			SET completed = 1,
				completed_at = COALESCE(lesson_progress.completed_at, excluded.completed_at),
				updated_at = excluded.updated_at`,
			learner, courseID, lessonID, millis(at), millis(at))
		if err != nil {
			return fmt.Errorf("failed to mark lesson complete: %w", err)
		}
		return nil
	})
}

// TouchCourse records the most recent access time.
func (s *ProgressStore) TouchCourse(ctx context.Context, learner, courseID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO course_progress (learner, course_id, percent, last_accessed)
		VALUES (?, ?, 0, ?)
		ON CONFLICT (learner, course_id) DO UPDATE
		SET last_accessed = MAX(COALESCE(course_progress.last_accessed, 0), excluded.last_accessed)`,
		learner, courseID, millis(at))
	if err != nil {
		return fmt.Errorf("failed to touch course: %w", err)
	}
	return nil
}

// GetCourseProgress loads the course aggregate or returns store.ErrNotFound.
func (s *ProgressStore) GetCourseProgress(ctx context.Context, learner, courseID string) (store.CourseProgress, error) {
	var (
		percent      int
		lastAccessed sql.NullInt64
		watched      float64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT c.percent, c.last_accessed, COALESCE(SUM(l.watched_seconds), 0)
		FROM course_progress c
		LEFT JOIN lesson_progress l ON l.learner = c.learner AND l.course_id = c.course_id
		WHERE c.learner = ? AND c.course_id = ?
		GROUP BY c.learner, c.course_id`, learner, courseID).Scan(&percent, &lastAccessed, &watched)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.CourseProgress{}, store.ErrNotFound
		}
		return store.CourseProgress{}, fmt.Errorf("failed to get course progress: %w", err)
	}
	completed, err := s.CompletedLessons(ctx, learner, courseID)
	if err != nil {
		return store.CourseProgress{}, err
	}
	progress := store.CourseProgress{
		Learner:          learner,
		CourseID:         courseID,
		Percent:          percent,
		CompletedLessons: completed,
		WatchMinutes:     watch.WatchMinutes(watched),
	}
	if lastAccessed.Valid {
		progress.LastAccessed = fromMillis(lastAccessed.Int64)
	}
	return progress, nil
}

// ListLessonProgress returns per-lesson rows ordered by lesson id. A limit
// of zero or less returns every row.
func (s *ProgressStore) ListLessonProgress(
	ctx context.Context,
	learner, courseID string,
	limit, offset int,
) ([]store.LessonProgress, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT lesson_id, watched_seconds, completed, completed_at, updated_at
		FROM lesson_progress
		WHERE learner = ? AND course_id = ?
		ORDER BY lesson_id
		LIMIT ? OFFSET ?`, learner, courseID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list lesson progress: %w", err)
	}
	defer rows.Close()

	lessons := []store.LessonProgress{}
	for rows.Next() {
		var (
			lp          = store.LessonProgress{Learner: learner, CourseID: courseID}
			completedAt sql.NullInt64
			updatedAt   int64
		)
		if err := rows.Scan(&lp.LessonID, &lp.WatchedSeconds, &lp.Completed, &completedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lesson progress row: %w", err)
		}
		if completedAt.Valid {
			ts := fromMillis(completedAt.Int64)
			lp.CompletedAt = &ts
		}
		lp.UpdatedAt = fromMillis(updatedAt)
		lessons = append(lessons, lp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lesson progress rows: %w", err)
	}
	return lessons, nil
}

// CompletedLessons returns the sorted ids of completed lessons.
func (s *ProgressStore) CompletedLessons(ctx context.Context, learner, courseID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lesson_id FROM lesson_progress
		WHERE learner = ? AND course_id = ? AND completed = 1
		ORDER BY lesson_id`, learner, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed lessons: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan completed lesson: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate completed lessons: %w", err)
	}
	return ids, nil
}
