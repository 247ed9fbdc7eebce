// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/lesson-progress-tracker/internal/store"
	"github.com/JakeFAU/lesson-progress-tracker/internal/watch"
)

// Schema creates the tables used by ProgressStore.
const Schema = `
CREATE TABLE IF NOT EXISTS course_progress (
	learner       TEXT        NOT NULL,
	course_id     TEXT        NOT NULL,
	percent       INTEGER     NOT NULL DEFAULT 0,
	last_accessed TIMESTAMPTZ,
	PRIMARY KEY (learner, course_id)
);
CREATE TABLE IF NOT EXISTS lesson_progress (
	learner         TEXT             NOT NULL,
	course_id       TEXT             NOT NULL,
	lesson_id       TEXT             NOT NULL,
	watched_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	completed       BOOLEAN          NOT NULL DEFAULT FALSE,
	completed_at    TIMESTAMPTZ,
	updated_at      TIMESTAMPTZ      NOT NULL,
	PRIMARY KEY (learner, course_id, lesson_id)
);`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// ProgressStore implements the store.ProgressRepository interface using Postgres.
type ProgressStore struct {
	pool querier
}

var _ store.ProgressRepository = (*ProgressStore)(nil)

// NewProgressStore creates a ProgressStore from cfg and verifies connectivity.
func NewProgressStore(ctx context.Context, cfg Config) (*ProgressStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &ProgressStore{pool: pool}, nil
}

// NewProgressStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProgressStoreWithPool(pool querier) (*ProgressStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProgressStore{pool: pool}, nil
}

// Migrate applies Schema. Statements are idempotent.
func (s *ProgressStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *ProgressStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *ProgressStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const ensureCourseSQL = `
	INSERT INTO course_progress (learner, course_id, percent)
	VALUES ($1, $2, 0)
	ON CONFLICT (learner, course_id) DO NOTHING;
`

func (s *ProgressStore) ensureCourse(ctx context.Context, learner, courseID string) error {
	if _, err := s.pool.Exec(ctx, ensureCourseSQL, learner, courseID); err != nil {
		return fmt.Errorf("failed to ensure course row: %w", err)
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
	if err := s.ensureCourse(ctx, learner, courseID); err != nil {
		return err
	}
	query := `
		INSERT INTO lesson_progress (learner, course_id, lesson_id, watched_seconds, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (learner, course_id, lesson_id) DO UPDATE
		SET watched_seconds = GREATEST(lesson_progress.watched_seconds, EXCLUDED.watched_seconds),
			updated_at = EXCLUDED.updated_at;
	`
	if _, err := s.pool.Exec(ctx, query, learner, courseID, lessonID, watchedSeconds, at); err != nil {
		return fmt.Errorf("failed to upsert watch time: %w", err)
	}
	return nil
}

// MarkLessonComplete flags the lesson complete and raises the course percent.
func (s *ProgressStore) MarkLessonComplete(
	ctx context.Context,
	learner, courseID, lessonID string,
	coursePercent int,
	at time.Time,
) error {
	lessonQuery := `
		INSERT INTO lesson_progress (learner, course_id, lesson_id, completed, completed_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $4)
		ON CONFLICT (learner, course_id, lesson_id) DO UPDATE
		SET completed = TRUE,
			completed_at = COALESCE(lesson_progress.completed_at, EXCLUDED.completed_at),
			updated_at = EXCLUDED.updated_at;
	`
	if _, err := s.pool.Exec(ctx, lessonQuery, learner, courseID, lessonID, at); err != nil {
		return fmt.Errorf("failed to mark lesson complete: %w", err)
	}
	courseQuery := `
		INSERT INTO course_progress (learner, course_id, percent)
		VALUES ($1, $2, $3)
		ON CONFLICT (learner, course_id) DO UPDATE
		SET percent = GREATEST(course_progress.percent, EXCLUDED.percent);
	`
	if _, err := s.pool.Exec(ctx, courseQuery, learner, courseID, coursePercent); err != nil {
		return fmt.Errorf("failed to update course percent: %w", err)
	}
	return nil
}

// TouchCourse records the most recent access time.
func (s *ProgressStore) TouchCourse(ctx context.Context, learner, courseID string, at time.Time) error {
	query := `
		INSERT INTO course_progress (learner, course_id, percent, last_accessed)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (learner, course_id) DO UPDATE
		SET last_accessed = GREATEST(course_progress.last_accessed, EXCLUDED.last_accessed);
	`
	if _, err := s.pool.Exec(ctx, query, learner, courseID, at); err != nil {
		return fmt.Errorf("failed to touch course: %w", err)
	}
	return nil
}

// GetCourseProgress loads the course aggregate or returns store.ErrNotFound.
func (s *ProgressStore) GetCourseProgress(ctx context.Context, learner, courseID string) (store.CourseProgress, error) {
	query := `
		SELECT c.percent, c.last_accessed, COALESCE(SUM(l.watched_seconds), 0)
		FROM course_progress c
		LEFT JOIN lesson_progress l ON l.learner = c.learner AND l.course_id = c.course_id
		WHERE c.learner = $1 AND c.course_id = $2
		GROUP BY c.percent, c.last_accessed;
	`
	var (
		percent      int
		lastAccessed *time.Time
		watched      float64
	)
	err := s.pool.QueryRow(ctx, query, learner, courseID).Scan(&percent, &lastAccessed, &watched)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
	if lastAccessed != nil {
		progress.LastAccessed = *lastAccessed
	}
	return progress, nil
}

// ListLessonProgress returns per-lesson rows ordered by lesson id.
func (s *ProgressStore) ListLessonProgress(
	ctx context.Context,
	learner, courseID string,
	limit,
	offset int,
) ([]store.LessonProgress, error) {
	query := `
		SELECT lesson_id, watched_seconds, completed, completed_at, updated_at
		FROM lesson_progress
		WHERE learner = $1 AND course_id = $2
		ORDER BY lesson_id
		LIMIT $3 OFFSET $4;
	`
	rows, err := s.pool.Query(ctx, query, learner, courseID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list lesson progress: %w", err)
	}
	defer rows.Close()

	lessons := []store.LessonProgress{}
	for rows.Next() {
		lp := store.LessonProgress{Learner: learner, CourseID: courseID}
		if err := rows.Scan(&lp.LessonID, &lp.WatchedSeconds, &lp.Completed, &lp.CompletedAt, &lp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lesson progress row: %w", err)
		}
		lessons = append(lessons, lp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lesson progress rows: %w", err)
	}
	return lessons, nil
}

// CompletedLessons returns the sorted ids of completed lessons.
func (s *ProgressStore) CompletedLessons(ctx context.Context, learner, courseID string) ([]string, error) {
	query := `
		SELECT lesson_id
		FROM lesson_progress
		WHERE learner = $1 AND course_id = $2 AND completed
		ORDER BY lesson_id;
	`
	rows, err := s.pool.Query(ctx, query, learner, courseID)
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
