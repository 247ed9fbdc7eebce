// Package progress defines the lesson progress events emitted by viewer sessions.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageSessionStart    Stage = "SESSION_START"
	StageLessonStart     Stage = "LESSON_START"
	StageLessonCompleted Stage = "LESSON_COMPLETED"
	StageWatchSync       Stage = "WATCH_SYNC"
	StageAccessed        Stage = "ACCESSED"
	StageSessionEnd      Stage = "SESSION_END"
)

// Event captures a single viewer progress milestone.
type Event struct {
	// SessionID identifies the viewer session using the 16-byte UUID form.
	SessionID [16]byte `json:"-"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Stage denotes which milestone occurred.
	Stage Stage `json:"stage"`
	// Learner is the authenticated viewer (email or subject).
	Learner string `json:"learner"`
	// CourseID scopes the event to a course.
	CourseID string `json:"course_id"`
	// LessonID is the composite "<module>-<lesson>" identifier; empty for session-level stages.
	LessonID string `json:"lesson_id,omitempty"`
	// WatchedSeconds is the cumulative estimate for the active lesson.
	WatchedSeconds float64 `json:"watched_seconds,omitempty"`
	// WatchMinutes is WatchedSeconds rounded to whole minutes.
	WatchMinutes int `json:"watch_minutes,omitempty"`
	// CoursePercent is the course-level completion after this event.
	CoursePercent int `json:"course_percent,omitempty"`
	// CompletedLessons lists every completed lesson for LESSON_COMPLETED events.
	CompletedLessons []string `json:"completed_lessons,omitempty"`
	// Note lets emitters attach low-volume debug context.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == [16]byte{} {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Learner == "" {
		return errors.New("learner is required")
	}
	if e.CourseID == "" {
		return errors.New("course id is required")
	}
	switch e.Stage {
	case StageSessionStart, StageSessionEnd, StageAccessed:
	case StageLessonStart, StageLessonCompleted, StageWatchSync:
		if e.LessonID == "" {
			return fmt.Errorf("%s requires lesson id", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.WatchedSeconds < 0 || e.WatchMinutes < 0 {
		return errors.New("watch time must be >= 0")
	}
	if e.CoursePercent < 0 || e.CoursePercent > 100 {
		return errors.New("course percent must be within [0, 100]")
	}
	return nil
}

// SessionUUID converts the binary session ID to uuid.UUID for repositories.
func (e Event) SessionUUID() uuid.UUID {
	return uuid.UUID(e.SessionID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
