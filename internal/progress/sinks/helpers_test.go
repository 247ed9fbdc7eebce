package sinks

import (
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/lesson-progress-tracker/internal/progress"
)

func sampleEvent(stage progress.Stage) progress.Event {
	return progress.Event{
		SessionID: progress.UUIDToBytes(uuid.New()),
		TS:        time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Stage:     stage,
		Learner:   "ada@example.com",
		CourseID:  "42",
		LessonID:  "0-1",
	}
}
