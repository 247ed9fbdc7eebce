package tracker

import (
	"context"

	"github.com/google/uuid"
)

// CompletionLookup resolves the lessons a learner has already completed.
type CompletionLookup interface {
	CompletedLessons(ctx context.Context, learner, courseID string) ([]string, error)
}

// IDGenerator produces session identifiers.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}
