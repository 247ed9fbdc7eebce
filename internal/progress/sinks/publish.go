package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/lesson-progress-tracker/internal/progress"
)

// Publisher sends one message to a topic.
type Publisher interface {
	Publish(ctx context.Context, payload any, attrs map[string]string) (string, error)
}

// envelope is the wire form shared by the publish and archive sinks.
type envelope struct {
	SessionID string `json:"session_id"`
	progress.Event
}

func wrap(evt progress.Event) envelope {
	return envelope{SessionID: evt.SessionUUID().String(), Event: evt}
}

// PublishSink publishes every event as JSON. Messages carry stage and
// course_id attributes so subscribers can filter server-side.
type PublishSink struct {
	pub Publisher
}

// NewPublishSink constructs a PublishSink.
func NewPublishSink(pub Publisher) *PublishSink {
	return &PublishSink{pub: pub}
}

// Consume publishes each event, joining any errors.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		attrs := map[string]string{
			"stage":     string(evt.Stage),
			"course_id": evt.CourseID,
		}
		if _, err := s.pub.Publish(ctx, wrap(evt), attrs); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", evt.Stage, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; the publisher is closed by its owner.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
