package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/lesson-progress-tracker/internal/progress"
)

// PrometheusSink exports lesson progress metrics via Prometheus. It owns all
// collectors for sessions, completions, watch-time syncs and access updates.
type PrometheusSink struct {
	sessionsStarted  prometheus.Counter
	sessionsActive   prometheus.Gauge
	lessonsCompleted *prometheus.CounterVec
	watchSyncs       prometheus.Counter
	watchMinutes     prometheus.Histogram
	accessUpdates    prometheus.Counter

	tracker *sessionTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lesson_tracker_sessions_started_total",
			Help: "Total viewer sessions that have started.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lesson_tracker_sessions_active",
			Help: "Current number of open viewer sessions.",
		}),
		lessonsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lesson_tracker_lessons_completed_total",
			Help: "Lessons completed, partitioned by course.",
		}, []string{"course_id"}),
		watchSyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lesson_tracker_watch_syncs_total",
			Help: "Watch-time sync events emitted.",
		}),
		watchMinutes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lesson_tracker_watch_minutes",
			Help:    "Watched minutes per lesson at session end.",
			Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120},
		}),
		accessUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lesson_tracker_access_updates_total",
			Help: "Debounced last-accessed updates emitted.",
		}),
		tracker: newSessionTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.sessionsStarted,
		s.sessionsActive,
		s.lessonsCompleted,
		s.watchSyncs,
		s.watchMinutes,
		s.accessUpdates,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageSessionStart:
		s.sessionsStarted.Inc()
		if s.tracker.start(evt.SessionID) {
			s.sessionsActive.Inc()
		}
	case progress.StageSessionEnd:
		if s.tracker.end(evt.SessionID) {
			s.sessionsActive.Dec()
		}
		if evt.WatchedSeconds > 0 {
			s.watchMinutes.Observe(evt.WatchedSeconds / 60)
		}
	case progress.StageLessonCompleted:
		s.lessonsCompleted.WithLabelValues(evt.CourseID).Inc()
	case progress.StageWatchSync:
		s.watchSyncs.Inc()
	case progress.StageAccessed:
		s.accessUpdates.Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type sessionTracker struct {
	mu   sync.Mutex
	open map[[16]byte]struct{}
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{open: make(map[[16]byte]struct{})}
}

func (t *sessionTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.open[id]; ok {
		return false
	}
	t.open[id] = struct{}{}
	return true
}

func (t *sessionTracker) end(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.open[id]; !ok {
		return false
	}
	delete(t.open, id)
	return true
}
