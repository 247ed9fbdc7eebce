package watch

import "math"

// Default tuning values. They mirror the product rules of the course player and
// can be overridden through Config.
const (
	DefaultCompletionThresholdPct = 80.0
	DefaultSyncIntervalSeconds    = 30.0
	DefaultMaxPlausibleDelta      = 30.0
)

// Config tunes an Estimator.
//   - CompletionThresholdPct: watched percentage at which a lesson completes (default 80).
//   - SyncIntervalSeconds: cumulative watch-time boundary between sync heartbeats (default 30).
//   - MaxPlausibleDeltaSeconds: exclusive upper bound for an accepted delta (default 30).
type Config struct {
	CompletionThresholdPct   float64
	SyncIntervalSeconds      float64
	MaxPlausibleDeltaSeconds float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		CompletionThresholdPct:   DefaultCompletionThresholdPct,
		SyncIntervalSeconds:      DefaultSyncIntervalSeconds,
		MaxPlausibleDeltaSeconds: DefaultMaxPlausibleDelta,
	}
}

func (c Config) withDefaults() Config {
	if !isPositive(c.CompletionThresholdPct) {
		c.CompletionThresholdPct = DefaultCompletionThresholdPct
	}
	if !isPositive(c.SyncIntervalSeconds) {
		c.SyncIntervalSeconds = DefaultSyncIntervalSeconds
	}
	if !isPositive(c.MaxPlausibleDeltaSeconds) {
		c.MaxPlausibleDeltaSeconds = DefaultMaxPlausibleDelta
	}
	return c
}

// Sample is one position report from the player. Values are untrusted.
type Sample struct {
	CurrentTime float64
	Duration    float64
}

// EventKind identifies the events an Estimator reports.
type EventKind string

// Supported event kinds.
const (
	KindLessonCompleted EventKind = "LESSON_COMPLETED"
	KindSyncWatchTime   EventKind = "SYNC_WATCH_TIME"
)

// Event is produced by Observe.
type Event struct {
	Kind     EventKind
	LessonID string
	// Minutes is the rounded cumulative watch time; set for KindSyncWatchTime.
	Minutes int
	// WatchedSeconds is the cumulative estimate at the time of the event.
	WatchedSeconds float64
}

// State is a snapshot of the per-lesson estimate.
type State struct {
	LessonID                 string
	CumulativeWatchedSeconds float64
	LastSampleTimestamp      float64
	IsComplete               bool
}

// Estimator tracks watch progress for the active lesson of one viewer session.
// It is not safe for concurrent use; callers serialize samples.
type Estimator struct {
	cfg         Config
	state       State
	syncedSlots int
}

// NewEstimator returns an Estimator positioned on lessonID. completed carries
// the persisted completion flag for that lesson.
func NewEstimator(cfg Config, lessonID string, completed bool) *Estimator {
	e := &Estimator{cfg: cfg.withDefaults()}
	e.Switch(lessonID, completed)
	return e
}

// Config returns the effective configuration.
func (e *Estimator) Config() Config {
	return e.cfg
}

// State returns a copy of the current estimate.
func (e *Estimator) State() State {
	return e.state
}

// Switch makes lessonID the active lesson. Watch time and the reference
// timestamp restart at zero; completion is taken from the caller.
func (e *Estimator) Switch(lessonID string, completed bool) {
	e.state = State{
		LessonID:   lessonID,
		IsComplete: completed,
	}
	e.syncedSlots = 0
}

// Observe folds one sample into the estimate and returns the events it
// triggered, in order. Invalid samples yield no events and leave state intact.
func (e *Estimator) Observe(s Sample) []Event {
	if !isPositive(s.Duration) || !isFinite(s.CurrentTime) || s.CurrentTime < 0 {
		return nil
	}

	delta := s.CurrentTime - e.state.LastSampleTimestamp
	if delta > 0 && delta < e.cfg.MaxPlausibleDeltaSeconds {
		e.state.CumulativeWatchedSeconds += delta
	}
	e.state.LastSampleTimestamp = s.CurrentTime

	var events []Event
	watchPct := s.CurrentTime / s.Duration * 100
	if watchPct >= e.cfg.CompletionThresholdPct && !e.state.IsComplete {
		e.state.IsComplete = true
		events = append(events, Event{
			Kind:           KindLessonCompleted,
			LessonID:       e.state.LessonID,
			Minutes:        e.minutes(),
			WatchedSeconds: e.state.CumulativeWatchedSeconds,
		})
	}

	slots := int(math.Floor(e.state.CumulativeWatchedSeconds / e.cfg.SyncIntervalSeconds))
	for e.syncedSlots < slots {
		e.syncedSlots++
		events = append(events, Event{
			Kind:           KindSyncWatchTime,
			LessonID:       e.state.LessonID,
			Minutes:        e.minutes(),
			WatchedSeconds: e.state.CumulativeWatchedSeconds,
		})
	}
	return events
}

// WatchMinutes converts seconds to whole minutes, rounding half away from zero.
func WatchMinutes(seconds float64) int {
	if !isFinite(seconds) || seconds <= 0 {
		return 0
	}
	return int(math.Round(seconds / 60))
}

func (e *Estimator) minutes() int {
	return WatchMinutes(e.state.CumulativeWatchedSeconds)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func isPositive(v float64) bool {
	return isFinite(v) && v > 0
}
