package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/lesson-progress-tracker/internal/clock"
	"github.com/JakeFAU/lesson-progress-tracker/internal/course"
	"github.com/JakeFAU/lesson-progress-tracker/internal/progress"
	"github.com/JakeFAU/lesson-progress-tracker/internal/watch"
)

// ErrSessionNotFound is returned for unknown or ended sessions.
var ErrSessionNotFound = errors.New("session not found")

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("tracker closed")

// ErrInvalidRequest wraps StartRequest validation failures.
var ErrInvalidRequest = errors.New("invalid session request")

const (
	defaultAccessDebounce = 2 * time.Second
	defaultIdleTimeout    = 30 * time.Minute
	defaultReapInterval   = time.Minute
	defaultLookupTimeout  = 5 * time.Second
)

// Config controls session behaviour.
type Config struct {
	Watch          watch.Config
	PlayerOrigin   string
	AccessDebounce time.Duration
	IdleTimeout    time.Duration
	ReapInterval   time.Duration
	LookupTimeout  time.Duration
	Logger         *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.PlayerOrigin == "" {
		c.PlayerOrigin = watch.DefaultPlayerOrigin
	}
	if c.AccessDebounce <= 0 {
		c.AccessDebounce = defaultAccessDebounce
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = defaultReapInterval
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = defaultLookupTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// StartRequest describes a new viewer session.
type StartRequest struct {
	Learner      string
	CourseID     string
	TotalLessons int
	Lesson       course.Position
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	SessionID        uuid.UUID
	Learner          string
	CourseID         string
	LessonID         string
	WatchedSeconds   float64
	LessonComplete   bool
	CompletedLessons []string
	CoursePercent    int
}

// Manager owns all live viewer sessions.
type Manager struct {
	cfg     Config
	clock   clock.Clock
	emitter progress.Emitter
	lookup  CompletionLookup
	ids     IDGenerator
	parser  watch.Parser
	logger  *zap.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*session
	reaper   clock.Timer
	closed   bool
}

// New constructs a Manager and starts the idle-session reaper. lookup may be
// nil, in which case every session starts with nothing completed.
func New(cfg Config, clk clock.Clock, emitter progress.Emitter, lookup CompletionLookup, ids IDGenerator) (*Manager, error) {
	if clk == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("emitter is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:      cfg,
		clock:    clk,
		emitter:  emitter,
		lookup:   lookup,
		ids:      ids,
		parser:   watch.Parser{Origin: cfg.PlayerOrigin},
		logger:   cfg.Logger.Named("tracker"),
		sessions: make(map[uuid.UUID]*session),
	}
	m.mu.Lock()
	m.reaper = m.clock.AfterFunc(cfg.ReapInterval, m.reap)
	m.mu.Unlock()
	return m, nil
}

// Start opens a session positioned on req.Lesson. A failing completion lookup
// is logged and the session starts with nothing completed.
func (m *Manager) Start(ctx context.Context, req StartRequest) (Snapshot, error) {
	req.Learner = strings.TrimSpace(req.Learner)
	req.CourseID = strings.TrimSpace(req.CourseID)
	switch {
	case req.Learner == "":
		return Snapshot{}, fmt.Errorf("%w: learner is required", ErrInvalidRequest)
	case req.CourseID == "":
		return Snapshot{}, fmt.Errorf("%w: course id is required", ErrInvalidRequest)
	case req.TotalLessons < 0:
		return Snapshot{}, fmt.Errorf("%w: total lessons must be >= 0", ErrInvalidRequest)
	case req.Lesson.Module < 0 || req.Lesson.Lesson < 0:
		return Snapshot{}, fmt.Errorf("%w: %s", course.ErrInvalidLessonID, req.Lesson.ID())
	}
	id, err := m.ids.NewRawID()
	if err != nil {
		return Snapshot{}, fmt.Errorf("generate session id: %w", err)
	}

	completed := m.resolveCompleted(ctx, req.Learner, req.CourseID)
	lessonID := req.Lesson.ID()
	_, done := completed[lessonID]
	s := &session{
		id:           id,
		learner:      req.Learner,
		courseID:     req.CourseID,
		totalLessons: req.TotalLessons,
		estimator:    watch.NewEstimator(m.cfg.Watch, lessonID, done),
		completed:    completed,
	}
	s.touch(m.clock.Now())

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	m.sessions[id] = s
	m.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	now := m.clock.Now()
	m.emit(s.event(progress.StageSessionStart, now))
	m.emit(s.event(progress.StageLessonStart, now))
	m.scheduleAccess(s)
	m.logger.Debug("session started",
		zap.String("session_id", id.String()),
		zap.String("course_id", s.courseID),
		zap.String("lesson_id", lessonID),
		zap.Int("completed", len(completed)))
	return s.snapshot(), nil
}

func (m *Manager) resolveCompleted(ctx context.Context, learner, courseID string) map[string]struct{} {
	completed := make(map[string]struct{})
	if m.lookup == nil {
		return completed
	}
	lookupCtx, cancel := context.WithTimeout(ctx, m.cfg.LookupTimeout)
	defer cancel()
	ids, err := m.lookup.CompletedLessons(lookupCtx, learner, courseID)
	if err != nil {
		m.logger.Warn("completion lookup failed; starting with no completed lessons",
			zap.String("course_id", courseID),
			zap.Error(err))
		return completed
	}
	for _, raw := range ids {
		pos, err := course.ParseLessonID(strings.TrimSpace(raw))
		if err != nil {
			m.logger.Warn("ignoring malformed completed lesson id",
				zap.String("course_id", courseID),
				zap.String("lesson_id", raw))
			continue
		}
		completed[pos.ID()] = struct{}{}
	}
	return completed
}

// Switch moves the session to lesson, resetting the estimator.
func (m *Manager) Switch(_ context.Context, id uuid.UUID, lesson course.Position) (Snapshot, error) {
	if lesson.Module < 0 || lesson.Lesson < 0 {
		return Snapshot{}, fmt.Errorf("%w: %s", course.ErrInvalidLessonID, lesson.ID())
	}
	s, err := m.acquire(id)
	if err != nil {
		return Snapshot{}, err
	}
	defer s.mu.Unlock()

	lessonID := lesson.ID()
	_, done := s.completed[lessonID]
	s.estimator.Switch(lessonID, done)
	now := m.clock.Now()
	s.touch(now)
	m.emit(s.event(progress.StageLessonStart, now))
	m.scheduleAccess(s)
	return s.snapshot(), nil
}

// Observe feeds one player sample to the session's estimator.
func (m *Manager) Observe(id uuid.UUID, sample watch.Sample) (Snapshot, error) {
	s, err := m.acquire(id)
	if err != nil {
		return Snapshot{}, err
	}
	defer s.mu.Unlock()
	m.observeLocked(s, sample)
	return s.snapshot(), nil
}

// ObserveMessage parses a raw player message and observes it. ok is false
// when the message was noise.
func (m *Manager) ObserveMessage(id uuid.UUID, origin string, data []byte) (Snapshot, bool, error) {
	s, err := m.acquire(id)
	if err != nil {
		return Snapshot{}, false, err
	}
	defer s.mu.Unlock()
	sample, ok := m.parser.Parse(origin, data)
	if !ok {
		return s.snapshot(), false, nil
	}
	m.observeLocked(s, sample)
	return s.snapshot(), true, nil
}

func (m *Manager) observeLocked(s *session, sample watch.Sample) {
	now := m.clock.Now()
	s.touch(now)
	for _, evt := range s.estimator.Observe(sample) {
		switch evt.Kind {
		case watch.KindLessonCompleted:
			s.completed[evt.LessonID] = struct{}{}
			m.emit(s.event(progress.StageLessonCompleted, now))
		case watch.KindSyncWatchTime:
			out := s.event(progress.StageWatchSync, now)
			out.WatchedSeconds = evt.WatchedSeconds
			out.WatchMinutes = evt.Minutes
			m.emit(out)
		}
	}
	m.scheduleAccess(s)
}

// Snapshot returns the current state of a session.
func (m *Manager) Snapshot(id uuid.UUID) (Snapshot, error) {
	s, err := m.acquire(id)
	if err != nil {
		return Snapshot{}, err
	}
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

// End closes the session. A pending access update is flushed first.
func (m *Manager) End(id uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	m.finish(s, "")
	return nil
}

func (m *Manager) finish(s *session, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	now := m.clock.Now()
	if s.accessTimer != nil && s.accessTimer.Stop() {
		m.emit(s.event(progress.StageAccessed, now))
	}
	s.accessTimer = nil
	evt := s.event(progress.StageSessionEnd, now)
	evt.Note = note
	m.emit(evt)
	m.logger.Debug("session ended",
		zap.String("session_id", s.id.String()),
		zap.String("note", note))
}

// Active reports the number of live sessions.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close ends every session and stops the reaper. It is safe to call multiple times.
func (m *Manager) Close(_ context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.reaper != nil {
		m.reaper.Stop()
	}
	sessions := make([]*session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		m.finish(s, "shutdown")
	}
	return nil
}

func (m *Manager) acquire(id uuid.UUID) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) scheduleAccess(s *session) {
	if s.accessTimer != nil {
		s.accessTimer.Stop()
	}
	s.accessTimer = m.clock.AfterFunc(m.cfg.AccessDebounce, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.ended {
			return
		}
		s.accessTimer = nil
		m.emit(s.event(progress.StageAccessed, m.clock.Now()))
	})
}

func (m *Manager) reap() {
	cutoff := m.clock.Now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	var idle []*session
	for id, s := range m.sessions {
		if s.lastActivity().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.reaper = m.clock.AfterFunc(m.cfg.ReapInterval, m.reap)
	m.mu.Unlock()

	for _, s := range idle {
		m.finish(s, "idle timeout")
	}
	if len(idle) > 0 {
		m.logger.Info("reaped idle sessions", zap.Int("count", len(idle)))
	}
}

func (m *Manager) emit(evt progress.Event) {
	m.emitter.Emit(evt)
}

type session struct {
	mu           sync.Mutex
	id           uuid.UUID
	learner      string
	courseID     string
	totalLessons int
	estimator    *watch.Estimator
	completed    map[string]struct{}
	accessTimer  clock.Timer
	ended        bool
	lastSeen     atomic.Int64
}

func (s *session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *session) lastActivity() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *session) completedList() []string {
	ids := make([]string, 0, len(s.completed))
	for id := range s.completed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *session) percent() int {
	return course.Percent(len(s.completed), s.totalLessons)
}

func (s *session) event(stage progress.Stage, now time.Time) progress.Event {
	state := s.estimator.State()
	evt := progress.Event{
		SessionID:      progress.UUIDToBytes(s.id),
		TS:             now,
		Stage:          stage,
		Learner:        s.learner,
		CourseID:       s.courseID,
		LessonID:       state.LessonID,
		WatchedSeconds: state.CumulativeWatchedSeconds,
		WatchMinutes:   watch.WatchMinutes(state.CumulativeWatchedSeconds),
		CoursePercent:  s.percent(),
	}
	if stage == progress.StageLessonCompleted {
		evt.CompletedLessons = s.completedList()
	}
	return evt
}

func (s *session) snapshot() Snapshot {
	state := s.estimator.State()
	return Snapshot{
		SessionID:        s.id,
		Learner:          s.learner,
		CourseID:         s.courseID,
		LessonID:         state.LessonID,
		WatchedSeconds:   state.CumulativeWatchedSeconds,
		LessonComplete:   state.IsComplete,
		CompletedLessons: s.completedList(),
		CoursePercent:    s.percent(),
	}
}
