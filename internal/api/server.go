package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/lesson-progress-tracker/internal/auth"
	"github.com/JakeFAU/lesson-progress-tracker/internal/metrics"
	"github.com/JakeFAU/lesson-progress-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/lesson-progress-tracker/internal/store"
	"github.com/JakeFAU/lesson-progress-tracker/internal/telemetry"
)

// LearnerHeader carries the learner id when authentication is disabled.
const LearnerHeader = "X-Learner-ID"

const requestTimeout = 30 * time.Second

// ReadyFunc reports whether a downstream dependency can serve traffic.
type ReadyFunc func(ctx context.Context) error

// Deps bundles everything the Server needs. Tracker is required; the rest are
// optional and disable their routes or checks when nil.
type Deps struct {
	Tracker  Tracker
	Catalog  CourseCatalog
	Progress store.ProgressRepository
	Verifier *auth.Verifier
	Limiter  *ratelimit.Limiter
	Ready    []ReadyFunc
	Logger   *zap.Logger
}

// Server wires HTTP handlers to the tracker and progress repository.
type Server struct {
	router   chi.Router
	sessions *SessionHandler
	progress *ProgressHandler
	ready    []ReadyFunc
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. With a nil
// Verifier the learner is read from the X-Learner-ID header.
func NewServer(deps Deps) (*Server, error) {
	if deps.Tracker == nil {
		return nil, errors.New("tracker is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sessions: NewSessionHandler(deps.Tracker, deps.Catalog, logger.Named("sessions")),
		progress: NewProgressHandler(deps.Progress, logger.Named("progress")),
		ready:    deps.Ready,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(telemetry.Middleware(nil))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(learnerMiddleware(deps.Verifier))
		r.Route("/v1/sessions", func(r chi.Router) {
			r.Use(rateLimitMiddleware(deps.Limiter))
			r.Post("/", s.sessions.Start)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/", s.sessions.Get)
				r.Delete("/", s.sessions.End)
				r.Post("/lesson", s.sessions.Switch)
				r.Post("/samples", s.sessions.Sample)
				r.Post("/messages", s.sessions.Message)
			})
		})
		r.Route("/api/courses/{course_id}", func(r chi.Router) {
			r.Get("/progress", s.progress.GetCourseProgress)
			r.Get("/lessons", s.progress.ListLessons)
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, check := range s.ready {
		if check == nil {
			continue
		}
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				zap.String("request_id", requestIDFrom(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

// learnerMiddleware resolves the caller. A nil verifier trusts X-Learner-ID.
func learnerMiddleware(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var learner string
			if verifier == nil {
				learner = strings.TrimSpace(r.Header.Get(LearnerHeader))
			} else {
				token, err := auth.BearerToken(r.Header.Get("Authorization"))
				if err == nil {
					learner, err = verifier.Learner(token)
				}
				if err != nil {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
			}
			if learner == "" {
				writeError(w, http.StatusUnauthorized, "learner identity required")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithLearner(r.Context(), learner)))
		})
	}
}

func rateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			learner, _ := auth.LearnerFrom(r.Context())
			if !limiter.Allow(learner) {
				metrics.ObserveRateLimited(metrics.RoutePattern(r))
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
