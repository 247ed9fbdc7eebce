// Package backend is a client for the remote course API that owns enrollment
// and the persisted learner progress.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/lesson-progress-tracker/internal/course"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

// Config controls the remote API client.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

// StatusError reports a non-2xx response from the remote API.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Enrollment is the enrollment state for one learner and course.
type Enrollment struct {
	Enrolled         bool
	Progress         int
	CompletedLessons []string
}

// ProgressUpdate is the body of /user/updateprogress. Progress and
// CompletedLessons are omitted for watch-time-only updates.
type ProgressUpdate struct {
	CourseID         string    `json:"courseId"`
	Email            string    `json:"email"`
	Progress         *int      `json:"progress,omitempty"`
	CompletedLessons []string  `json:"completedLessons,omitempty"`
	LastAccessed     time.Time `json:"lastAccessed"`
	WatchTime        int       `json:"watchTime"`
}

// Client talks to the remote course API. Calls are rate limited and share one
// http.Client.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New validates cfg and constructs a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("backend.base_url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend.base_url must be an absolute URL: %q", cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:    base,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

type enrollmentRequest struct {
	CourseID string `json:"courseId"`
	Email    string `json:"email"`
}

type enrollmentResponse struct {
	Success          bool     `json:"success"`
	IsEnrolled       bool     `json:"isEnrolled"`
	Progress         int      `json:"progress"`
	CompletedLessons []string `json:"completedLessons"`
}

// CheckEnrollment reports whether learner is enrolled in courseID and, if so,
// the persisted progress.
func (c *Client) CheckEnrollment(ctx context.Context, learner, courseID string) (Enrollment, error) {
	var resp enrollmentResponse
	if err := c.post(ctx, "/user/coursechec", enrollmentRequest{CourseID: courseID, Email: learner}, &resp); err != nil {
		return Enrollment{}, err
	}
	if !resp.Success || !resp.IsEnrolled {
		return Enrollment{CompletedLessons: []string{}}, nil
	}
	completed := resp.CompletedLessons
	if completed == nil {
		completed = []string{}
	}
	return Enrollment{Enrolled: true, Progress: resp.Progress, CompletedLessons: completed}, nil
}

// CompletedLessons returns the persisted completed lesson ids. Learners that
// are not enrolled have none.
func (c *Client) CompletedLessons(ctx context.Context, learner, courseID string) ([]string, error) {
	enrollment, err := c.CheckEnrollment(ctx, learner, courseID)
	if err != nil {
		return nil, err
	}
	return enrollment.CompletedLessons, nil
}

// UpdateProgress posts a completion or watch-time update.
func (c *Client) UpdateProgress(ctx context.Context, update ProgressUpdate) error {
	return c.post(ctx, "/user/updateprogress", update, nil)
}

type accessUpdate struct {
	CourseID     string    `json:"courseId"`
	Email        string    `json:"email"`
	LastAccessed time.Time `json:"lastAccessed"`
}

// UpdateAccess records the last time learner accessed courseID.
func (c *Client) UpdateAccess(ctx context.Context, learner, courseID string, at time.Time) error {
	return c.post(ctx, "/user/updateaccess", accessUpdate{CourseID: courseID, Email: learner, LastAccessed: at.UTC()}, nil)
}

type courseResponse struct {
	Course course.Course `json:"course"`
}

// Course fetches the catalog entry for courseID.
func (c *Client) Course(ctx context.Context, courseID string) (course.Course, error) {
	var resp courseResponse
	if err := c.do(ctx, http.MethodGet, "/courses/"+url.PathEscape(courseID), nil, &resp); err != nil {
		return course.Course{}, err
	}
	if resp.Course.ID == "" {
		resp.Course.ID = courseID
	}
	return resp.Course, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	return c.do(ctx, http.MethodPost, endpoint, body, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", endpoint, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(endpoint).String(), reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("close response body", zap.Error(closeErr))
		}
	}()
	c.logger.Debug("backend call",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}
