// Package auth verifies bearer tokens issued by the course platform and
// extracts the learner identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for missing, malformed, or invalid tokens.
var ErrUnauthorized = errors.New("unauthorized")

// Verifier validates HS256 tokens with a shared secret.
type Verifier struct {
	secret []byte
	leeway time.Duration
}

// NewVerifier returns a Verifier for secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required")
	}
	return &Verifier{secret: []byte(secret), leeway: 30 * time.Second}, nil
}

// Learner parses token and returns the learner id: the email claim when
// present, otherwise the subject.
func (v *Verifier) Learner(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(v.leeway))
	if err != nil {
		return "", ErrUnauthorized
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return "", ErrUnauthorized
	}
	if email, ok := claims["email"].(string); ok && strings.TrimSpace(email) != "" {
		return strings.TrimSpace(email), nil
	}
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", ErrUnauthorized
	}
	return sub, nil
}

// Sign issues an HS256 token for learner. It is used by tooling and tests.
func (v *Verifier) Sign(learner string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   learner,
		"email": learner,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrUnauthorized
	}
	return strings.TrimSpace(token), nil
}

type learnerKey struct{}

// WithLearner stores the learner id on ctx.
func WithLearner(ctx context.Context, learner string) context.Context {
	return context.WithValue(ctx, learnerKey{}, learner)
}

// LearnerFrom returns the learner id stored by WithLearner.
func LearnerFrom(ctx context.Context) (string, bool) {
	learner, ok := ctx.Value(learnerKey{}).(string)
	return learner, ok && learner != ""
}
