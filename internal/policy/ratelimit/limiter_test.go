package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllowPerKey(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	l := New(Config{RPS: 1, Burst: 2})
	l.now = func() time.Time { return now }

	if !l.Allow("ada") || !l.Allow("ada") {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.Allow("ada") {
		t.Fatal("third request within the same instant should be denied")
	}
	if !l.Allow("grace") {
		t.Fatal("a different key must not share ada's bucket")
	}

	now = now.Add(time.Second)
	if !l.Allow("ada") {
		t.Fatal("token should refill after one second")
	}
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		if !l.Allow("ada") {
			t.Fatalf("request %d denied with limiting disabled", i)
		}
	}
	if l.Len() != 0 {
		t.Fatalf("disabled limiter should not track keys, got %d", l.Len())
	}
	var nilLimiter *Limiter
	if !nilLimiter.Allow("x") {
		t.Fatal("nil limiter should allow")
	}
}

func TestLimiterPrune(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	l := New(Config{RPS: 5, Burst: 1, IdleTTL: time.Minute})
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(50 * time.Second)
	l.Allow("fresh")
	now = now.Add(20 * time.Second)

	if removed := l.Prune(); removed != 1 {
		t.Fatalf("Prune() = %d, want 1", removed)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
}
