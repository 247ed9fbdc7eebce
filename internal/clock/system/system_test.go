// Package system exercises the real-time clock adapter.
package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	requireNotNil(t, clk)

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockAfterFuncFires checks the callback runs and Stop reports a fired timer.
func TestClockAfterFuncFires(t *testing.T) {
	t.Parallel()

	clk := New()
	fired := make(chan struct{})
	timer := clk.AfterFunc(5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected timer to fire")
	}
	if timer.Stop() {
		t.Fatal("expected Stop to report an already fired timer")
	}
}

// TestClockAfterFuncStop checks a stopped timer never fires.
func TestClockAfterFuncStop(t *testing.T) {
	t.Parallel()

	clk := New()
	fired := make(chan struct{}, 1)
	timer := clk.AfterFunc(time.Hour, func() { fired <- struct{}{} })
	if !timer.Stop() {
		t.Fatal("expected Stop to cancel a pending timer")
	}
	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	default:
	}
}

func requireNotNil(t *testing.T, v any) {
	t.Helper()
	if v == nil {
		t.Fatal("expected value to be non-nil")
	}
}
