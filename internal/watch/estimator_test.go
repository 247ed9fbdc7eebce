package watch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestEstimatorAccumulatesPlausibleDeltas sums strictly increasing sub-threshold deltas.
func TestEstimatorAccumulatesPlausibleDeltas(t *testing.T) {
	t.Parallel()

	est := NewEstimator(DefaultConfig(), "0-0", false)
	times := []float64{2.5, 7, 19.25, 40, 41.5, 70}
	want := 0.0
	prev := 0.0
	for _, ts := range times {
		est.Observe(Sample{CurrentTime: ts, Duration: 1000})
		want += ts - prev
		prev = ts
	}
	require.InDelta(t, want, est.State().CumulativeWatchedSeconds, 1e-9)
	require.InDelta(t, 70.0, est.State().LastSampleTimestamp, 1e-9)
}

// TestEstimatorIgnoresSeeks keeps cumulative time unchanged for backward or large jumps.
func TestEstimatorIgnoresSeeks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		next float64
	}{
		{name: "forward seek", next: 10 + 30},
		{name: "far forward seek", next: 500},
		{name: "backward seek", next: 3},
		{name: "duplicate", next: 10},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			est := NewEstimator(DefaultConfig(), "1-2", false)
			est.Observe(Sample{CurrentTime: 10, Duration: 1000})
			before := est.State().CumulativeWatchedSeconds

			est.Observe(Sample{CurrentTime: tt.next, Duration: 1000})
			require.InDelta(t, before, est.State().CumulativeWatchedSeconds, 1e-9)
			require.InDelta(t, tt.next, est.State().LastSampleTimestamp, 1e-9)
		})
	}
}

// TestEstimatorRejectsInvalidDuration drops samples without a usable duration.
func TestEstimatorRejectsInvalidDuration(t *testing.T) {
	t.Parallel()

	est := NewEstimator(DefaultConfig(), "0-0", false)
	for _, s := range []Sample{
		{CurrentTime: 5, Duration: 0},
		{CurrentTime: 5, Duration: -10},
		{CurrentTime: 5, Duration: math.NaN()},
		{CurrentTime: 5, Duration: math.Inf(1)},
		{CurrentTime: math.NaN(), Duration: 100},
		{CurrentTime: -1, Duration: 100},
	} {
		require.Empty(t, est.Observe(s))
	}
	require.Equal(t, State{LessonID: "0-0"}, est.State())
}

// TestEstimatorCompletionFiresAtThreshold walks the 100s lesson in 10s steps.
func TestEstimatorCompletionFiresAtThreshold(t *testing.T) {
	t.Parallel()

	est := NewEstimator(DefaultConfig(), "0-3", false)
	completedAt := -1
	completions := 0
	for i := 1; i <= 9; i++ {
		for _, evt := range est.Observe(Sample{CurrentTime: float64(i * 10), Duration: 100}) {
			if evt.Kind == KindLessonCompleted {
				completions++
				completedAt = i
				require.Equal(t, "0-3", evt.LessonID)
				require.InDelta(t, 80.0, evt.WatchedSeconds, 1e-9)
			}
		}
	}
	require.Equal(t, 1, completions)
	require.Equal(t, 8, completedAt)
	require.True(t, est.State().IsComplete)
	require.InDelta(t, 90.0, est.State().CumulativeWatchedSeconds, 1e-9)
}

// TestEstimatorCompletionIsIdempotent never re-emits once the lesson is complete.
func TestEstimatorCompletionIsIdempotent(t *testing.T) {
	t.Parallel()

	est := NewEstimator(DefaultConfig(), "2-0", false)
	count := 0
	for ts := 85.0; ts < 100; ts++ {
		for _, evt := range est.Observe(Sample{CurrentTime: ts, Duration: 100}) {
			if evt.Kind == KindLessonCompleted {
				count++
			}
		}
	}
	require.Equal(t, 1, count)
}

// TestEstimatorPersistedCompletionSuppressesEvent honors the caller-supplied completion flag.
func TestEstimatorPersistedCompletionSuppressesEvent(t *testing.T) {
	t.Parallel()

	est := NewEstimator(DefaultConfig(), "0-1", true)
	events := est.Observe(Sample{CurrentTime: 95, Duration: 100})
	for _, evt := range events {
		require.NotEqual(t, KindLessonCompleted, evt.Kind)
	}
}

// TestEstimatorSyncOncePerBoundary emits one heartbeat per 30s of accumulated time.
func TestEstimatorSyncOncePerBoundary(t *testing.T) {
	t.Parallel()

	est := NewEstimator(DefaultConfig(), "0-0", false)
	var syncs []Event
	// 1s steps up to 125s accumulate 125s of watch time: boundaries 30, 60, 90, 120.
	for ts := 1.0; ts <= 125; ts++ {
		for _, evt := range est.Observe(Sample{CurrentTime: ts, Duration: 10000}) {
			if evt.Kind == KindSyncWatchTime {
				syncs = append(syncs, evt)
			}
		}
	}
	require.Len(t, syncs, 4)
	require.InDelta(t, 30.0, syncs[0].WatchedSeconds, 1e-9)
	require.Equal(t, 1, syncs[0].Minutes)
	require.Equal(t, 1, syncs[1].Minutes)
	require.Equal(t, 2, syncs[2].Minutes)
	require.Equal(t, 2, syncs[3].Minutes)
}

// TestEstimatorSyncIgnoresRejectedSamples does not heartbeat on noise after a boundary.
func TestEstimatorSyncIgnoresRejectedSamples(t *testing.T) {
	t.Parallel()

	est := NewEstimator(DefaultConfig(), "0-0", false)
	count := 0
	for _, ts := range []float64{10, 20, 30, 30, 30, 5, 30} {
		for _, evt := range est.Observe(Sample{CurrentTime: ts, Duration: 1000}) {
			if evt.Kind == KindSyncWatchTime {
				count++
			}
		}
	}
	require.Equal(t, 1, count)
}

// TestEstimatorSwitchResets starts a fresh lesson with zeroed counters.
func TestEstimatorSwitchResets(t *testing.T) {
	t.Parallel()

	est := NewEstimator(DefaultConfig(), "0-0", false)
	for ts := 10.0; ts <= 90; ts += 10 {
		est.Observe(Sample{CurrentTime: ts, Duration: 100})
	}
	require.True(t, est.State().IsComplete)

	est.Switch("0-1", false)
	require.Equal(t, State{LessonID: "0-1"}, est.State())

	var kinds []EventKind
	for ts := 10.0; ts <= 80; ts += 10 {
		for _, evt := range est.Observe(Sample{CurrentTime: ts, Duration: 100}) {
			kinds = append(kinds, evt.Kind)
		}
	}
	require.Contains(t, kinds, KindLessonCompleted)
}

// TestEstimatorCustomConfig applies overridden thresholds.
func TestEstimatorCustomConfig(t *testing.T) {
	t.Parallel()

	est := NewEstimator(Config{
		CompletionThresholdPct:   50,
		SyncIntervalSeconds:      10,
		MaxPlausibleDeltaSeconds: 5,
	}, "3-1", false)

	events := est.Observe(Sample{CurrentTime: 4, Duration: 8})
	require.Len(t, events, 1)
	require.Equal(t, KindLessonCompleted, events[0].Kind)

	// Delta of 6s is implausible under the custom bound.
	require.Empty(t, est.Observe(Sample{CurrentTime: 10, Duration: 100}))
	require.InDelta(t, 4.0, est.State().CumulativeWatchedSeconds, 1e-9)
}

// TestEstimatorZeroConfigUsesDefaults falls back to the stock thresholds.
func TestEstimatorZeroConfigUsesDefaults(t *testing.T) {
	t.Parallel()

	est := NewEstimator(Config{}, "0-0", false)
	require.Equal(t, DefaultConfig(), est.Config())
}

func TestWatchMinutes(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, WatchMinutes(0))
	require.Equal(t, 0, WatchMinutes(29))
	require.Equal(t, 1, WatchMinutes(30))
	require.Equal(t, 2, WatchMinutes(120))
	require.Equal(t, 0, WatchMinutes(math.NaN()))
}
