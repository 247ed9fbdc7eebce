package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterRuntimeReadsAtScrape(t *testing.T) {
	reg := prometheus.NewRegistry()
	open, dropped := 2, int64(0)
	require.NoError(t, RegisterRuntime(reg, RuntimeStats{
		OpenSessions:  func() int { return open },
		DroppedEvents: func() int64 { return dropped },
	}))

	open, dropped = 3, 7
	expected := `
# HELP lesson_tracker_open_sessions Viewer sessions currently held by the tracker.
# TYPE lesson_tracker_open_sessions gauge
lesson_tracker_open_sessions 3
# HELP lesson_tracker_progress_events_dropped_total Progress events discarded because the hub buffer was full.
# TYPE lesson_tracker_progress_events_dropped_total counter
lesson_tracker_progress_events_dropped_total 7
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"lesson_tracker_open_sessions", "lesson_tracker_progress_events_dropped_total"))

	count, err := testutil.GatherAndCount(reg, "lesson_tracker_progress_events_delivered_total")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestRegisterRuntimeRejectsDuplicates(t *testing.T) {
	reg := prometheus.NewRegistry()
	stats := RuntimeStats{OpenSessions: func() int { return 0 }}
	require.NoError(t, RegisterRuntime(reg, stats))
	require.Error(t, RegisterRuntime(reg, stats))
}
