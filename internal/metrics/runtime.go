package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// RuntimeStats reads live counters owned by other components. Nil funcs
// are skipped.
type RuntimeStats struct {
	OpenSessions    func() int
	DroppedEvents   func() int64
	DeliveredEvents func() int64
}

// RegisterRuntime exposes stats on reg as collectors evaluated at scrape time.
func RegisterRuntime(reg prometheus.Registerer, stats RuntimeStats) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var collectors []prometheus.Collector
	if stats.OpenSessions != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "lesson_tracker_open_sessions",
			Help: "Viewer sessions currently held by the tracker.",
		}, func() float64 { return float64(stats.OpenSessions()) }))
	}
	if stats.DroppedEvents != nil {
		collectors = append(collectors, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "lesson_tracker_progress_events_dropped_total",
			Help: "Progress events discarded because the hub buffer was full.",
		}, func() float64 { return float64(stats.DroppedEvents()) }))
	}
	if stats.DeliveredEvents != nil {
		collectors = append(collectors, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "lesson_tracker_progress_events_delivered_total",
			Help: "Progress events handed to the sinks.",
		}, func() float64 { return float64(stats.DeliveredEvents()) }))
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register runtime collector: %w", err)
		}
	}
	return nil
}
