package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// PostsScannedTotal counts published posts whose body was scanned.
	PostsScannedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "altcheck",
		Subsystem: "feedback",
		Name:      "posts_scanned_total",
		Help:      "Total number of published posts scanned for image accessibility defects.",
	})

	// DefectsTotal counts defective elements found, by category.
	DefectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "altcheck",
		Subsystem: "feedback",
		Name:      "defects_total",
		Help:      "Total number of defective media elements found, by category.",
	}, []string{"category"})

	// OutcomesTotal counts handled triggers by outcome.
	OutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "altcheck",
		Subsystem: "feedback",
		Name:      "outcomes_total",
		Help:      "Total number of publish triggers handled, by outcome.",
	}, []string{"outcome"})

	// HandleErrorsTotal counts triggers that failed.
	HandleErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "altcheck",
		Subsystem: "feedback",
		Name:      "handle_errors_total",
		Help:      "Total number of publish triggers that failed with an error.",
	})

	// HandleDurationSeconds observes how long a trigger took end to end.
	HandleDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "altcheck",
		Subsystem: "feedback",
		Name:      "handle_duration_seconds",
		Help:      "Time spent handling a publish trigger.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Register registers the feedback metrics with the default Prometheus
// registry. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			PostsScannedTotal,
			DefectsTotal,
			OutcomesTotal,
			HandleErrorsTotal,
			HandleDurationSeconds,
		)
	})
}
