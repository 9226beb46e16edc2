// Package metrics exposes Prometheus metrics for the conversation service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline outcomes used as the "result" label.
const (
	ResultCompleted        = "completed"
	ResultPersistFailed    = "persist_failed"
	ResultCompletionFailed = "completion_failed"
)

var (
	// PipelinesTotal counts completion pipelines by outcome.
	PipelinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facevoice_chat_pipelines_total",
			Help: "Total number of completion pipelines by outcome",
		},
		[]string{"result"},
	)

	// SubmissionsBlocked counts submissions that arrived while a pipeline
	// was already in flight for the conversation.
	SubmissionsBlocked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "facevoice_chat_submissions_blocked_total",
			Help: "Submissions persisted without a pipeline because one was in flight",
		},
	)

	// CompletionDuration observes provider completion latency.
	CompletionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "facevoice_chat_completion_duration_seconds",
			Help:    "Duration of completion provider calls in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// BusEventsTotal counts insert events published on the broadcast bus.
	BusEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "facevoice_chat_bus_events_total",
			Help: "Total insert events published to the broadcast bus",
		},
	)

	// ActiveSubscriptions tracks open viewer subscriptions.
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "facevoice_chat_active_subscriptions",
			Help: "Number of open viewer bus subscriptions",
		},
	)
)

// ObserveCompletion records one provider call.
func ObserveCompletion(d time.Duration) {
	CompletionDuration.Observe(d.Seconds())
}
