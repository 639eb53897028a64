// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestCounter counts HTTP requests by status code, method, and route
	RequestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historyclue_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"status", "method", "route"},
	)

	// RequestDuration measures HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "historyclue_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// RealtimeSubscriptions tracks open underlying channel subscriptions
	RealtimeSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "historyclue_realtime_subscriptions",
			Help: "Number of open underlying realtime subscriptions",
		},
	)

	// RealtimeResubscribes counts subscriptions reopened after a channel error
	RealtimeResubscribes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "historyclue_realtime_resubscribes_total",
			Help: "Total number of realtime subscriptions reopened after a channel error",
		},
	)

	// FeedClients tracks websocket clients attached to the event feed
	FeedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "historyclue_feed_clients",
			Help: "Number of websocket clients attached to the event feed",
		},
	)

	// RoundsResolved counts rounds completed, by how they were resolved
	RoundsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historyclue_rounds_resolved_total",
			Help: "Total number of rounds resolved",
		},
		[]string{"via"}, // "player", "forfeit"
	)

	// BattlesCompleted counts battles completed, by outcome
	BattlesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historyclue_battles_completed_total",
			Help: "Total number of battles completed",
		},
		[]string{"outcome"}, // "win", "tie"
	)

	// MatchmakingClaims counts opponent claims by result
	MatchmakingClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historyclue_matchmaking_claims_total",
			Help: "Total number of matchmaking claims",
		},
		[]string{"result"}, // "won", "lost", "error"
	)

	// JanitorRuns counts scheduled job runs by job and result
	JanitorRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historyclue_janitor_runs_total",
			Help: "Total number of janitor job runs",
		},
		[]string{"job", "result"},
	)

	// JanitorDuration measures janitor job duration
	JanitorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "historyclue_janitor_duration_seconds",
			Help:    "Janitor job duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)

// RecordJanitorRun records the outcome and duration of one job run
func RecordJanitorRun(job string, err error, startTime time.Time) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	JanitorRuns.WithLabelValues(job, result).Inc()
	JanitorDuration.WithLabelValues(job).Observe(time.Since(startTime).Seconds())
}
