// Package metrics defines Prometheus metrics for restock-sentinel.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rsn"

// HTTP metrics.
var (
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_in_flight_requests",
		Help:      "Number of HTTP requests currently being served.",
	})

	HealthzUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "healthz_up",
		Help:      "Whether the last liveness probe succeeded (1) or failed (0).",
	})

	ReadyzUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "readyz_up",
		Help:      "Whether the last readiness probe succeeded (1) or failed (0).",
	})
)

// Poll cycle metrics.
var (
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Duration of availability poll cycles in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	SnapshotFetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshot_fetch_errors_total",
		Help:      "Total number of availability snapshot fetch errors.",
	})
)

// Interval tracking metrics.
var (
	IntervalsOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "intervals_opened_total",
		Help:      "Total number of out-of-stock intervals opened.",
	})

	IntervalsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "intervals_closed_total",
		Help:      "Total number of out-of-stock intervals closed by a restock.",
	})

	TransitionsEligibleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transitions_eligible_total",
		Help:      "Total number of restock transitions that met the notification threshold.",
	})

	TransitionsIneligibleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transitions_ineligible_total",
		Help:      "Total number of restock transitions below the notification threshold.",
	})
)

// Delivery metrics.
var (
	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_sent_total",
		Help:      "Total number of notifications delivered successfully.",
	}, []string{"backend"})

	NotificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_failed_total",
		Help:      "Total number of notification deliveries that exhausted all attempts.",
	}, []string{"backend"})

	DeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "delivery_duration_seconds",
		Help:      "Duration of webhook delivery attempts in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend"})

	ClaimConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claim_conflicts_total",
		Help:      "Total number of interval claims lost to a concurrent claimer.",
	})
)

// Source API metrics.
var (
	SourceAPICallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_api_calls_total",
		Help:      "Total cumulative availability source API calls.",
	})

	SourceDailyUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "source_daily_usage",
		Help:      "Current daily source API call count within the rolling 24-hour window.",
	})

	SourceDailyLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_daily_limit_hits_total",
		Help:      "Total number of times the daily source API limit was reached.",
	})
)
