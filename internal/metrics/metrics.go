package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_session_transitions_total",
			Help: "Session state transitions by origin and target state",
		},
		[]string{"from", "to"},
	)

	SessionFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_session_flags_total",
			Help: "Session flags raised by type",
		},
		[]string{"flag_type"},
	)

	GradingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proctor_grading_failures_total",
			Help: "Sessions closed with an ungraded submission",
		},
	)

	SubmissionScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "proctor_submission_score_ratio",
			Help:    "Distribution of score / max_score for graded submissions",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	TimerSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_timer_subscribers",
			Help: "Connections subscribed to the timer broadcaster",
		},
	)

	TimerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "proctor_timer_tick_duration_seconds",
			Help:    "Time spent in one broadcaster tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	TimerEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proctor_timer_events_dropped_total",
			Help: "Timer events dropped because a subscriber was not reading",
		},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)
