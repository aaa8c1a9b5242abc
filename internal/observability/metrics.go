package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	attemptsStartedTotal  *prometheus.CounterVec
	submissionsTotal      *prometheus.CounterVec
	autosavesTotal        *prometheus.CounterVec
	integrityEventsTotal  *prometheus.CounterVec
	scoringLatencySeconds prometheus.Histogram
)

// RegisterMetrics initialises the Prometheus collectors for the attempt lifecycle.
func RegisterMetrics() {
	registerOnce.Do(func() {
		attemptsStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_attempts_started_total",
			Help: "Total number of exam attempts opened, by mode.",
		}, []string{"mode"}) // fresh | resumed | already_completed

		submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_submissions_total",
			Help: "Total number of submission requests, by trigger and outcome.",
		}, []string{"trigger", "status"})

		autosavesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_autosaves_total",
			Help: "Total number of progress save requests, by outcome.",
		}, []string{"status"})

		integrityEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_integrity_events_total",
			Help: "Total number of proctoring events recorded, by kind.",
		}, []string{"kind"})

		scoringLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exam_scoring_latency_seconds",
			Help:    "Latency distribution for grading and finalizing a submission.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		})

		prometheus.MustRegister(
			attemptsStartedTotal,
			submissionsTotal,
			autosavesTotal,
			integrityEventsTotal,
			scoringLatencySeconds,
		)
	})
}

// AttemptsStarted exposes the counter for opened attempts.
func AttemptsStarted() *prometheus.CounterVec {
	RegisterMetrics()
	return attemptsStartedTotal
}

// Submissions exposes the counter for submission requests.
func Submissions() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsTotal
}

// Autosaves exposes the counter for progress saves.
func Autosaves() *prometheus.CounterVec {
	RegisterMetrics()
	return autosavesTotal
}

// IntegrityEvents exposes the counter for proctoring events.
func IntegrityEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return integrityEventsTotal
}

// ScoringLatency exposes the histogram for grading latency.
func ScoringLatency() prometheus.Histogram {
	RegisterMetrics()
	return scoringLatencySeconds
}
