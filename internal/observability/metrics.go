package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	apiRequestsTotal      *prometheus.CounterVec
	apiLatencySeconds     *prometheus.HistogramVec
	apiErrorsTotal        *prometheus.CounterVec
	executionsTotal       *prometheus.CounterVec
	testCasesTotal        *prometheus.CounterVec
	submissionsTotal      *prometheus.CounterVec
	sectionCompletedTotal prometheus.Counter
	activeSessions        prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the coding session API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coding_session_requests_total",
			Help: "Total number of coding session API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coding_session_latency_seconds",
			Help:    "Latency distribution for coding session API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 15.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coding_session_errors_total",
			Help: "Total number of error responses returned by coding session endpoints.",
		}, []string{"method", "route", "status"})

		executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coding_session_executions_total",
			Help: "Test case batches executed, by mode and aggregate verdict.",
		}, []string{"mode", "status"})

		testCasesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coding_session_test_cases_total",
			Help: "Individual test case executions, by mode and outcome.",
		}, []string{"mode", "outcome"})

		submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coding_session_submissions_total",
			Help: "Submission attempts, by result.",
		}, []string{"result"})

		sectionCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coding_session_sections_completed_total",
			Help: "Coding sections completed by candidates.",
		})

		activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coding_session_active_sessions",
			Help: "Coding sessions currently mounted in memory.",
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			executionsTotal,
			testCasesTotal,
			submissionsTotal,
			sectionCompletedTotal,
			activeSessions,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// Executions exposes the counter for executed batches.
func Executions() *prometheus.CounterVec {
	RegisterMetrics()
	return executionsTotal
}

// TestCases exposes the counter for individual test case executions.
func TestCases() *prometheus.CounterVec {
	RegisterMetrics()
	return testCasesTotal
}

// Submissions exposes the counter for submission attempts.
func Submissions() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsTotal
}

// SectionsCompleted exposes the counter for completed coding sections.
func SectionsCompleted() prometheus.Counter {
	RegisterMetrics()
	return sectionCompletedTotal
}

// ActiveSessions exposes the gauge of mounted sessions.
func ActiveSessions() prometheus.Gauge {
	RegisterMetrics()
	return activeSessions
}
