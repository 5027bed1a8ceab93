package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeMalformed = "malformed"
	OutcomeSkipped   = "skipped"
	OutcomeDegraded  = "degraded"
)

var (
	MatchRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmatch_match_runs_total",
			Help: "Total number of matching cycles by outcome.",
		},
		[]string{"outcome"},
	)
	MatchRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jobmatch_match_run_duration_seconds",
			Help:    "Duration of each matching cycle in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 180, 600},
		},
	)
	AIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmatch_ai_requests_total",
			Help: "Total number of per-candidate AI completions by outcome.",
		},
		[]string{"outcome"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmatch_http_requests_total",
			Help: "Total number of HTTP requests by method and status code.",
		},
		[]string{"method", "code"},
	)
	CVUploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmatch_cv_uploads_total",
			Help: "Total number of CV uploads by outcome.",
		},
		[]string{"outcome"},
	)
)

var registerOnce sync.Once

// Register adds the collectors to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(MatchRuns, MatchRunDuration, AIRequests, CVUploads, HTTPRequests)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
