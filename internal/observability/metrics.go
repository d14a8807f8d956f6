package observability

import "github.com/prometheus/client_golang/prometheus"

// Every collector the service exports. HTTP metrics are labelled by the mux
// pattern, never the raw path, so session ids do not explode cardinality.
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_http_requests_total",
			Help: "Total number of HTTP requests by route pattern and status.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "querypilot_http_request_duration_seconds",
			Help: "HTTP request latency by route pattern. Message routes include the wait for the confirmation prompt.",
			// message and action routes hold the request until the turn pauses or ends
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"method", "path", "status"},
	)

	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_turns_total",
			Help: "Total number of conversation turns by outcome.",
		},
		[]string{"outcome"},
	)
	turnsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "querypilot_turns_in_flight",
			Help: "Conversation turns currently running, including those waiting for confirmation.",
		},
	)
	stepDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querypilot_step_duration_seconds",
			Help:    "Conversation workflow step latency by step and status.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"step", "status"},
	)
	dryRunBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_dry_run_bytes",
			Help:    "Bytes the warehouse estimated a generated query would process.",
			Buckets: prometheus.ExponentialBuckets(1024, 8, 10),
		},
	)
	trainingItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_training_items_total",
			Help: "Total number of training items stored by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		turnsTotal,
		turnsInFlight,
		stepDurationSeconds,
		dryRunBytes,
		trainingItemsTotal,
	)
}
