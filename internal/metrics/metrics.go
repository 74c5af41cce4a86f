// Package metrics defines the prometheus metrics exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InferenceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echochat_inference_requests_total",
			Help: "Inference invocations by outcome",
		},
		[]string{"outcome"},
	)

	InferenceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "echochat_inference_duration_seconds",
			Help:    "Time spent in InvokeEndpoint, retries included",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)

	ResponseShapes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echochat_response_shape_total",
			Help: "Which normalization rule produced the reply text",
		},
		[]string{"shape"},
	)

	StoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echochat_store_writes_total",
			Help: "Message store appends",
		},
		[]string{"backend", "outcome"},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echochat_status_code_total",
			Help: "Responses by route path and HTTP status code",
		},
		[]string{"path", "status_code"},
	)
)

// Outcome labels shared by the counters above.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeConfig    = "config_error"
	OutcomeMalformed = "malformed"
)
