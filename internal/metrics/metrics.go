// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sparrow_api_request_duration_seconds",
			Help:    "Total time taken for requests in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60, 120, 300, 600},
		},
		[]string{"endpoint"},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparrow_api_request_count_total",
			Help: "Total number of requests processed",
		},
		[]string{"endpoint", "status"},
	)

	EngineErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparrow_api_engine_error_count",
			Help: "Errors surfaced from the engine and ingest delegates",
		},
		[]string{"endpoint", "kind"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparrow_api_answer_cache_hits_total",
			Help: "Answer cache hits",
		},
		[]string{"endpoint"},
	)

	IngestFileBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sparrow_api_ingest_file_bytes",
			Help:    "Size of uploaded ingest files in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparrow_api_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)
)
