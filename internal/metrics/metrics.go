package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neondata_api_calls_total",
			Help: "Total NEON data portal API calls",
		},
		[]string{"endpoint", "status"},
	)

	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neondata_api_latency_seconds",
			Help:    "NEON API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	BytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neondata_bytes_downloaded_total",
			Help: "Total bytes downloaded from the NEON data portal",
		},
	)

	FilesDownloaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neondata_files_downloaded_total",
			Help: "Total files downloaded, by data product",
		},
		[]string{"product"},
	)

	FilesStacked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neondata_files_stacked_total",
			Help: "Total source files merged during stacking",
		},
		[]string{"product"},
	)

	RowsStacked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neondata_rows_stacked_total",
			Help: "Total rows written to stacked output tables",
		},
		[]string{"product", "table"},
	)
)
