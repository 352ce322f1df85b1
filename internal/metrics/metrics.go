// Package metrics holds the prometheus instruments for the analysis pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	scanJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_jobs_total",
			Help: "Analysis jobs finished, by terminal status.",
		},
		[]string{"status"},
	)

	inferenceFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_fallback_total",
			Help: "Inference calls that failed and were substituted with a synthetic result.",
		},
		[]string{"scan_type"},
	)

	inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inference_duration_seconds",
			Help:    "Wall time of model service calls.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"scan_type", "outcome"},
	)

	scansUploadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scans_uploaded_total",
			Help: "Scans accepted by the upload endpoint.",
		},
		[]string{"scan_type"},
	)
)

func init() {
	prometheus.MustRegister(
		scanJobsTotal,
		inferenceFallbackTotal,
		inferenceDuration,
		scansUploadedTotal,
	)
}

// IncScanJob records a job reaching a terminal status.
func IncScanJob(status string) {
	scanJobsTotal.WithLabelValues(status).Inc()
}

// IncFallback records a fallback substitution.
func IncFallback(scanType string) {
	inferenceFallbackTotal.WithLabelValues(scanType).Inc()
}

// ObserveInference records the duration of one model call.
func ObserveInference(scanType, outcome string, seconds float64) {
	inferenceDuration.WithLabelValues(scanType, outcome).Observe(seconds)
}

// IncScanUploaded records an accepted upload.
func IncScanUploaded(scanType string) {
	scansUploadedTotal.WithLabelValues(scanType).Inc()
}
