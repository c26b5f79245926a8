// Package metrics registers the relay's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FilesAnonymized counts per-file anonymization outcomes
	FilesAnonymized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dicom_relay_files_anonymized_total",
		Help: "Files processed by the anonymizer, by outcome.",
	}, []string{"outcome"})

	// FilesSent counts per-file transmission outcomes
	FilesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dicom_relay_files_sent_total",
		Help: "Files processed by the transmitter, by outcome.",
	}, []string{"outcome"})

	// RunDuration observes whole-study run durations
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dicom_relay_run_duration_seconds",
		Help:    "Duration of study anonymize and send runs.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"action"})

	// SendsInFlight tracks study sends currently running
	SendsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dicom_relay_sends_in_flight",
		Help: "Study sends currently in progress.",
	})
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)
