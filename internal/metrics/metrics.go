// Package metrics holds the Prometheus collectors for remediation batches
// and silence submissions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fieldtriage"

// Recorder groups every collector the triage core updates. A nil *Recorder
// is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	remediationAttempts *prometheus.CounterVec
	remediationOutcomes *prometheus.CounterVec
	ladderDuration      prometheus.Histogram
	skippedAlerts       prometheus.Counter
	lastBatch           prometheus.Gauge

	silencesTotal *prometheus.CounterVec
}

// NewRecorder creates the collectors and registers them on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),

		remediationAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "remediation",
				Name:      "attempts_total",
				Help:      "Remote repair steps attempted, by step and outcome",
			},
			[]string{"step", "outcome"},
		),
		remediationOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "remediation",
				Name:      "outcomes_total",
				Help:      "Terminal device outcomes, by fix method",
			},
			[]string{"method"},
		),
		ladderDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "remediation",
				Name:      "ladder_duration_seconds",
				Help:      "Time spent on one device's repair ladder",
				Buckets:   []float64{1, 10, 60, 120, 180, 240, 300, 600},
			},
		),
		skippedAlerts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "remediation",
				Name:      "skipped_alerts_total",
				Help:      "Alerts skipped because device_id or port_number was unusable",
			},
		),
		lastBatch: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "remediation",
				Name:      "last_batch_timestamp_seconds",
				Help:      "Unix time the last remediation batch finished",
			},
		),
		silencesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "silence",
				Name:      "submissions_total",
				Help:      "Silence submissions, by scope and result",
			},
			[]string{"scope", "result"},
		),
	}

	r.registry.MustRegister(
		r.remediationAttempts,
		r.remediationOutcomes,
		r.ladderDuration,
		r.skippedAlerts,
		r.lastBatch,
		r.silencesTotal,
	)

	return r
}

// Registry exposes the registry for HTTP exposition
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RecordAttempt counts one ladder step
func (r *Recorder) RecordAttempt(step, outcome string) {
	if r == nil {
		return
	}
	r.remediationAttempts.WithLabelValues(step, outcome).Inc()
}

// RecordOutcome counts a device reaching a terminal state
func (r *Recorder) RecordOutcome(method string) {
	if r == nil {
		return
	}
	r.remediationOutcomes.WithLabelValues(method).Inc()
}

// ObserveLadder records how long one device's ladder took
func (r *Recorder) ObserveLadder(d time.Duration) {
	if r == nil {
		return
	}
	r.ladderDuration.Observe(d.Seconds())
}

// RecordSkipped counts alerts rejected at the validation boundary
func (r *Recorder) RecordSkipped(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.skippedAlerts.Add(float64(n))
}

// BatchFinished stamps the end of a remediation batch
func (r *Recorder) BatchFinished(at time.Time) {
	if r == nil {
		return
	}
	r.lastBatch.Set(float64(at.Unix()))
}

// RecordSilence counts a silence submission
func (r *Recorder) RecordSilence(scope string, err error) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.silencesTotal.WithLabelValues(scope, result).Inc()
}

// WriteTextfile dumps the current values in the node_exporter textfile format
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
