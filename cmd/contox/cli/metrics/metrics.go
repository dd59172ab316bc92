// Package metrics exposes Prometheus instrumentation for the capture pipeline.
// Collectors register on the default registry and are served by the control API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Flush results.
const (
	ResultSent     = "sent"
	ResultEmpty    = "empty"
	ResultFailed   = "failed"
	ResultSkipped  = "skipped"
	ResultRequeued = "requeued"
)

var (
	// flushTotal counts flush attempts by trigger and result
	flushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contox_flush_total",
		Help: "Flush attempts by trigger and result",
	}, []string{"trigger", "result"})

	// bufferedEvents tracks the event count of the live capture buffer
	bufferedEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "contox_buffered_events",
		Help: "Evidence units currently held in the capture buffer",
	})

	// bufferedBytes tracks the payload size estimate of the live capture buffer
	bufferedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "contox_buffered_payload_bytes",
		Help: "Estimated serialized size of the capture buffer",
	})

	// ingestDuration tracks ingest request latency
	ingestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "contox_ingest_duration_seconds",
		Help:    "Ingest request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 11), // 10ms to ~10s
	}, []string{"event_type", "outcome"})

	// headChanges counts HEAD movements by observing source
	headChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contox_head_changes_total",
		Help: "HEAD changes observed by source",
	}, []string{"source"})

	// commitsCaptured counts commit records added to the buffer
	commitsCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contox_commits_captured_total",
		Help: "Commit records added to the capture buffer",
	})

	// outboxDepth tracks events waiting in the requeue outbox
	outboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "contox_outbox_depth",
		Help: "Events waiting in the requeue outbox",
	})

	// sessionRotations counts remote session replacements after an external close
	sessionRotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contox_session_rotations_total",
		Help: "Remote session rotations by reason and result",
	}, []string{"reason", "result"})
)

// ObserveFlush records one flush outcome.
func ObserveFlush(trigger, result string) {
	flushTotal.WithLabelValues(trigger, result).Inc()
}

// SetBuffer records the live buffer counters.
func SetBuffer(events, bytes int) {
	bufferedEvents.Set(float64(events))
	bufferedBytes.Set(float64(bytes))
}

// ObserveIngest records one ingest request.
func ObserveIngest(eventType string, ok bool, d time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	ingestDuration.WithLabelValues(eventType, outcome).Observe(d.Seconds())
}

// ObserveHeadChange records a HEAD movement reported by source.
func ObserveHeadChange(source string) {
	headChanges.WithLabelValues(source).Inc()
}

// AddCommits records captured commits.
func AddCommits(n int) {
	commitsCaptured.Add(float64(n))
}

// SetOutboxDepth records the outbox size.
func SetOutboxDepth(n int) {
	outboxDepth.Set(float64(n))
}

// ObserveSessionRotation records one attempt to replace the remote session.
func ObserveSessionRotation(reason string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	sessionRotations.WithLabelValues(reason, result).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
