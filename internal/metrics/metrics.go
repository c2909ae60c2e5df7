package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared across collectors.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

var (
	ingestEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triage",
			Name:      "ingest_events_total",
			Help:      "Log events received at the ingest boundary, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	detectionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triage",
			Name:      "detection_runs_total",
			Help:      "Detection runs executed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	anomaliesDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "triage",
			Name:      "anomalies_detected_total",
			Help:      "Anomalies flagged by the detector.",
		},
	)

	incidentsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "triage",
			Name:      "incidents_created_total",
			Help:      "Incidents newly created (deduplicated creates are not counted).",
		},
	)

	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triage",
			Name:      "analyses_total",
			Help:      "AI analyses performed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "triage",
			Name:      "analysis_seconds",
			Help:      "End-to-end incident analysis latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
)

// Register attaches triage collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		ingestEventsTotal,
		detectionRunsTotal,
		anomaliesDetectedTotal,
		incidentsCreatedTotal,
		analysesTotal,
		analysisDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIngest records one ingest attempt.
func ObserveIngest(accepted bool) {
	outcome := OutcomeAccepted
	if !accepted {
		outcome = OutcomeRejected
	}
	ingestEventsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDetectionRun records the outcome of a detection run along with the
// number of anomalies it flagged and incidents it created.
func ObserveDetectionRun(outcome string, anomalies, created int) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	detectionRunsTotal.WithLabelValues(outcome).Inc()
	if anomalies > 0 {
		anomaliesDetectedTotal.Add(float64(anomalies))
	}
	if created > 0 {
		incidentsCreatedTotal.Add(float64(created))
	}
}

// ObserveAnalysis records an analysis duration and outcome label.
func ObserveAnalysis(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeCompleted, OutcomeFailed, OutcomeError:
	default:
		outcome = OutcomeError
	}
	analysesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}
