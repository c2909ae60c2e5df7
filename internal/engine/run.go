package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/tracelens/triage-engine/internal/incident"
	"github.com/tracelens/triage-engine/internal/metrics"
	"github.com/tracelens/triage-engine/internal/models"
	"github.com/tracelens/triage-engine/internal/notifier"
)

// Runner executes one detection run: detect anomalies, create incidents,
// publish created-incident events.
type Runner struct {
	detector  *Detector
	incidents *incident.Manager
	publisher notifier.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewRunner wires a detection runner.
func NewRunner(detector *Detector, incidents *incident.Manager, publisher notifier.Publisher, logger *slog.Logger) *Runner {
	return &Runner{
		detector:  detector,
		incidents: incidents,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run performs one detection pass. Anomalies are processed sequentially in
// detector order. Duplicate incidents are skipped without publishing. A
// store or publish failure aborts the run and surfaces the error, since a
// silently dropped notification stalls analysis with no recovery path.
func (r *Runner) Run(ctx context.Context) (models.RunReport, error) {
	now := r.now()
	anomalies := r.detector.Detect(ctx, now)

	report := models.RunReport{
		Timestamp:         now,
		AnomaliesDetected: len(anomalies),
		IncidentsCreated:  []string{},
	}

	for _, anomaly := range anomalies {
		id, created, err := r.incidents.Create(ctx, anomaly)
		if err != nil {
			metrics.ObserveDetectionRun(metrics.OutcomeError, report.AnomaliesDetected, len(report.IncidentsCreated))
			return report, err
		}
		if !created {
			continue
		}
		report.IncidentsCreated = append(report.IncidentsCreated, id)

		event := models.Incident{
			ID:       id,
			Service:  anomaly.Service,
			Severity: anomaly.Severity(),
		}
		if err := r.publisher.PublishIncidentCreated(ctx, event); err != nil {
			metrics.ObserveDetectionRun(metrics.OutcomeError, report.AnomaliesDetected, len(report.IncidentsCreated))
			return report, err
		}
	}

	metrics.ObserveDetectionRun(metrics.OutcomeSuccess, report.AnomaliesDetected, len(report.IncidentsCreated))
	r.logger.Info("detection run finished",
		"anomalies", report.AnomaliesDetected,
		"incidents_created", len(report.IncidentsCreated))
	return report, nil
}

// RunPeriodically triggers detection runs at the given interval until the
// context is cancelled. Run errors are logged, not fatal: the next tick gets
// a fresh attempt.
func (r *Runner) RunPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("detection loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("detection loop stopped")
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				r.logger.Error("scheduled detection run failed", "error", err)
			}
		}
	}
}
