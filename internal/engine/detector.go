// Package engine contains the triage core: anomaly detection, detection
// runs, and incident analysis.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/tracelens/triage-engine/internal/config"
	"github.com/tracelens/triage-engine/internal/models"
	"github.com/tracelens/triage-engine/internal/warehouse"
)

// WindowSource provides per-service traffic windows for detection.
type WindowSource interface {
	ServiceWindows(ctx context.Context, now time.Time, recent, baseline time.Duration) ([]warehouse.ServiceWindow, error)
}

// Detector applies the windowed error-spike policy over warehouse traffic.
type Detector struct {
	source WindowSource
	cfg    config.DetectionConfig
	logger *slog.Logger
}

// NewDetector wires the detector over a window source.
func NewDetector(source WindowSource, cfg config.DetectionConfig, logger *slog.Logger) *Detector {
	return &Detector{source: source, cfg: cfg, logger: logger}
}

// Detect evaluates every service active in the recent window and returns the
// anomalies that cross the spike thresholds, ordered by descending error
// count. A warehouse query failure degrades to an empty result: the run
// reports nothing found instead of failing the triggering caller.
func (d *Detector) Detect(ctx context.Context, now time.Time) []models.Anomaly {
	windows, err := d.source.ServiceWindows(ctx, now, d.cfg.RecentWindow, d.cfg.BaselineWindow)
	if err != nil {
		d.logger.Error("service window query failed, skipping detection run", "error", err)
		return nil
	}

	var anomalies []models.Anomaly
	for _, w := range windows {
		if !d.isErrorSpike(w) {
			continue
		}
		anomalies = append(anomalies, models.Anomaly{
			Service:           w.Service,
			WindowStart:       w.WindowStart,
			WindowEnd:         w.WindowEnd,
			ErrorCount:        w.ErrorCount,
			TotalRequests:     w.TotalRequests,
			CurrentErrorRate:  w.ErrorRate(),
			BaselineErrorRate: reportedBaseline(w),
			Type:              models.AnomalyTypeErrorSpike,
		})
	}

	d.logger.Info("detection pass complete",
		"services_evaluated", len(windows),
		"anomalies", len(anomalies))
	return anomalies
}

// isErrorSpike applies the two-part threshold: an absolute error count floor,
// then either a multiple of the baseline rate or, for services with no
// meaningful baseline, an absolute rate floor.
func (d *Detector) isErrorSpike(w warehouse.ServiceWindow) bool {
	if w.ErrorCount < d.cfg.MinErrorCount {
		return false
	}
	rate := w.ErrorRate()

	baseline := d.cfg.DefaultBaselineRate
	if w.HasBaseline {
		baseline = w.BaselineRate
	}
	if rate >= baseline*d.cfg.BaselineMultiplier {
		return true
	}
	return baseline < d.cfg.LowBaselineCeiling && rate >= d.cfg.AbsoluteRateFloor
}

// reportedBaseline is what gets persisted on the incident: the true baseline
// rate, or 0 for a service with no baseline traffic. The detection threshold
// uses the configured default instead, so the two deliberately differ.
func reportedBaseline(w warehouse.ServiceWindow) float64 {
	if w.HasBaseline {
		return w.BaselineRate
	}
	return 0
}
