package incident

import (
	"context"
	"log/slog"
	"time"

	"github.com/tracelens/triage-engine/internal/models"
)

// Manager turns anomalies into incident documents and applies the analysis
// state transitions on top of the store.
type Manager struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

// NewManager wires the lifecycle manager over a store.
func NewManager(store *Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create materializes an incident for the anomaly. When an incident with the
// same identity already exists, the call is a no-op and created is false.
func (m *Manager) Create(ctx context.Context, anomaly models.Anomaly) (id string, created bool, err error) {
	now := m.now()
	id = anomaly.IncidentID()

	inc := models.Incident{
		ID:               id,
		Status:           models.StatusOpen,
		Severity:         anomaly.Severity(),
		Service:          anomaly.Service,
		StartTs:          anomaly.WindowStart.UTC(),
		EndTs:            anomaly.WindowEnd.UTC(),
		ImpactedServices: []string{anomaly.Service},
		ErrorCount:       anomaly.ErrorCount,
		BaselineRate:     anomaly.BaselineErrorRate,
		CurrentRate:      anomaly.CurrentErrorRate,
		AnomalyType:      anomaly.Type,
		AIStatus:         models.AIStatusPending,
		AISteps:          []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if anomaly.WindowEnd.IsZero() {
		inc.EndTs = time.Time{}
	}

	created, err = m.store.Create(ctx, inc)
	if err != nil {
		return "", false, err
	}
	if created {
		m.logger.Info("incident created",
			"incident_id", id,
			"service", anomaly.Service,
			"severity", inc.Severity,
			"anomaly_type", anomaly.Type)
	} else {
		m.logger.Debug("incident already exists", "incident_id", id)
	}
	return id, created, nil
}

// Get loads one incident.
func (m *Manager) Get(ctx context.Context, id string) (models.Incident, error) {
	return m.store.Get(ctx, id)
}

// List returns the most recent incidents.
func (m *Manager) List(ctx context.Context, limit int) ([]models.Incident, error) {
	return m.store.List(ctx, limit)
}

// CompleteAnalysis records a parsed model result against the incident.
func (m *Manager) CompleteAnalysis(ctx context.Context, id string, result models.AIAnalysisResult, raw string) error {
	if err := m.store.UpdateAIResult(ctx, id, result, raw); err != nil {
		return err
	}
	m.logger.Info("analysis completed", "incident_id", id, "confidence", result.Confidence)
	return nil
}

// FailAnalysis records an unusable model response against the incident.
func (m *Manager) FailAnalysis(ctx context.Context, id, raw string) error {
	if err := m.store.MarkAIFailed(ctx, id, raw); err != nil {
		return err
	}
	m.logger.Warn("analysis failed", "incident_id", id)
	return nil
}
