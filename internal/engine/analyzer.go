package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tracelens/triage-engine/internal/cache"
	"github.com/tracelens/triage-engine/internal/incident"
	"github.com/tracelens/triage-engine/internal/llm"
	"github.com/tracelens/triage-engine/internal/metrics"
	"github.com/tracelens/triage-engine/internal/models"
	"github.com/tracelens/triage-engine/internal/utils"
)

// EvidenceSource supplies the windowed aggregates attached to an analysis
// prompt.
type EvidenceSource interface {
	TopErrors(ctx context.Context, service string, start, end time.Time, limit int) ([]models.ErrorSample, error)
	LatencyStats(ctx context.Context, service string, start, end time.Time) (*models.LatencyStats, error)
}

// Analyzer runs the AI analysis stage for one incident at a time. Instances
// are safe for concurrent use; durable state lives in the incident store.
type Analyzer struct {
	incidents *incident.Manager
	evidence  EvidenceSource
	generator llm.TextGenerator
	cache     cache.Provider
	cacheTTL  time.Duration
	tracker   *utils.LatencyTracker
	logger    *slog.Logger
	now       func() time.Time
}

// NewAnalyzer wires the analysis stage.
func NewAnalyzer(incidents *incident.Manager, evidence EvidenceSource, generator llm.TextGenerator, cacheProvider cache.Provider, cacheTTL time.Duration, logger *slog.Logger) *Analyzer {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	return &Analyzer{
		incidents: incidents,
		evidence:  evidence,
		generator: generator,
		cache:     cacheProvider,
		cacheTTL:  cacheTTL,
		tracker:   utils.NewLatencyTracker(512),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Analyze loads the incident, gathers evidence, queries the model, and
// applies the terminal AI sub-state. A missing incident aborts with
// incident.ErrNotFound. An unusable model response is not an error: it
// resolves to the FAILED sub-state with the raw text retained.
func (a *Analyzer) Analyze(ctx context.Context, id string) (models.Incident, error) {
	started := a.now()

	inc, err := a.incidents.Get(ctx, id)
	if err != nil {
		return models.Incident{}, err
	}
	if inc.AIStatus != models.AIStatusPending {
		a.logger.Info("re-analyzing incident in terminal state",
			"incident_id", id, "ai_status", inc.AIStatus)
	}

	evidence := a.collectEvidence(ctx, inc)
	prompt := BuildPrompt(evidence)

	raw, err := a.generator.GenerateContent(ctx, prompt)
	if err != nil {
		metrics.ObserveAnalysis(a.now().Sub(started), metrics.OutcomeError)
		return models.Incident{}, err
	}

	result := ParseResponse(raw)
	if result == nil {
		if err := a.incidents.FailAnalysis(ctx, id, raw); err != nil {
			return models.Incident{}, err
		}
		a.observe(started, metrics.OutcomeFailed)
		return a.incidents.Get(ctx, id)
	}

	if err := a.incidents.CompleteAnalysis(ctx, id, *result, raw); err != nil {
		return models.Incident{}, err
	}
	a.observe(started, metrics.OutcomeCompleted)
	return a.incidents.Get(ctx, id)
}

func (a *Analyzer) observe(started time.Time, outcome string) {
	elapsed := a.now().Sub(started)
	metrics.ObserveAnalysis(elapsed, outcome)
	a.tracker.Observe(elapsed)
	a.logger.Info("analysis finished",
		"outcome", outcome,
		"elapsed", elapsed,
		"p95", a.tracker.Percentile(95))
}

// collectEvidence gathers top errors and latency stats for the incident
// window, consulting the cache first. Either query may fail independently;
// failures degrade that portion of the evidence to empty rather than
// aborting the analysis.
func (a *Analyzer) collectEvidence(ctx context.Context, inc models.Incident) models.Evidence {
	cacheKey := "evidence:" + inc.ID
	if data, err := a.cache.Get(ctx, cacheKey); err == nil {
		var cached models.Evidence
		if err := json.Unmarshal(data, &cached); err == nil {
			a.logger.Debug("evidence cache hit", "incident_id", inc.ID)
			return cached
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		a.logger.Warn("evidence cache read failed", "incident_id", inc.ID, "error", err)
	}

	start := inc.StartTs
	end := inc.EndTs
	if end.IsZero() {
		end = a.now()
	}

	evidence := models.Evidence{Incident: inc}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		samples, err := a.evidence.TopErrors(gctx, inc.Service, start, end, 10)
		if err != nil {
			a.logger.Warn("top errors query failed, continuing without samples",
				"incident_id", inc.ID, "error", err)
			return nil
		}
		evidence.TopErrors = samples
		return nil
	})
	g.Go(func() error {
		stats, err := a.evidence.LatencyStats(gctx, inc.Service, start, end)
		if err != nil {
			a.logger.Warn("latency query failed, continuing without stats",
				"incident_id", inc.ID, "error", err)
			return nil
		}
		evidence.Latency = stats
		return nil
	})
	// Goroutines swallow their own errors, so Wait only orders completion.
	_ = g.Wait()

	if data, err := json.Marshal(evidence); err == nil {
		if err := a.cache.Set(ctx, cacheKey, data, a.cacheTTL); err != nil {
			a.logger.Warn("evidence cache write failed", "incident_id", inc.ID, "error", err)
		}
	}
	return evidence
}
