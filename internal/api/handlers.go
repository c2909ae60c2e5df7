package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tracelens/triage-engine/internal/incident"
	"github.com/tracelens/triage-engine/internal/ingest"
	"github.com/tracelens/triage-engine/internal/metrics"
	"github.com/tracelens/triage-engine/internal/models"
	"github.com/tracelens/triage-engine/internal/warehouse"
)

// LogSink accepts normalized log events for persistence.
type LogSink interface {
	InsertBatch(ctx context.Context, events []models.LogEvent) error
}

// DetectionTrigger runs one detection pass.
type DetectionTrigger interface {
	Run(ctx context.Context) (models.RunReport, error)
}

// AnalysisTrigger runs the AI analysis stage for one incident.
type AnalysisTrigger interface {
	Analyze(ctx context.Context, id string) (models.Incident, error)
}

// IncidentReader serves incident lookups.
type IncidentReader interface {
	Get(ctx context.Context, id string) (models.Incident, error)
	List(ctx context.Context, limit int) ([]models.Incident, error)
}

// OverviewSource serves warehouse traffic summaries.
type OverviewSource interface {
	Overview(ctx context.Context, now time.Time, window time.Duration) (warehouse.OverviewStats, error)
	Count(ctx context.Context) (int64, error)
}

// Handlers bundles the HTTP handler dependencies.
type Handlers struct {
	logs      LogSink
	runner    DetectionTrigger
	analyzer  AnalysisTrigger
	incidents IncidentReader
	overview  OverviewSource
	logger    *slog.Logger
}

// NewHandlers wires the handler set.
func NewHandlers(logs LogSink, runner DetectionTrigger, analyzer AnalysisTrigger, incidents IncidentReader, overview OverviewSource, logger *slog.Logger) *Handlers {
	return &Handlers{
		logs:      logs,
		runner:    runner,
		analyzer:  analyzer,
		incidents: incidents,
		overview:  overview,
		logger:    logger,
	}
}

// Register attaches all routes to the router.
func (h *Handlers) Register(router *gin.Engine) {
	router.GET("/health", h.health)

	router.POST("/v1/logs", h.ingestLogs)
	router.POST("/pubsub/logs", h.ingestPubSubLogs)

	router.POST("/run", h.triggerRun)
	router.GET("/run", h.triggerRun)

	router.POST("/analyze/:id", h.analyze)
	router.POST("/pubsub/incidents", h.analyzePubSub)

	router.GET("/incidents", h.listIncidents)
	router.GET("/incidents/:id", h.getIncident)
	router.GET("/stats/overview", h.statsOverview)
}

func (h *Handlers) health(c *gin.Context) {
	count, err := h.overview.Count(c.Request.Context())
	if err != nil {
		h.logger.Warn("log count unavailable for health check", "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "log_count": count})
}

// ingestLogs accepts a single event object or an array of events.
func (h *Handlers) ingestLogs(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	events, err := decodeEvents(raw)
	if err != nil {
		metrics.ObserveIngest(false)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	accepted, rejected := h.acceptEvents(c.Request.Context(), events)
	if rejected != nil {
		h.writeIngestError(c, rejected)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

// pubSubEnvelope mirrors the push-subscription wrapper used by message
// broker integrations: the payload rides base64-encoded in message.data.
type pubSubEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func (h *Handlers) ingestPubSubLogs(c *gin.Context) {
	payload, ok := h.decodeEnvelope(c)
	if !ok {
		return
	}

	events, err := decodeEvents(payload)
	if err != nil {
		metrics.ObserveIngest(false)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	accepted, rejected := h.acceptEvents(c.Request.Context(), events)
	if rejected != nil {
		h.writeIngestError(c, rejected)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": accepted})
}

// writeIngestError maps validation failures to 400 and storage failures
// to 500.
func (h *Handlers) writeIngestError(c *gin.Context, err error) {
	var verr *ingest.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "log storage failed"})
}

func (h *Handlers) acceptEvents(ctx context.Context, events []models.LogEvent) (int, error) {
	normalized := make([]models.LogEvent, 0, len(events))
	for i := range events {
		if err := ingest.Normalize(&events[i]); err != nil {
			metrics.ObserveIngest(false)
			return 0, err
		}
		normalized = append(normalized, events[i])
	}

	if err := h.logs.InsertBatch(ctx, normalized); err != nil {
		h.logger.Error("log insert failed", "error", err)
		for range normalized {
			metrics.ObserveIngest(false)
		}
		return 0, err
	}
	for range normalized {
		metrics.ObserveIngest(true)
	}
	return len(normalized), nil
}

func decodeEvents(raw []byte) ([]models.LogEvent, error) {
	trimmed := firstNonSpace(raw)
	if trimmed == '[' {
		var events []models.LogEvent
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, errors.New("malformed log event array")
		}
		return events, nil
	}
	var event models.LogEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, errors.New("malformed log event")
	}
	return []models.LogEvent{event}, nil
}

func firstNonSpace(raw []byte) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return b
		}
	}
	return 0
}

func (h *Handlers) triggerRun(c *gin.Context) {
	report, err := h.runner.Run(c.Request.Context())
	if err != nil {
		h.logger.Error("detection run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "detection run failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handlers) analyze(c *gin.Context) {
	h.runAnalysis(c, c.Param("id"))
}

// analyzePubSub handles incident-created notifications delivered through a
// push subscription.
func (h *Handlers) analyzePubSub(c *gin.Context) {
	payload, ok := h.decodeEnvelope(c)
	if !ok {
		return
	}

	var event struct {
		IncidentID string `json:"incident_id"`
	}
	if err := json.Unmarshal(payload, &event); err != nil || event.IncidentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "notification missing incident_id"})
		return
	}
	h.runAnalysis(c, event.IncidentID)
}

func (h *Handlers) runAnalysis(c *gin.Context, id string) {
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "incident id is required"})
		return
	}

	inc, err := h.analyzer.Analyze(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, incident.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		h.logger.Error("analysis failed", "incident_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incident_id": inc.ID, "ai_status": inc.AIStatus})
}

func (h *Handlers) decodeEnvelope(c *gin.Context) ([]byte, bool) {
	var envelope pubSubEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed push envelope"})
		return nil, false
	}
	payload, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message data is not base64"})
		return nil, false
	}
	return payload, true
}

func (h *Handlers) listIncidents(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	incidents, err := h.incidents.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("incident list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "incident list failed"})
		return
	}
	if incidents == nil {
		incidents = []models.Incident{}
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents, "count": len(incidents)})
}

func (h *Handlers) getIncident(c *gin.Context) {
	inc, err := h.incidents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, incident.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		h.logger.Error("incident lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "incident lookup failed"})
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (h *Handlers) statsOverview(c *gin.Context) {
	window := time.Hour
	if v := c.Query("window"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a positive duration"})
			return
		}
		window = parsed
	}

	stats, err := h.overview.Overview(c.Request.Context(), time.Now().UTC(), window)
	if err != nil {
		h.logger.Error("overview query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "overview query failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
