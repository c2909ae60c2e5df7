// Package notifier publishes incident-created events to downstream
// consumers.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tracelens/triage-engine/internal/models"
	"github.com/tracelens/triage-engine/internal/utils"
)

// Publisher announces newly created incidents. Publish failures are
// meaningful: the detection run that created the incident surfaces them.
type Publisher interface {
	PublishIncidentCreated(ctx context.Context, inc models.Incident) error
}

// incidentCreatedEvent is the wire payload for downstream consumers.
type incidentCreatedEvent struct {
	MessageID  string `json:"message_id"`
	IncidentID string `json:"incident_id"`
	Service    string `json:"service"`
	Severity   string `json:"severity"`
	Timestamp  string `json:"timestamp"`
}

// WebhookPublisher delivers incident-created events to an HTTP endpoint.
// An empty URL disables delivery, which keeps single-process deployments
// (where the analyzer runs in the same binary) from needing a loopback hop.
type WebhookPublisher struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

// NewWebhookPublisher builds a publisher targeting url. A zero timeout
// defaults to 15s.
func NewWebhookPublisher(url string, timeout time.Duration, logger *slog.Logger) *WebhookPublisher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookPublisher{
		url:    url,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// PublishIncidentCreated posts the event. Each delivery carries a fresh
// message id so consumers can deduplicate retries.
func (p *WebhookPublisher) PublishIncidentCreated(ctx context.Context, inc models.Incident) error {
	if p.url == "" {
		p.logger.Debug("notifier disabled, skipping publish", "incident_id", inc.ID)
		return nil
	}

	event := incidentCreatedEvent{
		MessageID:  uuid.NewString(),
		IncidentID: inc.ID,
		Service:    inc.Service,
		Severity:   inc.Severity,
		Timestamp:  utils.FormatRFC3339(time.Now().UTC()),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return utils.NewAppError("notifier.publish", "marshal event", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return utils.NewAppError("notifier.publish", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return utils.NewAppError("notifier.publish", "deliver event", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return utils.NewAppError("notifier.publish",
			fmt.Sprintf("webhook returned status %d", resp.StatusCode), nil)
	}

	p.logger.Info("incident event published",
		"incident_id", inc.ID, "message_id", event.MessageID)
	return nil
}
