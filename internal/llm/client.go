// Package llm wraps the generative model HTTP API used for incident
// analysis.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tracelens/triage-engine/internal/utils"
)

// TextGenerator produces a free-form completion for a prompt. Implementations
// return the raw model text; parsing is the caller's concern.
type TextGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// Options configures the Gemini-style client.
type Options struct {
	BaseURL         string
	APIKey          string
	Model           string
	Temperature     float64
	TopP            float64
	MaxOutputTokens int
	Timeout         time.Duration
}

// Client calls a generateContent endpoint compatible with the Google
// generative language API.
type Client struct {
	opts   Options
	http   *http.Client
	logger *slog.Logger
}

// NewClient builds a model client. A zero timeout defaults to 30s.
func NewClient(opts Options, logger *slog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		opts:   opts,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// GenerateContent sends the prompt and returns the first candidate's text.
// An empty candidate list yields an empty string rather than an error so the
// caller can treat it as an unparseable response.
func (c *Client) GenerateContent(ctx context.Context, prompt string) (string, error) {
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(c.opts.BaseURL, "/"), c.opts.Model)
	if c.opts.APIKey != "" {
		endpoint += "?key=" + url.QueryEscape(c.opts.APIKey)
	}

	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: &generationConfig{
			Temperature:     c.opts.Temperature,
			TopP:            c.opts.TopP,
			MaxOutputTokens: c.opts.MaxOutputTokens,
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", utils.NewAppError("llm.generate", "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", utils.NewAppError("llm.generate", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", utils.NewAppError("llm.generate", "call model endpoint", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", utils.NewAppError("llm.generate", "read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", utils.NewAppError("llm.generate",
			fmt.Sprintf("model endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 200)), nil)
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", utils.NewAppError("llm.generate", "decode response", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		c.logger.Warn("model returned no candidates", "model", c.opts.Model)
		return "", nil
	}

	var sb strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
