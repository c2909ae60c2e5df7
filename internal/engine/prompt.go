package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tracelens/triage-engine/internal/models"
	"github.com/tracelens/triage-engine/internal/utils"
)

const maxPromptErrors = 5
const maxErrorMessageLen = 100

// BuildPrompt renders the analysis prompt for an incident and its evidence.
// The output is deterministic for identical evidence.
func BuildPrompt(ev models.Evidence) string {
	inc := ev.Incident

	var errorLines []string
	for i, sample := range ev.TopErrors {
		if i == maxPromptErrors {
			break
		}
		message := sample.Message
		if len(message) > maxErrorMessageLen {
			message = message[:maxErrorMessageLen]
		}
		line := fmt.Sprintf("  - [%dx]", sample.Count)
		if sample.StatusCode != nil {
			line += fmt.Sprintf(" (HTTP %d)", *sample.StatusCode)
		}
		errorLines = append(errorLines, line+" "+message)
	}
	errorSummary := strings.Join(errorLines, "\n")
	if errorSummary == "" {
		errorSummary = "  (no error samples available)"
	}

	latencyInfo := "Latency: N/A"
	if ev.Latency != nil {
		latencyInfo = fmt.Sprintf("Latency: avg=%.0fms, p50=%dms, p95=%dms, p99=%dms",
			ev.Latency.AvgLatencyMs, ev.Latency.P50LatencyMs, ev.Latency.P95LatencyMs, ev.Latency.P99LatencyMs)
	}

	windowEnd := "ongoing"
	if !inc.EndTs.IsZero() {
		windowEnd = utils.FormatRFC3339(inc.EndTs)
	}

	return fmt.Sprintf(`You are an expert Site Reliability Engineer analyzing a production incident.

## Incident Summary
- **Service**: %s
- **Severity**: %s
- **Anomaly Type**: %s
- **Time Window**: %s to %s
- **Error Count**: %d
- **Error Rate**: Current %.1f%% vs Baseline %.1f%%

## Top Error Messages
%s

## Performance Metrics
%s

## Your Task
Analyze this incident and provide:
1. A concise summary (2-3 sentences) of what went wrong
2. The most likely root cause
3. 3-5 actionable mitigation steps
4. Your confidence level (0.0 to 1.0)
5. Useful debugging queries for the log warehouse

## Response Format
Respond ONLY with valid JSON in this exact format:
{
  "summary": "Brief description of the incident",
  "root_cause": "Most likely cause of the issue",
  "mitigation_steps": ["Step 1", "Step 2", "Step 3"],
  "confidence": 0.85,
  "debugging_queries": ["SELECT ... FROM logs WHERE ..."]
}`,
		inc.Service, inc.Severity, inc.AnomalyType,
		utils.FormatRFC3339(inc.StartTs), windowEnd,
		inc.ErrorCount,
		inc.CurrentRate*100, inc.BaselineRate*100,
		errorSummary, latencyInfo)
}

// ParseResponse extracts the structured result from raw model output. Code
// fences and surrounding whitespace are tolerated. Any decode failure
// returns nil so the caller can mark the analysis failed with the untouched
// raw text.
func ParseResponse(raw string) *models.AIAnalysisResult {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return nil
	}

	var result models.AIAnalysisResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil
	}

	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return &result
}
