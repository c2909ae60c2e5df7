package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/tracelens/triage-engine/internal/models"
)

func promptEvidence() models.Evidence {
	code := 502
	return models.Evidence{
		Incident: models.Incident{
			ID:           "abc123def4567890",
			Service:      "checkout",
			Severity:     models.SeverityWarning,
			AnomalyType:  models.AnomalyTypeErrorSpike,
			StartTs:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			EndTs:        time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC),
			ErrorCount:   5,
			CurrentRate:  0.25,
			BaselineRate: 0.02,
		},
		TopErrors: []models.ErrorSample{
			{Message: "payment declined", Count: 4, StatusCode: &code},
			{Message: "db timeout", Count: 1},
		},
		Latency: &models.LatencyStats{AvgLatencyMs: 300, P50LatencyMs: 280, P95LatencyMs: 900, P99LatencyMs: 1500},
	}
}

func TestBuildPromptContents(t *testing.T) {
	prompt := BuildPrompt(promptEvidence())

	for _, want := range []string{
		"checkout",
		"WARNING",
		"ERROR_SPIKE",
		"Current 25.0% vs Baseline 2.0%",
		"[4x] (HTTP 502) payment declined",
		"[1x] db timeout",
		"avg=300ms, p50=280ms, p95=900ms, p99=1500ms",
		`"summary"`,
		`"root_cause"`,
		`"mitigation_steps"`,
		`"confidence"`,
		`"debugging_queries"`,
		"Respond ONLY with valid JSON",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildPromptIsDeterministic(t *testing.T) {
	ev := promptEvidence()
	if BuildPrompt(ev) != BuildPrompt(ev) {
		t.Fatal("identical evidence must render identical prompts")
	}
}

func TestBuildPromptOngoingWindowAndMissingLatency(t *testing.T) {
	ev := promptEvidence()
	ev.Incident.EndTs = time.Time{}
	ev.Latency = nil
	ev.TopErrors = nil

	prompt := BuildPrompt(ev)
	if !strings.Contains(prompt, "to ongoing") {
		t.Error("open window should render as ongoing")
	}
	if !strings.Contains(prompt, "Latency: N/A") {
		t.Error("missing latency should render as N/A")
	}
	if !strings.Contains(prompt, "no error samples available") {
		t.Error("empty samples should be stated, not blank")
	}
}

func TestBuildPromptTruncatesAndCaps(t *testing.T) {
	ev := promptEvidence()
	long := strings.Repeat("x", 250)
	ev.TopErrors = nil
	for i := 0; i < 8; i++ {
		ev.TopErrors = append(ev.TopErrors, models.ErrorSample{Message: long, Count: 8 - i})
	}

	prompt := BuildPrompt(ev)
	if strings.Contains(prompt, strings.Repeat("x", 101)) {
		t.Error("messages should be truncated to 100 characters")
	}
	if got := strings.Count(prompt, strings.Repeat("x", 100)); got != 5 {
		t.Errorf("expected 5 error samples in prompt, found %d", got)
	}
}

func TestParseResponseVariants(t *testing.T) {
	body := `{"summary":"spike","root_cause":"bad deploy","mitigation_steps":["rollback"],"confidence":0.85,"debugging_queries":["SELECT 1"]}`

	variants := []string{
		body,
		"```json\n" + body + "\n```",
		"```\n" + body + "\n```",
		"\n\n  " + body + "  \n",
	}

	var first *models.AIAnalysisResult
	for i, raw := range variants {
		result := ParseResponse(raw)
		if result == nil {
			t.Fatalf("variant %d failed to parse", i)
		}
		if first == nil {
			first = result
			continue
		}
		if result.Summary != first.Summary || result.Confidence != first.Confidence {
			t.Fatalf("variant %d parsed differently: %+v", i, result)
		}
	}

	if first.RootCause != "bad deploy" || len(first.MitigationSteps) != 1 {
		t.Fatalf("unexpected parse: %+v", first)
	}
}

func TestParseResponseCaseInsensitiveFields(t *testing.T) {
	result := ParseResponse(`{"Summary":"s","Root_Cause":"r","Confidence":0.5}`)
	if result == nil {
		t.Fatal("expected parse to succeed")
	}
	if result.Summary != "s" || result.RootCause != "r" {
		t.Fatalf("case-insensitive matching failed: %+v", result)
	}
}

func TestParseResponseRejectsGarbage(t *testing.T) {
	for _, raw := range []string{
		"",
		"I'm sorry, I cannot produce JSON for this.",
		"```json\nnot json at all\n```",
		"{truncated",
	} {
		if got := ParseResponse(raw); got != nil {
			t.Errorf("expected nil for %q, got %+v", raw, got)
		}
	}
}

func TestParseResponseClampsConfidence(t *testing.T) {
	if got := ParseResponse(`{"summary":"s","confidence":1.7}`); got == nil || got.Confidence != 1 {
		t.Fatalf("expected confidence clamped to 1, got %+v", got)
	}
	if got := ParseResponse(`{"summary":"s","confidence":-0.3}`); got == nil || got.Confidence != 0 {
		t.Fatalf("expected confidence clamped to 0, got %+v", got)
	}
}
