package models

// ErrorSample is one ranked error cluster inside an incident window.
type ErrorSample struct {
	Message        string `json:"message"`
	ErrorSignature string `json:"error_signature,omitempty"`
	Count          int    `json:"count"`
	StatusCode     *int   `json:"status_code,omitempty"`
	RequestPath    string `json:"request_path,omitempty"`
}

// LatencyStats holds windowed latency percentiles for a service.
type LatencyStats struct {
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	P50LatencyMs int     `json:"p50_latency_ms"`
	P95LatencyMs int     `json:"p95_latency_ms"`
	P99LatencyMs int     `json:"p99_latency_ms"`
}

// Evidence bundles an incident with the supporting data gathered for
// AI analysis.
type Evidence struct {
	Incident  Incident      `json:"incident"`
	TopErrors []ErrorSample `json:"top_errors"`
	Latency   *LatencyStats `json:"latency,omitempty"`
}

// AIAnalysisResult is the validated outcome of parsing a model response.
type AIAnalysisResult struct {
	Summary          string   `json:"summary"`
	RootCause        string   `json:"root_cause"`
	MitigationSteps  []string `json:"mitigation_steps"`
	Confidence       float64  `json:"confidence"`
	DebuggingQueries []string `json:"debugging_queries"`
}
