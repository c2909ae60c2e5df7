package models

import "time"

// LogEvent is one observed request/log line as pushed by producers.
// Ts, Service, and Message are mandatory; everything else is optional.
// ErrorSignature is derived during normalization and empty when the
// message is empty.
type LogEvent struct {
	Ts             time.Time `json:"ts"`
	Service        string    `json:"service"`
	Severity       string    `json:"severity,omitempty"`
	StatusCode     *int      `json:"status_code,omitempty"`
	LatencyMs      *int      `json:"latency_ms,omitempty"`
	ErrorSignature string    `json:"error_signature,omitempty"`
	Message        string    `json:"message"`
	TraceID        string    `json:"trace_id,omitempty"`
	RequestPath    string    `json:"request_path,omitempty"`
	Env            string    `json:"env,omitempty"`
	DeployID       string    `json:"deploy_id,omitempty"`
}
