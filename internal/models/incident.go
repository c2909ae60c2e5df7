package models

import "time"

// Incident status values. Only initialization to StatusOpen is a write path
// here; the remaining transitions are operator driven.
const (
	StatusOpen          = "OPEN"
	StatusInvestigating = "INVESTIGATING"
	StatusResolved      = "RESOLVED"
)

// AI sub-state values. PENDING transitions to exactly one of COMPLETED or
// FAILED; neither terminal state has an exit transition.
const (
	AIStatusPending   = "PENDING"
	AIStatusCompleted = "COMPLETED"
	AIStatusFailed    = "FAILED"
)

// Incident is the durable unit of triage, keyed by the deterministic
// anomaly identity.
type Incident struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	Severity         string    `json:"severity"`
	Service          string    `json:"service"`
	StartTs          time.Time `json:"start_ts"`
	EndTs            time.Time `json:"end_ts"`
	ImpactedServices []string  `json:"impacted_services"`
	ErrorCount       int       `json:"error_count"`
	BaselineRate     float64   `json:"baseline_rate"`
	CurrentRate      float64   `json:"current_rate"`
	AnomalyType      string    `json:"anomaly_type"`

	AIStatus         string   `json:"ai_status"`
	AISummary        string   `json:"ai_summary,omitempty"`
	AIRootCause      string   `json:"ai_root_cause,omitempty"`
	AISteps          []string `json:"ai_steps"`
	Confidence       float64  `json:"confidence"`
	DebuggingQueries []string `json:"debugging_queries,omitempty"`
	AIRawResponse    string   `json:"ai_raw_response,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
