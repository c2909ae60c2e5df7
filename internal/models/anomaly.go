package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Anomaly types produced by detection.
const (
	AnomalyTypeErrorSpike   = "ERROR_SPIKE"
	AnomalyTypeLatencySpike = "LATENCY_SPIKE"
	AnomalyTypeNovelSig     = "NOVEL_SIGNATURE"
)

// Severity levels assigned to anomalies and incidents.
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

// Anomaly is a detected deviation for one service over one time window.
// It exists only between detection and incident creation.
type Anomaly struct {
	Service           string
	WindowStart       time.Time
	WindowEnd         time.Time // zero when the window is still open
	ErrorCount        int
	TotalRequests     int
	CurrentErrorRate  float64
	BaselineErrorRate float64
	Type              string

	// Latency-spike fields.
	CurrentP95  *int
	BaselineP95 *int

	// Novel-signature fields.
	ErrorSignature  string
	OccurrenceCount *int
}

// IncidentID derives the deterministic incident identity for this anomaly.
// The identity is the deduplication primitive: two anomalies with the same
// (service, window start, type) collapse onto one incident, bit for bit,
// across processes and time.
func (a Anomaly) IncidentID() string {
	input := fmt.Sprintf("%s|%s|%s", a.Service, a.WindowStart.UTC().Format(time.RFC3339), a.Type)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}

// Severity classifies the anomaly. Pure function: it yields the same answer
// at detection time and at any later re-evaluation.
func (a Anomaly) Severity() string {
	switch a.Type {
	case AnomalyTypeErrorSpike:
		switch {
		case a.CurrentErrorRate > 0.5:
			return SeverityCritical
		case a.CurrentErrorRate >= 0.2:
			return SeverityWarning
		default:
			return SeverityInfo
		}
	case AnomalyTypeLatencySpike:
		if a.CurrentP95 == nil {
			return SeverityInfo
		}
		switch {
		case *a.CurrentP95 >= 10000:
			return SeverityCritical
		case *a.CurrentP95 >= 5000:
			return SeverityWarning
		default:
			return SeverityInfo
		}
	}
	return SeverityWarning
}

// RunReport summarizes one detection run for the trigger caller.
type RunReport struct {
	Timestamp         time.Time `json:"timestamp"`
	AnomaliesDetected int       `json:"anomalies_detected"`
	IncidentsCreated  []string  `json:"incidents_created"`
}
