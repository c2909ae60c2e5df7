package models

import (
	"testing"
	"time"
)

func TestIncidentIDDeterministic(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := Anomaly{Service: "checkout", WindowStart: start, Type: AnomalyTypeErrorSpike, ErrorCount: 5}
	b := Anomaly{Service: "checkout", WindowStart: start, Type: AnomalyTypeErrorSpike, ErrorCount: 99, CurrentErrorRate: 0.9}

	if a.IncidentID() != b.IncidentID() {
		t.Fatalf("identity depends on fields outside (service, window_start, type): %s vs %s", a.IncidentID(), b.IncidentID())
	}
	if len(a.IncidentID()) != 16 {
		t.Fatalf("expected 16-char identity, got %q", a.IncidentID())
	}

	c := Anomaly{Service: "checkout", WindowStart: start, Type: AnomalyTypeLatencySpike}
	if a.IncidentID() == c.IncidentID() {
		t.Fatal("different anomaly types must yield different identities")
	}

	d := Anomaly{Service: "payments", WindowStart: start, Type: AnomalyTypeErrorSpike}
	if a.IncidentID() == d.IncidentID() {
		t.Fatal("different services must yield different identities")
	}
}

func TestIncidentIDTimezoneInsensitive(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	utc := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	local := utc.In(loc)

	a := Anomaly{Service: "checkout", WindowStart: utc, Type: AnomalyTypeErrorSpike}
	b := Anomaly{Service: "checkout", WindowStart: local, Type: AnomalyTypeErrorSpike}
	if a.IncidentID() != b.IncidentID() {
		t.Fatal("identity must normalize the window start to UTC")
	}
}

func TestErrorSpikeSeverityTable(t *testing.T) {
	cases := []struct {
		rate float64
		want string
	}{
		{0.0, SeverityInfo},
		{0.19, SeverityInfo},
		{0.2, SeverityWarning},
		{0.5, SeverityWarning},
		{0.51, SeverityCritical},
	}
	for _, tc := range cases {
		a := Anomaly{Type: AnomalyTypeErrorSpike, CurrentErrorRate: tc.rate}
		if got := a.Severity(); got != tc.want {
			t.Errorf("rate %.2f: expected %s, got %s", tc.rate, tc.want, got)
		}
	}
}

func TestLatencySpikeSeverity(t *testing.T) {
	p95 := func(v int) *int { return &v }

	cases := []struct {
		p95  *int
		want string
	}{
		{p95(12000), SeverityCritical},
		{p95(10000), SeverityCritical},
		{p95(5000), SeverityWarning},
		{p95(1200), SeverityInfo},
		{nil, SeverityInfo},
	}
	for _, tc := range cases {
		a := Anomaly{Type: AnomalyTypeLatencySpike, CurrentP95: tc.p95}
		if got := a.Severity(); got != tc.want {
			t.Errorf("p95 %v: expected %s, got %s", tc.p95, tc.want, got)
		}
	}
}

func TestUnknownAnomalyTypeDefaultsToWarning(t *testing.T) {
	a := Anomaly{Type: "SOMETHING_ELSE", CurrentErrorRate: 0.99}
	if got := a.Severity(); got != SeverityWarning {
		t.Fatalf("expected WARNING for unknown type, got %s", got)
	}
}
