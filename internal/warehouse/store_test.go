package warehouse

import (
	"context"
	"testing"
	"time"

	"github.com/tracelens/triage-engine/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore("", 10*time.Second)
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func intPtr(v int) *int { return &v }

func seedEvents(t *testing.T, store *Store, events []models.LogEvent) {
	t.Helper()
	if err := store.InsertBatch(context.Background(), events); err != nil {
		t.Fatalf("insert events: %v", err)
	}
}

func event(ts time.Time, service, severity, message string) models.LogEvent {
	return models.LogEvent{Ts: ts, Service: service, Severity: severity, Message: message}
}

func TestServiceWindowsSplitsRecentFromBaseline(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var events []models.LogEvent
	// Baseline traffic: 100 requests, 2 errors (rate 0.02), 30 minutes back.
	for i := 0; i < 100; i++ {
		severity := "INFO"
		if i < 2 {
			severity = "ERROR"
		}
		events = append(events, event(now.Add(-30*time.Minute), "checkout", severity, "baseline request"))
	}
	// Recent traffic: 20 requests, 5 errors.
	for i := 0; i < 20; i++ {
		severity := "INFO"
		if i < 5 {
			severity = "ERROR"
		}
		events = append(events, event(now.Add(-2*time.Minute), "checkout", severity, "payment declined"))
	}
	seedEvents(t, store, events)

	windows, err := store.ServiceWindows(context.Background(), now, 5*time.Minute, 60*time.Minute)
	if err != nil {
		t.Fatalf("service windows: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(windows))
	}

	w := windows[0]
	if w.Service != "checkout" {
		t.Fatalf("unexpected service %q", w.Service)
	}
	if w.ErrorCount != 5 || w.TotalRequests != 20 {
		t.Fatalf("expected 5/20, got %d/%d", w.ErrorCount, w.TotalRequests)
	}
	if !w.HasBaseline {
		t.Fatal("expected baseline to be present")
	}
	if w.BaselineRate < 0.019 || w.BaselineRate > 0.021 {
		t.Fatalf("expected baseline rate ~0.02, got %f", w.BaselineRate)
	}
	if got := w.ErrorRate(); got != 0.25 {
		t.Fatalf("expected recent rate 0.25, got %f", got)
	}
	want := now.Add(-2 * time.Minute).Truncate(time.Minute)
	if !w.WindowStart.Equal(want) {
		t.Fatalf("expected window start %v, got %v", want, w.WindowStart)
	}
}

func TestServiceWindowsWithoutBaseline(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	seedEvents(t, store, []models.LogEvent{
		event(now.Add(-time.Minute), "new-service", "ERROR", "boom"),
		event(now.Add(-time.Minute), "new-service", "INFO", "ok"),
	})

	windows, err := store.ServiceWindows(context.Background(), now, 5*time.Minute, 60*time.Minute)
	if err != nil {
		t.Fatalf("service windows: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(windows))
	}
	if windows[0].HasBaseline {
		t.Fatal("expected no baseline for a brand new service")
	}
}

func TestServiceWindowsOrderedByErrorCount(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var events []models.LogEvent
	for i := 0; i < 3; i++ {
		events = append(events, event(now.Add(-time.Minute), "quiet", "ERROR", "err"))
	}
	for i := 0; i < 7; i++ {
		events = append(events, event(now.Add(-time.Minute), "noisy", "ERROR", "err"))
	}
	seedEvents(t, store, events)

	windows, err := store.ServiceWindows(context.Background(), now, 5*time.Minute, 60*time.Minute)
	if err != nil {
		t.Fatalf("service windows: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}
	if windows[0].Service != "noisy" || windows[1].Service != "quiet" {
		t.Fatalf("expected noisy before quiet, got %q then %q", windows[0].Service, windows[1].Service)
	}
}

func TestTopErrorsGroupsAndRanks(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var events []models.LogEvent
	for i := 0; i < 4; i++ {
		ev := event(now.Add(-time.Minute), "checkout", "ERROR", "payment declined")
		ev.ErrorSignature = "sig-a"
		ev.StatusCode = intPtr(502)
		ev.RequestPath = "/pay"
		events = append(events, ev)
	}
	ev := event(now.Add(-time.Minute), "checkout", "ERROR", "db timeout")
	ev.ErrorSignature = "sig-b"
	events = append(events, ev)
	events = append(events, event(now.Add(-time.Minute), "checkout", "INFO", "ok"))
	events = append(events, event(now.Add(-time.Minute), "other", "ERROR", "unrelated"))
	seedEvents(t, store, events)

	samples, err := store.TopErrors(context.Background(), "checkout", now.Add(-5*time.Minute), now, 10)
	if err != nil {
		t.Fatalf("top errors: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 grouped samples, got %d", len(samples))
	}
	if samples[0].Message != "payment declined" || samples[0].Count != 4 {
		t.Fatalf("unexpected top sample: %+v", samples[0])
	}
	if samples[0].StatusCode == nil || *samples[0].StatusCode != 502 {
		t.Fatalf("expected status code 502, got %v", samples[0].StatusCode)
	}
	if samples[1].StatusCode != nil {
		t.Fatalf("expected nil status code, got %v", samples[1].StatusCode)
	}
}

func TestLatencyStats(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var events []models.LogEvent
	for _, ms := range []int{100, 200, 300, 400, 500} {
		ev := event(now.Add(-time.Minute), "checkout", "INFO", "ok")
		ev.LatencyMs = intPtr(ms)
		events = append(events, ev)
	}
	// Events without latency should not skew the aggregates.
	events = append(events, event(now.Add(-time.Minute), "checkout", "ERROR", "boom"))
	seedEvents(t, store, events)

	stats, err := store.LatencyStats(context.Background(), "checkout", now.Add(-5*time.Minute), now)
	if err != nil {
		t.Fatalf("latency stats: %v", err)
	}
	if stats == nil {
		t.Fatal("expected stats, got nil")
	}
	if stats.AvgLatencyMs != 300 {
		t.Fatalf("expected avg 300, got %f", stats.AvgLatencyMs)
	}
	if stats.P50LatencyMs != 300 {
		t.Fatalf("expected p50 300, got %d", stats.P50LatencyMs)
	}

	empty, err := store.LatencyStats(context.Background(), "silent", now.Add(-5*time.Minute), now)
	if err != nil {
		t.Fatalf("latency stats: %v", err)
	}
	if empty != nil {
		t.Fatalf("expected nil stats for service without samples, got %+v", empty)
	}
}

func TestOverview(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	seedEvents(t, store, []models.LogEvent{
		event(now.Add(-time.Minute), "checkout", "ERROR", "boom"),
		event(now.Add(-time.Minute), "checkout", "INFO", "ok"),
		event(now.Add(-time.Minute), "search", "INFO", "ok"),
		event(now.Add(-2*time.Hour), "stale", "INFO", "too old"),
	})

	stats, err := store.Overview(context.Background(), now, time.Hour)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if stats.TotalEvents != 3 || stats.ErrorEvents != 1 || stats.Services != 2 {
		t.Fatalf("unexpected overview: %+v", stats)
	}
	if stats.ErrorRate < 0.33 || stats.ErrorRate > 0.34 {
		t.Fatalf("unexpected error rate: %f", stats.ErrorRate)
	}
}
