package warehouse

import (
	"context"
	"database/sql"
	"time"

	"github.com/tracelens/triage-engine/internal/models"
	"github.com/tracelens/triage-engine/internal/utils"
)

// ServiceWindow summarizes one service's traffic in the recent detection
// window joined against its baseline error rate.
type ServiceWindow struct {
	Service       string
	WindowStart   time.Time
	WindowEnd     time.Time
	ErrorCount    int
	TotalRequests int
	BaselineRate  float64
	HasBaseline   bool
}

// ErrorRate returns the recent error rate, or 0 for an empty window.
func (w ServiceWindow) ErrorRate() float64 {
	if w.TotalRequests == 0 {
		return 0
	}
	return float64(w.ErrorCount) / float64(w.TotalRequests)
}

// ServiceWindows aggregates per-service traffic over the recent window and
// joins each service against its baseline error rate. The baseline window
// covers [now-baseline, now-recent), so the recent window never inflates its
// own reference. Services with no baseline traffic come back with
// HasBaseline=false. Results are ordered by error count descending.
func (s *Store) ServiceWindows(ctx context.Context, now time.Time, recent, baseline time.Duration) ([]ServiceWindow, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	recentCutoff := now.Add(-recent).UTC()
	baselineCutoff := now.Add(-baseline).UTC()

	rows, err := s.db.QueryContext(ctx, `
		WITH recent AS (
			SELECT
				service,
				COUNT(*)                                    AS total_requests,
				COUNT(*) FILTER (WHERE severity = 'ERROR')  AS error_count,
				date_trunc('minute', MIN(ts))               AS window_start,
				date_trunc('minute', MAX(ts))               AS window_end
			FROM logs
			WHERE ts >= ?
			GROUP BY service
		),
		baseline AS (
			SELECT
				service,
				CAST(COUNT(*) FILTER (WHERE severity = 'ERROR') AS DOUBLE) / COUNT(*) AS error_rate
			FROM logs
			WHERE ts >= ? AND ts < ?
			GROUP BY service
		)
		SELECT r.service, r.window_start, r.window_end, r.error_count, r.total_requests, b.error_rate
		FROM recent r
		LEFT JOIN baseline b ON r.service = b.service
		ORDER BY r.error_count DESC, r.service ASC`,
		recentCutoff, baselineCutoff, recentCutoff,
	)
	if err != nil {
		return nil, utils.NewAppError("warehouse.windows", "query service windows", err)
	}
	defer rows.Close()

	var windows []ServiceWindow
	for rows.Next() {
		var (
			w            ServiceWindow
			baselineRate sql.NullFloat64
		)
		if err := rows.Scan(&w.Service, &w.WindowStart, &w.WindowEnd, &w.ErrorCount, &w.TotalRequests, &baselineRate); err != nil {
			return nil, utils.NewAppError("warehouse.windows", "scan service window", err)
		}
		w.WindowStart = w.WindowStart.UTC()
		w.WindowEnd = w.WindowEnd.UTC()
		if baselineRate.Valid {
			w.BaselineRate = baselineRate.Float64
			w.HasBaseline = true
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// TopErrors returns the most frequent error messages for a service inside the
// incident window, grouped by message and signature, capped at limit.
func (s *Store) TopErrors(ctx context.Context, service string, start, end time.Time, limit int) ([]models.ErrorSample, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message, error_signature, status_code, request_path, COUNT(*) AS occurrences
		FROM logs
		WHERE service = ? AND severity = 'ERROR' AND ts >= ? AND ts <= ?
		GROUP BY message, error_signature, status_code, request_path
		ORDER BY occurrences DESC, message ASC
		LIMIT ?`,
		service, start.UTC(), end.UTC(), limit,
	)
	if err != nil {
		return nil, utils.NewAppError("warehouse.toperrors", "query top errors", err)
	}
	defer rows.Close()

	var samples []models.ErrorSample
	for rows.Next() {
		var (
			sample      models.ErrorSample
			signature   sql.NullString
			statusCode  sql.NullInt64
			requestPath sql.NullString
		)
		if err := rows.Scan(&sample.Message, &signature, &statusCode, &requestPath, &sample.Count); err != nil {
			return nil, utils.NewAppError("warehouse.toperrors", "scan error sample", err)
		}
		sample.ErrorSignature = signature.String
		sample.RequestPath = requestPath.String
		if statusCode.Valid {
			code := int(statusCode.Int64)
			sample.StatusCode = &code
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// LatencyStats computes latency aggregates for a service inside the incident
// window. It returns nil when the window has no latency samples.
func (s *Store) LatencyStats(ctx context.Context, service string, start, end time.Time) (*models.LatencyStats, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var (
		avg           sql.NullFloat64
		p50, p95, p99 sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			AVG(latency_ms),
			CAST(quantile_cont(latency_ms, 0.50) AS INTEGER),
			CAST(quantile_cont(latency_ms, 0.95) AS INTEGER),
			CAST(quantile_cont(latency_ms, 0.99) AS INTEGER)
		FROM logs
		WHERE service = ? AND ts >= ? AND ts <= ? AND latency_ms IS NOT NULL`,
		service, start.UTC(), end.UTC(),
	).Scan(&avg, &p50, &p95, &p99)
	if err != nil {
		return nil, utils.NewAppError("warehouse.latency", "query latency stats", err)
	}

	if !avg.Valid {
		return nil, nil
	}
	return &models.LatencyStats{
		AvgLatencyMs: avg.Float64,
		P50LatencyMs: int(p50.Int64),
		P95LatencyMs: int(p95.Int64),
		P99LatencyMs: int(p99.Int64),
	}, nil
}

// Count returns the total number of stored log events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`).Scan(&count); err != nil {
		return 0, utils.NewAppError("warehouse.count", "count logs", err)
	}
	return count, nil
}

// OverviewStats summarizes warehouse traffic over a trailing window.
type OverviewStats struct {
	WindowStart time.Time `json:"window_start"`
	TotalEvents int64     `json:"total_events"`
	ErrorEvents int64     `json:"error_events"`
	ErrorRate   float64   `json:"error_rate"`
	Services    int64     `json:"services"`
}

// Overview reports event counts and the distinct service count over the
// trailing window ending at now.
func (s *Store) Overview(ctx context.Context, now time.Time, window time.Duration) (OverviewStats, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	cutoff := now.Add(-window).UTC()
	stats := OverviewStats{WindowStart: cutoff}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE severity = 'ERROR'),
			COUNT(DISTINCT service)
		FROM logs
		WHERE ts >= ?`,
		cutoff,
	).Scan(&stats.TotalEvents, &stats.ErrorEvents, &stats.Services)
	if err != nil {
		return OverviewStats{}, utils.NewAppError("warehouse.overview", "query overview", err)
	}

	if stats.TotalEvents > 0 {
		stats.ErrorRate = float64(stats.ErrorEvents) / float64(stats.TotalEvents)
	}
	return stats, nil
}
