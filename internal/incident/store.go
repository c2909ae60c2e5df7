// Package incident persists the incident lifecycle in SQLite and exposes the
// manager that detection, analysis, and the API surface share.
package incident

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tracelens/triage-engine/internal/models"
	"github.com/tracelens/triage-engine/internal/utils"
)

// ErrNotFound is returned when an incident id does not exist.
var ErrNotFound = errors.New("incident not found")

// Store wraps the SQLite database holding incident documents.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the incident database at path and runs
// migrations.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, utils.NewAppError("incident.open", "create data directory", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, utils.NewAppError("incident.open", "open sqlite", err)
	}
	// SQLite allows a single writer; a single pooled connection avoids
	// SQLITE_BUSY churn under concurrent handlers.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, utils.NewAppError("incident.open", "migrate schema", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS incidents (
			id                TEXT PRIMARY KEY,
			status            TEXT NOT NULL,
			severity          TEXT NOT NULL,
			service           TEXT NOT NULL,
			start_ts          TEXT NOT NULL,
			end_ts            TEXT NOT NULL,
			impacted_services TEXT NOT NULL DEFAULT '[]',
			error_count       INTEGER NOT NULL DEFAULT 0,
			baseline_rate     REAL NOT NULL DEFAULT 0,
			current_rate      REAL NOT NULL DEFAULT 0,
			anomaly_type      TEXT NOT NULL,
			ai_status         TEXT NOT NULL,
			ai_summary        TEXT NOT NULL DEFAULT '',
			ai_root_cause     TEXT NOT NULL DEFAULT '',
			ai_steps          TEXT NOT NULL DEFAULT '[]',
			confidence        REAL NOT NULL DEFAULT 0,
			debugging_queries TEXT NOT NULL DEFAULT '[]',
			ai_raw_response   TEXT NOT NULL DEFAULT '',
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_created_at ON incidents(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_service ON incidents(service)`,
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Create inserts the incident if its id is absent. The insert is atomic:
// concurrent creates for the same id resolve to exactly one row, and the
// boolean reports whether this call was the one that wrote it.
func (s *Store) Create(ctx context.Context, inc models.Incident) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents (
			id, status, severity, service, start_ts, end_ts, impacted_services,
			error_count, baseline_rate, current_rate, anomaly_type,
			ai_status, ai_steps, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		inc.ID, inc.Status, inc.Severity, inc.Service,
		utils.FormatRFC3339(inc.StartTs), utils.FormatRFC3339(inc.EndTs),
		marshalStrings(inc.ImpactedServices),
		inc.ErrorCount, inc.BaselineRate, inc.CurrentRate, inc.AnomalyType,
		inc.AIStatus, marshalStrings(inc.AISteps),
		utils.FormatRFC3339(inc.CreatedAt), utils.FormatRFC3339(inc.UpdatedAt),
	)
	if err != nil {
		return false, utils.NewAppError("incident.create", "insert incident", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, utils.NewAppError("incident.create", "rows affected", err)
	}
	return affected == 1, nil
}

// Get loads one incident by id.
func (s *Store) Get(ctx context.Context, id string) (models.Incident, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM incidents WHERE id = ?`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Incident{}, ErrNotFound
	}
	if err != nil {
		return models.Incident{}, utils.NewAppError("incident.get", "scan incident", err)
	}
	return inc, nil
}

// List returns incidents ordered by creation time descending, capped at limit.
func (s *Store) List(ctx context.Context, limit int) ([]models.Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		FROM incidents ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, utils.NewAppError("incident.list", "query incidents", err)
	}
	defer rows.Close()

	var incidents []models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, utils.NewAppError("incident.list", "scan incident", err)
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// UpdateAIResult marks the analysis completed and stores its fields.
func (s *Store) UpdateAIResult(ctx context.Context, id string, result models.AIAnalysisResult, raw string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET
			ai_status = ?, ai_summary = ?, ai_root_cause = ?, ai_steps = ?,
			confidence = ?, debugging_queries = ?, ai_raw_response = ?, updated_at = ?
		WHERE id = ?`,
		models.AIStatusCompleted, result.Summary, result.RootCause,
		marshalStrings(result.MitigationSteps), result.Confidence,
		marshalStrings(result.DebuggingQueries), raw,
		utils.FormatRFC3339(time.Now().UTC()), id,
	)
	if err != nil {
		return utils.NewAppError("incident.update", "update ai result", err)
	}
	return requireRow(res)
}

// MarkAIFailed marks the analysis failed, retaining the raw model output for
// operator inspection.
func (s *Store) MarkAIFailed(ctx context.Context, id, raw string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET ai_status = ?, ai_raw_response = ?, updated_at = ?
		WHERE id = ?`,
		models.AIStatusFailed, raw, utils.FormatRFC3339(time.Now().UTC()), id,
	)
	if err != nil {
		return utils.NewAppError("incident.update", "mark ai failed", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return utils.NewAppError("incident.update", "rows affected", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `
	SELECT id, status, severity, service, start_ts, end_ts, impacted_services,
		error_count, baseline_rate, current_rate, anomaly_type,
		ai_status, ai_summary, ai_root_cause, ai_steps, confidence,
		debugging_queries, ai_raw_response, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (models.Incident, error) {
	var (
		inc                                     models.Incident
		startTs, endTs, createdAt, updatedAt    string
		impactedServices, aiSteps, debugQueries string
	)
	err := row.Scan(
		&inc.ID, &inc.Status, &inc.Severity, &inc.Service,
		&startTs, &endTs, &impactedServices,
		&inc.ErrorCount, &inc.BaselineRate, &inc.CurrentRate, &inc.AnomalyType,
		&inc.AIStatus, &inc.AISummary, &inc.AIRootCause, &aiSteps, &inc.Confidence,
		&debugQueries, &inc.AIRawResponse, &createdAt, &updatedAt,
	)
	if err != nil {
		return models.Incident{}, err
	}

	if inc.StartTs, err = utils.ParseRFC3339(startTs); err != nil {
		return models.Incident{}, fmt.Errorf("start_ts: %w", err)
	}
	if inc.EndTs, err = utils.ParseRFC3339(endTs); err != nil {
		return models.Incident{}, fmt.Errorf("end_ts: %w", err)
	}
	if inc.CreatedAt, err = utils.ParseRFC3339(createdAt); err != nil {
		return models.Incident{}, fmt.Errorf("created_at: %w", err)
	}
	if inc.UpdatedAt, err = utils.ParseRFC3339(updatedAt); err != nil {
		return models.Incident{}, fmt.Errorf("updated_at: %w", err)
	}
	inc.ImpactedServices = unmarshalStrings(impactedServices)
	inc.AISteps = unmarshalStrings(aiSteps)
	inc.DebuggingQueries = unmarshalStrings(debugQueries)
	return inc, nil
}

func marshalStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalStrings(data string) []string {
	if data == "" || data == "[]" {
		return []string{}
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return []string{}
	}
	return values
}
