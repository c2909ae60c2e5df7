// Package warehouse owns the DuckDB-backed log warehouse: event inserts and
// the analytical queries used by detection and evidence aggregation.
package warehouse

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/tracelens/triage-engine/internal/models"
	"github.com/tracelens/triage-engine/internal/utils"
)

// Store manages the DuckDB connection and provides query methods.
type Store struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// NewStore opens or creates a DuckDB database. An empty path selects an
// in-memory database. queryTimeout bounds every query; it defaults to 30s.
func NewStore(path string, queryTimeout time.Duration) (*Store, error) {
	dsn := ""
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, utils.NewAppError("warehouse.open", "create data directory", err)
		}
		dsn = path
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, utils.NewAppError("warehouse.open", "open duckdb", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, utils.NewAppError("warehouse.open", "migrate schema", err)
	}

	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}

	return &Store{db: db, queryTimeout: queryTimeout}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

func migrate(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS logs (
			ts              TIMESTAMP NOT NULL,
			service         VARCHAR NOT NULL,
			severity        VARCHAR,
			status_code     INTEGER,
			latency_ms      INTEGER,
			error_signature VARCHAR,
			message         VARCHAR NOT NULL,
			trace_id        VARCHAR,
			request_path    VARCHAR,
			env             VARCHAR,
			deploy_id       VARCHAR
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_service_ts ON logs(service, ts)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Insert persists one normalized log event.
func (s *Store) Insert(ctx context.Context, ev models.LogEvent) error {
	return s.InsertBatch(ctx, []models.LogEvent{ev})
}

// InsertBatch persists normalized log events in one transaction.
func (s *Store) InsertBatch(ctx context.Context, events []models.LogEvent) error {
	if len(events) == 0 {
		return nil
	}

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError("warehouse.insert", "begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO logs (ts, service, severity, status_code, latency_ms, error_signature, message, trace_id, request_path, env, deploy_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return utils.NewAppError("warehouse.insert", "prepare statement", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		signature := sql.NullString{String: ev.ErrorSignature, Valid: ev.ErrorSignature != ""}
		if _, err := stmt.ExecContext(ctx,
			ev.Ts, ev.Service, nullString(ev.Severity), ev.StatusCode, ev.LatencyMs,
			signature, ev.Message, nullString(ev.TraceID), nullString(ev.RequestPath),
			nullString(ev.Env), nullString(ev.DeployID),
		); err != nil {
			return utils.NewAppError("warehouse.insert", "insert event", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError("warehouse.insert", "commit", err)
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
