package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/antinvestor/requirements/apps/analyzer/service/analysis"
	"github.com/antinvestor/requirements/internal/events"
)

// SQLiteHistoryStore is a single-node history store backed by a SQLite file.
type SQLiteHistoryStore struct {
	db *sql.DB
}

// NewSQLiteHistoryStore opens (or creates) the database at path and runs
// migrations.
func NewSQLiteHistoryStore(path string) (*SQLiteHistoryStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("history: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY under concurrent appends
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err = db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("history: pragma %q: %w", p, err)
		}
	}

	s := &SQLiteHistoryStore{db: db}
	if err = s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteHistoryStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteHistoryStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS analysis_results (
			request_id          TEXT PRIMARY KEY,
			lineage_root_id     TEXT    NOT NULL,
			original_request_id TEXT    NOT NULL DEFAULT '',
			version             INTEGER NOT NULL,
			readiness_state     TEXT    NOT NULL,
			overall_score       INTEGER NOT NULL,
			payload             TEXT    NOT NULL,
			created_at          TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_analysis_results_lineage
			ON analysis_results (lineage_root_id, version);

		CREATE TABLE IF NOT EXISTS analysis_forwards (
			request_id         TEXT PRIMARY KEY,
			downstream_id      TEXT    NOT NULL,
			test_cases_created INTEGER NOT NULL,
			forwarded_at       TEXT    NOT NULL
		);
	`)
	return err
}

// Append stores a new result.
func (s *SQLiteHistoryStore) Append(ctx context.Context, result *events.AnalysisResult) error {
	data, err := encodeResult(result)
	if err != nil {
		return err
	}

	original := ""
	if !result.OriginalRequestID.IsZero() {
		original = result.OriginalRequestID.String()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_results
			(request_id, lineage_root_id, original_request_id, version, readiness_state, overall_score, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RequestID.String(),
		lineageRoot(result).String(),
		original,
		result.Version,
		string(result.ReadinessState),
		result.QualityScore.Overall,
		string(data),
		result.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", analysis.ErrResultExists, result.RequestID)
	}
	return err
}

// Get returns the result for id.
func (s *SQLiteHistoryStore) Get(ctx context.Context, id events.RequestID) (*events.AnalysisResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM analysis_results WHERE request_id = ?`, id.String()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", analysis.ErrResultNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeResult([]byte(payload))
}

// Lineage returns every result sharing rootID, oldest first.
func (s *SQLiteHistoryStore) Lineage(ctx context.Context, rootID events.RequestID) ([]*events.AnalysisResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM analysis_results WHERE lineage_root_id = ? ORDER BY version ASC`, rootID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*events.AnalysisResult
	for rows.Next() {
		var payload string
		if err = rows.Scan(&payload); err != nil {
			return nil, err
		}
		result, decodeErr := decodeResult([]byte(payload))
		if decodeErr != nil {
			return nil, decodeErr
		}
		out = append(out, result)
	}
	return out, rows.Err()
}

// RecordForward stores the forward record of a result.
func (s *SQLiteHistoryStore) RecordForward(ctx context.Context, record *events.ForwardRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_forwards (request_id, downstream_id, test_cases_created, forwarded_at)
		VALUES (?, ?, ?, ?)`,
		record.RequestID.String(),
		record.DownstreamID,
		record.TestCasesCreated,
		record.ForwardedAt.UTC().Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", analysis.ErrAlreadyForwarded, record.RequestID)
	}
	return err
}

// GetForward returns the forward record for id.
func (s *SQLiteHistoryStore) GetForward(ctx context.Context, id events.RequestID) (*events.ForwardRecord, error) {
	var (
		record      = events.ForwardRecord{RequestID: id}
		forwardedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT downstream_id, test_cases_created, forwarded_at FROM analysis_forwards WHERE request_id = ?`,
		id.String()).Scan(&record.DownstreamID, &record.TestCasesCreated, &forwardedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: forward record for %s", analysis.ErrResultNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	record.ForwardedAt, err = time.Parse(time.RFC3339Nano, forwardedAt)
	if err != nil {
		return nil, fmt.Errorf("parse forwarded_at: %w", err)
	}
	return &record, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
