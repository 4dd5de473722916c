package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/h2oai/h2o-3-sub001/internal/model"

	_ "modernc.org/sqlite"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id               TEXT PRIMARY KEY,
    jobs             INTEGER NOT NULL,
    total            INTEGER NOT NULL DEFAULT 0,
    passed           INTEGER NOT NULL DEFAULT 0,
    failed           INTEGER NOT NULL DEFAULT 0,
    skipped          INTEGER NOT NULL DEFAULT 0,
    did_not_complete INTEGER NOT NULL DEFAULT 0,
    cancelled        INTEGER NOT NULL DEFAULT 0,
    terminated       INTEGER NOT NULL DEFAULT 0,
    tolerated        INTEGER NOT NULL DEFAULT 0,
    successful       INTEGER NOT NULL DEFAULT 0,
    error            TEXT NOT NULL DEFAULT '',
    started_at       DATETIME NOT NULL,
    finished_at      DATETIME
)`

const createResultsTable = `
CREATE TABLE IF NOT EXISTS job_results (
    run_id      TEXT NOT NULL REFERENCES runs(id),
    seq         INTEGER NOT NULL,
    path        TEXT NOT NULL,
    name        TEXT NOT NULL,
    slug        TEXT NOT NULL,
    kind        TEXT NOT NULL,
    lang        TEXT NOT NULL,
    size        TEXT NOT NULL,
    tags        TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    exit_code   INTEGER NOT NULL,
    tolerated   INTEGER NOT NULL,
    seed        TEXT NOT NULL,
    cloud       INTEGER NOT NULL,
    endpoint    TEXT NOT NULL,
    log_path    TEXT NOT NULL,
    started_at  DATETIME,
    duration_ms INTEGER NOT NULL,
    PRIMARY KEY (run_id, seq)
)`

const runColumns = `id, jobs, total, passed, failed, skipped, did_not_complete,
	cancelled, terminated, tolerated, successful, error, started_at, finished_at`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createRunsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}

	if _, err := db.Exec(createResultsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create job_results table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run that has not finished yet.
func (s *SQLiteStore) CreateRun(ctx context.Context, id string, jobs int, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, jobs, started_at) VALUES (?, ?, ?)`,
		id, jobs, startedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stores the final tally of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, sum model.Summary, runErr string, finishedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET total = ?, passed = ?, failed = ?, skipped = ?, did_not_complete = ?,
			cancelled = ?, terminated = ?, tolerated = ?, successful = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		sum.Total, sum.Passed, sum.Failed, sum.Skipped, sum.DidNotComplete,
		sum.Cancelled, sum.Terminated, sum.Tolerated, sum.Successful() && runErr == "", runErr, finishedAt.UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns a page of runs, newest first, and the total number of runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	r := &Run{}
	sum := &r.Summary
	err := row.Scan(
		&r.ID, &r.Jobs, &sum.Total, &sum.Passed, &sum.Failed, &sum.Skipped, &sum.DidNotComplete,
		&sum.Cancelled, &sum.Terminated, &sum.Tolerated, &r.Successful, &r.Error, &r.StartedAt, &r.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// InsertResult appends a job result to a run, in completion order.
func (s *SQLiteStore) InsertResult(ctx context.Context, runID string, r model.Result) error {
	var startedAt *time.Time
	if !r.StartedAt.IsZero() {
		t := r.StartedAt.UTC()
		startedAt = &t
	}

	tags := make([]string, len(r.Tags))
	for i, t := range r.Tags {
		tags[i] = string(t)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_results (
			run_id, seq, path, name, slug, kind, lang, size, tags, outcome,
			exit_code, tolerated, seed, cloud, endpoint, log_path, started_at, duration_ms
		) VALUES (?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM job_results WHERE run_id = ?),
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, runID,
		r.Path, r.Name, r.Slug, r.Kind, r.Lang, r.Size, strings.Join(tags, ","), r.Outcome,
		r.ExitCode, r.Tolerated, r.Seed, r.Cloud, r.Endpoint, r.LogPath, startedAt, r.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// ListResults returns a run's results in the order they were recorded.
func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]model.Result, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, name, slug, kind, lang, size, tags, outcome,
			exit_code, tolerated, seed, cloud, endpoint, log_path, started_at, duration_ms
		FROM job_results WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	results := []model.Result{}
	for rows.Next() {
		var (
			r          model.Result
			tags       string
			startedAt  *time.Time
			durationMS int64
		)
		if err := rows.Scan(
			&r.Path, &r.Name, &r.Slug, &r.Kind, &r.Lang, &r.Size, &tags, &r.Outcome,
			&r.ExitCode, &r.Tolerated, &r.Seed, &r.Cloud, &r.Endpoint, &r.LogPath, &startedAt, &durationMS,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if tags != "" {
			for _, t := range strings.Split(tags, ",") {
				r.Tags = append(r.Tags, model.Tag(t))
			}
		}
		if startedAt != nil {
			r.StartedAt = *startedAt
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}
