// Package store persists metric histories in SQLite so finished and
// interrupted runs can be inspected after the process exits.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaVersion = 2

// ErrClosed is returned by operations on a closed DB.
var ErrClosed = errors.New("store: database closed")

// Point is one persisted metric value. A NaN value is stored as NULL.
type Point struct {
	RunID     string    `json:"runId"`
	Name      string    `json:"name"`
	Step      int       `json:"step"`
	Value     float64   `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
}

// Run summarizes the points recorded for one run.
type Run struct {
	ID        string    `json:"id"`
	Points    int       `json:"points"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DB wraps the SQLite connection. SQLite serializes writers itself and WAL
// mode keeps readers from blocking them, so DB adds no locking of its own.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty in-memory database.
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	return db, nil
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return ErrClosed
	}
	_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	err := db.conn.Close()
	db.conn = nil
	return err
}

func (db *DB) init() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS schema (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL DEFAULT %d
	);

	INSERT OR IGNORE INTO schema (id) VALUES (1);

	CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		name TEXT NOT NULL,
		step INTEGER NOT NULL,
		value REAL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_metrics_run_name ON metrics(run_id, name, step);
	`, schemaVersion)

	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var version int
	if err := db.conn.QueryRow(`SELECT version FROM schema WHERE id = 1`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version < 2 {
		if err := db.migrateNullableValue(); err != nil {
			return fmt.Errorf("migrate schema to version 2: %w", err)
		}
	}
	return nil
}

// migrateNullableValue rebuilds a version 1 metrics table, whose NOT NULL
// value column rejected NaN, since SQLite cannot drop a column constraint.
func (db *DB) migrateNullableValue() error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`CREATE TABLE metrics_v2 (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			name TEXT NOT NULL,
			step INTEGER NOT NULL,
			value REAL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`INSERT INTO metrics_v2 (id, run_id, name, step, value, created_at)
			SELECT id, run_id, name, step, value, created_at FROM metrics`,
		`DROP TABLE metrics`,
		`ALTER TABLE metrics_v2 RENAME TO metrics`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_run_name ON metrics(run_id, name, step)`,
		`UPDATE schema SET version = 2 WHERE id = 1`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Record inserts one metric value.
func (db *DB) Record(ctx context.Context, runID, name string, step int, value float64) error {
	if db.conn == nil {
		return ErrClosed
	}
	stored := sql.NullFloat64{Float64: value, Valid: !math.IsNaN(value)}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO metrics (run_id, name, step, value, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, name, step, stored, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record %s/%s: %w", runID, name, err)
	}
	return nil
}

// History returns the values of name for a run in step order.
func (db *DB) History(ctx context.Context, runID, name string) ([]Point, error) {
	if db.conn == nil {
		return nil, ErrClosed
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT run_id, name, step, value, created_at FROM metrics
		WHERE run_id = ? AND name = ? ORDER BY step, id`,
		runID, name)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var (
			p     Point
			value sql.NullFloat64
		)
		if err := rows.Scan(&p.RunID, &p.Name, &p.Step, &value, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		p.Value = math.NaN()
		if value.Valid {
			p.Value = value.Float64
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return points, nil
}

// Names returns the metric names recorded for a run.
func (db *DB) Names(ctx context.Context, runID string) ([]string, error) {
	if db.conn == nil {
		return nil, ErrClosed
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT name FROM metrics WHERE run_id = ? GROUP BY name ORDER BY MIN(id)`, runID)
	if err != nil {
		return nil, fmt.Errorf("query names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan names: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Runs lists every recorded run, most recent first.
func (db *DB) Runs(ctx context.Context) ([]Run, error) {
	if db.conn == nil {
		return nil, ErrClosed
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT run_id, COUNT(*), MIN(created_at), MAX(created_at)
		FROM metrics GROUP BY run_id ORDER BY MAX(id) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r              Run
			started, ended string
		)
		if err := rows.Scan(&r.ID, &r.Points, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan runs: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.UpdatedAt = parseTime(ended)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Aggregates lose the column type, so the driver hands them back as text.
func parseTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Recorder binds a DB to one run so it can serve as a metrics sink.
type Recorder struct {
	db      *DB
	runID   string
	timeout time.Duration
}

// Recorder returns a sink writing points for runID.
func (db *DB) Recorder(runID string) *Recorder {
	return &Recorder{db: db, runID: runID, timeout: 5 * time.Second}
}

// Record implements metrics.Sink.
func (r *Recorder) Record(name string, step int, value float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.db.Record(ctx, r.runID, name, step, value)
}
