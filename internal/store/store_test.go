package store

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/trainkit/internal/metrics"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDB_RecordAndHistory(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	require.NoError(t, db.Record(ctx, "a", "loss", 0, 1.5))
	require.NoError(t, db.Record(ctx, "a", "loss", 1, 1.25))
	require.NoError(t, db.Record(ctx, "b", "loss", 0, 9))

	points, err := db.History(ctx, "a", "loss")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 0, points[0].Step)
	assert.Equal(t, 1.5, points[0].Value)
	assert.Equal(t, 1.25, points[1].Value)
	assert.False(t, points[0].CreatedAt.IsZero())
}

func TestDB_Runs(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	require.NoError(t, db.Record(ctx, "first", "loss", 0, 1))
	require.NoError(t, db.Record(ctx, "second", "loss", 0, 1))
	require.NoError(t, db.Record(ctx, "second", "acc", 0, 0.5))

	runs, err := db.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "second", runs[0].ID)
	assert.Equal(t, 2, runs[0].Points)
	assert.Equal(t, "first", runs[1].ID)

	names, err := db.Names(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, []string{"loss", "acc"}, names)
}

func TestRecorder_IsMetricsSink(t *testing.T) {
	db := openTemp(t)

	var sink metrics.Sink = db.Recorder("run")
	s := metrics.NewStore(metrics.WithSink(sink))
	s.Push(metrics.Logs{"loss": 2})
	s.Push(metrics.Logs{"loss": 1, "validation-loss": 1.5})

	points, err := db.History(context.Background(), "run", "loss")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, []int{0, 1}, []int{points[0].Step, points[1].Step})

	val, err := db.History(context.Background(), "run", "validation-loss")
	require.NoError(t, err)
	require.Len(t, val, 1)
	assert.Equal(t, 0, val[0].Step)
}

func TestDB_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Record(context.Background(), "r", "loss", 0, 3))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	points, err := db.History(context.Background(), "r", "loss")
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestDB_Closed(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	assert.ErrorIs(t, db.Record(context.Background(), "r", "loss", 0, 1), ErrClosed)
	assert.ErrorIs(t, db.Close(), ErrClosed)
}

func TestDB_NaNRoundTrip(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	require.NoError(t, db.Record(ctx, "r", "loss", 0, 0.5))
	require.NoError(t, db.Record(ctx, "r", "loss", 1, math.NaN()))
	require.NoError(t, db.Record(ctx, "r", "loss", 2, math.Inf(1)))

	points, err := db.History(ctx, "r", "loss")
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, 0.5, points[0].Value)
	assert.True(t, math.IsNaN(points[1].Value))
	assert.True(t, math.IsInf(points[2].Value, 1))
}

func TestRecorder_KeepsNaNPoints(t *testing.T) {
	db := openTemp(t)

	s := metrics.NewStore(metrics.WithSink(db.Recorder("run")))
	s.Push(metrics.Logs{"accuracy": math.NaN()})
	s.Push(metrics.Logs{"accuracy": 0.75})

	points, err := db.History(context.Background(), "run", "accuracy")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.True(t, math.IsNaN(points[0].Value))
	assert.Equal(t, 0.75, points[1].Value)
}

func TestOpen_MigratesVersionOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	conn, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = conn.Exec(`
	CREATE TABLE schema (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL DEFAULT 1
	);
	INSERT INTO schema (id) VALUES (1);
	CREATE TABLE metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		name TEXT NOT NULL,
		step INTEGER NOT NULL,
		value REAL NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	INSERT INTO metrics (run_id, name, step, value) VALUES ('old', 'loss', 0, 2.5);
	`)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.Record(ctx, "old", "loss", 1, math.NaN()))

	points, err := db.History(ctx, "old", "loss")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 2.5, points[0].Value)
	assert.True(t, math.IsNaN(points[1].Value))

	var version int
	require.NoError(t, db.conn.QueryRow(`SELECT version FROM schema`).Scan(&version))
	assert.Equal(t, schemaVersion, version)
}
