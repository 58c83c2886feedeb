// Package testutil provides the shared SQLite fixture: a small pipeline
// schema with a manual chain, a lookup table, a master with two part tables,
// a renamed foreign key, and a computed table with its settings store.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/datapipe/internal/conn"
	"github.com/roach88/datapipe/internal/graph"
)

// Schema is the fixture dependency layout:
//
//	subject -> session -> recording -> recording__channel
//	                              | -> recording__sync
//	#stim_type -> recording
//	session -> comparison (renamed: target_session_id -> session_id)
//	recording + ##filtered_trace_settings -> __filtered_trace
var schema = []string{
	`CREATE TABLE "subject" (
		subject_id INTEGER PRIMARY KEY,
		species TEXT NOT NULL DEFAULT 'mouse'
	)`,
	`CREATE TABLE "session" (
		subject_id INTEGER NOT NULL,
		session_id INTEGER NOT NULL,
		operator TEXT,
		PRIMARY KEY (subject_id, session_id),
		FOREIGN KEY (subject_id) REFERENCES "subject" (subject_id)
	)`,
	`CREATE TABLE "#stim_type" (
		stim_type TEXT PRIMARY KEY
	)`,
	`CREATE TABLE "recording" (
		subject_id INTEGER NOT NULL,
		session_id INTEGER NOT NULL,
		recording_id INTEGER NOT NULL,
		stim_type TEXT NOT NULL,
		sample_rate REAL NOT NULL DEFAULT 30000.0,
		note TEXT,
		PRIMARY KEY (subject_id, session_id, recording_id),
		FOREIGN KEY (subject_id, session_id) REFERENCES "session" (subject_id, session_id),
		FOREIGN KEY (stim_type) REFERENCES "#stim_type" (stim_type)
	)`,
	`CREATE TABLE "recording__channel" (
		subject_id INTEGER NOT NULL,
		session_id INTEGER NOT NULL,
		recording_id INTEGER NOT NULL,
		channel INTEGER NOT NULL,
		gain REAL,
		PRIMARY KEY (subject_id, session_id, recording_id, channel),
		FOREIGN KEY (subject_id, session_id, recording_id)
			REFERENCES "recording" (subject_id, session_id, recording_id)
	)`,
	`CREATE TABLE "recording__sync" (
		subject_id INTEGER NOT NULL,
		session_id INTEGER NOT NULL,
		recording_id INTEGER NOT NULL,
		sync_id INTEGER NOT NULL,
		offset REAL NOT NULL DEFAULT 0.0,
		PRIMARY KEY (subject_id, session_id, recording_id, sync_id),
		FOREIGN KEY (subject_id, session_id, recording_id)
			REFERENCES "recording" (subject_id, session_id, recording_id)
	)`,
	`CREATE TABLE "comparison" (
		subject_id INTEGER NOT NULL,
		target_session_id INTEGER NOT NULL,
		comparison_id INTEGER NOT NULL,
		score REAL,
		PRIMARY KEY (subject_id, target_session_id, comparison_id),
		FOREIGN KEY (subject_id, target_session_id)
			REFERENCES "session" (subject_id, session_id)
	)`,
	`CREATE TABLE "##filtered_trace_settings" (
		settings_name TEXT PRIMARY KEY,
		description TEXT,
		func TEXT NOT NULL,
		global_settings BLOB,
		entry_settings BLOB,
		fetch_method TEXT NOT NULL DEFAULT 'fetch1',
		fetch_tables BLOB,
		restriction BLOB,
		parse_unique BLOB,
		splice_args TEXT,
		splice_kwargs TEXT,
		created TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE "__filtered_trace" (
		subject_id INTEGER NOT NULL,
		session_id INTEGER NOT NULL,
		recording_id INTEGER NOT NULL,
		settings_name TEXT NOT NULL,
		peak REAL,
		note TEXT,
		PRIMARY KEY (subject_id, session_id, recording_id, settings_name),
		FOREIGN KEY (subject_id, session_id, recording_id)
			REFERENCES "recording" (subject_id, session_id, recording_id),
		FOREIGN KEY (settings_name) REFERENCES "##filtered_trace_settings" (settings_name)
	)`,
}

var seed = []string{
	`INSERT INTO "subject" (subject_id, species) VALUES (1, 'mouse'), (2, 'rat')`,
	`INSERT INTO "session" (subject_id, session_id, operator) VALUES
		(1, 1, 'alice'), (1, 2, 'bob'), (2, 1, 'alice')`,
	`INSERT INTO "#stim_type" (stim_type) VALUES ('grating'), ('noise')`,
	`INSERT INTO "recording" (subject_id, session_id, recording_id, stim_type, sample_rate) VALUES
		(1, 1, 1, 'grating', 30000.0),
		(1, 1, 2, 'noise', 25000.0),
		(1, 2, 1, 'grating', 30000.0),
		(2, 1, 1, 'noise', 30000.0)`,
	`INSERT INTO "recording__channel" (subject_id, session_id, recording_id, channel, gain) VALUES
		(1, 1, 1, 0, 1.5), (1, 1, 1, 1, 2.0),
		(1, 1, 2, 0, 1.0),
		(1, 2, 1, 0, 1.0),
		(2, 1, 1, 0, 0.5)`,
	`INSERT INTO "recording__sync" (subject_id, session_id, recording_id, sync_id, offset) VALUES
		(1, 1, 1, 1, 0.25),
		(1, 2, 1, 1, 0.5)`,
	`INSERT INTO "comparison" (subject_id, target_session_id, comparison_id, score) VALUES
		(1, 1, 1, 0.9), (1, 2, 1, 0.7)`,
}

// OpenDB creates a fresh SQLite database in the test's temp directory with
// the fixture schema declared but no rows.
func OpenDB(t *testing.T) *conn.Connection {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pipeline.db")
	c, err := conn.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	for _, stmt := range schema {
		_, err := c.Exec(ctx, stmt)
		require.NoError(t, err, "schema statement failed: %s", stmt)
	}
	return c
}

// SeedDB creates a fixture database and loads the baseline rows.
func SeedDB(t *testing.T) *conn.Connection {
	t.Helper()

	c := OpenDB(t)
	ctx := context.Background()
	for _, stmt := range seed {
		_, err := c.Exec(ctx, stmt)
		require.NoError(t, err, "seed statement failed: %s", stmt)
	}
	return c
}

// CreateDB writes a seeded fixture database to disk and returns its path,
// for tests that open their own connections.
func CreateDB(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pipeline.db")
	c, err := conn.Open(path)
	require.NoError(t, err)

	ctx := context.Background()
	for _, stmt := range append(append([]string{}, schema...), seed...) {
		_, err := c.Exec(ctx, stmt)
		require.NoError(t, err, "fixture statement failed: %s", stmt)
	}
	require.NoError(t, c.Close())
	return path
}

// NewGraph builds a loaded dependency graph over the fixture database.
func NewGraph(t *testing.T, c *conn.Connection) *graph.Graph {
	t.Helper()

	g := graph.New(&graph.SchemaLoader{Conn: c})
	require.NoError(t, g.Load(context.Background()))
	return g
}

// CountRows returns the row count of a table, failing the test on error.
func CountRows(t *testing.T, c *conn.Connection, table string) int {
	t.Helper()

	var n int
	err := c.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM "`+table+`"`).Scan(&n)
	require.NoError(t, err)
	return n
}
