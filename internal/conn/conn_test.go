package conn_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datapipe/internal/conn"
	"github.com/roach88/datapipe/internal/rel"
	"github.com/roach88/datapipe/internal/sqlgen"
	"github.com/roach88/datapipe/internal/testutil"
)

func TestHeadingKeyOrderAndDefaults(t *testing.T) {
	c := testutil.OpenDB(t)
	ctx := context.Background()

	heading, err := c.Heading(ctx, "recording")
	require.NoError(t, err)

	// key attributes come first, in key order
	assert.Equal(t,
		[]string{"subject_id", "session_id", "recording_id", "stim_type", "sample_rate", "note"},
		heading.Names())
	assert.Equal(t, []string{"subject_id", "session_id", "recording_id"}, heading.PrimaryKey())

	rate, ok := heading.Get("sample_rate")
	require.True(t, ok)
	assert.Equal(t, "30000.0", rate.Default)
	assert.True(t, rate.Numeric())
	assert.False(t, rate.Nullable)

	note, ok := heading.Get("note")
	require.True(t, ok)
	assert.True(t, note.Nullable)
}

func TestHeadingOfUndeclaredTable(t *testing.T) {
	c := testutil.OpenDB(t)
	_, err := c.Heading(context.Background(), "nope")
	assert.True(t, rel.IsUsageError(err))
}

func TestTableNamesAndExists(t *testing.T) {
	c := testutil.OpenDB(t)
	ctx := context.Background()

	names, err := c.TableNames(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "session")
	assert.Contains(t, names, "recording__channel")
	assert.Contains(t, names, "##filtered_trace_settings")

	exists, err := c.TableExists(ctx, "session")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.TableExists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTransactionDiscipline(t *testing.T) {
	c := testutil.OpenDB(t)
	ctx := context.Background()

	assert.False(t, c.InTransaction())
	assert.True(t, rel.IsUsageError(c.CommitTransaction()))
	assert.True(t, rel.IsUsageError(c.CancelTransaction()))

	require.NoError(t, c.StartTransaction(ctx))
	assert.True(t, c.InTransaction())

	// a second start must fail instead of nesting
	assert.True(t, rel.IsUsageError(c.StartTransaction(ctx)))

	_, err := c.Exec(ctx, `INSERT INTO "subject" (subject_id) VALUES (9)`)
	require.NoError(t, err)
	require.NoError(t, c.CancelTransaction())
	assert.False(t, c.InTransaction())

	assert.Equal(t, 0, testutil.CountRows(t, c, "subject"))
}

func TestCommitPersistsRows(t *testing.T) {
	c := testutil.OpenDB(t)
	ctx := context.Background()

	require.NoError(t, c.StartTransaction(ctx))
	_, err := c.Exec(ctx, `INSERT INTO "subject" (subject_id) VALUES (9)`)
	require.NoError(t, err)
	require.NoError(t, c.CommitTransaction())

	assert.Equal(t, 1, testutil.CountRows(t, c, "subject"))
}

func TestCountRespectsRestriction(t *testing.T) {
	c := testutil.SeedDB(t)
	ctx := context.Background()

	table, err := c.OpenTable(ctx, "session")
	require.NoError(t, err)

	n, err := c.Count(ctx, table)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = c.Count(ctx, table.Restrict(rel.Eq{"subject_id": 1}))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFetch1RequiresExactlyOneRow(t *testing.T) {
	c := testutil.SeedDB(t)
	ctx := context.Background()

	table, err := c.OpenTable(ctx, "session")
	require.NoError(t, err)

	row, err := c.Fetch1(ctx, sqlgen.SelectSpec{
		Table: table.Restrict(rel.Eq{"subject_id": 1, "session_id": 1}),
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", row["operator"])

	_, err = c.Fetch1(ctx, sqlgen.SelectSpec{Table: table})
	assert.True(t, rel.IsUsageError(err))

	_, err = c.Fetch1(ctx, sqlgen.SelectSpec{
		Table: table.Restrict(rel.Eq{"subject_id": 99}),
	})
	assert.True(t, rel.IsUsageError(err))
}

func TestFetchJoinSharesKeyColumns(t *testing.T) {
	c := testutil.SeedDB(t)
	ctx := context.Background()

	session, err := c.OpenTable(ctx, "session")
	require.NoError(t, err)
	recording, err := c.OpenTable(ctx, "recording")
	require.NoError(t, err)

	rows, err := c.FetchJoin(ctx, sqlgen.JoinSpec{
		Sources: []sqlgen.SelectSpec{{Table: session}, {Table: recording}},
		Where:   rel.And{rel.Eq{"subject_id": 1, "session_id": 1}},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "alice", row["operator"])
	}
}

func TestIsDuplicateErr(t *testing.T) {
	c := testutil.SeedDB(t)
	ctx := context.Background()

	_, err := c.Exec(ctx, `INSERT INTO "subject" (subject_id) VALUES (1)`)
	require.Error(t, err)
	assert.True(t, conn.IsDuplicateErr(err))
	assert.False(t, conn.IsDuplicateErr(context.Canceled))
}
