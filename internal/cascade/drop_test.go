package cascade_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datapipe/internal/cascade"
	"github.com/roach88/datapipe/internal/rel"
	"github.com/roach88/datapipe/internal/testutil"
)

func TestDropRemovesDependentsLeavesFirst(t *testing.T) {
	c, e := openEngine(t)
	ctx := context.Background()

	result, err := e.Drop(ctx, openTable(t, c, "recording"), cascade.DropOptions{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"recording", "recording__channel", "recording__sync", "__filtered_trace",
	}, result.Dropped)
	// the target falls last
	assert.Equal(t, "recording", result.Dropped[len(result.Dropped)-1])

	for _, name := range result.Dropped {
		exists, err := c.TableExists(ctx, name)
		require.NoError(t, err)
		assert.False(t, exists, name)
	}
	exists, err := c.TableExists(ctx, "session")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDropReportsRowCounts(t *testing.T) {
	c, e := openEngine(t)

	var summary string
	result, err := e.Drop(context.Background(), openTable(t, c, "recording"), cascade.DropOptions{
		Confirm: func(s string) bool {
			summary = s
			return true
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Dropped, 4)

	assert.Contains(t, summary, "About to drop:")
	assert.Contains(t, summary, "recording (4 tuples)")
	assert.Contains(t, summary, "recording__channel (5 tuples)")
}

func TestDropDeclinedLeavesSchemaIntact(t *testing.T) {
	c, e := openEngine(t)
	ctx := context.Background()

	result, err := e.Drop(ctx, openTable(t, c, "recording"), cascade.DropOptions{
		Confirm: func(string) bool { return false },
	})
	require.NoError(t, err)

	assert.True(t, result.Declined)
	assert.Empty(t, result.Dropped)
	exists, err := c.TableExists(ctx, "recording__channel")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDropRefusesRestrictedHandle(t *testing.T) {
	c, e := openEngine(t)

	restricted := openTable(t, c, "recording").Restrict(rel.Eq{"recording_id": 1})
	_, err := e.Drop(context.Background(), restricted, cascade.DropOptions{})
	require.Error(t, err)
	assert.True(t, rel.IsUsageError(err))
}

func TestDropLeafTable(t *testing.T) {
	c, e := openEngine(t)
	ctx := context.Background()

	result, err := e.Drop(ctx, openTable(t, c, "comparison"), cascade.DropOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"comparison"}, result.Dropped)
	assert.Equal(t, 3, testutil.CountRows(t, c, "session"))
}
