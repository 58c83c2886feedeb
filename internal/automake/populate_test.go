package automake_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datapipe/internal/automake"
	"github.com/roach88/datapipe/internal/cascade"
	"github.com/roach88/datapipe/internal/conn"
	"github.com/roach88/datapipe/internal/rel"
	"github.com/roach88/datapipe/internal/testutil"
)

// populateFixture registers a trivial computation and stores a default
// settings record; the fixture seeds four recordings to populate over.
func populateFixture(t *testing.T, fn automake.ComputeFunc) (*conn.Connection, *automake.Engine) {
	t.Helper()
	c := testutil.SeedDB(t)
	reg := automake.NewRegistry()
	reg.Register("peak", fn)
	e := newAutomake(t, c, reg)
	require.NoError(t, e.Store().Insert(context.Background(), automake.SettingsRecord{
		Name: "default", Func: "peak", FetchMethod: automake.FetchOne,
	}))
	return c, e
}

func constantPeak(args []any, kwargs map[string]any) (any, error) {
	return map[string]any{"peak": 1.0}, nil
}

func TestPopulateComputesEveryPendingKey(t *testing.T) {
	c, e := populateFixture(t, constantPeak)
	ctx := context.Background()
	target := rel.Table{Name: "__filtered_trace"}

	result, err := e.Populate(ctx, target, "default", automake.PopulateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Pending)
	assert.Equal(t, 4, result.Made)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 4, testutil.CountRows(t, c, "__filtered_trace"))
	assert.False(t, c.InTransaction())

	// a second run finds nothing left to do
	result, err = e.Populate(ctx, target, "default", automake.PopulateOptions{})
	require.NoError(t, err)
	assert.Zero(t, result.Pending)
	assert.Zero(t, result.Made)
}

func TestPopulateRestrictionsNarrowThePendingSet(t *testing.T) {
	c, e := populateFixture(t, constantPeak)
	ctx := context.Background()
	target := rel.Table{Name: "__filtered_trace"}

	result, err := e.Populate(ctx, target, "default", automake.PopulateOptions{
		Restrictions: []rel.Cond{rel.Eq{"subject_id": 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pending)
	assert.Equal(t, 1, result.Made)
	assert.Equal(t, 1, testutil.CountRows(t, c, "__filtered_trace"))
}

func TestPopulateMaxCallsStopsEarly(t *testing.T) {
	c, e := populateFixture(t, constantPeak)
	ctx := context.Background()
	target := rel.Table{Name: "__filtered_trace"}

	result, err := e.Populate(ctx, target, "default", automake.PopulateOptions{
		Driver: automake.SequentialDriver{MaxCalls: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Pending)
	assert.Equal(t, 2, result.Made)
	assert.Equal(t, 2, testutil.CountRows(t, c, "__filtered_trace"))

	// the remainder stays pending for the next run
	result, err = e.Populate(ctx, target, "default", automake.PopulateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Pending)
	assert.Equal(t, 2, result.Made)
}

func TestPopulateSuppressedErrorsKeepGoing(t *testing.T) {
	// recording (1, 1, 2) fails; the other three keys still commit
	c, e := populateFixture(t, func(args []any, kwargs map[string]any) (any, error) {
		if fmt.Sprintf("%v", kwargs["stim"]) == "[noise 2]" {
			return nil, fmt.Errorf("cannot filter %v", kwargs["stim"])
		}
		return map[string]any{"peak": 1.0}, nil
	})
	ctx := context.Background()
	target := rel.Table{Name: "__filtered_trace"}

	// rebind the record so the computation sees which entry it is handling
	require.NoError(t, e.Store().Insert(ctx, automake.SettingsRecord{
		Name:        "tagged",
		Func:        "peak",
		FetchMethod: automake.FetchOne,
		EntrySettings: map[string]automake.EntryBinding{
			"stim": {Columns: []string{"stim_type", "recording_id"}},
		},
	}))

	result, err := e.Populate(ctx, target, "tagged", automake.PopulateOptions{
		Driver: automake.SequentialDriver{SuppressErrors: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Pending)
	assert.Equal(t, 3, result.Made)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Err.Error(), "cannot filter")
	assert.Equal(t, 3, testutil.CountRows(t, c, "__filtered_trace"))
	assert.False(t, c.InTransaction())

	// only the failed key remains pending
	result, err = e.Populate(ctx, target, "tagged", automake.PopulateOptions{
		Driver: automake.SequentialDriver{SuppressErrors: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pending)
}

func TestPopulateFirstErrorStopsByDefault(t *testing.T) {
	c, e := populateFixture(t, func(args []any, kwargs map[string]any) (any, error) {
		return nil, fmt.Errorf("always fails")
	})
	ctx := context.Background()

	result, err := e.Populate(ctx, rel.Table{Name: "__filtered_trace"}, "default",
		automake.PopulateOptions{})
	require.Error(t, err)
	assert.Equal(t, 4, result.Pending)
	assert.Zero(t, result.Made)
	assert.Equal(t, 0, testutil.CountRows(t, c, "__filtered_trace"))
	assert.False(t, c.InTransaction())
}

func TestPopulateRecomputesDeletedRowIdentically(t *testing.T) {
	c := testutil.SeedDB(t)
	reg := automake.NewRegistry()
	reg.Register("peak", func(args []any, kwargs map[string]any) (any, error) {
		rate, _ := kwargs["rate"].(float64)
		return map[string]any{"peak": rate / 10000.0, "note": "derived"}, nil
	})
	e := newAutomake(t, c, reg)
	ctx := context.Background()
	require.NoError(t, e.Store().Insert(ctx, automake.SettingsRecord{
		Name:          "default",
		Func:          "peak",
		FetchMethod:   automake.FetchOne,
		EntrySettings: map[string]automake.EntryBinding{"rate": {Column: "sample_rate"}},
	}))

	target := rel.Table{Name: "__filtered_trace"}
	result, err := e.Populate(ctx, target, "default", automake.PopulateOptions{})
	require.NoError(t, err)
	require.Equal(t, 4, result.Made)

	key := map[string]any{"subject_id": 1, "session_id": 1, "recording_id": 2}
	before := fetchTrace(t, c, key)

	// remove one computed row; only its key becomes pending again
	del := cascade.New(c, testutil.NewGraph(t, c))
	handle, err := c.OpenTable(ctx, "__filtered_trace")
	require.NoError(t, err)
	delResult, err := del.Delete(ctx, handle.Restrict(rel.Eq(key)), cascade.DeleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), delResult.Total)
	assert.Equal(t, 3, testutil.CountRows(t, c, "__filtered_trace"))

	result, err = e.Populate(ctx, target, "default", automake.PopulateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pending)
	assert.Equal(t, 1, result.Made)

	// recomputation reproduces the deleted row exactly
	assert.Equal(t, before, fetchTrace(t, c, key))
}

func TestPopulateJoinsCallerTransaction(t *testing.T) {
	c, e := populateFixture(t, constantPeak)
	ctx := context.Background()

	require.NoError(t, c.StartTransaction(ctx))
	result, err := e.Populate(ctx, rel.Table{Name: "__filtered_trace"}, "default",
		automake.PopulateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Made)

	// the caller owns the fate of every made row
	assert.True(t, c.InTransaction())
	require.NoError(t, c.CancelTransaction())
	assert.Equal(t, 0, testutil.CountRows(t, c, "__filtered_trace"))
}

func TestPopulateUnknownSettingsRecord(t *testing.T) {
	_, e := populateFixture(t, constantPeak)

	_, err := e.Populate(context.Background(), rel.Table{Name: "__filtered_trace"}, "ghost",
		automake.PopulateOptions{})
	require.Error(t, err)
	assert.True(t, rel.IsUsageError(err))
}
