package automake_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datapipe/internal/automake"
	"github.com/roach88/datapipe/internal/conn"
	"github.com/roach88/datapipe/internal/insert"
	"github.com/roach88/datapipe/internal/rel"
	"github.com/roach88/datapipe/internal/testutil"
)

func noop(args []any, kwargs map[string]any) (any, error) {
	return map[string]any{}, nil
}

func newStore(t *testing.T, c *conn.Connection, reg *automake.Registry) *automake.Store {
	t.Helper()
	ins := insert.New(c, testutil.NewGraph(t, c))
	return automake.NewStore(c, ins, "##filtered_trace_settings", reg)
}

func TestStoreInsertFetchRoundTrip(t *testing.T) {
	c := testutil.OpenDB(t)
	reg := automake.NewRegistry()
	reg.Register("filter", noop)
	store := newStore(t, c, reg)
	ctx := context.Background()

	rec := automake.SettingsRecord{
		Name:           "default",
		Description:    "bandpass then peak",
		Func:           "filter",
		GlobalSettings: map[string]any{"low": 300.0, "high": 6000.0},
		EntrySettings: map[string]automake.EntryBinding{
			"rate":  {Column: "sample_rate"},
			"gains": {Columns: []string{"gain"}, Container: automake.ContainerList},
		},
		FetchMethod: automake.FetchMany,
		FetchTables: []automake.FetchTable{
			{Table: "recording"},
			{Table: "recording__channel", Attrs: []string{"gain"}},
		},
		Restriction: &automake.StoredRestriction{Eq: map[string]any{"stim_type": "grating"}},
		ParseUnique: []string{"sample_rate"},
	}
	require.NoError(t, store.Insert(ctx, rec))

	got, err := store.Fetch1(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.Description, got.Description)
	assert.Equal(t, rec.Func, got.Func)
	assert.Equal(t, rec.FetchMethod, got.FetchMethod)
	assert.Equal(t, rec.GlobalSettings, got.GlobalSettings)
	assert.Equal(t, rec.EntrySettings, got.EntrySettings)
	assert.Equal(t, rec.FetchTables, got.FetchTables)
	assert.Equal(t, rec.Restriction, got.Restriction)
	assert.Equal(t, rec.ParseUnique, got.ParseUnique)
	assert.NotEmpty(t, got.Created)
}

func TestStoreList(t *testing.T) {
	c := testutil.OpenDB(t)
	reg := automake.NewRegistry()
	reg.Register("filter", noop)
	store := newStore(t, c, reg)
	ctx := context.Background()

	for _, name := range []string{"narrow", "wide"} {
		require.NoError(t, store.Insert(ctx, automake.SettingsRecord{
			Name: name, Func: "filter", FetchMethod: automake.FetchOne,
		}))
	}
	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.ElementsMatch(t, []string{"narrow", "wide"},
		[]string{records[0].Name, records[1].Name})
}

func TestStoreFetch1Missing(t *testing.T) {
	c := testutil.OpenDB(t)
	reg := automake.NewRegistry()
	store := newStore(t, c, reg)

	_, err := store.Fetch1(context.Background(), "absent")
	require.Error(t, err)
	assert.True(t, rel.IsUsageError(err))
	assert.Contains(t, err.Error(), "absent")
}

func TestStoreRejectsInvalidRecords(t *testing.T) {
	c := testutil.OpenDB(t)
	reg := automake.NewRegistry()
	reg.Register("filter", noop)
	store := newStore(t, c, reg)
	ctx := context.Background()

	cases := map[string]automake.SettingsRecord{
		"missing name": {Func: "filter", FetchMethod: automake.FetchOne},
		"unregistered function": {
			Name: "s", Func: "ghost", FetchMethod: automake.FetchOne,
		},
		"bad fetch method": {
			Name: "s", Func: "filter", FetchMethod: "grab",
		},
		"ambiguous binding": {
			Name: "s", Func: "filter", FetchMethod: automake.FetchOne,
			EntrySettings: map[string]automake.EntryBinding{
				"x": {Column: "a", Columns: []string{"b"}},
			},
		},
		"unknown container": {
			Name: "s", Func: "filter", FetchMethod: automake.FetchOne,
			EntrySettings: map[string]automake.EntryBinding{
				"x": {Columns: []string{"a"}, Container: "bag"},
			},
		},
		"unbound parse-unique column": {
			Name: "s", Func: "filter", FetchMethod: automake.FetchMany,
			EntrySettings: map[string]automake.EntryBinding{"x": {Column: "a"}},
			ParseUnique:   []string{"b"},
		},
		"global and entry collision": {
			Name: "s", Func: "filter", FetchMethod: automake.FetchOne,
			GlobalSettings: map[string]any{"x": 1.0},
			EntrySettings:  map[string]automake.EntryBinding{"x": {Column: "a"}},
		},
	}
	for label, rec := range cases {
		err := store.Insert(ctx, rec)
		require.Error(t, err, label)
		assert.True(t, rel.IsUsageError(err), label)
	}
}

func TestStoreFetchRequiresRegisteredFunction(t *testing.T) {
	c := testutil.OpenDB(t)
	reg := automake.NewRegistry()
	reg.Register("filter", noop)
	store := newStore(t, c, reg)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, automake.SettingsRecord{
		Name: "default", Func: "filter", FetchMethod: automake.FetchOne,
	}))

	// a store over an empty registry cannot resolve the stored function
	bare := newStore(t, c, automake.NewRegistry())
	_, err := bare.Fetch1(ctx, "default")
	require.Error(t, err)
	assert.True(t, rel.IsUsageError(err))
	assert.Contains(t, err.Error(), "not registered")
}

func TestStoreCreateDeclaresTable(t *testing.T) {
	c := testutil.OpenDB(t)
	reg := automake.NewRegistry()
	reg.Register("filter", noop)
	ins := insert.New(c, testutil.NewGraph(t, c))
	store := automake.NewStore(c, ins, "##spike_sort_settings", reg)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, automake.SQLCompiler{Conn: c}))
	// idempotent
	require.NoError(t, store.Create(ctx, automake.SQLCompiler{Conn: c}))

	exists, err := c.TableExists(ctx, "##spike_sort_settings")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Insert(ctx, automake.SettingsRecord{
		Name: "default", Func: "filter", FetchMethod: automake.FetchOne,
	}))
	got, err := store.Fetch1(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "filter", got.Func)
}

func TestRegistryDisplaySymbols(t *testing.T) {
	reg := automake.NewRegistry()
	reg.RegisterDisplay("__filtered_trace", "FilteredTrace")

	assert.Equal(t, "FilteredTrace", reg.DisplaySymbol("__filtered_trace"))
	assert.Equal(t, "recording", reg.DisplaySymbol("recording"))

	_, err := reg.Lookup("ghost")
	require.Error(t, err)
	assert.True(t, rel.IsUsageError(err))
}
