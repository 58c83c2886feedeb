package sqlgen

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datapipe/internal/rel"
)

func TestSelectSQLProjectionAndRenames(t *testing.T) {
	spec := SelectSpec{
		Table:   rel.Table{Name: "comparison"},
		Fields:  []string{"session_id", "score"},
		Renames: map[string]string{"session_id": "target_session_id"},
	}
	sql, params, err := SelectSQL(spec)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "target_session_id" AS "session_id", "score" FROM "comparison"`, sql)
	assert.Empty(t, params)
}

func TestSelectSQLDistinctWithRestriction(t *testing.T) {
	table := rel.Table{Name: "session"}.Restrict(rel.Eq{"subject_id": 1})
	sql, params, err := SelectSQL(SelectSpec{Table: table, Fields: []string{"session_id"}, Distinct: true})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT DISTINCT "session_id" FROM "session" WHERE (("subject_id" = ?))`, sql)
	assert.Equal(t, []any{1}, params)
}

func TestCountAndDeleteShareTheRestriction(t *testing.T) {
	table := rel.Table{Name: "recording"}.Restrict(rel.Eq{"session_id": 2, "subject_id": 1})

	countSQL, countParams, err := CountSQL(table)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT COUNT(*) FROM "recording" WHERE (("session_id" = ? AND "subject_id" = ?))`, countSQL)

	deleteSQL, deleteParams, err := DeleteSQL(table)
	require.NoError(t, err)
	assert.Equal(t,
		`DELETE FROM "recording" WHERE (("session_id" = ? AND "subject_id" = ?))`, deleteSQL)

	assert.Equal(t, countParams, deleteParams)
}

func TestInsertSQLVariants(t *testing.T) {
	fields := []string{"subject_id", "session_id"}
	rows := [][]string{{"?", "?"}, {"?", "NULL"}}

	plain := InsertSQL("session", fields, rows, false, false)
	assert.Equal(t,
		`INSERT INTO "session" ("subject_id", "session_id") VALUES (?,?),(?,NULL)`, plain)

	replace := InsertSQL("session", fields, rows[:1], true, false)
	assert.Equal(t,
		`INSERT OR REPLACE INTO "session" ("subject_id", "session_id") VALUES (?,?)`, replace)

	skip := InsertSQL("session", fields, rows[:1], false, true)
	assert.Equal(t,
		`INSERT INTO "session" ("subject_id", "session_id") VALUES (?,?) ON CONFLICT DO NOTHING`, skip)
}

func TestInsertFromSelectSQL(t *testing.T) {
	source := SelectSpec{Table: rel.Table{Name: "session"}.Restrict(rel.Eq{"subject_id": 1})}
	sql, params, err := InsertFromSelectSQL("session_backup", []string{"subject_id", "session_id"}, source, false, true)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "session_backup" ("subject_id", "session_id") SELECT "subject_id", "session_id" FROM "session" WHERE (("subject_id" = ?)) ON CONFLICT DO NOTHING`,
		sql)
	assert.Equal(t, []any{1}, params)
}

func TestUpdateSQL(t *testing.T) {
	table := rel.Table{Name: "session"}.Restrict(rel.Eq{"session_id": 2, "subject_id": 1})
	sql, params, err := UpdateSQL(table, []string{"operator"}, []string{"?"})
	require.NoError(t, err)
	assert.Equal(t,
		`UPDATE "session" SET "operator"=? WHERE (("session_id" = ? AND "subject_id" = ?))`, sql)
	assert.Equal(t, []any{2, 1}, params)
}

func TestUpdateSQLNeedsFields(t *testing.T) {
	_, _, err := UpdateSQL(rel.Table{Name: "session"}, nil, nil)
	assert.Error(t, err)
}

func TestJoinSQLNaturalJoin(t *testing.T) {
	spec := JoinSpec{
		Sources: []SelectSpec{
			{Table: rel.Table{Name: "session"}, Fields: []string{"subject_id", "session_id"}},
			{Table: rel.Table{Name: "recording"}},
		},
		Where: rel.And{rel.Eq{"subject_id": 1}},
	}
	sql, params, err := JoinSQL(spec)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT * FROM (SELECT "subject_id", "session_id" FROM "session") AS j0 NATURAL JOIN (SELECT * FROM "recording") AS j1 WHERE (("subject_id" = ?))`,
		sql)
	assert.Equal(t, []any{1}, params)
}

func TestJoinSQLNeedsSources(t *testing.T) {
	_, _, err := JoinSQL(JoinSpec{})
	assert.Error(t, err)
}

// TestCompiledStatementsGolden pins the compiled SQL for a representative
// statement set, so accidental codegen drift shows up as a diff.
func TestCompiledStatementsGolden(t *testing.T) {
	var lines []string
	add := func(sql string, err error) {
		require.NoError(t, err)
		lines = append(lines, sql)
	}

	selectSQL, _, err := SelectSQL(SelectSpec{
		Table: rel.Table{Name: "recording"}.Restrict(rel.Eq{"subject_id": 1, "session_id": 2}),
	})
	add(selectSQL, err)

	renamedSQL, _, err := SelectSQL(SelectSpec{
		Table:   rel.Table{Name: "comparison"},
		Fields:  []string{"session_id"},
		Renames: map[string]string{"session_id": "target_session_id"},
	})
	add(renamedSQL, err)

	deleteSQL, _, err := DeleteSQL(rel.Table{Name: "recording__channel"}.Restrict(rel.SemiJoin{
		Attrs:       []string{"subject_id", "session_id", "recording_id"},
		ParentAttrs: []string{"subject_id", "session_id", "recording_id"},
		Parent:      rel.Table{Name: "recording"},
	}))
	add(deleteSQL, err)

	add(InsertSQL("session", []string{"subject_id", "session_id"},
		[][]string{{"?", "?"}, {"?", "NULL"}}, false, true), nil)

	updateSQL, _, err := UpdateSQL(
		rel.Table{Name: "session"}.Restrict(rel.Eq{"subject_id": 1, "session_id": 2}),
		[]string{"operator"}, []string{"?"})
	add(updateSQL, err)

	joinSQL, _, err := JoinSQL(JoinSpec{
		Sources: []SelectSpec{
			{Table: rel.Table{Name: "session"}, Fields: []string{"subject_id", "session_id"}},
			{Table: rel.Table{Name: "recording"}},
		},
		Where: rel.And{rel.Eq{"subject_id": 1}},
	})
	add(joinSQL, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "compiled_statements", []byte(strings.Join(lines, "\n")+"\n"))
}
