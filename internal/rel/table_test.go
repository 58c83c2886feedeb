package rel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRestrictReturnsACopy(t *testing.T) {
	base := Table{Name: "session"}
	narrowed := base.Restrict(Eq{"subject_id": 1})

	assert.False(t, base.Restricted())
	assert.True(t, narrowed.Restricted())

	further := narrowed.Restrict(Eq{"session_id": 2})
	assert.Len(t, narrowed.Restriction, 1)
	assert.Len(t, further.Restriction, 2)
}

func TestTierOf(t *testing.T) {
	cases := map[string]Tier{
		"session":                   TierManual,
		"#stim_type":                TierLookup,
		"_trace":                    TierImported,
		"__filtered_trace":          TierComputed,
		"##filtered_trace_settings": TierSettings,
		"recording__channel":        TierPart,
		"__filtered_trace__segment": TierPart,
	}
	for name, want := range cases {
		assert.Equal(t, want, TierOf(name), name)
	}
}

func TestIsAutoPopulated(t *testing.T) {
	assert.True(t, IsAutoPopulated("_trace"))
	assert.True(t, IsAutoPopulated("__filtered_trace"))
	assert.False(t, IsAutoPopulated("session"))
	assert.False(t, IsAutoPopulated("#stim_type"))
	// settings stores are written directly, not populated
	assert.False(t, IsAutoPopulated("##filtered_trace_settings"))
}

func TestPartMaster(t *testing.T) {
	assert.Equal(t, "recording", PartMaster("recording__channel"))
	assert.Equal(t, "__filtered_trace", PartMaster("__filtered_trace__segment"))
	assert.Empty(t, PartMaster("recording"))
	assert.Empty(t, PartMaster("_trace"))
}

func TestIsPartTableOf(t *testing.T) {
	assert.True(t, IsPartTableOf("recording__channel", "recording"))
	assert.False(t, IsPartTableOf("recording__channel", "session"))
	assert.False(t, IsPartTableOf("recording", "recording"))
}

func TestIsAliasNode(t *testing.T) {
	assert.True(t, IsAliasNode("1"))
	assert.True(t, IsAliasNode("42"))
	assert.False(t, IsAliasNode(""))
	assert.False(t, IsAliasNode("session"))
	assert.False(t, IsAliasNode("1a"))
}

func TestPrimaryKeyNeedsHeading(t *testing.T) {
	table := Table{Name: "session"}
	assert.Nil(t, table.PrimaryKey())

	table.Heading = NewHeading([]Attribute{
		{Name: "subject_id", InKey: true},
		{Name: "session_id", InKey: true},
		{Name: "operator"},
	})
	assert.Equal(t, []string{"subject_id", "session_id"}, table.PrimaryKey())
}
