package rel

import "strings"

// Table is a handle on one named relation plus an accumulated restriction.
//
// Handles are values: Restrict returns a copy, so a restricted handle never
// mutates the handle it was derived from.
type Table struct {
	// Name is the table name as stored in the database.
	Name string

	// Heading is the table heading; nil until loaded from the database.
	Heading *Heading

	// Restriction is the current AND-list of conditions. Empty means the
	// handle covers every row.
	Restriction And
}

// Restrict returns a copy of the handle narrowed by the given condition.
func (t Table) Restrict(c Cond) Table {
	restriction := make(And, 0, len(t.Restriction)+1)
	restriction = append(restriction, t.Restriction...)
	restriction = append(restriction, c)
	t.Restriction = restriction
	return t
}

// Restricted reports whether the handle carries any restriction.
func (t Table) Restricted() bool {
	return len(t.Restriction) > 0
}

// PrimaryKey returns the primary-key attribute names, or nil when the
// heading has not been loaded.
func (t Table) PrimaryKey() []string {
	if t.Heading == nil {
		return nil
	}
	return t.Heading.PrimaryKey()
}

// Table-name prefixes encode the table tier:
//
//	name        manual table
//	#name       lookup table
//	_name       imported table (auto-populated)
//	__name      computed table (auto-populated)
//	##name      settings table
//
// Part tables append "__part" to their master's name.
const (
	prefixLookup   = "#"
	prefixImported = "_"
	prefixComputed = "__"
	prefixSettings = "##"
)

// Tier names a table's role, encoded in its name prefix.
type Tier string

const (
	TierManual   Tier = "manual"
	TierLookup   Tier = "lookup"
	TierImported Tier = "imported"
	TierComputed Tier = "computed"
	TierSettings Tier = "settings"
	TierPart     Tier = "part"
)

// TierOf classifies the named table by its prefix.
func TierOf(name string) Tier {
	base := baseName(name)
	if PartMaster(name) != "" {
		return TierPart
	}
	switch {
	case strings.HasPrefix(base, prefixSettings):
		return TierSettings
	case strings.HasPrefix(base, prefixComputed):
		return TierComputed
	case strings.HasPrefix(base, prefixImported):
		return TierImported
	case strings.HasPrefix(base, prefixLookup):
		return TierLookup
	default:
		return TierManual
	}
}

// IsAutoPopulated reports whether the named table is populated by a
// computation rather than by direct inserts. Direct inserts into such
// tables are refused outside a make callback, and updates upstream of them
// are guarded.
func IsAutoPopulated(name string) bool {
	base := baseName(name)
	if strings.HasPrefix(base, prefixSettings) {
		return false
	}
	return strings.HasPrefix(base, prefixImported) || strings.HasPrefix(base, prefixLookup+prefixImported)
}

// IsSettingsTable reports whether the named table is a settings store.
func IsSettingsTable(name string) bool {
	return strings.HasPrefix(baseName(name), prefixSettings)
}

// PartMaster returns the master table name for a part table, or "" when the
// name does not follow the master__part convention.
func PartMaster(name string) string {
	base := baseName(name)
	// skip the tier prefix so "__computed__part" splits after "computed"
	trimmed := strings.TrimLeft(base, "_#")
	i := strings.Index(trimmed, "__")
	if i < 0 {
		return ""
	}
	offset := len(base) - len(trimmed)
	return base[:offset+i]
}

// IsPartTableOf reports whether name is a part table of master.
func IsPartTableOf(name, master string) bool {
	return strings.HasPrefix(baseName(name), baseName(master)+"__")
}

// IsAliasNode reports whether a dependency-graph node name is a synthetic
// projection placeholder (a numeric id) rather than a real table.
func IsAliasNode(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// baseName strips any schema qualifier and quoting from a table name.
func baseName(name string) string {
	name = strings.ReplaceAll(name, "`", "")
	name = strings.ReplaceAll(name, `"`, "")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
