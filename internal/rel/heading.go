package rel

import "strings"

// Attribute describes one column of a table heading.
type Attribute struct {
	// Name is the column name.
	Name string

	// Type is the declared SQL type, lower-cased.
	Type string

	// InKey is true when the attribute is part of the primary key.
	InKey bool

	// Nullable is true when the column accepts NULL.
	Nullable bool

	// Default is the declared default expression, empty if none.
	Default string

	// Comment is the column comment, if the schema carries one.
	Comment string
}

// Numeric reports whether the attribute holds a numeric value.
// Numeric attributes with empty or NaN input values fall back to the
// column's declared default on insert.
func (a Attribute) Numeric() bool {
	t := a.Type
	return strings.Contains(t, "int") ||
		strings.Contains(t, "real") ||
		strings.Contains(t, "float") ||
		strings.Contains(t, "double") ||
		strings.Contains(t, "decimal") ||
		strings.Contains(t, "numeric")
}

// IsUUID reports whether the attribute is declared as a UUID.
// UUIDs are stored as 16-byte blobs; the codec converts on the way in and out.
func (a Attribute) IsUUID() bool {
	return a.Type == "uuid"
}

// IsBlob reports whether the attribute holds an opaque serialized payload.
func (a Attribute) IsBlob() bool {
	return strings.Contains(a.Type, "blob")
}

// IsAttachment reports whether the attribute holds an attached file
// (filename + contents packed into one payload).
func (a Attribute) IsAttachment() bool {
	return a.Type == "attach" || strings.HasPrefix(a.Type, "attach@")
}

// Heading is the ordered attribute list of one table.
//
// Attribute order is significant: it fixes the canonical column order for
// multi-row inserts and the order of the primary key.
type Heading struct {
	Attributes []Attribute

	byName map[string]int
}

// NewHeading builds a heading from an ordered attribute list.
func NewHeading(attrs []Attribute) *Heading {
	h := &Heading{Attributes: attrs, byName: make(map[string]int, len(attrs))}
	for i, a := range attrs {
		h.byName[a.Name] = i
	}
	return h
}

// Names returns the attribute names in declaration order.
func (h *Heading) Names() []string {
	names := make([]string, len(h.Attributes))
	for i, a := range h.Attributes {
		names[i] = a.Name
	}
	return names
}

// Has reports whether the heading contains the named attribute.
func (h *Heading) Has(name string) bool {
	_, ok := h.byName[name]
	return ok
}

// Get returns the named attribute.
func (h *Heading) Get(name string) (Attribute, bool) {
	i, ok := h.byName[name]
	if !ok {
		return Attribute{}, false
	}
	return h.Attributes[i], true
}

// Len returns the number of attributes.
func (h *Heading) Len() int {
	return len(h.Attributes)
}

// PrimaryKey returns the primary-key attribute names in declaration order.
func (h *Heading) PrimaryKey() []string {
	var pk []string
	for _, a := range h.Attributes {
		if a.InKey {
			pk = append(pk, a.Name)
		}
	}
	return pk
}
