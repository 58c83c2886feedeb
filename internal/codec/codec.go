package codec

import "github.com/roach88/datapipe/internal/rel"

// Encoded is the result of encoding one attribute value.
type Encoded struct {
	// Name is the attribute name.
	Name string

	// Placeholder is the SQL fragment for the value: "?" for a bound value,
	// or a literal default expression when nothing is bound.
	Placeholder string

	// Value is the driver value to bind. Meaningful only when Bind is true.
	Value any

	// Bind reports whether Value must be submitted to the driver.
	Bind bool
}

// Codec converts attribute values to and from their stored form.
//
// Implementations must be stateless: the engines share one codec across
// every insert and update.
type Codec interface {
	// Encode converts a value for storage. A nil value, or an empty/NaN
	// value on a numeric attribute, encodes to the column's declared
	// default.
	Encode(attr rel.Attribute, value any) (Encoded, error)

	// Decode converts a stored value back to its Go form.
	Decode(attr rel.Attribute, stored any) (any, error)
}
