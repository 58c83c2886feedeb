package codec

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/roach88/datapipe/internal/rel"
)

// Standard is the default codec.
type Standard struct{}

var _ Codec = Standard{}

// Encode implements Codec.
func (Standard) Encode(attr rel.Attribute, value any) (Encoded, error) {
	if value == nil || (attr.Numeric() && isMissingNumeric(value)) {
		return defaultEncoded(attr), nil
	}

	enc := Encoded{Name: attr.Name, Placeholder: "?", Bind: true}
	switch {
	case attr.IsUUID():
		u, err := coerceUUID(value)
		if err != nil {
			return Encoded{}, rel.NewUsageError(
				"badly formed UUID value %v for attribute %q", value, attr.Name)
		}
		enc.Value = u[:]
	case attr.IsAttachment():
		payload, err := packAttachment(value)
		if err != nil {
			return Encoded{}, err
		}
		enc.Value = payload
	case attr.IsBlob():
		if raw, ok := value.([]byte); ok {
			// already-serialized payloads are stored verbatim
			enc.Value = raw
			break
		}
		payload, err := packBlob(value)
		if err != nil {
			return Encoded{}, fmt.Errorf("encode blob attribute %q: %w", attr.Name, err)
		}
		enc.Value = payload
	case attr.Numeric():
		if b, ok := value.(bool); ok {
			if b {
				enc.Value = int64(1)
			} else {
				enc.Value = int64(0)
			}
		} else {
			enc.Value = value
		}
	default:
		enc.Value = value
	}
	return enc, nil
}

// Decode implements Codec.
func (Standard) Decode(attr rel.Attribute, stored any) (any, error) {
	if stored == nil {
		return nil, nil
	}
	switch {
	case attr.IsUUID():
		b, ok := stored.([]byte)
		if !ok || len(b) != 16 {
			return nil, fmt.Errorf("decode attribute %q: stored UUID must be a 16-byte blob", attr.Name)
		}
		u, err := uuid.FromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("decode attribute %q: %w", attr.Name, err)
		}
		return u, nil
	case attr.IsBlob():
		b, ok := stored.([]byte)
		if !ok {
			return nil, fmt.Errorf("decode attribute %q: stored blob must be bytes", attr.Name)
		}
		return unpackBlob(b)
	default:
		return stored, nil
	}
}

// defaultEncoded encodes "use the column default": the declared default
// expression inlined, or NULL when the column declares none.
func defaultEncoded(attr rel.Attribute) Encoded {
	placeholder := "NULL"
	if attr.Default != "" {
		placeholder = attr.Default
	}
	return Encoded{Name: attr.Name, Placeholder: placeholder}
}

// isMissingNumeric reports whether a value on a numeric attribute should
// fall back to the column default: empty string or NaN.
func isMissingNumeric(value any) bool {
	switch v := value.(type) {
	case string:
		return v == ""
	case float64:
		return math.IsNaN(v)
	case float32:
		return math.IsNaN(float64(v))
	default:
		return false
	}
}

func coerceUUID(value any) (uuid.UUID, error) {
	switch v := value.(type) {
	case uuid.UUID:
		return v, nil
	case string:
		return uuid.Parse(v)
	case []byte:
		return uuid.FromBytes(v)
	case [16]byte:
		return uuid.UUID(v), nil
	default:
		return uuid.UUID{}, fmt.Errorf("unsupported UUID input type %T", value)
	}
}

// packAttachment packs a file path into filename + NUL + contents.
func packAttachment(value any) ([]byte, error) {
	path, ok := value.(string)
	if !ok {
		return nil, rel.NewUsageError("attachment value must be a file path, got %T", value)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment %s: %w", path, err)
	}
	name := filepath.Base(path)
	payload := make([]byte, 0, len(name)+1+len(contents))
	payload = append(payload, name...)
	payload = append(payload, 0)
	payload = append(payload, contents...)
	return payload, nil
}
