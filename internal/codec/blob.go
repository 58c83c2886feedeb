package codec

import (
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// packBlob serializes an arbitrary value to canonical JSON. Strings are
// NFC-normalized first so byte-identical payloads mean identical values;
// encoding/json already emits object keys in sorted order.
func packBlob(value any) ([]byte, error) {
	normalized, err := normalizeStrings(value)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("marshal blob: %w", err)
	}
	return payload, nil
}

// unpackBlob restores a blob payload written by packBlob.
func unpackBlob(payload []byte) (any, error) {
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, fmt.Errorf("unmarshal blob: %w", err)
	}
	return value, nil
}

// normalizeStrings applies NFC normalization to every string reachable from
// the value, including map keys.
func normalizeStrings(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return norm.NFC.String(v), nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			n, err := normalizeStrings(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			n, err := normalizeStrings(item)
			if err != nil {
				return nil, err
			}
			out[norm.NFC.String(k)] = n
		}
		return out, nil
	default:
		return value, nil
	}
}
