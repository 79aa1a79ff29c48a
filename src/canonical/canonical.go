// Package canonical renders structured values into a deterministic string form and
// provides the structural comparisons used for hashing, signing and token matching.
//
// Values are the generic JSON model: nil, bool, float64, json.Number, string,
// []any and map[string]any. Any other Go value is first normalized through
// encoding/json, so struct field tags decide which fields exist (omitempty fields
// with zero values are absent, exactly like undefined fields).
package canonical

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/gowebpki/jcs"
)

// Normalize converts v into the generic JSON model.
func Normalize(v any) (any, error) {
	switch v.(type) {
	case nil, bool, float64, string, json.Number:
		return v, nil
	}
	if isGeneric(v) {
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return out, nil
}

func isGeneric(v any) bool {
	switch t := v.(type) {
	case nil, bool, float64, string, json.Number:
		return true
	case []any:
		for _, item := range t {
			if !isGeneric(item) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, item := range t {
			if !isGeneric(item) {
				return false
			}
		}
		return true
	}
	return false
}

// StringOf returns the canonical string of v: RFC 8785 JSON, which is
// JSON.stringify output with object keys sorted by UTF-16 code units.
func StringOf(v any) (string, error) {
	data, err := BytesOf(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// BytesOf is StringOf as a byte slice, ready to be hashed or signed.
func BytesOf(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	out, err := jcs.Transform(data)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize value: %w", err)
	}
	return out, nil
}

// Clone returns a deep copy of v. Arrays and objects are copied recursively,
// everything else is returned as is.
func Clone(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Clone(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = Clone(item)
		}
		return out
	default:
		return v
	}
}

// ContainedIn reports whether every field and element present in a is present
// with an equal value in b. Arrays must have equal length.
func ContainedIn(a, b any) bool {
	return compare(a, b, true)
}

// DeepEqual reports full structural equality. NaN equals NaN.
func DeepEqual(a, b any) bool {
	return compare(a, b, false)
}

func compare(a, b any, subset bool) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case float64, json.Number:
		fx, okx := toFloat(a)
		fy, oky := toFloat(b)
		if !okx || !oky {
			return false
		}
		return fx == fy || (math.IsNaN(fx) && math.IsNaN(fy))
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !compare(x[i], y[i], subset) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok {
			return false
		}
		if !subset && len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, found := y[k]
			if !found {
				return false
			}
			if !compare(xv, yv, subset) {
				return false
			}
		}
		return true
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}
