package graph

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
)

// FieldKind is the value type of a state field.
type FieldKind int

const (
	// KindString fields hold a string.
	KindString FieldKind = iota
	// KindInt fields hold an int.
	KindInt
)

func (k FieldKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// Field declares a named slot of the shared state.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool // required input, must be supplied when a session starts
}

// State is the accumulator threaded through the graph. Keys are declared
// field names, values are string or int according to the field kind.
type State map[string]any

// Clone returns a shallow copy of the state. Values are immutable scalars,
// so the copy is fully independent.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	return maps.Clone(s)
}

// Has reports whether the field has been written.
func (s State) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// String returns the string value of a field, or "" when absent.
func (s State) String(name string) string {
	v, _ := s[name].(string)
	return v
}

// Int returns the int value of a field, or 0 when absent.
func (s State) Int(name string) int {
	v, _ := s[name].(int)
	return v
}

// Keys returns the written field names in sorted order.
func (s State) Keys() []string {
	return slices.Sorted(maps.Keys(s))
}

// normalize coerces v to the Go type of kind. Values decoded from JSON
// checkpoints arrive as float64 or json.Number and are converted back to int.
func normalize(field Field, v any) (any, error) {
	switch field.Kind {
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case int8:
			return int(n), nil
		case int16:
			return int(n), nil
		case int32:
			return int(n), nil
		case int64:
			return int(n), nil
		case uint8:
			return int(n), nil
		case uint16:
			return int(n), nil
		case uint32:
			return int(n), nil
		case float32:
			if float64(n) == math.Trunc(float64(n)) {
				return int(n), nil
			}
		case float64:
			if n == math.Trunc(n) {
				return int(n), nil
			}
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return int(i), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: field %q wants %s, got %T", ErrFieldType, field.Name, field.Kind, v)
}
