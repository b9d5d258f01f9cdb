package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the serialized value types that cross
// the kernel boundary: activity arguments, task results, and mission-model
// configuration.
//
// There is no float variant. Simulated quantities are integers in fixed
// units so that replays of the same plan produce byte-identical results.
type Value interface {
	value()
}

// Null is the explicit absence of a value.
type Null struct{}

// String is a string value.
type String string

// Int is an integer value. Always int64.
type Int int64

// Bool is a boolean value.
type Bool bool

// List is an ordered list of values.
type List []Value

// ValueMap maps names to values. Iterate with SortedKeys for a stable order.
type ValueMap map[string]Value

func (Null) value()     {}
func (String) value()   {}
func (Int) value()      {}
func (Bool) value()     {}
func (List) value()     {}
func (ValueMap) value() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// Int returns the integer stored under key, or def if it is absent.
// A present value of another type is an error.
func (m ValueMap) Int(key string, def int64) (int64, error) {
	v, ok := m[key]
	if !ok {
		return def, nil
	}
	n, ok := v.(Int)
	if !ok {
		return 0, fmt.Errorf("argument %q: expected int, got %T", key, v)
	}
	return int64(n), nil
}

// String returns the string stored under key, or def if it is absent.
func (m ValueMap) String(key string, def string) (string, error) {
	v, ok := m[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(String)
	if !ok {
		return "", fmt.Errorf("argument %q: expected string, got %T", key, v)
	}
	return string(s), nil
}

// Clone returns a shallow copy of m. A nil map clones to an empty map.
func (m ValueMap) Clone() ValueMap {
	out := make(ValueMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units), the order
// used by every serializer in this package.
func (m ValueMap) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// compareUTF16 orders strings by UTF-16 code units. Plain string comparison
// orders by UTF-8 bytes, which disagrees for characters outside the BMP.
func compareUTF16(a, b string) int {
	return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
}

// MarshalJSON writes the map with sorted keys.
func (m ValueMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := MarshalValue(m[k])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler for ValueMap. JSON null
// leaves a nil map.
func (m *ValueMap) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*m = nil
		return nil
	}
	v, err := UnmarshalValue(data)
	if err != nil {
		return err
	}
	obj, ok := v.(ValueMap)
	if !ok {
		return fmt.Errorf("expected JSON object, got %T", v)
	}
	*m = obj
	return nil
}

// MarshalValue encodes any Value as plain JSON. Use MarshalCanonical when the
// bytes feed a digest.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Bool:
		return json.Marshal(bool(val))
	case List:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := MarshalValue(elem)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case ValueMap:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown value type %T", v)
	}
}

// UnmarshalValue decodes JSON into a Value. Numbers with a fraction or
// exponent are rejected.
func UnmarshalValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return FromAny(raw)
}

// FromAny converts decoded JSON, YAML, or CUE data into a Value.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > 1<<63-1 {
			return nil, fmt.Errorf("integer %d overflows int64", val)
		}
		return Int(val), nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("non-integer number %s", val)
		}
		return Int(n), nil
	case float32, float64:
		return nil, fmt.Errorf("floats are not allowed: %v", val)
	case []any:
		out := make(List, len(val))
		for i, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = conv
		}
		return out, nil
	case map[string]any:
		out := make(ValueMap, len(val))
		for k, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = conv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// MapFromAny is FromAny narrowed to maps. A nil input yields an empty map.
func MapFromAny(v map[string]any) (ValueMap, error) {
	if v == nil {
		return ValueMap{}, nil
	}
	conv, err := FromAny(v)
	if err != nil {
		return nil, err
	}
	return conv.(ValueMap), nil
}

// ToAny converts a Value back into plain Go data, for YAML output and
// comparisons against decoded fixtures.
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case List:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case ValueMap:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToAny(elem)
		}
		return out
	default:
		return nil
	}
}
