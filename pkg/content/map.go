// ABOUTME: Ordered key-value snapshot of a content item
// ABOUTME: Values are normalized to JSON kinds through protobuf structpb

package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"unicode/utf8"

	"google.golang.org/protobuf/types/known/structpb"
)

// Map is an insertion-ordered map of top-level content keys to opaque values.
// Every stored value is one of nil, bool, float64, string, []any or map[string]any.
type Map struct {
	keys   []string
	values map[string]any
}

// NewMap creates an empty map
func NewMap() *Map {
	return &Map{values: make(map[string]any)}
}

// FromMap builds a Map from a plain Go map. Keys are inserted in sorted order
// since Go maps carry no ordering of their own.
func FromMap(m map[string]any) (*Map, error) {
	out := NewMap()
	for _, k := range sortedKeys(m) {
		if err := out.Set(k, m[k]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MustFromMap is FromMap for literals known to be valid
func MustFromMap(m map[string]any) *Map {
	out, err := FromMap(m)
	if err != nil {
		panic(err)
	}
	return out
}

// Set inserts or replaces key. A new key is appended to the key order.
func (m *Map) Set(key string, value any) error {
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: key %q is not valid UTF-8", ErrInvalidValue, key)
	}
	v, err := Normalize(value)
	if err != nil {
		return fmt.Errorf("key %q: %w", key, err)
	}
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
	return nil
}

// Get returns the value stored under key
func (m *Map) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Has reports whether key is present
func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Delete removes key and reports whether it was present
func (m *Map) Delete(key string) bool {
	if _, ok := m.values[key]; !ok {
		return false
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns the keys in insertion order
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of keys
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Clone returns a deep copy
func (m *Map) Clone() *Map {
	out := NewMap()
	if m == nil {
		return out
	}
	out.keys = make([]string, len(m.keys))
	copy(out.keys, m.keys)
	for k, v := range m.values {
		out.values[k] = cloneValue(v)
	}
	return out
}

// ToMap returns a deep copy as a plain Go map
func (m *Map) ToMap() map[string]any {
	out := make(map[string]any, m.Len())
	if m == nil {
		return out
	}
	for k, v := range m.values {
		out[k] = cloneValue(v)
	}
	return out
}

// Equal compares keys and values, ignoring key order
func (m *Map) Equal(other *Map) bool {
	if m.Len() != other.Len() {
		return false
	}
	for _, k := range m.Keys() {
		ov, ok := other.Get(k)
		if !ok || !ValuesEqual(m.values[k], ov) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the map as a JSON object in key order
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping the document's key order
func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%w: content must be a JSON object", ErrInvalidValue)
	}

	fresh := NewMap()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: unexpected token %v", ErrInvalidValue, tok)
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if err := fresh.Set(key, raw); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*m = *fresh
	return nil
}

// Normalize converts v into its JSON value form. Values structpb cannot take
// directly (typed slices, structs) go through a JSON round trip first.
// Strings that are not valid UTF-8 are rejected rather than rewritten.
func Normalize(v any) (any, error) {
	if err := checkUTF8(reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	pv, err := structpb.NewValue(v)
	if err != nil {
		data, jerr := json.Marshal(v)
		if jerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		var generic any
		if jerr := json.Unmarshal(data, &generic); jerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, jerr)
		}
		pv, err = structpb.NewValue(generic)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
	}
	return pv.AsInterface(), nil
}

// ValuesEqual compares two normalized values
func ValuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// IsScalar reports whether v takes part in conflict detection (string or number)
func IsScalar(v any) bool {
	switch v.(type) {
	case string, float64:
		return true
	}
	return false
}

// ScalarString renders a scalar the way it is compared for containment
func ScalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func checkUTF8(rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.String:
		if !utf8.ValidString(rv.String()) {
			return fmt.Errorf("%w: string %q is not valid UTF-8", ErrInvalidValue, rv.String())
		}
	case reflect.Pointer, reflect.Interface:
		if !rv.IsNil() {
			return checkUTF8(rv.Elem())
		}
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil // []byte encodes as base64
		}
		for i := 0; i < rv.Len(); i++ {
			if err := checkUTF8(rv.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if err := checkUTF8(iter.Key()); err != nil {
				return err
			}
			if err := checkUTF8(iter.Value()); err != nil {
				return err
			}
		}
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			if rv.Type().Field(i).IsExported() {
				if err := checkUTF8(rv.Field(i)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return val
	}
}
