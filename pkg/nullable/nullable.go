// Package nullable provides a JSON field wrapper that distinguishes an
// absent key from an explicit null, for partial updates.
package nullable

import (
	"bytes"
	"encoding/json"
)

// Field holds a decoded JSON value plus presence information.
//
//	absent key      -> Set=false
//	"key": null     -> Set=true, Null=true
//	"key": value    -> Set=true, Null=false, Value=value
type Field[T any] struct {
	Value T
	Set   bool
	Null  bool
}

// Of returns a Field set to v.
func Of[T any](v T) Field[T] {
	return Field[T]{Value: v, Set: true}
}

// Null returns a Field explicitly set to null.
func Null[T any]() Field[T] {
	return Field[T]{Set: true, Null: true}
}

// UnmarshalJSON implements json.Unmarshaler. It is only invoked when the key
// is present, which is what marks the field as Set.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Null = true
		var zero T
		f.Value = zero
		return nil
	}
	f.Null = false
	return json.Unmarshal(data, &f.Value)
}

// MarshalJSON implements json.Marshaler.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.Set || f.Null {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// Ptr returns nil for absent or null fields and a pointer to the value
// otherwise.
func (f Field[T]) Ptr() *T {
	if !f.Set || f.Null {
		return nil
	}
	v := f.Value
	return &v
}

// HasValue reports whether the field is present and not null.
func (f Field[T]) HasValue() bool {
	return f.Set && !f.Null
}
