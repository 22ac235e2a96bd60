package models

import (
	"bytes"
	"encoding/json"
)

var jsonNull = []byte("null")

func isJSONNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), jsonNull)
}

// Opt is a partial-update field that is either absent or carries a value.
//
// A JSON null is treated the same as an absent key, so a stray null can never
// erase a non-nullable field such as a title.
type Opt[T any] struct {
	Value T
	Set   bool
}

// Some returns an Opt holding v.
func Some[T any](v T) Opt[T] {
	return Opt[T]{Value: v, Set: true}
}

// Get returns the value and whether it was present.
func (o Opt[T]) Get() (T, bool) {
	return o.Value, o.Set
}

// IsZero reports whether the field is absent. It lets `omitzero` drop absent
// fields when a patch is encoded.
func (o Opt[T]) IsZero() bool {
	return !o.Set
}

func (o Opt[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return jsonNull, nil
	}
	return json.Marshal(o.Value)
}

func (o *Opt[T]) UnmarshalJSON(data []byte) error {
	if isJSONNull(data) {
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value, o.Set = v, true
	return nil
}

// Nullable is a partial-update field that is absent, explicitly null, or
// carries a value. It is used for fields like a page icon where clearing is
// a legitimate update.
type Nullable[T any] struct {
	Value T
	Null  bool
	Set   bool
}

// Value returns a Nullable holding v.
func Value[T any](v T) Nullable[T] {
	return Nullable[T]{Value: v, Set: true}
}

// Null returns a Nullable that explicitly clears the field.
func Null[T any]() Nullable[T] {
	return Nullable[T]{Null: true, Set: true}
}

// Ptr returns nil for an explicit null, and a pointer to a copy of the value
// otherwise. It must only be called when Set is true.
func (n Nullable[T]) Ptr() *T {
	if n.Null {
		return nil
	}
	v := n.Value
	return &v
}

func (n Nullable[T]) IsZero() bool {
	return !n.Set
}

func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if !n.Set || n.Null {
		return jsonNull, nil
	}
	return json.Marshal(n.Value)
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	if isJSONNull(data) {
		var zero T
		n.Value, n.Null, n.Set = zero, true, true
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value, n.Null, n.Set = v, false, true
	return nil
}
