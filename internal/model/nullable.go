package model

import (
	"bytes"
	"encoding/json"
)

// Nullable is an optional patch field that distinguishes an absent key from an explicit null.
// Set reports whether the key was present; Value is nil when it was present as null.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// SetTo returns a field that replaces the stored value with value.
func SetTo[T any](value T) Nullable[T] {
	return Nullable[T]{Set: true, Value: &value}
}

// SetNull returns a field that clears the stored value.
func SetNull[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

// IsZero reports an absent field so that omitzero drops it from encoded patches.
func (n Nullable[T]) IsZero() bool {
	return !n.Set
}

// Apply overwrites target when the field was present.
func (n Nullable[T]) Apply(target **T) {
	if n.Set {
		*target = n.Value
	}
}

func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if n.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	n.Value = &value
	return nil
}
