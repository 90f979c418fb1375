package cache

import (
	"fmt"
	"time"
)

// Status is the fetch state of a cache entry.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is an immutable snapshot of one cached query.
//
// Value keeps the last successfully fetched data through loading and error states.
// Removed is only ever set on the final broadcast sent to subscribers of a dropped key.
type Entry struct {
	Key           Key
	Status        Status
	Value         any
	Err           error
	LastFetchedAt time.Time
	Version       uint64
	Removed       bool
}

// HasValue reports whether the entry holds data from a successful fetch.
func (e Entry) HasValue() bool {
	return e.Value != nil
}

// ValueAs extracts the typed value of an entry. It returns ErrValueType when the entry holds
// a value of another type, and the zero value with a nil error when it holds none.
func ValueAs[T any](entry Entry) (T, bool, error) {
	var zero T
	if entry.Value == nil {
		return zero, false, nil
	}
	value, ok := entry.Value.(T)
	if !ok {
		return zero, false, fmt.Errorf("%w: %s holds %T, not %T", ErrValueType, entry.Key, entry.Value, zero)
	}
	return value, true, nil
}
