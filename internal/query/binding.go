// Package query binds a view to one cache key and derives what the view renders.
package query

import (
	"sync"

	"github.com/MarcoPoloResearchLab/studytrack/internal/cache"
)

// View is what a bound component renders for its key.
type View[T any] struct {
	Data      T
	HasData   bool
	IsLoading bool
	Err       error
	// Removed is set once the underlying record was deleted; no further views follow.
	Removed bool
}

// Binding holds one subscription on behalf of a view.
type Binding[T any] struct {
	key          cache.Key
	subscription *cache.Subscription

	mu       sync.Mutex
	current  View[T]
	onChange func(View[T])
}

// Bind subscribes to key and calls onChange with a freshly derived view on every broadcast.
// onChange may be nil when the caller only polls Current. T must match the value type the
// key's source produces, otherwise Bind fails with cache.ErrValueType.
func Bind[T any](store *cache.Store, key cache.Key, onChange func(View[T])) (*Binding[T], error) {
	if err := cache.CheckValueType[T](store, key); err != nil {
		return nil, err
	}
	binding := &Binding[T]{key: key, onChange: onChange}

	// The lock keeps a broadcast that races the return of Subscribe from being
	// overwritten by the older snapshot.
	binding.mu.Lock()
	subscription, snapshot, err := store.Subscribe(key, binding.apply)
	if err != nil {
		binding.mu.Unlock()
		return nil, err
	}
	binding.subscription = subscription
	binding.current = Derive[T](snapshot)
	binding.mu.Unlock()

	return binding, nil
}

// Key returns the bound query key.
func (b *Binding[T]) Key() cache.Key {
	return b.key
}

// Current returns the latest derived view.
func (b *Binding[T]) Current() View[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Close releases the subscription. No view callbacks run after Close returns,
// except one that was already executing.
func (b *Binding[T]) Close() {
	b.mu.Lock()
	b.onChange = nil
	b.mu.Unlock()
	b.subscription.Release()
}

func (b *Binding[T]) apply(entry cache.Entry) {
	view := Derive[T](entry)

	b.mu.Lock()
	b.current = view
	onChange := b.onChange
	b.mu.Unlock()

	if onChange != nil {
		onChange(view)
	}
}

// Derive maps a cache entry onto the view of type T. A value of another type surfaces as
// cache.ErrValueType unless the entry already carries a fetch error.
func Derive[T any](entry cache.Entry) View[T] {
	view := View[T]{
		IsLoading: entry.Status == cache.StatusLoading,
		Err:       entry.Err,
		Removed:   entry.Removed,
	}
	data, ok, err := cache.ValueAs[T](entry)
	switch {
	case ok:
		view.Data = data
		view.HasData = true
	case err != nil && view.Err == nil:
		view.Err = err
	}
	return view
}
