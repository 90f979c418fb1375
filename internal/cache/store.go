// Package cache keeps the last known state of server-owned resources keyed by query,
// coalesces concurrent fetches per key and broadcasts every state change to subscribers.
package cache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("cache: store closed")
	// ErrUnregisteredKind is returned when subscribing to a kind without a registered source.
	ErrUnregisteredKind = errors.New("cache: kind has no registered source")
	// ErrValueType is returned when a key is read as a type other than the one its source produces.
	ErrValueType = errors.New("cache: value type does not match the registered source")
)

// Source fetches the collection and single items of one kind.
type Source[T any] interface {
	List(ctx context.Context) ([]T, error)
	Get(ctx context.Context, id uint64) (T, error)
}

// Observer receives store events; the metrics package provides a Prometheus implementation.
type Observer interface {
	FetchStarted(key Key)
	FetchCoalesced(key Key)
	FetchSettled(key Key, err error, elapsed time.Duration)
	Invalidated(key Key)
	Removed(key Key)
}

type fetchFunc func(ctx context.Context, key Key) (any, error)

// Config configures a Store.
type Config struct {
	Logger *zap.Logger
	Clock  func() time.Time
	// FetchTimeout bounds a single fetch; zero leaves fetches bounded only by Close.
	FetchTimeout time.Duration
	Observer     Observer
}

// Store is the process-wide cache shared by every query binding and mutation runner.
// Construct one with New and release it with Close.
type Store struct {
	mu       sync.Mutex
	entries  map[Key]*entry
	fetchers map[model.Kind]fetchFunc
	// records holds the record type each kind was registered with.
	records map[model.Kind]reflect.Type
	closed   bool
	nextID   uint64

	dispatch     *dispatcher
	logger       *zap.Logger
	clock        func() time.Time
	fetchTimeout time.Duration
	observer     Observer

	lifetime context.Context
	cancel   context.CancelFunc
	fetches  sync.WaitGroup
}

type entry struct {
	state       Entry
	subscribers []*Subscription
	// flight is the completion signal of the in-flight fetch, nil when none is running.
	flight    *flight
	dirty     bool
	idleSince time.Time
}

type flight struct {
	done    chan struct{}
	started time.Time
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id       uint64
	key      Key
	store    *Store
	onChange func(Entry)
	active   atomic.Bool
}

// Key returns the subscribed query key.
func (s *Subscription) Key() Key {
	return s.key
}

// Release removes the subscriber. The entry is retained for later subscribers.
func (s *Subscription) Release() {
	if s == nil || !s.active.CompareAndSwap(true, false) {
		return
	}
	s.store.release(s)
}

// New constructs an empty Store.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Store{
		entries:      make(map[Key]*entry),
		fetchers:     make(map[model.Kind]fetchFunc),
		records:      make(map[model.Kind]reflect.Type),
		dispatch:     newDispatcher(logger),
		logger:       logger,
		clock:        clock,
		fetchTimeout: cfg.FetchTimeout,
		observer:     observer,
		lifetime:     lifetime,
		cancel:       cancel,
	}
}

// Register binds the fetch source for kind. Collection keys call List, item keys call Get.
func Register[T any](store *Store, kind model.Kind, source Source[T]) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.records[kind] = reflect.TypeFor[T]()
	store.fetchers[kind] = func(ctx context.Context, key Key) (any, error) {
		if key.IsItem() {
			return source.Get(ctx, key.ID())
		}
		return source.List(ctx)
	}
}

// Subscribe registers onChange for key and returns the handle with the entry state at
// subscription time. The first subscription of a key creates its entry and starts a fetch,
// so the returned snapshot is already loading. onChange runs on the store's dispatcher
// goroutine; it may call back into the store but must not call Close.
func (s *Store) Subscribe(key Key, onChange func(Entry)) (*Subscription, Entry, error) {
	if onChange == nil {
		onChange = func(Entry) {}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, Entry{}, ErrClosed
	}
	if _, ok := s.fetchers[key.Kind()]; !ok {
		return nil, Entry{}, ErrUnregisteredKind
	}

	current, ok := s.entries[key]
	if !ok {
		current = &entry{state: Entry{Key: key, Status: StatusIdle}}
		s.entries[key] = current
		s.startFetchLocked(key, current)
	} else if current.flight != nil {
		s.observer.FetchCoalesced(key)
	}

	s.nextID++
	subscription := &Subscription{id: s.nextID, key: key, store: s, onChange: onChange}
	subscription.active.Store(true)
	current.subscribers = append(current.subscribers, subscription)
	current.idleSince = time.Time{}

	return subscription, current.state, nil
}

// ValueType returns the type of the values stored under key: []T for a collection and T for
// an item, where T is the record type registered for the kind.
func (s *Store) ValueType(key Key) (reflect.Type, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key.Kind()]
	if !ok {
		return nil, false
	}
	if key.IsItem() {
		return record, true
	}
	return reflect.SliceOf(record), true
}

// CheckValueType reports ErrValueType when key does not hold values of type V.
func CheckValueType[V any](store *Store, key Key) error {
	expected, ok := store.ValueType(key)
	if !ok {
		return ErrUnregisteredKind
	}
	if requested := reflect.TypeFor[V](); requested != expected {
		return fmt.Errorf("%w: %s holds %s, not %s", ErrValueType, key, expected, requested)
	}
	return nil
}

// Snapshot returns the current entry for key and whether one exists.
func (s *Store) Snapshot(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return current.state, true
}

// Invalidate forces an existing entry back to loading and refetches it, keeping the stale
// value readable until new data arrives. It reports whether an entry existed; invalidating an
// absent key is a no-op. When a fetch for key is already in flight no second request is issued;
// instead one follow-up fetch starts as soon as the in-flight one settles.
func (s *Store) Invalidate(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	current, ok := s.entries[key]
	if !ok {
		return false
	}
	s.observer.Invalidated(key)
	if current.flight != nil {
		current.dirty = true
		return true
	}
	s.startFetchLocked(key, current)
	return true
}

// InvalidateObserved invalidates every entry that has at least one subscriber and returns
// how many entries were invalidated.
func (s *Store) InvalidateObserved() int {
	s.mu.Lock()
	keys := make([]Key, 0, len(s.entries))
	for key, current := range s.entries {
		if len(current.subscribers) > 0 {
			keys = append(keys, key)
		}
	}
	s.mu.Unlock()

	invalidated := 0
	for _, key := range keys {
		if s.Invalidate(key) {
			invalidated++
		}
	}
	return invalidated
}

// Remove drops the entry for key. Current subscribers receive one final broadcast with
// Removed set and are detached. It reports whether an entry existed.
func (s *Store) Remove(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[key]
	if !ok {
		return false
	}
	delete(s.entries, key)
	s.observer.Removed(key)

	final := current.state
	final.Removed = true
	final.Version++
	deliveries := make([]delivery, 0, len(current.subscribers))
	for _, subscription := range current.subscribers {
		subscription.active.Store(false)
		deliveries = append(deliveries, delivery{subscription: subscription, entry: final, final: true})
	}
	current.subscribers = nil
	s.dispatch.enqueue(deliveries...)
	return true
}

// Await blocks until key has no fetch in flight and returns its entry.
// The boolean is false when no entry exists for key, including when it was removed while waiting.
func (s *Store) Await(ctx context.Context, key Key) (Entry, bool, error) {
	for {
		s.mu.Lock()
		current, ok := s.entries[key]
		if !ok {
			s.mu.Unlock()
			return Entry{}, false, nil
		}
		if current.flight == nil {
			state := current.state
			s.mu.Unlock()
			return state, true, nil
		}
		done := current.flight.done
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Entry{}, false, ctx.Err()
		case <-done:
		}
	}
}

// EvictIdle removes entries that have had no subscribers and no fetch in flight for at least
// olderThan, returning the number of evicted entries.
func (s *Store) EvictIdle(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	evicted := 0
	for key, current := range s.entries {
		if len(current.subscribers) > 0 || current.flight != nil || current.idleSince.IsZero() {
			continue
		}
		if now.Sub(current.idleSince) < olderThan {
			continue
		}
		delete(s.entries, key)
		s.observer.Removed(key)
		evicted++
	}
	if evicted > 0 {
		s.logger.Debug("evicted idle cache entries", zap.Int("count", evicted))
	}
	return evicted
}

// Len returns the number of entries currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close cancels in-flight fetches, waits for them to settle and stops broadcast delivery.
// It must not be called from a subscriber callback.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.fetches.Wait()
	s.dispatch.close()
}

func (s *Store) release(subscription *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[subscription.key]
	if !ok {
		return
	}
	for index, candidate := range current.subscribers {
		if candidate == subscription {
			current.subscribers = append(current.subscribers[:index], current.subscribers[index+1:]...)
			break
		}
	}
	if len(current.subscribers) == 0 {
		current.idleSince = s.clock()
	}
}

func (s *Store) startFetchLocked(key Key, current *entry) {
	if current.flight != nil {
		return
	}
	fetch := s.fetchers[key.Kind()]
	pending := &flight{done: make(chan struct{}), started: s.clock()}
	current.flight = pending
	current.state.Status = StatusLoading
	s.broadcastLocked(current)
	s.observer.FetchStarted(key)

	s.fetches.Add(1)
	go s.runFetch(key, current, pending, fetch)
}

func (s *Store) runFetch(key Key, current *entry, pending *flight, fetch fetchFunc) {
	defer s.fetches.Done()

	ctx := s.lifetime
	if s.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
	}
	value, err := fetch(ctx, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer close(pending.done)

	s.observer.FetchSettled(key, err, s.clock().Sub(pending.started))
	current.flight = nil

	if s.entries[key] != current {
		// Removed or evicted while in flight; the result has no entry to land in.
		return
	}

	if err != nil {
		s.logger.Warn("cache fetch failed", zap.String("key", key.String()), zap.Error(err))
	}

	if current.dirty && !s.closed {
		current.dirty = false
		if err == nil {
			current.state.Value = value
			current.state.LastFetchedAt = s.clock()
		}
		s.startFetchLocked(key, current)
		return
	}

	current.dirty = false
	if err != nil {
		current.state.Status = StatusError
		current.state.Err = err
	} else {
		current.state.Status = StatusSuccess
		current.state.Value = value
		current.state.Err = nil
		current.state.LastFetchedAt = s.clock()
	}
	s.broadcastLocked(current)
}

func (s *Store) broadcastLocked(current *entry) {
	current.state.Version++
	snapshot := current.state
	deliveries := make([]delivery, 0, len(current.subscribers))
	for _, subscription := range current.subscribers {
		deliveries = append(deliveries, delivery{subscription: subscription, entry: snapshot})
	}
	s.dispatch.enqueue(deliveries...)
}

type nopObserver struct{}

func (nopObserver) FetchStarted(Key)                       {}
func (nopObserver) FetchCoalesced(Key)                     {}
func (nopObserver) FetchSettled(Key, error, time.Duration) {}
func (nopObserver) Invalidated(Key)                        {}
func (nopObserver) Removed(Key)                            {}
