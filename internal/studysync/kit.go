package studysync

import (
	"context"

	"github.com/MarcoPoloResearchLab/studytrack/internal/cache"
	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
	"github.com/MarcoPoloResearchLab/studytrack/internal/mutation"
	"github.com/MarcoPoloResearchLab/studytrack/internal/notify"
	"github.com/MarcoPoloResearchLab/studytrack/internal/query"
	"github.com/MarcoPoloResearchLab/studytrack/internal/resource"
)

// Kit is the typed entry point for one resource kind.
type Kit[T model.Record, C any, U any] struct {
	session *Session
	kind    model.Kind
	client  *resource.Client[T, C, U]
}

func newKit[T model.Record, C any, U any](session *Session, kind model.Kind) *Kit[T, C, U] {
	client := resource.NewClient[T, C, U](session.conn, kind)
	cache.Register[T](session.store, kind, client)
	return &Kit[T, C, U]{session: session, kind: kind, client: client}
}

func (k *Kit[T, C, U]) Kind() model.Kind {
	return k.kind
}

// Client returns the raw resource client. Calls made through it bypass the cache.
func (k *Kit[T, C, U]) Client() *resource.Client[T, C, U] {
	return k.client
}

// BindList binds a view to the collection.
func (k *Kit[T, C, U]) BindList(onChange func(query.View[[]T])) (*query.Binding[[]T], error) {
	return query.Bind[[]T](k.session.store, cache.CollectionKey(k.kind), onChange)
}

// BindItem binds a view to one record.
func (k *Kit[T, C, U]) BindItem(id uint64, onChange func(query.View[T])) (*query.Binding[T], error) {
	return query.Bind[T](k.session.store, cache.ItemKey(k.kind, id), onChange)
}

// NewRunner returns a mutation runner whose outcomes are reported to notifier.
func (k *Kit[T, C, U]) NewRunner(notifier notify.Notifier) (*mutation.Runner[T, C, U], error) {
	return mutation.NewRunner(mutation.Config[T, C, U]{
		Kind:     k.kind,
		Client:   k.client,
		Cache:    k.session.store,
		Notifier: notifier,
		Logger:   k.session.logger.Named("mutation"),
		Observer: k.session.mutationObserver,
		Clock:    k.session.clock,
	})
}

// List binds the collection for the duration of one load and returns the settled view.
func (k *Kit[T, C, U]) List(ctx context.Context) (query.View[[]T], error) {
	return load[[]T](ctx, k.session.store, cache.CollectionKey(k.kind))
}

// Get binds one record for the duration of one load and returns the settled view.
func (k *Kit[T, C, U]) Get(ctx context.Context, id uint64) (query.View[T], error) {
	return load[T](ctx, k.session.store, cache.ItemKey(k.kind, id))
}

func load[V any](ctx context.Context, store *cache.Store, key cache.Key) (query.View[V], error) {
	binding, err := query.Bind[V](store, key, nil)
	if err != nil {
		return query.View[V]{}, err
	}
	defer binding.Close()

	entry, ok, err := store.Await(ctx, key)
	if err != nil {
		return query.View[V]{}, err
	}
	if !ok {
		return query.View[V]{Removed: true}, nil
	}
	return query.Derive[V](entry), nil
}
