// Package mutation runs create, update and delete intents against the resource API and keeps
// the cache truthful afterwards by invalidating exactly the keys a settled mutation affects.
package mutation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/studytrack/internal/cache"
	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
	"github.com/MarcoPoloResearchLab/studytrack/internal/notify"
	"github.com/MarcoPoloResearchLab/studytrack/internal/resource"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is the lifecycle state of a runner.
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Intent names the kind of write a mutation performs.
type Intent string

const (
	IntentCreate Intent = "create"
	IntentUpdate Intent = "update"
	IntentDelete Intent = "delete"
)

var (
	// ErrMutationInFlight rejects an intent issued while the runner already has one pending.
	ErrMutationInFlight = errors.New("mutation: another mutation is pending")

	errMissingClient = errors.New("mutation: client is required")
	errMissingCache  = errors.New("mutation: cache is required")
	errMissingKind   = errors.New("mutation: kind is required")
	errMissingID     = errors.New("id is required")
)

// Record describes the runner's current or last settled mutation.
type Record struct {
	ID        string
	Intent    Intent
	Kind      model.Kind
	TargetID  uint64
	Payload   any
	Status    Status
	Err       error
	StartedAt time.Time
	SettledAt time.Time
}

// Client is the write half of a resource client.
type Client[T model.Record, C any, U any] interface {
	Create(ctx context.Context, payload C) (T, error)
	Update(ctx context.Context, id uint64, patch U) (T, error)
	Delete(ctx context.Context, id uint64) error
}

// Cache is the subset of the cache store a runner writes to.
type Cache interface {
	Invalidate(key cache.Key) bool
	Remove(key cache.Key) bool
}

// Observer receives settled mutations; the metrics package provides a Prometheus implementation.
type Observer interface {
	MutationSettled(kind model.Kind, intent Intent, status Status, elapsed time.Duration)
}

// Config configures a Runner.
type Config[T model.Record, C any, U any] struct {
	Kind     model.Kind
	Client   Client[T, C, U]
	Cache    Cache
	Notifier notify.Notifier
	Logger   *zap.Logger
	Observer Observer
	Clock    func() time.Time
	// Validate checks payloads before any network call; defaults to model.Validate.
	Validate func(payload any) error
}

// Runner executes one mutation at a time on behalf of a single user action.
type Runner[T model.Record, C any, U any] struct {
	kind     model.Kind
	client   Client[T, C, U]
	cache    Cache
	notifier notify.Notifier
	logger   *zap.Logger
	observer Observer
	clock    func() time.Time
	validate func(payload any) error

	mu       sync.Mutex
	record   Record
	detached atomic.Bool
}

// NewRunner validates the configuration and returns an idle Runner.
func NewRunner[T model.Record, C any, U any](cfg Config[T, C, U]) (*Runner[T, C, U], error) {
	if cfg.Kind == "" {
		return nil, errMissingKind
	}
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	if cfg.Cache == nil {
		return nil, errMissingCache
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	validate := cfg.Validate
	if validate == nil {
		validate = model.Validate
	}
	return &Runner[T, C, U]{
		kind:     cfg.Kind,
		client:   cfg.Client,
		cache:    cfg.Cache,
		notifier: notifier,
		logger:   logger,
		observer: cfg.Observer,
		clock:    clock,
		validate: validate,
	}, nil
}

// Status returns the lifecycle state.
func (r *Runner[T, C, U]) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.Status
}

// Record returns a copy of the current mutation record.
func (r *Runner[T, C, U]) Record() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record
}

// Reset acknowledges a settled mutation and returns the runner to idle.
// A pending mutation is left untouched.
func (r *Runner[T, C, U]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record.Status == StatusPending {
		return
	}
	r.record = Record{}
}

// Detach tells the runner that its view is gone. Pending work still completes and still
// updates the cache, but no further notifications are shown.
func (r *Runner[T, C, U]) Detach() {
	r.detached.Store(true)
}

// Create posts payload. On success only the collection key is invalidated.
func (r *Runner[T, C, U]) Create(ctx context.Context, payload C) (T, error) {
	var created T
	started, err := r.begin(IntentCreate, 0, payload)
	if err != nil {
		return created, err
	}

	created, err = r.client.Create(ctx, payload)
	if err != nil {
		r.fail(IntentCreate, started, err)
		var zero T
		return zero, err
	}

	r.succeed(IntentCreate, started, created.RecordID())
	r.cache.Invalidate(cache.CollectionKey(r.kind))
	r.notify(notify.Notification{
		Title:       r.label() + " created",
		Description: "Your " + r.kind.Singular() + " has been saved.",
		Variant:     notify.VariantDefault,
	})
	return created, nil
}

// Update applies patch to id. On success the item key and the collection key are invalidated.
func (r *Runner[T, C, U]) Update(ctx context.Context, id uint64, patch U) (T, error) {
	var updated T
	started, err := r.begin(IntentUpdate, id, patch)
	if err != nil {
		return updated, err
	}

	updated, err = r.client.Update(ctx, id, patch)
	if err != nil {
		r.fail(IntentUpdate, started, err)
		var zero T
		return zero, err
	}

	r.succeed(IntentUpdate, started, id)
	r.cache.Invalidate(cache.ItemKey(r.kind, id))
	r.cache.Invalidate(cache.CollectionKey(r.kind))
	r.notify(notify.Notification{
		Title:       r.label() + " updated",
		Description: "Your changes have been saved.",
		Variant:     notify.VariantDefault,
	})
	return updated, nil
}

// Delete removes id. On success the item key is dropped, telling its subscribers the record is
// gone, and the collection key is invalidated.
func (r *Runner[T, C, U]) Delete(ctx context.Context, id uint64) error {
	started, err := r.begin(IntentDelete, id, nil)
	if err != nil {
		return err
	}

	if err := r.client.Delete(ctx, id); err != nil {
		r.fail(IntentDelete, started, err)
		return err
	}

	r.succeed(IntentDelete, started, id)
	r.cache.Remove(cache.ItemKey(r.kind, id))
	r.cache.Invalidate(cache.CollectionKey(r.kind))
	r.notify(notify.Notification{
		Title:       r.label() + " deleted",
		Description: "The " + r.kind.Singular() + " has been removed.",
		Variant:     notify.VariantDefault,
	})
	return nil
}

// begin guards single flight, validates locally and moves the runner to pending.
func (r *Runner[T, C, U]) begin(intent Intent, id uint64, payload any) (time.Time, error) {
	r.mu.Lock()
	if r.record.Status == StatusPending {
		r.mu.Unlock()
		return time.Time{}, ErrMutationInFlight
	}

	now := r.clock()
	record := Record{
		ID:        newRecordID(),
		Intent:    intent,
		Kind:      r.kind,
		TargetID:  id,
		Payload:   payload,
		StartedAt: now,
	}

	var invalid error
	if intent != IntentCreate && id == 0 {
		invalid = errMissingID
	} else if payload != nil {
		invalid = r.validate(payload)
	}
	if invalid != nil {
		validationErr := resource.NewLocalValidationError(invalid)
		record.Status = StatusError
		record.Err = validationErr
		record.SettledAt = now
		r.record = record
		r.mu.Unlock()

		r.logger.Debug("mutation rejected locally",
			zap.String("mutation_id", record.ID),
			zap.String("kind", r.kind.String()),
			zap.String("intent", string(intent)),
			zap.Error(invalid))
		r.observe(intent, StatusError, 0)
		r.notifyFailure(intent, validationErr)
		return time.Time{}, validationErr
	}

	record.Status = StatusPending
	r.record = record
	r.mu.Unlock()
	return now, nil
}

func (r *Runner[T, C, U]) succeed(intent Intent, started time.Time, id uint64) {
	now := r.clock()
	r.mu.Lock()
	r.record.Status = StatusSuccess
	r.record.TargetID = id
	r.record.SettledAt = now
	r.mu.Unlock()
	r.observe(intent, StatusSuccess, now.Sub(started))
}

func (r *Runner[T, C, U]) fail(intent Intent, started time.Time, err error) {
	now := r.clock()
	r.mu.Lock()
	r.record.Status = StatusError
	r.record.Err = err
	r.record.SettledAt = now
	mutationID := r.record.ID
	r.mu.Unlock()

	r.logger.Warn("mutation failed",
		zap.String("mutation_id", mutationID),
		zap.String("kind", r.kind.String()),
		zap.String("intent", string(intent)),
		zap.Error(err))
	r.observe(intent, StatusError, now.Sub(started))
	r.notifyFailure(intent, err)
}

func (r *Runner[T, C, U]) notifyFailure(intent Intent, err error) {
	r.notify(notify.Notification{
		Title:       "Could not " + string(intent) + " " + r.kind.Singular(),
		Description: resource.Describe(err),
		Variant:     notify.VariantDestructive,
	})
}

func (r *Runner[T, C, U]) notify(notification notify.Notification) {
	if r.detached.Load() {
		return
	}
	r.notifier.Notify(notification)
}

func (r *Runner[T, C, U]) observe(intent Intent, status Status, elapsed time.Duration) {
	if r.observer != nil {
		r.observer.MutationSettled(r.kind, intent, status, elapsed)
	}
}

func (r *Runner[T, C, U]) label() string {
	singular := r.kind.Singular()
	first, size := utf8.DecodeRuneInString(singular)
	return string(unicode.ToUpper(first)) + strings.TrimSpace(singular[size:])
}

func newRecordID() string {
	value, err := uuid.NewV7()
	if err != nil {
		return ""
	}
	return value.String()
}
