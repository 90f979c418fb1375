package mutation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studytrack/internal/cache"
	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
	"github.com/MarcoPoloResearchLab/studytrack/internal/notify"
	"github.com/MarcoPoloResearchLab/studytrack/internal/resource"
)

type stubClient struct {
	mu      sync.Mutex
	calls   []string
	err     error
	gate    chan struct{}
	nextID  uint64
	entered chan struct{}
}

func (c *stubClient) wait(ctx context.Context, call string) error {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	gate := c.gate
	entered := c.entered
	c.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.err
}

func (c *stubClient) Create(ctx context.Context, payload model.NoteInput) (model.Note, error) {
	if err := c.wait(ctx, "create"); err != nil {
		return model.Note{}, err
	}
	return model.Note{ID: c.nextID, Title: payload.Title}, nil
}

func (c *stubClient) Update(ctx context.Context, id uint64, patch model.NotePatch) (model.Note, error) {
	if err := c.wait(ctx, "update"); err != nil {
		return model.Note{}, err
	}
	note := model.Note{ID: id}
	if patch.Title != nil {
		note.Title = *patch.Title
	}
	return note, nil
}

func (c *stubClient) Delete(ctx context.Context, id uint64) error {
	return c.wait(ctx, "delete")
}

func (c *stubClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type recordingCache struct {
	mu     sync.Mutex
	events []string
}

func (c *recordingCache) Invalidate(key cache.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "invalidate "+key.String())
	return true
}

func (c *recordingCache) Remove(key cache.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "remove "+key.String())
	return true
}

func (c *recordingCache) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

type recordingObserver struct {
	mu      sync.Mutex
	settled []Status
	intents []Intent
}

func (o *recordingObserver) MutationSettled(kind model.Kind, intent Intent, status Status, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settled = append(o.settled, status)
	o.intents = append(o.intents, intent)
}

func newTestRunner(t *testing.T, client *stubClient, store Cache, recorder *notify.Recorder) *Runner[model.Note, model.NoteInput, model.NotePatch] {
	t.Helper()
	runner, err := NewRunner(Config[model.Note, model.NoteInput, model.NotePatch]{
		Kind:     model.KindNotes,
		Client:   client,
		Cache:    store,
		Notifier: recorder,
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner
}

func stringPointer(value string) *string {
	return &value
}

func equalEvents(actual, expected []string) bool {
	return strings.Join(actual, "|") == strings.Join(expected, "|")
}

func TestUpdateInvalidatesItemAndCollection(t *testing.T) {
	client := &stubClient{}
	store := &recordingCache{}
	recorder := &notify.Recorder{}
	observer := &recordingObserver{}
	runner, err := NewRunner(Config[model.Note, model.NoteInput, model.NotePatch]{
		Kind:     model.KindNotes,
		Client:   client,
		Cache:    store,
		Notifier: recorder,
		Observer: observer,
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	updated, err := runner.Update(context.Background(), 5, model.NotePatch{Title: stringPointer("Bio v2")})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Title != "Bio v2" {
		t.Fatalf("unexpected updated note %#v", updated)
	}
	if runner.Status() != StatusSuccess {
		t.Fatalf("expected success, got %s", runner.Status())
	}
	if !equalEvents(store.recorded(), []string{"invalidate notes/5", "invalidate notes"}) {
		t.Fatalf("unexpected cache events %v", store.recorded())
	}
	notifications := recorder.Notifications()
	if len(notifications) != 1 || notifications[0].Variant != notify.VariantDefault || notifications[0].Title != "Note updated" {
		t.Fatalf("unexpected notifications %#v", notifications)
	}
	if len(observer.settled) != 1 || observer.settled[0] != StatusSuccess || observer.intents[0] != IntentUpdate {
		t.Fatalf("unexpected observed outcomes %v %v", observer.settled, observer.intents)
	}
}

func TestCreateInvalidatesOnlyCollection(t *testing.T) {
	client := &stubClient{nextID: 9}
	store := &recordingCache{}
	recorder := &notify.Recorder{}
	runner := newTestRunner(t, client, store, recorder)

	created, err := runner.Create(context.Background(), model.NoteInput{Title: "Chem"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID != 9 {
		t.Fatalf("expected created id 9, got %d", created.ID)
	}
	if !equalEvents(store.recorded(), []string{"invalidate notes"}) {
		t.Fatalf("unexpected cache events %v", store.recorded())
	}
	if record := runner.Record(); record.TargetID != 9 || record.Intent != IntentCreate || record.ID == "" {
		t.Fatalf("unexpected record %#v", record)
	}
}

func TestDeleteRemovesItemAndInvalidatesCollection(t *testing.T) {
	client := &stubClient{}
	store := &recordingCache{}
	recorder := &notify.Recorder{}
	runner := newTestRunner(t, client, store, recorder)

	if err := runner.Delete(context.Background(), 3); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !equalEvents(store.recorded(), []string{"remove notes/3", "invalidate notes"}) {
		t.Fatalf("unexpected cache events %v", store.recorded())
	}
	if notifications := recorder.Notifications(); len(notifications) != 1 || notifications[0].Title != "Note deleted" {
		t.Fatalf("unexpected notifications %#v", notifications)
	}
}

func TestLocalValidationFailureSkipsNetwork(t *testing.T) {
	client := &stubClient{}
	store := &recordingCache{}
	recorder := &notify.Recorder{}
	runner := newTestRunner(t, client, store, recorder)

	_, err := runner.Update(context.Background(), 5, model.NotePatch{Title: stringPointer("   ")})
	var validationErr *resource.ValidationError
	if !errors.As(err, &validationErr) || !validationErr.Local {
		t.Fatalf("expected local validation error, got %v", err)
	}
	if client.callCount() != 0 {
		t.Fatalf("expected no network call, got %d", client.callCount())
	}
	if len(store.recorded()) != 0 {
		t.Fatalf("expected no cache changes, got %v", store.recorded())
	}
	if runner.Status() != StatusError {
		t.Fatalf("expected error status, got %s", runner.Status())
	}
	notifications := recorder.Notifications()
	if len(notifications) != 1 || notifications[0].Variant != notify.VariantDestructive {
		t.Fatalf("unexpected notifications %#v", notifications)
	}
	if notifications[0].Description != "Not sent: title is required." {
		t.Fatalf("unexpected description %q", notifications[0].Description)
	}
}

func TestDeleteWithoutIDIsRejectedLocally(t *testing.T) {
	client := &stubClient{}
	runner := newTestRunner(t, client, &recordingCache{}, &notify.Recorder{})

	err := runner.Delete(context.Background(), 0)
	if !errors.Is(err, resource.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if client.callCount() != 0 {
		t.Fatalf("expected no network call")
	}
}

func TestServerFailureLeavesCacheUntouched(t *testing.T) {
	client := &stubClient{err: &resource.ServerError{Operation: "notes.update", Status: 500}}
	store := &recordingCache{}
	recorder := &notify.Recorder{}
	runner := newTestRunner(t, client, store, recorder)

	patch := model.NotePatch{Title: stringPointer("Bio v2")}
	_, err := runner.Update(context.Background(), 5, patch)
	if !errors.Is(err, resource.ErrServer) {
		t.Fatalf("expected server error, got %v", err)
	}
	if len(store.recorded()) != 0 {
		t.Fatalf("expected no cache changes, got %v", store.recorded())
	}
	record := runner.Record()
	if record.Status != StatusError || record.Err == nil {
		t.Fatalf("unexpected record %#v", record)
	}
	if retained, ok := record.Payload.(model.NotePatch); !ok || *retained.Title != "Bio v2" {
		t.Fatalf("expected payload to be retained, got %#v", record.Payload)
	}
	notifications := recorder.Notifications()
	if len(notifications) != 1 || notifications[0].Title != "Could not update note" {
		t.Fatalf("unexpected notifications %#v", notifications)
	}
	if !strings.Contains(notifications[0].Description, "500") {
		t.Fatalf("expected status in description, got %q", notifications[0].Description)
	}

	runner.Reset()
	if runner.Status() != StatusIdle {
		t.Fatalf("expected idle after reset, got %s", runner.Status())
	}
}

func TestSecondIntentWhilePendingIsRejected(t *testing.T) {
	client := &stubClient{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	store := &recordingCache{}
	runner := newTestRunner(t, client, store, &notify.Recorder{})

	done := make(chan error, 1)
	go func() {
		_, err := runner.Update(context.Background(), 5, model.NotePatch{Title: stringPointer("Bio v2")})
		done <- err
	}()
	<-client.entered

	if runner.Status() != StatusPending {
		t.Fatalf("expected pending, got %s", runner.Status())
	}
	if err := runner.Delete(context.Background(), 5); !errors.Is(err, ErrMutationInFlight) {
		t.Fatalf("expected ErrMutationInFlight, got %v", err)
	}
	runner.Reset()
	if runner.Status() != StatusPending {
		t.Fatalf("reset must not clear a pending mutation")
	}

	close(client.gate)
	if err := <-done; err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if client.callCount() != 1 {
		t.Fatalf("expected exactly one client call, got %d", client.callCount())
	}
}

func TestDetachedRunnerStillUpdatesCacheWithoutNotifying(t *testing.T) {
	client := &stubClient{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	store := &recordingCache{}
	recorder := &notify.Recorder{}
	runner := newTestRunner(t, client, store, recorder)

	done := make(chan error, 1)
	go func() {
		done <- runner.Delete(context.Background(), 8)
	}()
	<-client.entered
	runner.Detach()
	close(client.gate)

	if err := <-done; err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !equalEvents(store.recorded(), []string{"remove notes/8", "invalidate notes"}) {
		t.Fatalf("unexpected cache events %v", store.recorded())
	}
	if len(recorder.Notifications()) != 0 {
		t.Fatalf("expected no notifications after detach, got %#v", recorder.Notifications())
	}
}

type noteSource struct {
	mu    sync.Mutex
	notes map[uint64]model.Note
}

func (s *noteSource) List(ctx context.Context) ([]model.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	notes := make([]model.Note, 0, len(s.notes))
	for _, note := range s.notes {
		notes = append(notes, note)
	}
	return notes, nil
}

func (s *noteSource) Get(ctx context.Context, id uint64) (model.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.notes[id]
	if !ok {
		return model.Note{}, &resource.NotFoundError{Kind: model.KindNotes, ID: id}
	}
	return note, nil
}

func TestDeleteAgainstStoreTellsItemSubscribers(t *testing.T) {
	source := &noteSource{notes: map[uint64]model.Note{1: {ID: 1, Title: "Bio"}, 2: {ID: 2, Title: "Chem"}}}
	store := cache.New(cache.Config{})
	cache.Register[model.Note](store, model.KindNotes, source)
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	removed := make(chan cache.Entry, 1)
	itemSubscription, _, err := store.Subscribe(cache.ItemKey(model.KindNotes, 1), func(entry cache.Entry) {
		if entry.Removed {
			removed <- entry
		}
	})
	if err != nil {
		t.Fatalf("subscribe item: %v", err)
	}
	defer itemSubscription.Release()
	listSubscription, _, err := store.Subscribe(cache.CollectionKey(model.KindNotes), nil)
	if err != nil {
		t.Fatalf("subscribe list: %v", err)
	}
	defer listSubscription.Release()
	if _, _, err := store.Await(ctx, cache.CollectionKey(model.KindNotes)); err != nil {
		t.Fatalf("await list: %v", err)
	}

	client := &stubClient{}
	runner := newTestRunner(t, client, store, &notify.Recorder{})
	source.mu.Lock()
	delete(source.notes, 1)
	source.mu.Unlock()
	if err := runner.Delete(ctx, 1); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	select {
	case entry := <-removed:
		if entry.Key != cache.ItemKey(model.KindNotes, 1) {
			t.Fatalf("unexpected removed key %s", entry.Key)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for removal broadcast")
	}

	entry, ok, err := store.Await(ctx, cache.CollectionKey(model.KindNotes))
	if err != nil || !ok {
		t.Fatalf("await list after delete: ok=%v err=%v", ok, err)
	}
	notes, _, _ := cache.ValueAs[[]model.Note](entry)
	if len(notes) != 1 || notes[0].ID != 2 {
		t.Fatalf("expected only note 2 after refetch, got %#v", notes)
	}
}
