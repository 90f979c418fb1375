// Package studysync assembles the client-side synchronization stack: one cache store shared by
// typed per-kind kits, plus the optional background loops that keep it fresh.
package studysync

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/studytrack/internal/cache"
	"github.com/MarcoPoloResearchLab/studytrack/internal/livesync"
	"github.com/MarcoPoloResearchLab/studytrack/internal/metrics"
	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
	"github.com/MarcoPoloResearchLab/studytrack/internal/mutation"
	"github.com/MarcoPoloResearchLab/studytrack/internal/resource"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrSessionClosed is returned by Run once the session has been closed.
var ErrSessionClosed = errors.New("studysync: session closed")

// Config configures a Session.
type Config struct {
	BaseURL string
	Token   string
	// HTTPClient overrides the transport; Timeout is ignored when it is set.
	HTTPClient        *http.Client
	Timeout           time.Duration
	RequestsPerSecond float64

	FetchTimeout       time.Duration
	RevalidateInterval time.Duration
	Retention          time.Duration
	LiveUpdates        bool
	LiveBackoff        time.Duration

	// Registerer receives the client collectors when set.
	Registerer prometheus.Registerer
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Session owns the cache store and the per-kind kits built on it. Create one per process
// with New and release it with Close.
type Session struct {
	conn   *resource.Conn
	store  *cache.Store
	logger *zap.Logger
	clock  func() time.Time

	mutationObserver mutation.Observer
	revalidate       time.Duration
	retention        time.Duration
	live             *livesync.Listener

	notes         *Kit[model.Note, model.NoteInput, model.NotePatch]
	decks         *Kit[model.Deck, model.DeckInput, model.DeckPatch]
	flashcards    *Kit[model.Flashcard, model.FlashcardInput, model.FlashcardPatch]
	homeworks     *Kit[model.Homework, model.HomeworkInput, model.HomeworkPatch]
	topicSearches *Kit[model.TopicSearch, model.TopicSearchInput, model.TopicSearchPatch]

	closeOnce sync.Once
	closed    chan struct{}
}

// New connects the resource clients of every kind to a fresh cache store.
func New(cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil && cfg.Timeout > 0 {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	conn, err := resource.NewConn(resource.ConnConfig{
		BaseURL:           cfg.BaseURL,
		Token:             cfg.Token,
		HTTPClient:        httpClient,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            logger.Named("resource"),
	})
	if err != nil {
		return nil, err
	}

	storeConfig := cache.Config{
		Logger:       logger.Named("cache"),
		Clock:        clock,
		FetchTimeout: cfg.FetchTimeout,
	}
	session := &Session{
		conn:       conn,
		logger:     logger,
		clock:      clock,
		revalidate: cfg.RevalidateInterval,
		retention:  cfg.Retention,
		closed:     make(chan struct{}),
	}
	if cfg.Registerer != nil {
		collectors := metrics.NewClient(cfg.Registerer)
		storeConfig.Observer = collectors
		session.mutationObserver = collectors
	}
	session.store = cache.New(storeConfig)

	session.notes = newKit[model.Note, model.NoteInput, model.NotePatch](session, model.KindNotes)
	session.decks = newKit[model.Deck, model.DeckInput, model.DeckPatch](session, model.KindDecks)
	session.flashcards = newKit[model.Flashcard, model.FlashcardInput, model.FlashcardPatch](session, model.KindFlashcards)
	session.homeworks = newKit[model.Homework, model.HomeworkInput, model.HomeworkPatch](session, model.KindHomeworks)
	session.topicSearches = newKit[model.TopicSearch, model.TopicSearchInput, model.TopicSearchPatch](session, model.KindTopicSearches)

	if cfg.LiveUpdates {
		live, err := livesync.New(livesync.Config{
			Conn:    conn,
			Cache:   session.store,
			Backoff: cfg.LiveBackoff,
			Logger:  logger.Named("livesync"),
		})
		if err != nil {
			session.store.Close()
			return nil, err
		}
		session.live = live
	}

	return session, nil
}

// Store exposes the shared cache store.
func (s *Session) Store() *cache.Store {
	return s.store
}

func (s *Session) Notes() *Kit[model.Note, model.NoteInput, model.NotePatch] {
	return s.notes
}

func (s *Session) Decks() *Kit[model.Deck, model.DeckInput, model.DeckPatch] {
	return s.decks
}

func (s *Session) Flashcards() *Kit[model.Flashcard, model.FlashcardInput, model.FlashcardPatch] {
	return s.flashcards
}

func (s *Session) Homeworks() *Kit[model.Homework, model.HomeworkInput, model.HomeworkPatch] {
	return s.homeworks
}

func (s *Session) TopicSearches() *Kit[model.TopicSearch, model.TopicSearchInput, model.TopicSearchPatch] {
	return s.topicSearches
}

// Run drives the enabled background loops until ctx is done or the session is closed.
// With every loop disabled it simply waits.
func (s *Session) Run(ctx context.Context) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return cache.RunRevalidation(groupCtx, s.store, s.revalidate)
	})
	group.Go(func() error {
		return cache.RunEviction(groupCtx, s.store, s.retention)
	})
	if s.live != nil {
		group.Go(func() error {
			return s.live.Run(groupCtx)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})

	s.logger.Debug("sync session running",
		zap.Duration("revalidate_interval", s.revalidate),
		zap.Duration("retention", s.retention),
		zap.Bool("live_updates", s.live != nil))
	return group.Wait()
}

// Close stops background loops and releases the cache store.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.store.Close()
	})
}
