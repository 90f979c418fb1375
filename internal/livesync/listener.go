// Package livesync consumes the server's change stream and turns every announced write into
// the same targeted cache invalidations a local mutation performs.
package livesync

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studytrack/internal/cache"
	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
	"github.com/MarcoPoloResearchLab/studytrack/internal/resource"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	eventsPath       = "/api/events"
	defaultBackoff   = 2 * time.Second
	maxEventLineSize = 1 << 20
)

var (
	errMissingConn  = errors.New("livesync: connection is required")
	errMissingCache = errors.New("livesync: cache is required")

	// ErrUnauthorized is returned by Run when the server rejects the token; retrying cannot help.
	ErrUnauthorized = errors.New("livesync: event stream rejected the access token")
)

// Cache is the subset of the cache store the listener drives.
type Cache interface {
	Invalidate(key cache.Key) bool
	Remove(key cache.Key) bool
}

// Config configures a Listener.
type Config struct {
	Conn  *resource.Conn
	Cache Cache
	// Backoff is the fixed delay between reconnect attempts.
	Backoff time.Duration
	Logger  *zap.Logger
	// OnConnect runs each time the stream is established.
	OnConnect func()
}

// Listener follows /api/events and applies every resource-change event to the cache.
type Listener struct {
	conn      *resource.Conn
	cache     Cache
	client    *http.Client
	backoff   time.Duration
	logger    *zap.Logger
	onConnect func()
}

// New validates cfg and returns a Listener.
func New(cfg Config) (*Listener, error) {
	if cfg.Conn == nil {
		return nil, errMissingConn
	}
	if cfg.Cache == nil {
		return nil, errMissingCache
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// The stream outlives any request timeout configured for resource calls.
	streamClient := *cfg.Conn.HTTPClient()
	streamClient.Timeout = 0

	return &Listener{
		conn:      cfg.Conn,
		cache:     cfg.Cache,
		client:    &streamClient,
		backoff:   backoff,
		logger:    logger,
		onConnect: cfg.OnConnect,
	}, nil
}

// Run follows the stream until ctx is done, reconnecting after every failure.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.follow(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrUnauthorized) {
			l.logger.Error("change stream stopped", zap.Error(err))
			return err
		}
		l.logger.Warn("change stream interrupted",
			zap.Error(err),
			zap.Duration("retry_in", l.backoff))

		timer := time.NewTimer(l.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (l *Listener) follow(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, l.conn.BaseURL()+eventsPath, http.NoBody)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "text/event-stream")
	request.Header.Set("Cache-Control", "no-cache")
	if token := l.conn.Token(); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if requestID, idErr := uuid.NewV7(); idErr == nil {
		request.Header.Set("X-Request-ID", requestID.String())
	}

	response, err := l.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case response.StatusCode != http.StatusOK:
		return fmt.Errorf("livesync: unexpected status %d", response.StatusCode)
	}

	l.logger.Debug("change stream connected")
	if l.onConnect != nil {
		l.onConnect()
	}

	err = readEvents(response.Body, l.handle)
	if err == nil {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (l *Listener) handle(event, data string) {
	if event != model.EventResourceChange {
		return
	}
	var change model.Change
	if err := json.Unmarshal([]byte(data), &change); err != nil {
		l.logger.Warn("discarding malformed change event", zap.Error(err))
		return
	}
	if _, err := model.ParseKind(change.Kind.String()); err != nil {
		l.logger.Debug("discarding change of unknown kind", zap.String("kind", change.Kind.String()))
		return
	}
	l.logger.Debug("change received",
		zap.String("kind", change.Kind.String()),
		zap.String("op", string(change.Op)),
		zap.Uint64s("ids", change.IDs))
	Apply(l.cache, change)
}

// Apply performs the cache effects of a committed change. Created records invalidate the
// collection, updated records invalidate their item and the collection, and deleted records
// drop their item before invalidating the collection.
func Apply(target Cache, change model.Change) {
	collection := cache.CollectionKey(change.Kind)
	switch change.Op {
	case model.ChangeCreated:
	case model.ChangeUpdated:
		for _, id := range change.IDs {
			target.Invalidate(cache.ItemKey(change.Kind, id))
		}
	case model.ChangeDeleted:
		for _, id := range change.IDs {
			target.Remove(cache.ItemKey(change.Kind, id))
		}
	default:
		return
	}
	target.Invalidate(collection)
}

// readEvents parses a text/event-stream body and calls dispatch for every complete event.
// It returns nil when the body ends cleanly.
func readEvents(body io.Reader, dispatch func(event, data string)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), maxEventLineSize)

	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 {
				name := event
				if name == "" {
					name = "message"
				}
				dispatch(name, strings.Join(data, "\n"))
			}
			event = ""
			data = data[:0]
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	return scanner.Err()
}
