// Package resource issues typed HTTP requests against the study resource API.
package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	apiPrefix          = "/api/"
	headerRequestID    = "X-Request-ID"
	maxErrorBodyBytes  = 64 << 10
	maxRecordBodyBytes = 16 << 20
	defaultHTTPTimeout = 15 * time.Second
)

var (
	errMissingBaseURL = errors.New("resource: base url is required")
	errInvalidBaseURL = errors.New("resource: base url must be absolute")
)

// ConnConfig configures the HTTP connection shared by every resource kind.
type ConnConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	// RequestsPerSecond throttles outgoing requests; zero disables throttling.
	RequestsPerSecond float64
	Logger            *zap.Logger
}

// Conn holds the transport state shared by typed clients.
type Conn struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewConn validates the configuration and returns a Conn.
func NewConn(cfg ConnConfig) (*Conn, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errMissingBaseURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("resource: parse base url: %w", err)
	}
	if !parsed.IsAbs() {
		return nil, errInvalidBaseURL
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Conn{
		baseURL:    parsed,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
	}, nil
}

// BaseURL returns the API origin the connection targets.
func (c *Conn) BaseURL() string {
	return c.baseURL.String()
}

// Token returns the bearer token attached to requests.
func (c *Conn) Token() string {
	return c.token
}

// HTTPClient exposes the underlying client for long-lived streams.
func (c *Conn) HTTPClient() *http.Client {
	return c.httpClient
}

// Client issues requests for one resource kind.
// T is the record type, C the create payload and U the partial update payload.
type Client[T model.Record, C any, U any] struct {
	conn *Conn
	kind model.Kind
}

// NewClient binds a typed client for kind to conn.
func NewClient[T model.Record, C any, U any](conn *Conn, kind model.Kind) *Client[T, C, U] {
	return &Client[T, C, U]{conn: conn, kind: kind}
}

// Kind returns the resource kind served by the client.
func (c *Client[T, C, U]) Kind() model.Kind {
	return c.kind
}

// List fetches the whole collection.
func (c *Client[T, C, U]) List(ctx context.Context) ([]T, error) {
	operation := c.operation("list")
	response, err := c.do(ctx, operation, http.MethodGet, c.collectionPath(), nil)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if !isSuccess(response.StatusCode) {
		return nil, c.failure(operation, response, 0, false, false)
	}

	var records []T
	if err := decodeBody(response.Body, &records); err != nil {
		return nil, &ServerError{Operation: operation, Status: response.StatusCode, Message: "malformed collection body"}
	}
	if records == nil {
		records = []T{}
	}
	for _, record := range records {
		if record.RecordID() == 0 {
			return nil, &ServerError{Operation: operation, Status: response.StatusCode, Message: "record without id"}
		}
	}
	return records, nil
}

// Get fetches one record.
func (c *Client[T, C, U]) Get(ctx context.Context, id uint64) (T, error) {
	operation := c.operation("get")
	response, err := c.do(ctx, operation, http.MethodGet, c.itemPath(id), nil)
	if err != nil {
		var zero T
		return zero, err
	}
	defer response.Body.Close()
	return c.decodeRecord(operation, response, id, true, false)
}

// Create posts a new record and returns the stored copy.
func (c *Client[T, C, U]) Create(ctx context.Context, payload C) (T, error) {
	operation := c.operation("create")
	response, err := c.do(ctx, operation, http.MethodPost, c.collectionPath(), payload)
	if err != nil {
		var zero T
		return zero, err
	}
	defer response.Body.Close()
	return c.decodeRecord(operation, response, 0, false, true)
}

// Update applies a partial update and returns the stored copy.
func (c *Client[T, C, U]) Update(ctx context.Context, id uint64, patch U) (T, error) {
	operation := c.operation("update")
	response, err := c.do(ctx, operation, http.MethodPatch, c.itemPath(id), patch)
	if err != nil {
		var zero T
		return zero, err
	}
	defer response.Body.Close()
	return c.decodeRecord(operation, response, id, true, true)
}

// Delete removes a record.
func (c *Client[T, C, U]) Delete(ctx context.Context, id uint64) error {
	operation := c.operation("delete")
	response, err := c.do(ctx, operation, http.MethodDelete, c.itemPath(id), nil)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if !isSuccess(response.StatusCode) {
		return c.failure(operation, response, id, true, false)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxErrorBodyBytes))
	return nil
}

func (c *Client[T, C, U]) decodeRecord(operation string, response *http.Response, id uint64, hasID, payload bool) (T, error) {
	var record T
	if !isSuccess(response.StatusCode) {
		return record, c.failure(operation, response, id, hasID, payload)
	}
	if err := decodeBody(response.Body, &record); err != nil {
		return record, &ServerError{Operation: operation, Status: response.StatusCode, Message: "malformed record body"}
	}
	if record.RecordID() == 0 || (hasID && record.RecordID() != id) {
		var zero T
		return zero, &ServerError{Operation: operation, Status: response.StatusCode, Message: "unexpected record id"}
	}
	return record, nil
}

// failure maps a non-success response. Only requests that carried a payload can be rejected
// as invalid; a 400 on a read or delete is a server failure.
func (c *Client[T, C, U]) failure(operation string, response *http.Response, id uint64, hasID, payload bool) error {
	message := readErrorMessage(response.Body)
	switch {
	case response.StatusCode == http.StatusNotFound && hasID:
		return &NotFoundError{Kind: c.kind, ID: id}
	case payload && (response.StatusCode == http.StatusBadRequest || response.StatusCode == http.StatusUnprocessableEntity):
		if message == "" {
			message = "invalid " + c.kind.Singular()
		}
		return &ValidationError{Message: message}
	default:
		return &ServerError{Operation: operation, Status: response.StatusCode, Message: message}
	}
}

func (c *Client[T, C, U]) do(ctx context.Context, operation, method, path string, body any) (*http.Response, error) {
	if c.conn.limiter != nil {
		if err := c.conn.limiter.Wait(ctx); err != nil {
			return nil, &NetworkError{Operation: operation, Err: err}
		}
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, &ValidationError{Local: true, Message: "payload could not be encoded", Cause: err}
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.conn.baseURL.String()+path, reader)
	if err != nil {
		return nil, &NetworkError{Operation: operation, Err: err}
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.conn.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.conn.token)
	}
	requestID := newRequestID()
	if requestID != "" {
		request.Header.Set(headerRequestID, requestID)
	}

	started := time.Now()
	response, err := c.conn.httpClient.Do(request)
	if err != nil {
		c.conn.logger.Debug("resource request failed",
			zap.String("operation", operation),
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, &NetworkError{Operation: operation, Err: err}
	}
	c.conn.logger.Debug("resource request completed",
		zap.String("operation", operation),
		zap.String("request_id", requestID),
		zap.Int("status", response.StatusCode),
		zap.Duration("duration", time.Since(started)))
	return response, nil
}

func (c *Client[T, C, U]) operation(verb string) string {
	return "resource." + c.kind.String() + "." + verb
}

func (c *Client[T, C, U]) collectionPath() string {
	return apiPrefix + c.kind.String()
}

func (c *Client[T, C, U]) itemPath(id uint64) string {
	return apiPrefix + c.kind.String() + "/" + strconv.FormatUint(id, 10)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func decodeBody(body io.Reader, target any) error {
	decoder := json.NewDecoder(io.LimitReader(body, maxRecordBodyBytes))
	return decoder.Decode(target)
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBodyBytes))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var payload errorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}

func newRequestID() string {
	value, err := uuid.NewV7()
	if err != nil {
		return ""
	}
	return value.String()
}
