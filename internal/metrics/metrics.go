// Package metrics exposes Prometheus instrumentation for the sync client and the API server.
//
// Every collector is registered on the Registerer handed to the constructor, so tests and
// embedded clients can use an isolated prometheus.Registry instead of the global one.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/studytrack/internal/cache"
	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
	"github.com/MarcoPoloResearchLab/studytrack/internal/mutation"
	"github.com/MarcoPoloResearchLab/studytrack/internal/resource"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsNamespace = "studytrack"
	clientSubsystem  = "client"
	serverSubsystem  = "server"

	scopeCollection = "collection"
	scopeItem       = "item"

	outcomeSuccess = "success"
	unmatchedRoute = "unmatched"
)

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Client records cache and mutation activity. It implements cache.Observer and mutation.Observer.
type Client struct {
	fetchesStarted   *prometheus.CounterVec
	fetchesCoalesced *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	invalidations    *prometheus.CounterVec
	removals         *prometheus.CounterVec
	mutations        *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec
}

var (
	_ cache.Observer    = (*Client)(nil)
	_ mutation.Observer = (*Client)(nil)
)

// NewClient registers the client collectors on registerer.
func NewClient(registerer prometheus.Registerer) *Client {
	factory := promauto.With(registerer)
	return &Client{
		fetchesStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: clientSubsystem,
			Name:      "fetches_started_total",
			Help:      "Network fetches started by the cache, by kind and key scope",
		}, []string{"kind", "scope"}),
		fetchesCoalesced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: clientSubsystem,
			Name:      "fetches_coalesced_total",
			Help:      "Subscriptions that joined a fetch already in flight",
		}, []string{"kind", "scope"}),
		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: clientSubsystem,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of settled cache fetches by outcome",
			Buckets:   latencyBuckets,
		}, []string{"kind", "scope", "outcome"}),
		invalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: clientSubsystem,
			Name:      "invalidations_total",
			Help:      "Cache invalidations of existing entries",
		}, []string{"kind", "scope"}),
		removals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: clientSubsystem,
			Name:      "removals_total",
			Help:      "Cache entries removed or evicted",
		}, []string{"kind", "scope"}),
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: clientSubsystem,
			Name:      "mutations_total",
			Help:      "Settled mutations by kind, intent and status",
		}, []string{"kind", "intent", "status"}),
		mutationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: clientSubsystem,
			Name:      "mutation_duration_seconds",
			Help:      "Duration of mutations that reached the server",
			Buckets:   latencyBuckets,
		}, []string{"kind", "intent"}),
	}
}

func (c *Client) FetchStarted(key cache.Key) {
	c.fetchesStarted.WithLabelValues(keyLabels(key)...).Inc()
}

func (c *Client) FetchCoalesced(key cache.Key) {
	c.fetchesCoalesced.WithLabelValues(keyLabels(key)...).Inc()
}

func (c *Client) FetchSettled(key cache.Key, err error, elapsed time.Duration) {
	labels := append(keyLabels(key), fetchOutcome(err))
	c.fetchDuration.WithLabelValues(labels...).Observe(elapsed.Seconds())
}

func (c *Client) Invalidated(key cache.Key) {
	c.invalidations.WithLabelValues(keyLabels(key)...).Inc()
}

func (c *Client) Removed(key cache.Key) {
	c.removals.WithLabelValues(keyLabels(key)...).Inc()
}

func (c *Client) MutationSettled(kind model.Kind, intent mutation.Intent, status mutation.Status, elapsed time.Duration) {
	c.mutations.WithLabelValues(kind.String(), string(intent), status.String()).Inc()
	// Locally rejected mutations never reach the server.
	if elapsed > 0 {
		c.mutationDuration.WithLabelValues(kind.String(), string(intent)).Observe(elapsed.Seconds())
	}
}

func keyLabels(key cache.Key) []string {
	scope := scopeCollection
	if key.IsItem() {
		scope = scopeItem
	}
	return []string{key.Kind().String(), scope}
}

func fetchOutcome(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, resource.ErrNotFound):
		return "not_found"
	case errors.Is(err, resource.ErrNetwork):
		return "network_error"
	case errors.Is(err, resource.ErrServer):
		return "server_error"
	default:
		return "error"
	}
}

// Server records HTTP traffic and realtime fan-out of the API server.
type Server struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	openStreams     prometheus.Gauge
	changes         *prometheus.CounterVec
}

// NewServer registers the server collectors on registerer.
func NewServer(registerer prometheus.Registerer) *Server {
	factory := promauto.With(registerer)
	return &Server{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: serverSubsystem,
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: serverSubsystem,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   latencyBuckets,
		}, []string{"method", "route"}),
		openStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: serverSubsystem,
			Name:      "event_streams_open",
			Help:      "Connected resource change streams",
		}),
		changes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: serverSubsystem,
			Name:      "changes_published_total",
			Help:      "Resource change events published to subscribers",
		}, []string{"kind", "op"}),
	}
}

// Middleware observes every request. Routes are labelled by their registered pattern.
func (s *Server) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method
		s.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		s.requestDuration.WithLabelValues(method, route).Observe(time.Since(started).Seconds())
	}
}

// StreamOpened marks a connected event stream.
func (s *Server) StreamOpened() {
	s.openStreams.Inc()
}

// StreamClosed marks a disconnected event stream.
func (s *Server) StreamClosed() {
	s.openStreams.Dec()
}

// ChangePublished counts one published resource change.
func (s *Server) ChangePublished(kind model.Kind, op string) {
	s.changes.WithLabelValues(kind.String(), op).Inc()
}

// Handler serves the collectors gathered by gatherer in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
