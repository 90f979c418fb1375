package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studytrack/internal/metrics"
	"github.com/MarcoPoloResearchLab/studytrack/internal/study"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	userIDContextKey         = "studytrack_user_id"
	requestIDHeader          = "X-Request-ID"
	accessTokenQueryKey      = "access_token"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingStudyService   = errors.New("study service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator resolves a bearer token to the acting user id.
type TokenValidator interface {
	ValidateToken(token string) (uint64, error)
}

type Dependencies struct {
	Tokens   TokenValidator
	Study    *study.Service
	Realtime *RealtimeDispatcher
	// Metrics instruments requests and event streams when set.
	Metrics *metrics.Server
	// MetricsHandler is served on /metrics when set.
	MetricsHandler    http.Handler
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Study == nil {
		return nil, errMissingStudyService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		tokens:    deps.Tokens,
		realtime:  realtime,
		metrics:   deps.Metrics,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.GET("/events", handler.handleEvents)
	registerResource(protected, handler, deps.Study.Notes())
	registerResource(protected, handler, deps.Study.Decks())
	registerResource(protected, handler, deps.Study.Flashcards())
	registerResource(protected, handler, deps.Study.Homeworks())
	registerResource(protected, handler, deps.Study.TopicSearches())

	return router, nil
}

type httpHandler struct {
	tokens    TokenValidator
	realtime  *RealtimeDispatcher
	metrics   *metrics.Server
	heartbeat time.Duration
	logger    *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:     []string{"Authorization", "Content-Type", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

// requestLogger tags each request with an id and logs it once it completes.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		started := time.Now()
		c.Next()

		logger.Debug("http request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(started)))
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", errInvalidAuthorization.Error()))
		return
	}
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "access token is invalid or expired"))
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

// bearerToken reads the Authorization header, falling back to the access_token query
// parameter for event stream clients that cannot set headers.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return "", false
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		return token, token != ""
	}
	token := strings.TrimSpace(c.Query(accessTokenQueryKey))
	return token, token != ""
}

func currentUserID(c *gin.Context) uint64 {
	value, ok := c.Get(userIDContextKey)
	if !ok {
		return 0
	}
	userID, _ := value.(uint64)
	return userID
}

func errorBody(code, message string) gin.H {
	return gin.H{"error": code, "message": message}
}
