package app

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/auth"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/idempotency"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/logging"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/metrics"
)

const (
	callerIDKey       = "callerID"
	anchorsSegment    = "anchors"
	searchSegment     = "search"
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
)

type idempotencyStore interface {
	Reserve(ctx context.Context, scope string) (*idempotency.Response, error)
	Complete(ctx context.Context, scope string, resp idempotency.Response) error
	Release(ctx context.Context, scope string) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// HTTPConfig carries the optional collaborators of the HTTP layer. Zero
// values disable the matching feature.
type HTTPConfig struct {
	CORSOrigin  string
	JWTSecret   []byte
	SyncRate    rate.Limit
	SyncBurst   int
	Idempotency idempotencyStore
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
}

type HTTPServer struct {
	service     *Service
	corsOrigin  string
	jwtSecret   []byte
	idempotency idempotencyStore
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	logger      *zap.Logger
	limiter     *callerLimiter
}

func NewHTTPServer(service *Service, cfg HTTPConfig) *HTTPServer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	return &HTTPServer{
		service:     service,
		corsOrigin:  corsOrigin,
		jwtSecret:   cfg.JWTSecret,
		idempotency: cfg.Idempotency,
		metrics:     cfg.Metrics,
		gatherer:    gatherer,
		logger:      logger,
		limiter:     newCallerLimiter(cfg.SyncRate, cfg.SyncBurst),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.router()
}

func (s *HTTPServer) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestContext())
	r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, CodeNotFound, "Not found", nil)
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.HEAD("/health", s.handleHealth)
	api.GET("/ready", s.handleReady)

	docs := api.Group("/documents/:id", s.requireCaller())
	{
		docs.PUT("/size", s.handleSetDocumentSize)
		docs.GET("/threads", s.handleListThreads)
		docs.POST("/threads", s.idempotent(), s.handleCreateThread)
		docs.GET("/threads/:threadId", s.handleGetThread)
		docs.PATCH("/threads/:threadId", s.handlePatchThread)
		docs.DELETE("/threads/:threadId", s.handleDeleteThread)
		docs.POST("/threads/:threadId/comments", s.idempotent(), s.handleCreateComment)
		docs.PATCH("/threads/:threadId/comments/:commentId", s.handleUpdateComment)
		docs.DELETE("/threads/:threadId/comments/:commentId", s.handleDeleteComment)
	}
	return r
}

func (s *HTTPServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *HTTPServer) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := gin.H{}

	probes := map[string]pinger{"database": s.service}
	if p, ok := s.idempotency.(pinger); ok {
		probes["redis"] = p
	}
	for name, probe := range probes {
		if err := probe.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = gin.H{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = gin.H{"status": "ok"}
	}

	c.JSON(statusCode, gin.H{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleListThreads(c *gin.Context) {
	threads, err := s.service.ListThreads(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

func (s *HTTPServer) handleCreateThread(c *gin.Context) {
	var body CreateThreadInput
	if !s.bind(c, &body) {
		return
	}
	body.DocumentID = c.Param("id")
	body.CallerID = callerID(c)
	thread, err := s.service.CreateThread(c.Request.Context(), body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"thread": thread})
}

// handleGetThread serves both a single thread and the comment search, which
// shares the /threads/:threadId segment.
func (s *HTTPServer) handleGetThread(c *gin.Context) {
	if c.Param("threadId") == searchSegment {
		s.handleSearch(c)
		return
	}
	thread, err := s.service.GetThread(c.Request.Context(), c.Param("id"), c.Param("threadId"), callerID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread": thread})
}

func (s *HTTPServer) handleSearch(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	resp, err := s.service.SearchComments(c.Request.Context(), SearchInput{
		DocumentID: c.Param("id"),
		CallerID:   callerID(c),
		Text:       c.Query("q"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) handlePatchThread(c *gin.Context) {
	if c.Param("threadId") == anchorsSegment {
		s.handleSyncAnchors(c)
		return
	}
	var body UpdateThreadInput
	if !s.bind(c, &body) {
		return
	}
	thread, err := s.service.UpdateThread(c.Request.Context(), c.Param("id"), c.Param("threadId"), callerID(c), body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread": thread})
}

func (s *HTTPServer) handleSyncAnchors(c *gin.Context) {
	caller := callerID(c)
	if !s.limiter.Allow(caller) {
		s.fail(c, errRateLimited())
		return
	}
	var body UpdateAnchorsInput
	if !s.bind(c, &body) {
		return
	}
	body.DocumentID = c.Param("id")
	body.CallerID = caller
	result, err := s.service.UpdateThreadAnchors(c.Request.Context(), body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "updated": result.Updated, "skipped": result.Skipped})
}

func (s *HTTPServer) handleDeleteThread(c *gin.Context) {
	if err := s.service.DeleteThread(c.Request.Context(), c.Param("id"), c.Param("threadId"), callerID(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *HTTPServer) handleCreateComment(c *gin.Context) {
	var body CreateCommentInput
	if !s.bind(c, &body) {
		return
	}
	body.DocumentID = c.Param("id")
	body.ThreadID = c.Param("threadId")
	body.CallerID = callerID(c)
	comment, err := s.service.CreateComment(c.Request.Context(), body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"comment": comment})
}

func (s *HTTPServer) handleUpdateComment(c *gin.Context) {
	var body UpdateCommentInput
	if !s.bind(c, &body) {
		return
	}
	body.DocumentID = c.Param("id")
	body.ThreadID = c.Param("threadId")
	body.CommentID = c.Param("commentId")
	body.CallerID = callerID(c)
	comment, err := s.service.UpdateComment(c.Request.Context(), body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comment": comment})
}

func (s *HTTPServer) handleDeleteComment(c *gin.Context) {
	err := s.service.DeleteComment(c.Request.Context(), DeleteCommentInput{
		DocumentID: c.Param("id"),
		ThreadID:   c.Param("threadId"),
		CommentID:  c.Param("commentId"),
		CallerID:   callerID(c),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *HTTPServer) handleSetDocumentSize(c *gin.Context) {
	var body struct {
		Size *int `json:"size"`
	}
	if !s.bind(c, &body) {
		return
	}
	if body.Size == nil {
		s.fail(c, errInvalidSize(-1))
		return
	}
	if err := s.service.SetDocumentSize(c.Request.Context(), c.Param("id"), callerID(c), *body.Size); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "size": *body.Size})
}

// requestContext assigns the request id, answers CORS preflights, and records
// the access log line and request metrics.
func (s *HTTPServer) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), requestID))
		setCORSHeaders(c.Writer.Header(), s.corsOrigin)
		c.Header("X-Request-ID", requestID)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		started := time.Now()
		if s.metrics != nil {
			s.metrics.InFlight.Inc()
			defer s.metrics.InFlight.Dec()
		}

		c.Next()

		status := c.Writer.Status()
		elapsed := time.Since(started)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if s.metrics != nil {
			s.metrics.RequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(status)).Inc()
			s.metrics.ReqDuration.WithLabelValues(route, c.Request.Method).Observe(elapsed.Seconds())
		}
		s.logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	}
}

func (s *HTTPServer) requireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		if token == "" {
			s.fail(c, errUnauthorized())
			return
		}
		claims, err := auth.ParseToken(s.jwtSecret, token)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.Set(callerIDKey, claims.Subject)
		c.Next()
	}
}

// idempotent replays the stored response of an earlier request that carried
// the same Idempotency-Key from the same caller on the same route. Requests
// without a key, or servers without a store, pass straight through.
func (s *HTTPServer) idempotent() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(idempotencyHeader))
		if s.idempotency == nil || key == "" {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		scope := auth.HashToken(callerID(c) + "\n" + c.Request.Method + " " + c.Request.URL.Path + "\n" + key)

		stored, err := s.idempotency.Reserve(ctx, scope)
		switch {
		case errors.Is(err, idempotency.ErrInProgress):
			s.fail(c, errIdempotencyInProgress())
			return
		case err != nil:
			logging.FromContext(ctx, s.logger).Warn("idempotency reserve failed", zap.Error(err))
			c.Next()
			return
		case stored != nil:
			if s.metrics != nil {
				s.metrics.IdempotentHits.Inc()
			}
			c.Header(replayedHeader, "true")
			c.Data(stored.Status, "application/json; charset=utf-8", stored.Body)
			c.Abort()
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		// the client may already be gone; the outcome must still be recorded
		bg := context.WithoutCancel(ctx)
		status := recorder.Status()
		if status < 200 || status >= 300 {
			if err := s.idempotency.Release(bg, scope); err != nil {
				logging.FromContext(ctx, s.logger).Warn("idempotency release failed", zap.Error(err))
			}
			return
		}
		resp := idempotency.Response{Status: status, Body: bytes.Clone(recorder.body.Bytes())}
		if err := s.idempotency.Complete(bg, scope, resp); err != nil {
			logging.FromContext(ctx, s.logger).Warn("idempotency complete failed", zap.Error(err))
		}
	}
}

type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *bodyRecorder) Write(data []byte) (int, error) {
	r.body.Write(data)
	return r.ResponseWriter.Write(data)
}

func (r *bodyRecorder) WriteString(data string) (int, error) {
	r.body.WriteString(data)
	return r.ResponseWriter.WriteString(data)
}

// callerLimiter hands out one token bucket per caller. Idle buckets are
// dropped once the map grows past pruneAbove.
type callerLimiter struct {
	mu         sync.Mutex
	limit      rate.Limit
	burst      int
	buckets    map[string]*limiterEntry
	pruneAbove int
	idleAfter  time.Duration
	now        func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newCallerLimiter(limit rate.Limit, burst int) *callerLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &callerLimiter{
		limit:      limit,
		burst:      burst,
		buckets:    make(map[string]*limiterEntry),
		pruneAbove: 1024,
		idleAfter:  10 * time.Minute,
		now:        time.Now,
	}
}

// Allow reports whether caller may sync now. A zero limit disables limiting.
func (l *callerLimiter) Allow(caller string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.buckets[caller]
	if !ok {
		if len(l.buckets) >= l.pruneAbove {
			l.pruneLocked(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[caller] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *callerLimiter) pruneLocked(now time.Time) {
	for caller, entry := range l.buckets {
		if now.Sub(entry.lastSeen) > l.idleAfter {
			delete(l.buckets, caller)
		}
	}
}

func callerID(c *gin.Context) string {
	return c.GetString(callerIDKey)
}

// bind decodes the JSON body into target. An empty body leaves target at its
// zero value.
func (s *HTTPServer) bind(c *gin.Context, target any) bool {
	if err := c.ShouldBindJSON(target); err != nil && !errors.Is(err, io.EOF) {
		s.fail(c, errInvalidBody(err))
		return false
	}
	return true
}

func (s *HTTPServer) fail(c *gin.Context, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(c.Request.Context(), s.logger).Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
	writeError(c, status, code, message, details)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, Idempotency-Key")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeError(c *gin.Context, status int, code, message string, details any) {
	response := gin.H{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	c.AbortWithStatusJSON(status, response)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}
