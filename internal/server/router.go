package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/pds/internal/notebook"
	"github.com/MarcoPoloResearchLab/pds/internal/snowflake"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	subjectContextKey   = "pds_subject"
	requestIDContextKey = "pds_request_id"
	requestIDHeader     = "X-Request-ID"

	defaultHeartbeatInterval = 25 * time.Second
	timestampLayout          = "2006-01-02T15:04:05.000Z07:00"
)

var (
	errMissingNotebook    = errors.New("notebook dependency required")
	errMissingIDGenerator = errors.New("id generator dependency required")
)

// RequestValidator authenticates an incoming request.
type RequestValidator interface {
	ValidateRequest(r *http.Request) (jwt.RegisteredClaims, error)
}

type Dependencies struct {
	Notebook *notebook.Notebook
	IDs      notebook.IDGenerator

	// Validator enables bearer-token authentication when set.
	Validator RequestValidator

	// StreamContext ends every open event stream when it is cancelled.
	StreamContext context.Context

	Realtime          *RealtimeDispatcher
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Notebook == nil {
		return nil, errMissingNotebook
	}
	if deps.IDs == nil {
		return nil, errMissingIDGenerator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	streamCtx := deps.StreamContext
	if streamCtx == nil {
		streamCtx = context.Background()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		notebook:  deps.Notebook,
		ids:       deps.IDs,
		validator: deps.Validator,
		realtime:  realtime,
		heartbeat: heartbeat,
		streamCtx: streamCtx,
		clock:     clock,
		logger:    logger,
	}

	protected := router.Group("/")
	if handler.validator != nil {
		protected.Use(handler.authorizeRequest)
	}

	protected.GET("/notes", handler.handleListNotes)
	protected.POST("/notes", handler.handleCreateNote)
	protected.POST("/notes/search", handler.handleSearchNotes)
	protected.GET("/notes/:id", handler.handleGetNote)
	protected.PUT("/notes/:id", handler.handleUpdateNote)
	protected.DELETE("/notes/:id", handler.handleDeleteNote)

	protected.GET("/tags", handler.handleListTags)
	protected.POST("/tags", handler.handleCreateTag)
	protected.GET("/tags/:id", handler.handleGetTag)
	protected.PUT("/tags/:id", handler.handleUpdateTag)
	protected.DELETE("/tags/:id", handler.handleDeleteTag)

	protected.GET("/attachments", handler.handleListAttachments)
	protected.POST("/attachments", handler.handleCreateAttachment)
	protected.GET("/attachments/:id", handler.handleGetAttachment)
	protected.PUT("/attachments/:id", handler.handleUpdateAttachment)
	protected.DELETE("/attachments/:id", handler.handleDeleteAttachment)

	protected.GET("/feeds", handler.handleListFeeds)
	protected.POST("/feeds", handler.handleCreateFeed)
	protected.GET("/feeds/:id", handler.handleGetFeed)
	protected.GET("/feeds/:id/contents", handler.handleFeedContents)
	protected.PUT("/feeds/:id", handler.handleUpdateFeed)
	protected.DELETE("/feeds/:id", handler.handleDeleteFeed)

	protected.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	notebook  *notebook.Notebook
	ids       notebook.IDGenerator
	validator RequestValidator
	realtime  *RealtimeDispatcher
	heartbeat time.Duration
	streamCtx context.Context
	clock     func() time.Time
	logger    *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDContextKey, requestID)
		c.Header(requestIDHeader, requestID)

		c.Next()

		logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(started)))
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Warn("token validation failed",
			zap.String("request_id", c.GetString(requestIDContextKey)),
			zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, claims.Subject)
	c.Next()
}

// parseIDParam reads the :id path parameter, answering 400 when it is not a
// non-negative integer.
func parseIDParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return 0, false
	}
	return id, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "details": err.Error()})
}

func notFound(c *gin.Context, objType notebook.ObjectType) {
	c.JSON(http.StatusNotFound, gin.H{"error": objType.String() + "_not_found"})
}

func idMismatch(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "id_mismatch"})
}

// respondStoreError maps notebook failures onto HTTP statuses.
func (h *httpHandler) respondStoreError(c *gin.Context, objType notebook.ObjectType, err error) {
	switch {
	case errors.Is(err, notebook.ErrNotFound):
		notFound(c, objType)
		return
	case errors.Is(err, notebook.ErrTypeMismatch):
		c.JSON(http.StatusConflict, gin.H{"error": "type_mismatch"})
		return
	case errors.Is(err, notebook.ErrDeletedID):
		c.JSON(http.StatusConflict, gin.H{"error": "id_deleted"})
		return
	}

	body := gin.H{"error": "internal_error"}
	var serviceErr *notebook.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	h.logger.Error("notebook operation failed",
		zap.String("request_id", c.GetString(requestIDContextKey)),
		zap.String("obj_type", objType.String()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, body)
}

func (h *httpHandler) newID(c *gin.Context, objType notebook.ObjectType) (snowflake.ID, bool) {
	id, err := h.ids.Generate()
	if err != nil {
		h.logger.Error("id generation failed",
			zap.String("request_id", c.GetString(requestIDContextKey)),
			zap.String("obj_type", objType.String()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "id_generation_failed"})
		return 0, false
	}
	return id, true
}

func (h *httpHandler) now() string {
	return h.clock().UTC().Format(timestampLayout)
}
