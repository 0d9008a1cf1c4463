package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/beenaround/backend/internal/appdata"
	"github.com/beenaround/backend/internal/auth"
	"github.com/beenaround/backend/internal/feed"
	"github.com/beenaround/backend/internal/friends"
	"github.com/beenaround/backend/internal/monitoring"
	"github.com/beenaround/backend/internal/storage"
	"github.com/beenaround/backend/internal/users"
)

const (
	userIDContextKey = "beenaround_user_id"
	claimsContextKey = "beenaround_token_claims"
)

var (
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingUsersService   = errors.New("users service dependency required")
	errMissingAppDataService = errors.New("app data service dependency required")
	errMissingFriendsService = errors.New("friends service dependency required")
	errMissingFeedService    = errors.New("feed service dependency required")
	errMissingFileStore      = errors.New("file store dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenManager mints and validates access tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(ctx context.Context, token string) (auth.Claims, error)
}

// TokenRevoker invalidates an issued token at logout.
type TokenRevoker interface {
	Revoke(ctx context.Context, tokenID, userID string, expiresAt time.Time) error
}

// Dependencies wires the HTTP layer to its collaborators.
type Dependencies struct {
	TokenManager   TokenManager
	TokenRevoker   TokenRevoker
	UsersService   *users.Service
	AppDataService *appdata.Service
	FriendsService *friends.Service
	FeedService    *feed.Service
	FileStore      *storage.Store
	Monitor        *monitoring.Collector
	Metrics        prometheus.Gatherer
	Dispatcher     *FeedDispatcher
	CORSOrigins    []string
	Logger         *zap.Logger
}

// NewHTTPHandler assembles the gin router with all application routes.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.AppDataService == nil {
		return nil, errMissingAppDataService
	}
	if deps.FriendsService == nil {
		return nil, errMissingFriendsService
	}
	if deps.FeedService == nil {
		return nil, errMissingFeedService
	}
	if deps.FileStore == nil {
		return nil, errMissingFileStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = NewFeedDispatcher()
	}
	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		revoker:    deps.TokenRevoker,
		users:      deps.UsersService,
		appData:    deps.AppDataService,
		friends:    deps.FriendsService,
		feed:       deps.FeedService,
		files:      deps.FileStore,
		monitor:    deps.Monitor,
		dispatcher: dispatcher,
		logger:     logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Monitor != nil {
		router.Use(handler.observeRequest)
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/health", handleHealth)
	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{})))
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/auth/logout", handler.handleLogout)
	protected.GET("/users/me", handler.handleMe)
	protected.GET("/users/:username", handler.handleUserByUsername)
	protected.GET("/data", handler.handleGetData)
	protected.PUT("/data", handler.handleUpdateData)
	protected.DELETE("/data", handler.handleDeleteData)
	protected.GET("/sync/snapshot", handler.handleGetSnapshot)
	protected.PUT("/sync/snapshot", handler.handlePutSnapshot)
	protected.GET("/friends", handler.handleListFriends)
	protected.POST("/friends/:username", handler.handleAddFriend)
	protected.DELETE("/friends/:username", handler.handleRemoveFriend)
	protected.GET("/feed", handler.handleGetFeed)
	protected.GET("/feed/events", handler.handleFeedEvents)
	protected.POST("/feed/activities/:id/react", handler.handleReact)
	protected.POST("/files/upload", handler.handleUpload)
	protected.PUT("/files/profile-pic", handler.handlePutProfilePic)
	protected.DELETE("/files/profile-pic", handler.handleDeleteProfilePic)

	admin := protected.Group("/monitor")
	admin.Use(handler.requireAdmin)
	admin.GET("/stats", handler.handleMonitorStats)
	admin.GET("/requests", handler.handleMonitorRequests)

	return router, nil
}

type httpHandler struct {
	tokens     TokenManager
	revoker    TokenRevoker
	users      *users.Service
	appData    *appdata.Service
	friends    *friends.Service
	feed       *feed.Service
	files      *storage.Store
	monitor    *monitoring.Collector
	dispatcher *FeedDispatcher
	logger     *zap.Logger
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) observeRequest(c *gin.Context) {
	path := c.Request.URL.Path
	if path == "/metrics" || strings.HasPrefix(path, "/monitor") {
		c.Next()
		return
	}
	start := time.Now()
	c.Next()
	h.monitor.Observe(c.Request.Method, path, c.Writer.Status(), time.Since(start))
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(c.Request.Context(), token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.Subject)
	c.Set(claimsContextKey, claims)
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	record, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil || !record.IsAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

func (h *httpHandler) currentUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}
