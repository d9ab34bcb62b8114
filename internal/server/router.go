package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/library"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/recommend"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const userIDContextKey = "shelf_user_id"

var (
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingLibraryService = errors.New("library service dependency required")
	errMissingUserService    = errors.New("user service dependency required")
	errMissingRecommender    = errors.New("recommendation service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenManager issues access tokens after login and validates them on protected routes.
type TokenManager interface {
	IssueToken(ctx context.Context, identity auth.Identity) (string, int64, error)
	ValidateToken(token string) (auth.Claims, error)
}

// Dependencies are the services the HTTP handler delegates to.
type Dependencies struct {
	TokenManager   TokenManager
	Library        *library.Service
	Users          *users.Service
	Recommendation *recommend.Service
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the public API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Library == nil {
		return nil, errMissingLibraryService
	}
	if deps.Users == nil {
		return nil, errMissingUserService
	}
	if deps.Recommendation == nil {
		return nil, errMissingRecommender
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:    deps.TokenManager,
		library:   deps.Library,
		users:     deps.Users,
		recommend: deps.Recommendation,
		logger:    logger,
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	router.GET("/books", handler.handleListBooks)
	router.GET("/books/top-rated", handler.handleTopRated)
	router.GET("/books/:id", handler.handleGetBook)
	router.GET("/books/:id/reviews", handler.handleListBookReviews)
	router.GET("/reviews/:id", handler.handleGetReview)

	optional := router.Group("/")
	optional.Use(handler.identifyRequest)
	optional.GET("/recommendations", handler.handleGetRecommendations)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/books", handler.handleCreateBook)
	protected.PUT("/books/:id", handler.handleUpdateBook)
	protected.DELETE("/books/:id", handler.handleDeleteBook)
	protected.POST("/books/:id/reviews", handler.handleCreateReview)
	protected.PATCH("/reviews/:id", handler.handleUpdateReview)
	protected.DELETE("/reviews/:id", handler.handleDeleteReview)
	protected.POST("/reviews/:id/like", handler.handleToggleLike)
	protected.POST("/reviews/:id/comments", handler.handleAddComment)
	protected.GET("/users/me", handler.handleGetProfile)
	protected.PATCH("/users/me", handler.handleUpdateProfile)
	protected.GET("/users/me/reviews", handler.handleListMyReviews)
	protected.GET("/users/me/favorites", handler.handleListFavorites)
	protected.POST("/users/me/favorites/:bookId", handler.handleAddFavorite)
	protected.DELETE("/users/me/favorites/:bookId", handler.handleRemoveFavorite)
	protected.DELETE("/recommendations", handler.handleClearRecommendations)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	tokens    TokenManager
	library   *library.Service
	users     *users.Service
	recommend *recommend.Service
	logger    *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logTokenFailure(err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID())
	c.Next()
}

// identifyRequest attaches the caller when a valid token is present and lets anonymous
// requests through. A malformed or expired token is still rejected.
func (h *httpHandler) identifyRequest(c *gin.Context) {
	if strings.TrimSpace(c.GetHeader("Authorization")) == "" {
		c.Next()
		return
	}
	h.authorizeRequest(c)
}

func (h *httpHandler) logTokenFailure(err error) {
	if errors.Is(err, auth.ErrExpiredToken) {
		h.logger.Info("token validation failed", zap.Error(err))
		return
	}
	h.logger.Warn("token validation failed", zap.Error(err))
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}
