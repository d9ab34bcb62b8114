package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/library"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/recommend"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type registerRequestPayload struct {
	Email          string   `json:"email"`
	Password       string   `json:"password"`
	DisplayName    string   `json:"displayName"`
	FavoriteGenres []string `json:"favoriteGenres"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileRequestPayload struct {
	DisplayName    string   `json:"displayName"`
	FavoriteGenres []string `json:"favoriteGenres"`
}

type userPayload struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"displayName"`
	FavoriteGenres []string  `json:"favoriteGenres"`
	CreatedAt      time.Time `json:"createdAt"`
}

type authResponsePayload struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"`
	TokenType   string      `json:"token_type"`
	User        userPayload `json:"user"`
}

func newUserPayload(user users.User) userPayload {
	return userPayload{
		ID:             user.ID,
		Email:          user.Email,
		DisplayName:    user.DisplayName,
		FavoriteGenres: user.FavoriteGenres,
		CreatedAt:      user.CreatedAt,
	}
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "malformed registration payload")
		return
	}
	user, err := h.users.Register(c.Request.Context(), users.Registration{
		Email:          request.Email,
		Password:       request.Password,
		DisplayName:    request.DisplayName,
		FavoriteGenres: request.FavoriteGenres,
	})
	if err != nil {
		h.respondError(c, "register", err)
		return
	}
	h.respondWithToken(c, http.StatusCreated, user)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		h.badRequest(c, "email and password are required")
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondError(c, "login", err)
		return
	}
	h.respondWithToken(c, http.StatusOK, user)
}

func (h *httpHandler) respondWithToken(c *gin.Context, status int, user users.User) {
	token, expiresIn, err := h.issueToken(c.Request.Context(), user)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(status, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        newUserPayload(user),
	})
}

func (h *httpHandler) issueToken(ctx context.Context, user users.User) (string, int64, error) {
	return h.tokens.IssueToken(ctx, auth.Identity{UserID: user.ID, Email: user.Email, DisplayName: user.DisplayName})
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	user, err := h.users.GetUser(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "get_profile", err)
		return
	}
	c.JSON(http.StatusOK, newUserPayload(user))
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	var request profileRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "malformed profile payload")
		return
	}
	userID := c.GetString(userIDContextKey)
	user, err := h.users.UpdateProfile(c.Request.Context(), userID, users.Profile{
		DisplayName:    request.DisplayName,
		FavoriteGenres: request.FavoriteGenres,
	})
	if err != nil {
		h.respondError(c, "update_profile", err)
		return
	}
	h.recommend.Clear(userID)
	c.JSON(http.StatusOK, newUserPayload(user))
}

func (h *httpHandler) handleListMyReviews(c *gin.Context) {
	reviews, err := h.library.ListReviewsByUser(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "list_my_reviews", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews})
}

func (h *httpHandler) handleListFavorites(c *gin.Context) {
	books, err := h.library.ListFavorites(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "list_favorites", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"books": books})
}

func (h *httpHandler) handleAddFavorite(c *gin.Context) {
	bookIDs, err := h.library.AddFavorite(c.Request.Context(), c.GetString(userIDContextKey), c.Param("bookId"))
	if err != nil {
		h.respondError(c, "add_favorite", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookIds": bookIDs})
}

func (h *httpHandler) handleRemoveFavorite(c *gin.Context) {
	bookIDs, err := h.library.RemoveFavorite(c.Request.Context(), c.GetString(userIDContextKey), c.Param("bookId"))
	if err != nil {
		h.respondError(c, "remove_favorite", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookIds": bookIDs})
}

type recommendationsResponsePayload struct {
	Books  []library.Book `json:"books"`
	Source string         `json:"source"`
	Cached bool           `json:"cached"`
}

func (h *httpHandler) handleGetRecommendations(c *gin.Context) {
	limit, ok := h.queryLimit(c)
	if !ok {
		return
	}
	refresh := false
	if raw := strings.TrimSpace(c.Query("refresh")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.badRequest(c, "refresh must be a boolean")
			return
		}
		refresh = parsed
	}
	var genres []string
	for _, value := range c.QueryArray("genre") {
		genres = append(genres, strings.Split(value, ",")...)
	}

	result, err := h.recommend.GetRecommendations(c.Request.Context(), c.GetString(userIDContextKey), recommend.Options{
		Limit:   limit,
		Refresh: refresh,
		Genres:  genres,
	})
	if err != nil {
		h.respondError(c, "get_recommendations", err)
		return
	}
	c.JSON(http.StatusOK, recommendationsResponsePayload{Books: result.Books, Source: result.Source, Cached: result.Cached})
}

func (h *httpHandler) handleClearRecommendations(c *gin.Context) {
	h.recommend.Clear(c.GetString(userIDContextKey))
	c.Status(http.StatusNoContent)
}
