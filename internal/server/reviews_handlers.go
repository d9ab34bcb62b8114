package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/library"
	"github.com/gin-gonic/gin"
)

type reviewRequestPayload struct {
	Rating      int      `json:"rating"`
	Text        string   `json:"text"`
	Attachments []string `json:"attachments"`
}

type reviewPatchPayload struct {
	Rating      *int      `json:"rating"`
	Text        *string   `json:"text"`
	Attachments *[]string `json:"attachments"`
}

type commentRequestPayload struct {
	Text string `json:"text"`
}

type reviewResponsePayload struct {
	Review library.Review `json:"review"`
	effectsPayload
}

func (h *httpHandler) handleListBookReviews(c *gin.Context) {
	reviews, err := h.library.ListReviewsForBook(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "list_book_reviews", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews})
}

func (h *httpHandler) handleGetReview(c *gin.Context) {
	review, err := h.library.GetReview(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "get_review", err)
		return
	}
	c.JSON(http.StatusOK, review)
}

func (h *httpHandler) handleCreateReview(c *gin.Context) {
	var request reviewRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "malformed review payload")
		return
	}
	result, err := h.library.CreateReview(c.Request.Context(), library.ReviewInput{
		UserID:      c.GetString(userIDContextKey),
		BookID:      c.Param("id"),
		Rating:      request.Rating,
		Text:        request.Text,
		Attachments: request.Attachments,
	})
	if err != nil {
		h.respondError(c, "create_review", err)
		return
	}
	c.JSON(http.StatusCreated, reviewResponsePayload{Review: result.Review, effectsPayload: newEffectsPayload(result.Effects)})
}

func (h *httpHandler) handleUpdateReview(c *gin.Context) {
	var request reviewPatchPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "malformed review payload")
		return
	}
	patch := library.ReviewPatch{Rating: request.Rating, Text: request.Text, Attachments: request.Attachments}
	result, err := h.library.UpdateReview(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey), patch)
	if err != nil {
		h.respondError(c, "update_review", err)
		return
	}
	c.JSON(http.StatusOK, reviewResponsePayload{Review: result.Review, effectsPayload: newEffectsPayload(result.Effects)})
}

func (h *httpHandler) handleDeleteReview(c *gin.Context) {
	effects, err := h.library.DeleteReview(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "delete_review", err)
		return
	}
	c.JSON(http.StatusOK, newEffectsPayload(effects))
}

func (h *httpHandler) handleToggleLike(c *gin.Context) {
	review, err := h.library.ToggleLike(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "toggle_like", err)
		return
	}
	c.JSON(http.StatusOK, review)
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	var request commentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "malformed comment payload")
		return
	}
	review, err := h.library.AddComment(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey), request.Text)
	if err != nil {
		h.respondError(c, "add_comment", err)
		return
	}
	c.JSON(http.StatusCreated, review)
}
