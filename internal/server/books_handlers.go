package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/library"
	"github.com/gin-gonic/gin"
)

type bookRequestPayload struct {
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	Description   string   `json:"description"`
	CoverImage    string   `json:"coverImage"`
	Genres        []string `json:"genres"`
	PublishedYear int      `json:"publishedYear"`
}

func (p bookRequestPayload) input() library.BookInput {
	return library.BookInput{
		Title:         p.Title,
		Author:        p.Author,
		Description:   p.Description,
		CoverImage:    p.CoverImage,
		Genres:        p.Genres,
		PublishedYear: p.PublishedYear,
	}
}

type effectsPayload struct {
	Degraded []string `json:"degraded,omitempty"`
}

func newEffectsPayload(effects library.Effects) effectsPayload {
	payload := effectsPayload{}
	for _, failure := range effects.Failures {
		payload.Degraded = append(payload.Degraded, failure.Effect)
	}
	return payload
}

func (h *httpHandler) handleListBooks(c *gin.Context) {
	books, err := h.library.ListBooks(c.Request.Context(), library.BookFilter{Genre: c.Query("genre")})
	if err != nil {
		h.respondError(c, "list_books", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"books": books})
}

func (h *httpHandler) handleGetBook(c *gin.Context) {
	book, err := h.library.GetBook(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "get_book", err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *httpHandler) handleCreateBook(c *gin.Context) {
	var request bookRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "malformed book payload")
		return
	}
	book, err := h.library.CreateBook(c.Request.Context(), request.input())
	if err != nil {
		h.respondError(c, "create_book", err)
		return
	}
	c.JSON(http.StatusCreated, book)
}

func (h *httpHandler) handleUpdateBook(c *gin.Context) {
	var request bookRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "malformed book payload")
		return
	}
	book, err := h.library.UpdateBook(c.Request.Context(), c.Param("id"), request.input())
	if err != nil {
		h.respondError(c, "update_book", err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *httpHandler) handleDeleteBook(c *gin.Context) {
	effects, err := h.library.DeleteBook(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "delete_book", err)
		return
	}
	c.JSON(http.StatusOK, newEffectsPayload(effects))
}

func (h *httpHandler) handleTopRated(c *gin.Context) {
	limit, ok := h.queryLimit(c)
	if !ok {
		return
	}
	books, err := h.library.GetTopRated(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, "get_top_rated", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"books": books})
}

// queryLimit parses ?limit=; an absent value means no limit.
func (h *httpHandler) queryLimit(c *gin.Context) (int, bool) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		h.badRequest(c, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}
