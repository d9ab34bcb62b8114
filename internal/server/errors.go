package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const internalErrorCode = "internal_error"

// respondError maps service errors onto status codes. Storage and unexpected failures never
// leak their cause to the client.
func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, users.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
	case errors.Is(err, errs.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": validationMessage(err)})
	case errors.Is(err, errs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, errs.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, errs.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	default:
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrorCode})
	}
}

func (h *httpHandler) badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": message})
}

// validationMessage strips operation codes and keeps the violated constraint.
func validationMessage(err error) string {
	message := err.Error()
	marker := errs.ErrValidation.Error() + ": "
	if index := strings.LastIndex(message, marker); index >= 0 {
		return message[index+len(marker):]
	}
	return errs.ErrValidation.Error()
}
