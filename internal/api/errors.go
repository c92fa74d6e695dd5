package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mattes337/logsink/internal/models"
)

// respondError translates a domain error to its HTTP representation. This is
// the single boundary between the error taxonomy and status codes; nothing
// below the handlers knows about HTTP.
func respondError(c *gin.Context, err error) {
	var blocked *models.BlockedError
	if errors.As(err, &blocked) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "Message blocked by blacklist",
			"reason":  blocked.Reason(),
			"pattern": blocked.Pattern.Pattern,
		})
		return
	}

	switch {
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrPrecondition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Log entry not found"})
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		// Internal details stay out of the response body.
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
