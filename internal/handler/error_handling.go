package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"storyweave-server/internal/models"
)

// handleServiceError преобразует ошибки сервисного слоя в HTTP ответы.
func handleServiceError(c *gin.Context, err error) {
	var statusCode int
	var message string

	switch {
	case errors.Is(err, models.ErrStoryNotFound), errors.Is(err, models.ErrTurnNotFound):
		statusCode = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, models.ErrNotYourTurn):
		statusCode = http.StatusForbidden
		message = err.Error()
	case errors.Is(err, models.ErrTurnConflict):
		statusCode = http.StatusConflict
		message = err.Error()
	case errors.Is(err, models.ErrInvalidContent), errors.Is(err, models.ErrBadRequest):
		statusCode = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, models.ErrUnauthorized),
		errors.Is(err, models.ErrTokenInvalid),
		errors.Is(err, models.ErrTokenExpired),
		errors.Is(err, models.ErrTokenMalformed):
		statusCode = http.StatusUnauthorized
		message = err.Error()
	default:
		statusCode = http.StatusInternalServerError
		message = "internal server error"
	}

	c.AbortWithStatusJSON(statusCode, models.ErrorResponse{Error: message})
}
