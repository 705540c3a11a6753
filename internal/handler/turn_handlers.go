package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storyweave-server/internal/middleware"
	"storyweave-server/internal/models"
)

func (h *Handler) submitTurn(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		handleServiceError(c, models.ErrUnauthorized)
		return
	}

	storyID, ok := storyIDFromPath(c)
	if !ok {
		return
	}

	var req submitTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body: " + err.Error()})
		return
	}

	turn, err := h.turns.SubmitHumanTurn(c.Request.Context(), storyID, userID, req.Content)
	if err != nil {
		// Ожидаемые исходы подачи хода не являются ошибками сервера.
		if !errors.Is(err, models.ErrStoryNotFound) &&
			!errors.Is(err, models.ErrNotYourTurn) &&
			!errors.Is(err, models.ErrInvalidContent) &&
			!errors.Is(err, models.ErrTurnConflict) {
			h.logger.Error("Ошибка фиксации хода",
				zap.Error(err), zap.String("storyID", storyID.String()), zap.String("userID", userID.String()))
		}
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, turn)
}
