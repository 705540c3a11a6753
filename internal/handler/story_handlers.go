package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyweave-server/internal/middleware"
	"storyweave-server/internal/models"
)

// storyIDFromPath извлекает и парсит :id из пути.
func storyIDFromPath(c *gin.Context) (uuid.UUID, bool) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid story ID format"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) createStory(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		handleServiceError(c, models.ErrUnauthorized)
		return
	}

	var req createStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body: " + err.Error()})
		return
	}

	story, err := h.stories.CreateStory(c.Request.Context(), userID, req.Title, req.Premise)
	if err != nil {
		if !errors.Is(err, models.ErrBadRequest) {
			h.logger.Error("Ошибка создания истории", zap.Error(err), zap.String("userID", userID.String()))
		}
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, story)
}

func (h *Handler) listStories(c *gin.Context) {
	items, err := h.stories.ListStories(c.Request.Context())
	if err != nil {
		h.logger.Error("Ошибка получения списка историй", zap.Error(err))
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, items)
}

func (h *Handler) getStory(c *gin.Context) {
	storyID, ok := storyIDFromPath(c)
	if !ok {
		return
	}

	aggregate, err := h.stories.GetStory(c.Request.Context(), storyID)
	if err != nil {
		if !errors.Is(err, models.ErrStoryNotFound) {
			h.logger.Error("Ошибка получения истории", zap.Error(err), zap.String("storyID", storyID.String()))
		}
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, aggregate)
}

func (h *Handler) joinStory(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		handleServiceError(c, models.ErrUnauthorized)
		return
	}

	storyID, ok := storyIDFromPath(c)
	if !ok {
		return
	}

	story, err := h.stories.JoinStory(c.Request.Context(), storyID, userID)
	if err != nil {
		if !errors.Is(err, models.ErrStoryNotFound) {
			h.logger.Error("Ошибка присоединения к истории",
				zap.Error(err), zap.String("storyID", storyID.String()), zap.String("userID", userID.String()))
		}
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, story)
}
