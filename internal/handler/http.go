package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storyweave-server/internal/auth"
	"storyweave-server/internal/middleware"
	"storyweave-server/internal/service"
)

// Handler обрабатывает HTTP запросы к API историй и ходов.
type Handler struct {
	stories  service.StoryService
	turns    service.TurnService
	verifier *auth.JWTVerifier
	logger   *zap.Logger
}

// NewHandler создает новый Handler.
func NewHandler(stories service.StoryService, turns service.TurnService, verifier *auth.JWTVerifier, logger *zap.Logger) *Handler {
	return &Handler{
		stories:  stories,
		turns:    turns,
		verifier: verifier,
		logger:   logger.Named("Handler"),
	}
}

// RegisterRoutes регистрирует маршруты API.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authMiddleware := middleware.AuthMiddleware(h.verifier, h.logger)

	api := router.Group("/api", authMiddleware)
	{
		api.POST("/stories", h.createStory)
		api.GET("/stories", h.listStories)
		api.GET("/stories/:id", h.getStory)
		api.POST("/stories/:id/join", h.joinStory)
		api.POST("/stories/:id/turns", h.submitTurn)
	}
}
