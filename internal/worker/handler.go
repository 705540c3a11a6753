package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyweave-server/internal/interfaces"
	"storyweave-server/internal/messaging"
	"storyweave-server/internal/models"
	"storyweave-server/internal/service"
)

// retryBaseDelay - базовая задержка между попытками вызова внешних генераторов.
const retryBaseDelay = time.Second

// Config - политика пайплайна AI-вмешательства.
type Config struct {
	TextMaxAttempts  int
	ImageMaxAttempts int
	PipelineTimeout  time.Duration
}

// InterventionHandler обрабатывает задачи AI-вмешательства из очереди.
// Пайплайн: генерация текста -> генерация иллюстрации (best-effort) ->
// фиксация AI-хода -> привязка URL иллюстрации к ходу.
type InterventionHandler struct {
	textGen  interfaces.TextGenerator
	imageGen interfaces.ImageGenerator
	turns    service.TurnService
	turnRepo interfaces.TurnRepository
	cfg      Config
	logger   *zap.Logger
}

// NewInterventionHandler создает новый обработчик задач вмешательства.
func NewInterventionHandler(
	textGen interfaces.TextGenerator,
	imageGen interfaces.ImageGenerator,
	turns service.TurnService,
	turnRepo interfaces.TurnRepository,
	cfg Config,
	logger *zap.Logger,
) *InterventionHandler {
	if cfg.TextMaxAttempts <= 0 {
		cfg.TextMaxAttempts = 3
	}
	if cfg.ImageMaxAttempts <= 0 {
		cfg.ImageMaxAttempts = 3
	}
	if cfg.PipelineTimeout <= 0 {
		cfg.PipelineTimeout = 60 * time.Second
	}
	return &InterventionHandler{
		textGen:  textGen,
		imageGen: imageGen,
		turns:    turns,
		turnRepo: turnRepo,
		cfg:      cfg,
		logger:   logger.Named("InterventionHandler"),
	}
}

// Handle обрабатывает одно сообщение очереди задач вмешательства.
// Сигнатура совместима с messaging.DeliveryHandler.
func (h *InterventionHandler) Handle(body []byte) error {
	metricsTaskReceived()
	start := time.Now()
	defer func() { metricsObserveTaskDuration(time.Since(start)) }()

	var payload messaging.InterventionTaskPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		metricsTaskFailed("bad_payload")
		return fmt.Errorf("не удалось разобрать задачу вмешательства: %w", err)
	}

	log := h.logger.With(zap.String("taskID", payload.TaskID), zap.String("storyID", payload.StoryID))
	log.Info("Обработка задачи AI-вмешательства")

	storyID, err := uuid.Parse(payload.StoryID)
	if err != nil {
		metricsTaskFailed("bad_story_id")
		return fmt.Errorf("некорректный ID истории в задаче: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.PipelineTimeout)
	defer cancel()

	// Этап 1: текст вмешательства. Без текста ход не создается.
	text, err := h.generateText(ctx, log, payload.Premise, payload.RecentTurnsText)
	if err != nil {
		metricsTaskFailed("text_generation")
		log.Error("Генерация текста вмешательства провалилась, ход не будет создан", zap.Error(err))
		return err
	}

	// Этап 2: иллюстрация. Провал не отменяет вмешательство.
	imageURL := h.generateImage(ctx, log, text)

	// Этап 3: фиксация AI-хода через общий координатор ходов.
	turn, err := h.turns.SubmitAITurn(ctx, storyID, text)
	if err != nil {
		metricsTaskFailed("commit")
		log.Error("Не удалось зафиксировать AI-ход", zap.Error(err))
		return err
	}

	// Этап 4: одноразовая привязка URL иллюстрации.
	// Ход уже зафиксирован, поэтому ошибка здесь задачу не проваливает.
	if imageURL != "" {
		if err := h.turnRepo.UpdateImageURL(ctx, turn.ID, imageURL); err != nil {
			log.Error("Не удалось привязать иллюстрацию к ходу",
				zap.Error(err), zap.String("turnID", turn.ID.String()))
		}
	}

	metricsTaskSucceeded()
	log.Info("AI-вмешательство зафиксировано",
		zap.String("turnID", turn.ID.String()),
		zap.Int("turnNumber", turn.TurnNumber),
		zap.Bool("withImage", imageURL != ""))
	return nil
}

// generateText вызывает генератор текста с ограниченным числом попыток.
func (h *InterventionHandler) generateText(ctx context.Context, log *zap.Logger, premise, recentTurnsText string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= h.cfg.TextMaxAttempts; attempt++ {
		text, err := h.textGen.GenerateIntervention(ctx, premise, recentTurnsText)
		if err == nil {
			return text, nil
		}
		lastErr = err
		log.Warn("Попытка генерации текста провалилась",
			zap.Int("attempt", attempt), zap.Int("maxAttempts", h.cfg.TextMaxAttempts), zap.Error(err))

		if attempt < h.cfg.TextMaxAttempts {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("%w после %d попыток: %v", models.ErrGenerationFailed, h.cfg.TextMaxAttempts, lastErr)
}

// generateImage вызывает генератор иллюстраций best-effort:
// при исчерпании попыток возвращает пустую строку.
func (h *InterventionHandler) generateImage(ctx context.Context, log *zap.Logger, prompt string) string {
	for attempt := 1; attempt <= h.cfg.ImageMaxAttempts; attempt++ {
		url, err := h.imageGen.GenerateImage(ctx, prompt)
		if err == nil {
			return url
		}
		log.Warn("Попытка генерации иллюстрации провалилась",
			zap.Int("attempt", attempt), zap.Int("maxAttempts", h.cfg.ImageMaxAttempts), zap.Error(err))

		if attempt < h.cfg.ImageMaxAttempts {
			if err := sleepBackoff(ctx, attempt); err != nil {
				break
			}
		}
	}
	metricsImageSkipped()
	log.Warn("Вмешательство будет зафиксировано без иллюстрации")
	return ""
}

// sleepBackoff ждет экспоненциальную задержку с джиттером +/-10%
// или прерывается по отмене контекста.
func sleepBackoff(ctx context.Context, attempt int) error {
	delay := float64(retryBaseDelay) * math.Pow(2, float64(attempt-1))
	jitter := delay * 0.1
	delay += jitter * (rand.Float64()*2 - 1)

	select {
	case <-time.After(time.Duration(delay)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
