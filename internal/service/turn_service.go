package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyweave-server/internal/interfaces"
	"storyweave-server/internal/messaging"
	"storyweave-server/internal/models"
)

// baseRetryDelay - базовая задержка перед повторной попыткой вставки хода.
const baseRetryDelay = 50 * time.Millisecond

// TurnService defines the application logic for committing turns.
type TurnService interface {
	// SubmitHumanTurn фиксирует человеческий ход. Проверяет право хода,
	// двигает ротацию и при необходимости ставит задачу AI-вмешательства.
	SubmitHumanTurn(ctx context.Context, storyID, userID uuid.UUID, content string) (*models.Turn, error)

	// SubmitAITurn фиксирует AI-ход от имени системного автора.
	// Право хода не проверяется, держатель хода не меняется.
	SubmitAITurn(ctx context.Context, storyID uuid.UUID, content string) (*models.Turn, error)
}

// TurnServiceConfig - параметры политики подачи ходов.
type TurnServiceConfig struct {
	MaxContentLength        int
	MaxAttempts             int
	InterventionEveryNTurns int
}

type turnServiceImpl struct {
	storyRepo       interfaces.StoryRepository
	turnRepo        interfaces.TurnRepository
	cache           interfaces.StoryContextCache
	contextBuilder  *ContextBuilder
	interventionPub messaging.InterventionTaskPublisher
	eventPub        messaging.TurnEventPublisher
	cfg             TurnServiceConfig
	logger          *zap.Logger
}

var _ TurnService = (*turnServiceImpl)(nil)

// NewTurnService создает новый экземпляр TurnService.
func NewTurnService(
	storyRepo interfaces.StoryRepository,
	turnRepo interfaces.TurnRepository,
	cache interfaces.StoryContextCache,
	contextBuilder *ContextBuilder,
	interventionPub messaging.InterventionTaskPublisher,
	eventPub messaging.TurnEventPublisher,
	cfg TurnServiceConfig,
	logger *zap.Logger,
) TurnService {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 4000
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InterventionEveryNTurns <= 0 {
		cfg.InterventionEveryNTurns = 3
	}
	return &turnServiceImpl{
		storyRepo:       storyRepo,
		turnRepo:        turnRepo,
		cache:           cache,
		contextBuilder:  contextBuilder,
		interventionPub: interventionPub,
		eventPub:        eventPub,
		cfg:             cfg,
		logger:          logger.Named("TurnService"),
	}
}

func (s *turnServiceImpl) SubmitHumanTurn(ctx context.Context, storyID, userID uuid.UUID, content string) (*models.Turn, error) {
	content, err := s.validateContent(content)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, storyID, userID, content, models.TurnKindHuman)
}

func (s *turnServiceImpl) SubmitAITurn(ctx context.Context, storyID uuid.UUID, content string) (*models.Turn, error) {
	content, err := s.validateContent(content)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, storyID, models.AIAuthorID, content, models.TurnKindAI)
}

// validateContent нормализует и проверяет текст хода.
func (s *turnServiceImpl) validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: текст хода пуст", models.ErrInvalidContent)
	}
	if len(content) > s.cfg.MaxContentLength {
		return "", fmt.Errorf("%w: текст хода превышает %d символов", models.ErrInvalidContent, s.cfg.MaxContentLength)
	}
	return content, nil
}

// submit выполняет оптимистичную вставку хода с ограниченным числом попыток.
// Право хода перечитывается на каждой попытке: проигравший гонку участник
// после ротации получает ErrNotYourTurn, а не бесполезные ретраи.
func (s *turnServiceImpl) submit(ctx context.Context, storyID, authorID uuid.UUID, content string, kind models.TurnKind) (*models.Turn, error) {
	var turn *models.Turn

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		story, err := s.storyRepo.GetByID(ctx, storyID)
		if err != nil {
			return nil, err
		}

		if kind == models.TurnKindHuman {
			if story.CurrentTurnUserID == nil || *story.CurrentTurnUserID != authorID {
				return nil, models.ErrNotYourTurn
			}
		}

		lastNumber, err := s.turnRepo.LastTurnNumber(ctx, storyID)
		if err != nil {
			return nil, fmt.Errorf("не удалось определить номер последнего хода: %w", err)
		}

		candidate := &models.Turn{
			ID:            uuid.New(),
			StoryID:       storyID,
			AuthorID:      authorID,
			TurnNumber:    lastNumber + 1,
			Content:       content,
			IsAIGenerated: kind == models.TurnKindAI,
		}

		err = s.turnRepo.Insert(ctx, candidate)
		if err == nil {
			turn = candidate
			break
		}
		if !errors.Is(err, models.ErrTurnConflict) {
			return nil, fmt.Errorf("не удалось зафиксировать ход: %w", err)
		}

		s.logger.Warn("Конфликт номера хода, повторная попытка",
			zap.String("storyID", storyID.String()),
			zap.Int("turnNumber", candidate.TurnNumber),
			zap.Int("attempt", attempt))

		if attempt < s.cfg.MaxAttempts {
			select {
			case <-time.After(retryDelay(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if turn == nil {
		s.logger.Error("Исчерпаны попытки фиксации хода",
			zap.String("storyID", storyID.String()), zap.Int("maxAttempts", s.cfg.MaxAttempts))
		return nil, models.ErrTurnConflict
	}

	s.logger.Info("Ход зафиксирован",
		zap.String("storyID", storyID.String()),
		zap.String("turnID", turn.ID.String()),
		zap.Int("turnNumber", turn.TurnNumber),
		zap.String("kind", string(kind)))

	s.afterCommit(ctx, turn, kind)
	return turn, nil
}

// afterCommit выполняет пост-обработку зафиксированного хода: ротацию держателя,
// обновление кеша контекста, событие для подписчиков и триггер AI-вмешательства.
// Ошибки здесь не отменяют уже зафиксированный ход - только логируются.
func (s *turnServiceImpl) afterCommit(ctx context.Context, turn *models.Turn, kind models.TurnKind) {
	log := s.logger.With(zap.String("storyID", turn.StoryID.String()), zap.String("turnID", turn.ID.String()))

	if err := s.cache.AppendTurn(ctx, turn.StoryID, turn.Content); err != nil {
		log.Warn("Не удалось обновить кеш контекста", zap.Error(err))
	}

	if err := s.eventPub.PublishTurnEvent(ctx, messaging.TurnEventPayload{
		EventType: messaging.TurnEventCreated,
		StoryID:   turn.StoryID.String(),
		Turn:      *turn,
	}); err != nil {
		log.Error("Не удалось опубликовать событие о ходе", zap.Error(err))
	}

	if kind != models.TurnKindHuman {
		return
	}

	humanCount, err := s.turnRepo.CountHuman(ctx, turn.StoryID)
	if err != nil {
		log.Error("Не удалось посчитать человеческие ходы", zap.Error(err))
		return
	}

	s.rotateHolder(ctx, turn.StoryID, humanCount, log)

	if humanCount%s.cfg.InterventionEveryNTurns == 0 {
		s.enqueueIntervention(ctx, turn.StoryID, log)
	}
}

// rotateHolder передает право хода следующему участнику по кругу.
func (s *turnServiceImpl) rotateHolder(ctx context.Context, storyID uuid.UUID, humanCount int, log *zap.Logger) {
	participants, err := s.storyRepo.ListParticipants(ctx, storyID)
	if err != nil {
		log.Error("Не удалось получить участников для ротации", zap.Error(err))
		return
	}

	holder, err := nextHolder(participants, humanCount)
	if err != nil {
		log.Error("Не удалось вычислить следующего держателя хода", zap.Error(err))
		return
	}

	if err := s.storyRepo.UpdateHolder(ctx, storyID, holder); err != nil {
		log.Error("Не удалось обновить держателя хода", zap.Error(err))
		return
	}
	log.Info("Право хода передано", zap.String("holderID", holder.String()))
}

// enqueueIntervention ставит задачу AI-вмешательства в очередь.
// Публикация синхронная, но ошибки не возвращаются наверх:
// вмешательство не должно блокировать или ломать подачу человеческого хода.
func (s *turnServiceImpl) enqueueIntervention(ctx context.Context, storyID uuid.UUID, log *zap.Logger) {
	story, err := s.storyRepo.GetByID(ctx, storyID)
	if err != nil {
		log.Error("Не удалось получить историю для задачи вмешательства", zap.Error(err))
		return
	}

	recentText, err := s.contextBuilder.BuildRecentContext(ctx, storyID)
	if err != nil {
		log.Error("Не удалось собрать контекст для задачи вмешательства", zap.Error(err))
		return
	}

	payload := messaging.InterventionTaskPayload{
		TaskID:          uuid.NewString(),
		StoryID:         storyID.String(),
		Premise:         story.Premise,
		RecentTurnsText: recentText,
	}
	if err := s.interventionPub.PublishInterventionTask(ctx, payload); err != nil {
		log.Error("Не удалось опубликовать задачу вмешательства", zap.Error(err))
		return
	}
	log.Info("Задача AI-вмешательства поставлена в очередь", zap.String("taskID", payload.TaskID))
}

// retryDelay возвращает экспоненциальную задержку с джиттером +/-10%.
func retryDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay) * math.Pow(2, float64(attempt-1))
	jitter := delay * 0.1
	delay += jitter * (rand.Float64()*2 - 1)
	return time.Duration(delay)
}
