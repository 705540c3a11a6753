package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyweave-server/internal/interfaces"
	"storyweave-server/internal/models"
)

// StoryService defines the application logic for managing stories and participants.
type StoryService interface {
	// CreateStory создает историю; автор становится первым участником и держателем хода.
	CreateStory(ctx context.Context, authorID uuid.UUID, title, premise string) (*models.Story, error)

	// GetStory возвращает агрегат истории: участники и все ходы по порядку.
	GetStory(ctx context.Context, storyID uuid.UUID) (*models.StoryAggregate, error)

	// ListStories возвращает список историй для экрана выбора.
	ListStories(ctx context.Context) ([]models.StoryListItem, error)

	// JoinStory добавляет участника. Повторное присоединение - no-op.
	JoinStory(ctx context.Context, storyID, userID uuid.UUID) (*models.Story, error)
}

type storyServiceImpl struct {
	storyRepo interfaces.StoryRepository
	turnRepo  interfaces.TurnRepository
	logger    *zap.Logger
}

var _ StoryService = (*storyServiceImpl)(nil)

// NewStoryService создает новый экземпляр StoryService.
func NewStoryService(
	storyRepo interfaces.StoryRepository,
	turnRepo interfaces.TurnRepository,
	logger *zap.Logger,
) StoryService {
	return &storyServiceImpl{
		storyRepo: storyRepo,
		turnRepo:  turnRepo,
		logger:    logger.Named("StoryService"),
	}
}

func (s *storyServiceImpl) CreateStory(ctx context.Context, authorID uuid.UUID, title, premise string) (*models.Story, error) {
	title = strings.TrimSpace(title)
	premise = strings.TrimSpace(premise)
	if title == "" || premise == "" {
		return nil, fmt.Errorf("%w: заголовок и завязка обязательны", models.ErrBadRequest)
	}

	holder := authorID
	story := &models.Story{
		ID:                uuid.New(),
		Title:             title,
		Premise:           premise,
		AuthorID:          authorID,
		CurrentTurnUserID: &holder,
	}

	if err := s.storyRepo.Create(ctx, story); err != nil {
		s.logger.Error("Ошибка создания истории", zap.Error(err), zap.String("authorID", authorID.String()))
		return nil, fmt.Errorf("не удалось создать историю: %w", err)
	}

	s.logger.Info("История создана",
		zap.String("storyID", story.ID.String()),
		zap.String("authorID", authorID.String()))
	return story, nil
}

func (s *storyServiceImpl) GetStory(ctx context.Context, storyID uuid.UUID) (*models.StoryAggregate, error) {
	story, err := s.storyRepo.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}

	participants, err := s.storyRepo.ListParticipants(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить участников истории: %w", err)
	}

	turns, err := s.turnRepo.ListByStory(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить ходы истории: %w", err)
	}

	return &models.StoryAggregate{
		Story:        *story,
		Participants: participants,
		Turns:        turns,
	}, nil
}

func (s *storyServiceImpl) ListStories(ctx context.Context) ([]models.StoryListItem, error) {
	items, err := s.storyRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить список историй: %w", err)
	}
	return items, nil
}

func (s *storyServiceImpl) JoinStory(ctx context.Context, storyID, userID uuid.UUID) (*models.Story, error) {
	story, err := s.storyRepo.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}

	if err := s.storyRepo.AddParticipant(ctx, storyID, userID); err != nil {
		s.logger.Error("Ошибка присоединения к истории",
			zap.Error(err), zap.String("storyID", storyID.String()), zap.String("userID", userID.String()))
		return nil, fmt.Errorf("не удалось присоединиться к истории: %w", err)
	}

	// До присоединения первого участника история не имеет держателя хода.
	if story.CurrentTurnUserID == nil {
		if err := s.storyRepo.UpdateHolder(ctx, storyID, userID); err != nil {
			return nil, fmt.Errorf("не удалось назначить держателя хода: %w", err)
		}
		story.CurrentTurnUserID = &userID
	}

	s.logger.Info("Участник присоединился к истории",
		zap.String("storyID", storyID.String()), zap.String("userID", userID.String()))
	return story, nil
}

// nextHolder вычисляет держателя следующего человеческого хода по правилу
// round-robin: participants[humanTurnCount % len(participants)].
// Участники должны быть отсортированы по joined_at. AI-ходы ротацию не двигают.
func nextHolder(participants []models.Participant, humanTurnCount int) (uuid.UUID, error) {
	if len(participants) == 0 {
		return uuid.Nil, models.ErrNoParticipants
	}
	return participants[humanTurnCount%len(participants)].UserID, nil
}
