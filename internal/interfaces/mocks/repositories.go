package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"storyweave-server/internal/models"
)

// Mock StoryRepository
type StoryRepository struct {
	mock.Mock
}

func (m *StoryRepository) Create(ctx context.Context, story *models.Story) error {
	args := m.Called(ctx, story)
	return args.Error(0)
}

func (m *StoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	args := m.Called(ctx, id)
	if story, ok := args.Get(0).(*models.Story); ok {
		return story, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoryRepository) List(ctx context.Context) ([]models.StoryListItem, error) {
	args := m.Called(ctx)
	if items, ok := args.Get(0).([]models.StoryListItem); ok {
		return items, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoryRepository) ListParticipants(ctx context.Context, storyID uuid.UUID) ([]models.Participant, error) {
	args := m.Called(ctx, storyID)
	if participants, ok := args.Get(0).([]models.Participant); ok {
		return participants, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoryRepository) AddParticipant(ctx context.Context, storyID, userID uuid.UUID) error {
	args := m.Called(ctx, storyID, userID)
	return args.Error(0)
}

func (m *StoryRepository) UpdateHolder(ctx context.Context, storyID, userID uuid.UUID) error {
	args := m.Called(ctx, storyID, userID)
	return args.Error(0)
}

// Mock TurnRepository
type TurnRepository struct {
	mock.Mock
}

func (m *TurnRepository) Insert(ctx context.Context, turn *models.Turn) error {
	args := m.Called(ctx, turn)
	return args.Error(0)
}

func (m *TurnRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.Turn, error) {
	args := m.Called(ctx, storyID)
	if turns, ok := args.Get(0).([]models.Turn); ok {
		return turns, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *TurnRepository) LastTurnNumber(ctx context.Context, storyID uuid.UUID) (int, error) {
	args := m.Called(ctx, storyID)
	return args.Int(0), args.Error(1)
}

func (m *TurnRepository) CountHuman(ctx context.Context, storyID uuid.UUID) (int, error) {
	args := m.Called(ctx, storyID)
	return args.Int(0), args.Error(1)
}

func (m *TurnRepository) UpdateImageURL(ctx context.Context, turnID uuid.UUID, url string) error {
	args := m.Called(ctx, turnID, url)
	return args.Error(0)
}

// Mock StoryContextCache
type StoryContextCache struct {
	mock.Mock
}

func (m *StoryContextCache) AppendTurn(ctx context.Context, storyID uuid.UUID, line string) error {
	args := m.Called(ctx, storyID, line)
	return args.Error(0)
}

func (m *StoryContextCache) RecentTurns(ctx context.Context, storyID uuid.UUID) ([]string, error) {
	args := m.Called(ctx, storyID)
	if lines, ok := args.Get(0).([]string); ok {
		return lines, args.Error(1)
	}
	return nil, args.Error(1)
}

// Mock TextGenerator
type TextGenerator struct {
	mock.Mock
}

func (m *TextGenerator) GenerateIntervention(ctx context.Context, premise, recentTurnsText string) (string, error) {
	args := m.Called(ctx, premise, recentTurnsText)
	return args.String(0), args.Error(1)
}

// Mock ImageGenerator
type ImageGenerator struct {
	mock.Mock
}

func (m *ImageGenerator) GenerateImage(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}
