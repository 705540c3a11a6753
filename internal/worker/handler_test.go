package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	ifmocks "storyweave-server/internal/interfaces/mocks"
	"storyweave-server/internal/messaging"
	"storyweave-server/internal/models"
)

// mockTurnService - мок координатора ходов.
type mockTurnService struct {
	mock.Mock
}

func (m *mockTurnService) SubmitHumanTurn(ctx context.Context, storyID, userID uuid.UUID, content string) (*models.Turn, error) {
	args := m.Called(ctx, storyID, userID, content)
	if turn, ok := args.Get(0).(*models.Turn); ok {
		return turn, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTurnService) SubmitAITurn(ctx context.Context, storyID uuid.UUID, content string) (*models.Turn, error) {
	args := m.Called(ctx, storyID, content)
	if turn, ok := args.Get(0).(*models.Turn); ok {
		return turn, args.Error(1)
	}
	return nil, args.Error(1)
}

type handlerFixture struct {
	textGen  *ifmocks.TextGenerator
	imageGen *ifmocks.ImageGenerator
	turns    *mockTurnService
	turnRepo *ifmocks.TurnRepository
	handler  *InterventionHandler
}

func newHandlerFixture(t *testing.T, cfg Config) *handlerFixture {
	t.Helper()
	f := &handlerFixture{
		textGen:  new(ifmocks.TextGenerator),
		imageGen: new(ifmocks.ImageGenerator),
		turns:    new(mockTurnService),
		turnRepo: new(ifmocks.TurnRepository),
	}
	f.handler = NewInterventionHandler(f.textGen, f.imageGen, f.turns, f.turnRepo, cfg, zap.NewNop())
	return f
}

func taskBody(t *testing.T, storyID uuid.UUID) []byte {
	t.Helper()
	body, err := json.Marshal(messaging.InterventionTaskPayload{
		TaskID:          uuid.NewString(),
		StoryID:         storyID.String(),
		Premise:         "завязка",
		RecentTurnsText: "последние ходы",
	})
	require.NoError(t, err)
	return body
}

func TestHandle_FullPipeline(t *testing.T) {
	f := newHandlerFixture(t, Config{TextMaxAttempts: 1, ImageMaxAttempts: 1, PipelineTimeout: 5 * time.Second})

	storyID := uuid.New()
	turn := &models.Turn{ID: uuid.New(), StoryID: storyID, AuthorID: models.AIAuthorID, TurnNumber: 4, IsAIGenerated: true}

	f.textGen.On("GenerateIntervention", mock.Anything, "завязка", "последние ходы").Return("внезапный поворот", nil).Once()
	f.imageGen.On("GenerateImage", mock.Anything, "внезапный поворот").Return("https://img.example/1.jpg", nil).Once()
	f.turns.On("SubmitAITurn", mock.Anything, storyID, "внезапный поворот").Return(turn, nil).Once()
	f.turnRepo.On("UpdateImageURL", mock.Anything, turn.ID, "https://img.example/1.jpg").Return(nil).Once()

	err := f.handler.Handle(taskBody(t, storyID))

	require.NoError(t, err)
	f.turnRepo.AssertExpectations(t)
}

func TestHandle_TextFailureAbortsWithoutTurn(t *testing.T) {
	f := newHandlerFixture(t, Config{TextMaxAttempts: 1, ImageMaxAttempts: 1, PipelineTimeout: 5 * time.Second})

	storyID := uuid.New()
	f.textGen.On("GenerateIntervention", mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("модель недоступна"))

	err := f.handler.Handle(taskBody(t, storyID))

	require.ErrorIs(t, err, models.ErrGenerationFailed)
	// Провал генерации текста отменяет вмешательство целиком.
	f.turns.AssertNotCalled(t, "SubmitAITurn", mock.Anything, mock.Anything, mock.Anything)
	f.imageGen.AssertNotCalled(t, "GenerateImage", mock.Anything, mock.Anything)
}

func TestHandle_TextRetriesThenSucceeds(t *testing.T) {
	f := newHandlerFixture(t, Config{TextMaxAttempts: 2, ImageMaxAttempts: 1, PipelineTimeout: 10 * time.Second})

	storyID := uuid.New()
	turn := &models.Turn{ID: uuid.New(), StoryID: storyID, TurnNumber: 2, IsAIGenerated: true}

	f.textGen.On("GenerateIntervention", mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("таймаут")).Once()
	f.textGen.On("GenerateIntervention", mock.Anything, mock.Anything, mock.Anything).
		Return("поворот со второй попытки", nil).Once()
	f.imageGen.On("GenerateImage", mock.Anything, mock.Anything).Return("", errors.New("недоступен")).Once()
	f.turns.On("SubmitAITurn", mock.Anything, storyID, "поворот со второй попытки").Return(turn, nil).Once()

	err := f.handler.Handle(taskBody(t, storyID))

	require.NoError(t, err)
	f.textGen.AssertNumberOfCalls(t, "GenerateIntervention", 2)
}

func TestHandle_ImageFailureCommitsWithoutImage(t *testing.T) {
	f := newHandlerFixture(t, Config{TextMaxAttempts: 1, ImageMaxAttempts: 1, PipelineTimeout: 5 * time.Second})

	storyID := uuid.New()
	turn := &models.Turn{ID: uuid.New(), StoryID: storyID, TurnNumber: 7, IsAIGenerated: true}

	f.textGen.On("GenerateIntervention", mock.Anything, mock.Anything, mock.Anything).Return("поворот", nil).Once()
	f.imageGen.On("GenerateImage", mock.Anything, mock.Anything).Return("", errors.New("сервер изображений упал"))
	f.turns.On("SubmitAITurn", mock.Anything, storyID, "поворот").Return(turn, nil).Once()

	err := f.handler.Handle(taskBody(t, storyID))

	// Вмешательство фиксируется без иллюстрации, URL не привязывается.
	require.NoError(t, err)
	f.turnRepo.AssertNotCalled(t, "UpdateImageURL", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_CommitConflictFailsTask(t *testing.T) {
	f := newHandlerFixture(t, Config{TextMaxAttempts: 1, ImageMaxAttempts: 1, PipelineTimeout: 5 * time.Second})

	storyID := uuid.New()
	f.textGen.On("GenerateIntervention", mock.Anything, mock.Anything, mock.Anything).Return("поворот", nil).Once()
	f.imageGen.On("GenerateImage", mock.Anything, mock.Anything).Return("https://img.example/2.jpg", nil).Once()
	f.turns.On("SubmitAITurn", mock.Anything, storyID, "поворот").Return(nil, models.ErrTurnConflict).Once()

	err := f.handler.Handle(taskBody(t, storyID))

	assert.ErrorIs(t, err, models.ErrTurnConflict)
	f.turnRepo.AssertNotCalled(t, "UpdateImageURL", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_BadPayload(t *testing.T) {
	f := newHandlerFixture(t, Config{})

	err := f.handler.Handle([]byte("не json"))

	require.Error(t, err)
	f.textGen.AssertNotCalled(t, "GenerateIntervention", mock.Anything, mock.Anything, mock.Anything)
}
