package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	ifmocks "storyweave-server/internal/interfaces/mocks"
	"storyweave-server/internal/messaging"
	msgmocks "storyweave-server/internal/messaging/mocks"
	"storyweave-server/internal/models"
)

type turnServiceFixture struct {
	storyRepo       *ifmocks.StoryRepository
	turnRepo        *ifmocks.TurnRepository
	cache           *ifmocks.StoryContextCache
	interventionPub *msgmocks.InterventionTaskPublisher
	eventPub        *msgmocks.TurnEventPublisher
	svc             TurnService
}

func newTurnServiceFixture(t *testing.T) *turnServiceFixture {
	t.Helper()
	f := &turnServiceFixture{
		storyRepo:       new(ifmocks.StoryRepository),
		turnRepo:        new(ifmocks.TurnRepository),
		cache:           new(ifmocks.StoryContextCache),
		interventionPub: new(msgmocks.InterventionTaskPublisher),
		eventPub:        new(msgmocks.TurnEventPublisher),
	}
	// tokenLimit=0 отключает подсчет токенов, чтобы тесты не трогали tiktoken.
	builder := NewContextBuilder(f.cache, f.turnRepo, 6, 0, zap.NewNop())
	f.svc = NewTurnService(
		f.storyRepo, f.turnRepo, f.cache, builder,
		f.interventionPub, f.eventPub,
		TurnServiceConfig{MaxContentLength: 100, MaxAttempts: 3, InterventionEveryNTurns: 3},
		zap.NewNop(),
	)
	return f
}

func (f *turnServiceFixture) expectAfterCommitBasics() {
	f.cache.On("AppendTurn", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.eventPub.On("PublishTurnEvent", mock.Anything, mock.AnythingOfType("messaging.TurnEventPayload")).Return(nil)
}

func TestSubmitHumanTurn_InvalidContent(t *testing.T) {
	f := newTurnServiceFixture(t)

	_, err := f.svc.SubmitHumanTurn(context.Background(), uuid.New(), uuid.New(), "   \n\t ")
	assert.ErrorIs(t, err, models.ErrInvalidContent)

	_, err = f.svc.SubmitHumanTurn(context.Background(), uuid.New(), uuid.New(), strings.Repeat("ы", 101))
	assert.ErrorIs(t, err, models.ErrInvalidContent)

	f.turnRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestSubmitHumanTurn_NotYourTurn(t *testing.T) {
	f := newTurnServiceFixture(t)

	storyID := uuid.New()
	holderID := uuid.New()
	strangerID := uuid.New()
	story := &models.Story{ID: storyID, CurrentTurnUserID: &holderID}
	f.storyRepo.On("GetByID", mock.Anything, storyID).Return(story, nil)

	_, err := f.svc.SubmitHumanTurn(context.Background(), storyID, strangerID, "мой ход")

	assert.ErrorIs(t, err, models.ErrNotYourTurn)
	f.turnRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestSubmitHumanTurn_SuccessRotatesHolder(t *testing.T) {
	f := newTurnServiceFixture(t)

	storyID := uuid.New()
	a := uuid.New()
	b := uuid.New()
	story := &models.Story{ID: storyID, CurrentTurnUserID: &a}
	participants := newParticipants(storyID, a, b)

	f.storyRepo.On("GetByID", mock.Anything, storyID).Return(story, nil)
	f.turnRepo.On("LastTurnNumber", mock.Anything, storyID).Return(0, nil).Once()
	f.turnRepo.On("Insert", mock.Anything, mock.AnythingOfType("*models.Turn")).Return(nil).Once()
	f.turnRepo.On("CountHuman", mock.Anything, storyID).Return(1, nil).Once()
	f.storyRepo.On("ListParticipants", mock.Anything, storyID).Return(participants, nil).Once()
	// 1 % 2 = 1 -> право хода переходит к B.
	f.storyRepo.On("UpdateHolder", mock.Anything, storyID, b).Return(nil).Once()
	f.expectAfterCommitBasics()

	turn, err := f.svc.SubmitHumanTurn(context.Background(), storyID, a, "первый ход")

	require.NoError(t, err)
	assert.Equal(t, 1, turn.TurnNumber)
	assert.Equal(t, a, turn.AuthorID)
	assert.False(t, turn.IsAIGenerated)
	// Один человеческий ход при everyN=3 - вмешательство не ставится.
	f.interventionPub.AssertNotCalled(t, "PublishInterventionTask", mock.Anything, mock.Anything)
	f.storyRepo.AssertExpectations(t)
	f.turnRepo.AssertExpectations(t)
}

func TestSubmitHumanTurn_ConflictRetryThenSuccess(t *testing.T) {
	f := newTurnServiceFixture(t)

	storyID := uuid.New()
	a := uuid.New()
	story := &models.Story{ID: storyID, CurrentTurnUserID: &a}

	f.storyRepo.On("GetByID", mock.Anything, storyID).Return(story, nil)
	// Первая попытка проигрывает гонку, вторая видит новый максимум и проходит.
	f.turnRepo.On("LastTurnNumber", mock.Anything, storyID).Return(3, nil).Once()
	f.turnRepo.On("Insert", mock.Anything, mock.AnythingOfType("*models.Turn")).Return(models.ErrTurnConflict).Once()
	f.turnRepo.On("LastTurnNumber", mock.Anything, storyID).Return(4, nil).Once()
	f.turnRepo.On("Insert", mock.Anything, mock.AnythingOfType("*models.Turn")).Return(nil).Once()
	f.turnRepo.On("CountHuman", mock.Anything, storyID).Return(2, nil).Once()
	f.storyRepo.On("ListParticipants", mock.Anything, storyID).Return(newParticipants(storyID, a), nil).Once()
	f.storyRepo.On("UpdateHolder", mock.Anything, storyID, a).Return(nil).Once()
	f.expectAfterCommitBasics()

	turn, err := f.svc.SubmitHumanTurn(context.Background(), storyID, a, "ход после конфликта")

	require.NoError(t, err)
	assert.Equal(t, 5, turn.TurnNumber)
	f.turnRepo.AssertExpectations(t)
}

func TestSubmitHumanTurn_ConflictExhausted(t *testing.T) {
	f := newTurnServiceFixture(t)

	storyID := uuid.New()
	a := uuid.New()
	story := &models.Story{ID: storyID, CurrentTurnUserID: &a}

	f.storyRepo.On("GetByID", mock.Anything, storyID).Return(story, nil)
	f.turnRepo.On("LastTurnNumber", mock.Anything, storyID).Return(1, nil)
	f.turnRepo.On("Insert", mock.Anything, mock.AnythingOfType("*models.Turn")).Return(models.ErrTurnConflict)

	_, err := f.svc.SubmitHumanTurn(context.Background(), storyID, a, "не повезло")

	assert.ErrorIs(t, err, models.ErrTurnConflict)
	f.turnRepo.AssertNumberOfCalls(t, "Insert", 3)
	f.eventPub.AssertNotCalled(t, "PublishTurnEvent", mock.Anything, mock.Anything)
}

func TestSubmitHumanTurn_StaleRetryGetsNotYourTurn(t *testing.T) {
	f := newTurnServiceFixture(t)

	storyID := uuid.New()
	a := uuid.New()
	b := uuid.New()
	storyHeldByA := &models.Story{ID: storyID, CurrentTurnUserID: &a}
	storyHeldByB := &models.Story{ID: storyID, CurrentTurnUserID: &b}

	// Между попытками ротация передала право хода другому участнику:
	// повторная попытка не должна протолкнуть устаревший ход.
	f.storyRepo.On("GetByID", mock.Anything, storyID).Return(storyHeldByA, nil).Once()
	f.turnRepo.On("LastTurnNumber", mock.Anything, storyID).Return(0, nil).Once()
	f.turnRepo.On("Insert", mock.Anything, mock.AnythingOfType("*models.Turn")).Return(models.ErrTurnConflict).Once()
	f.storyRepo.On("GetByID", mock.Anything, storyID).Return(storyHeldByB, nil).Once()

	_, err := f.svc.SubmitHumanTurn(context.Background(), storyID, a, "устаревший ход")

	assert.ErrorIs(t, err, models.ErrNotYourTurn)
	f.turnRepo.AssertNumberOfCalls(t, "Insert", 1)
}

func TestSubmitHumanTurn_TriggersIntervention(t *testing.T) {
	f := newTurnServiceFixture(t)

	storyID := uuid.New()
	a := uuid.New()
	story := &models.Story{ID: storyID, Premise: "завязка", CurrentTurnUserID: &a}

	f.storyRepo.On("GetByID", mock.Anything, storyID).Return(story, nil)
	f.turnRepo.On("LastTurnNumber", mock.Anything, storyID).Return(3, nil).Once()
	f.turnRepo.On("Insert", mock.Anything, mock.AnythingOfType("*models.Turn")).Return(nil).Once()
	// Третий человеческий ход при everyN=3 - триггер вмешательства.
	f.turnRepo.On("CountHuman", mock.Anything, storyID).Return(3, nil).Once()
	f.storyRepo.On("ListParticipants", mock.Anything, storyID).Return(newParticipants(storyID, a), nil).Once()
	f.storyRepo.On("UpdateHolder", mock.Anything, storyID, a).Return(nil).Once()
	f.cache.On("RecentTurns", mock.Anything, storyID).Return([]string{"ход 1", "ход 2", "ход 3"}, nil).Once()
	f.interventionPub.On("PublishInterventionTask", mock.Anything, mock.MatchedBy(func(p messaging.InterventionTaskPayload) bool {
		return p.StoryID == storyID.String() && p.Premise == "завязка" && strings.Contains(p.RecentTurnsText, "ход 3")
	})).Return(nil).Once()
	f.expectAfterCommitBasics()

	_, err := f.svc.SubmitHumanTurn(context.Background(), storyID, a, "третий ход")

	require.NoError(t, err)
	f.interventionPub.AssertExpectations(t)
}

func TestSubmitAITurn_SkipsOwnershipAndRotation(t *testing.T) {
	f := newTurnServiceFixture(t)

	storyID := uuid.New()
	holderID := uuid.New()
	story := &models.Story{ID: storyID, CurrentTurnUserID: &holderID}

	f.storyRepo.On("GetByID", mock.Anything, storyID).Return(story, nil)
	f.turnRepo.On("LastTurnNumber", mock.Anything, storyID).Return(3, nil).Once()
	f.turnRepo.On("Insert", mock.Anything, mock.AnythingOfType("*models.Turn")).Return(nil).Once()
	f.expectAfterCommitBasics()

	turn, err := f.svc.SubmitAITurn(context.Background(), storyID, "неожиданный поворот")

	require.NoError(t, err)
	assert.Equal(t, models.AIAuthorID, turn.AuthorID)
	assert.True(t, turn.IsAIGenerated)
	assert.Equal(t, 4, turn.TurnNumber)
	// AI-ход не двигает ротацию и не триггерит новое вмешательство.
	f.storyRepo.AssertNotCalled(t, "UpdateHolder", mock.Anything, mock.Anything, mock.Anything)
	f.turnRepo.AssertNotCalled(t, "CountHuman", mock.Anything, mock.Anything)
	f.interventionPub.AssertNotCalled(t, "PublishInterventionTask", mock.Anything, mock.Anything)
}

// Инмемори-репозиторий с той же CAS-семантикой, что и у pg-реализации.
type memTurnRepo struct {
	mu    sync.Mutex
	turns []models.Turn
}

func (r *memTurnRepo) Insert(_ context.Context, turn *models.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if turn.TurnNumber != len(r.turns)+1 {
		return models.ErrTurnConflict
	}
	r.turns = append(r.turns, *turn)
	return nil
}

func (r *memTurnRepo) ListByStory(_ context.Context, _ uuid.UUID) ([]models.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Turn, len(r.turns))
	copy(out, r.turns)
	return out, nil
}

func (r *memTurnRepo) LastTurnNumber(_ context.Context, _ uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns), nil
}

func (r *memTurnRepo) CountHuman(_ context.Context, _ uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, t := range r.turns {
		if !t.IsAIGenerated {
			count++
		}
	}
	return count, nil
}

func (r *memTurnRepo) UpdateImageURL(_ context.Context, _ uuid.UUID, _ string) error {
	return nil
}

func TestSubmit_ConcurrentTurnsStayContiguous(t *testing.T) {
	storyID := uuid.New()
	holderID := uuid.New()
	story := &models.Story{ID: storyID, CurrentTurnUserID: &holderID}

	storyRepo := new(ifmocks.StoryRepository)
	storyRepo.On("GetByID", mock.Anything, storyID).Return(story, nil)

	cache := new(ifmocks.StoryContextCache)
	cache.On("AppendTurn", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	eventPub := new(msgmocks.TurnEventPublisher)
	eventPub.On("PublishTurnEvent", mock.Anything, mock.Anything).Return(nil)
	interventionPub := new(msgmocks.InterventionTaskPublisher)

	turnRepo := &memTurnRepo{}
	builder := NewContextBuilder(cache, turnRepo, 6, 0, zap.NewNop())
	svc := NewTurnService(
		storyRepo, turnRepo, cache, builder, interventionPub, eventPub,
		TurnServiceConfig{MaxContentLength: 100, MaxAttempts: 50, InterventionEveryNTurns: 3},
		zap.NewNop(),
	)

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.SubmitAITurn(context.Background(), storyID, "параллельный ход")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	turns, err := turnRepo.ListByStory(context.Background(), storyID)
	require.NoError(t, err)
	require.Len(t, turns, writers)
	// Номера ходов - плотная последовательность 1..N без пропусков и дублей.
	for i, turn := range turns {
		assert.Equal(t, i+1, turn.TurnNumber)
	}
}
