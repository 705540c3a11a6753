package database_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"storyweave-server/internal/database"
	"storyweave-server/internal/interfaces"
	"storyweave-server/internal/messaging"
	"storyweave-server/internal/models"
)

// IntegrationTestSuite поднимает PostgreSQL и RabbitMQ в контейнерах
// и проверяет репозитории и обмен сообщениями на реальной инфраструктуре.
// Запуск: INTEGRATION_TESTS=1 go test ./internal/database/...
type IntegrationTestSuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	mqContainer *tcrabbitmq.RabbitMQContainer
	pgPool      *pgxpool.Pool
	rabbitConn  *amqp.Connection
	storyRepo   interfaces.StoryRepository
	turnRepo    interfaces.TurnRepository
	logger      *zap.Logger
}

func (s *IntegrationTestSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error

	s.logger, err = zap.NewDevelopment()
	require.NoError(s.T(), err)

	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	pgConnStr, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err)

	s.pgPool, err = pgxpool.New(s.ctx, pgConnStr)
	require.NoError(s.T(), err)

	require.NoError(s.T(), database.RunMigrations(s.ctx, s.pgPool, s.logger))

	s.mqContainer, err = tcrabbitmq.Run(s.ctx, "rabbitmq:3.12-alpine")
	require.NoError(s.T(), err, "Failed to start rabbitmq container")

	amqpURL, err := s.mqContainer.AmqpURL(s.ctx)
	require.NoError(s.T(), err)
	s.rabbitConn, err = amqp.Dial(amqpURL)
	require.NoError(s.T(), err)

	s.storyRepo = database.NewPgStoryRepository(s.pgPool, s.logger)
	s.turnRepo = database.NewPgTurnRepository(s.pgPool, s.logger)
}

func (s *IntegrationTestSuite) TearDownSuite() {
	if s.rabbitConn != nil {
		_ = s.rabbitConn.Close()
	}
	if s.pgPool != nil {
		s.pgPool.Close()
	}
	if s.mqContainer != nil {
		_ = s.mqContainer.Terminate(s.ctx)
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(s.ctx)
	}
}

func (s *IntegrationTestSuite) createStory(authorID uuid.UUID) *models.Story {
	holder := authorID
	story := &models.Story{
		ID:                uuid.New(),
		Title:             "Последний маяк",
		Premise:           "Хранитель маяка находит дверь в скале.",
		AuthorID:          authorID,
		CurrentTurnUserID: &holder,
	}
	require.NoError(s.T(), s.storyRepo.Create(s.ctx, story))
	return story
}

func (s *IntegrationTestSuite) TestTurnInsert_SuccessorGuard() {
	authorID := uuid.New()
	story := s.createStory(authorID)

	first := &models.Turn{ID: uuid.New(), StoryID: story.ID, AuthorID: authorID, TurnNumber: 1, Content: "первый ход"}
	s.Require().NoError(s.turnRepo.Insert(s.ctx, first))

	// Повторная вставка в тот же слот проигрывает гонку.
	duplicate := &models.Turn{ID: uuid.New(), StoryID: story.ID, AuthorID: authorID, TurnNumber: 1, Content: "дубль"}
	s.Require().ErrorIs(s.turnRepo.Insert(s.ctx, duplicate), models.ErrTurnConflict)

	// Пропуск номера тоже отклоняется.
	gap := &models.Turn{ID: uuid.New(), StoryID: story.ID, AuthorID: authorID, TurnNumber: 3, Content: "с пропуском"}
	s.Require().ErrorIs(s.turnRepo.Insert(s.ctx, gap), models.ErrTurnConflict)

	second := &models.Turn{ID: uuid.New(), StoryID: story.ID, AuthorID: models.AIAuthorID, TurnNumber: 2, Content: "поворот", IsAIGenerated: true}
	s.Require().NoError(s.turnRepo.Insert(s.ctx, second))

	last, err := s.turnRepo.LastTurnNumber(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Equal(2, last)

	humans, err := s.turnRepo.CountHuman(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Equal(1, humans)

	turns, err := s.turnRepo.ListByStory(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Require().Len(turns, 2)
	s.Equal(1, turns[0].TurnNumber)
	s.Equal(2, turns[1].TurnNumber)
}

func (s *IntegrationTestSuite) TestUpdateImageURL_SetOnce() {
	authorID := uuid.New()
	story := s.createStory(authorID)

	turn := &models.Turn{ID: uuid.New(), StoryID: story.ID, AuthorID: models.AIAuthorID, TurnNumber: 1, Content: "поворот", IsAIGenerated: true}
	s.Require().NoError(s.turnRepo.Insert(s.ctx, turn))

	s.Require().NoError(s.turnRepo.UpdateImageURL(s.ctx, turn.ID, "https://img.example/1.jpg"))

	// Повторная установка URL отклоняется: поле пишется ровно один раз.
	s.Require().ErrorIs(s.turnRepo.UpdateImageURL(s.ctx, turn.ID, "https://img.example/2.jpg"), models.ErrTurnNotFound)

	turns, err := s.turnRepo.ListByStory(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Require().Len(turns, 1)
	s.Require().NotNil(turns[0].AIImageURL)
	s.Equal("https://img.example/1.jpg", *turns[0].AIImageURL)
}

func (s *IntegrationTestSuite) TestAddParticipant_Idempotent() {
	authorID := uuid.New()
	story := s.createStory(authorID)

	userID := uuid.New()
	s.Require().NoError(s.storyRepo.AddParticipant(s.ctx, story.ID, userID))
	s.Require().NoError(s.storyRepo.AddParticipant(s.ctx, story.ID, userID))

	participants, err := s.storyRepo.ListParticipants(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Require().Len(participants, 2)
	// Порядок присоединения: автор первый.
	s.Equal(authorID, participants[0].UserID)
	s.Equal(userID, participants[1].UserID)
}

func (s *IntegrationTestSuite) TestTurnEventRoundtrip() {
	queueName := "turn_events_it_" + uuid.NewString()[:8]

	publisher, err := messaging.NewRabbitMQTurnEventPublisher(s.rabbitConn, queueName)
	s.Require().NoError(err)

	received := make(chan messaging.TurnEventPayload, 1)
	consumer := messaging.NewQueueConsumer(s.rabbitConn, queueName, "it-consumer", func(body []byte) error {
		var payload messaging.TurnEventPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return err
		}
		received <- payload
		return nil
	}, s.logger)
	go func() { _ = consumer.StartConsuming() }()
	defer consumer.Stop()

	turn := models.Turn{ID: uuid.New(), StoryID: uuid.New(), AuthorID: uuid.New(), TurnNumber: 1, Content: "ход"}
	s.Require().NoError(publisher.PublishTurnEvent(s.ctx, messaging.TurnEventPayload{
		EventType: messaging.TurnEventCreated,
		StoryID:   turn.StoryID.String(),
		Turn:      turn,
	}))

	select {
	case payload := <-received:
		s.Equal(messaging.TurnEventCreated, payload.EventType)
		s.Equal(turn.ID, payload.Turn.ID)
	case <-time.After(15 * time.Second):
		s.Fail("событие не доставлено за отведенное время")
	}
}

func TestIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропуск интеграционных тестов в режиме -short")
	}
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("Пропуск интеграционных тестов: переменная INTEGRATION_TESTS не установлена")
	}
	suite.Run(t, new(IntegrationTestSuite))
}
