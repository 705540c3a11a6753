package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"storyweave-server/internal/interfaces"
	"storyweave-server/internal/models"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ interfaces.StoryRepository = (*pgStoryRepository)(nil)

type pgStoryRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPgStoryRepository(pool *pgxpool.Pool, logger *zap.Logger) interfaces.StoryRepository {
	return &pgStoryRepository{
		pool:   pool,
		logger: logger.Named("PgStoryRepo"),
	}
}

const createStoryQuery = `
INSERT INTO stories (id, title, premise, author_id, current_turn_user_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

const addParticipantQuery = `
INSERT INTO participants (story_id, user_id, joined_at)
VALUES ($1, $2, $3)
ON CONFLICT (story_id, user_id) DO NOTHING`

const getStoryByIDQuery = `
SELECT id, title, premise, author_id, current_turn_user_id, created_at
FROM stories
WHERE id = $1`

const listStoriesQuery = `
SELECT s.id, s.title, s.premise, s.created_at,
       COUNT(p.user_id)::int AS participant_count
FROM stories s
LEFT JOIN participants p ON p.story_id = s.id
GROUP BY s.id
ORDER BY s.created_at DESC`

const listParticipantsQuery = `
SELECT story_id, user_id, joined_at
FROM participants
WHERE story_id = $1
ORDER BY joined_at ASC`

const updateHolderQuery = `
UPDATE stories SET current_turn_user_id = $2 WHERE id = $1`

// Create inserts a story and its author as the first participant in one transaction.
// Автор сразу становится держателем первого хода.
func (r *pgStoryRepository) Create(ctx context.Context, story *models.Story) error {
	if story.ID == uuid.Nil {
		story.ID = uuid.New()
	}
	if story.CreatedAt.IsZero() {
		story.CreatedAt = time.Now().UTC()
	}
	holder := story.AuthorID
	story.CurrentTurnUserID = &holder

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции создания истории: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, createStoryQuery,
		story.ID, story.Title, story.Premise, story.AuthorID, story.CurrentTurnUserID, story.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create story", zap.Error(err), zap.String("storyID", story.ID.String()))
		return fmt.Errorf("ошибка создания истории: %w", err)
	}

	_, err = tx.Exec(ctx, addParticipantQuery, story.ID, story.AuthorID, story.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to add author participant", zap.Error(err), zap.String("storyID", story.ID.String()))
		return fmt.Errorf("ошибка добавления автора в участники: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка коммита создания истории: %w", err)
	}

	r.logger.Info("Story created", zap.String("storyID", story.ID.String()), zap.String("authorID", story.AuthorID.String()))
	return nil
}

// GetByID retrieves a story by its unique ID.
func (r *pgStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	story := &models.Story{}
	err := r.pool.QueryRow(ctx, getStoryByIDQuery, id).Scan(
		&story.ID,
		&story.Title,
		&story.Premise,
		&story.AuthorID,
		&story.CurrentTurnUserID,
		&story.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("Story not found", zap.String("storyID", id.String()))
			return nil, models.ErrStoryNotFound
		}
		r.logger.Error("Failed to get story by ID", zap.Error(err), zap.String("storyID", id.String()))
		return nil, fmt.Errorf("ошибка получения истории %s: %w", id, err)
	}
	return story, nil
}

// List returns all stories with participant counts.
func (r *pgStoryRepository) List(ctx context.Context) ([]models.StoryListItem, error) {
	var items []models.StoryListItem
	if err := pgxscan.Select(ctx, r.pool, &items, listStoriesQuery); err != nil {
		r.logger.Error("Failed to list stories", zap.Error(err))
		return nil, fmt.Errorf("ошибка получения списка историй: %w", err)
	}
	return items, nil
}

// ListParticipants returns participants ordered by joined_at ascending.
// Этот порядок определяет ротацию ходов.
func (r *pgStoryRepository) ListParticipants(ctx context.Context, storyID uuid.UUID) ([]models.Participant, error) {
	var participants []models.Participant
	if err := pgxscan.Select(ctx, r.pool, &participants, listParticipantsQuery, storyID); err != nil {
		r.logger.Error("Failed to list participants", zap.Error(err), zap.String("storyID", storyID.String()))
		return nil, fmt.Errorf("ошибка получения участников истории %s: %w", storyID, err)
	}
	return participants, nil
}

// AddParticipant appends a participant; re-joining is a no-op.
func (r *pgStoryRepository) AddParticipant(ctx context.Context, storyID, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, addParticipantQuery, storyID, userID, time.Now().UTC())
	if err != nil {
		r.logger.Error("Failed to add participant", zap.Error(err),
			zap.String("storyID", storyID.String()), zap.String("userID", userID.String()))
		return fmt.Errorf("ошибка добавления участника: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Debug("Participant already joined", zap.String("storyID", storyID.String()), zap.String("userID", userID.String()))
	}
	return nil
}

// UpdateHolder persists the next authorized human author for the story.
func (r *pgStoryRepository) UpdateHolder(ctx context.Context, storyID, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, updateHolderQuery, storyID, userID)
	if err != nil {
		r.logger.Error("Failed to update turn holder", zap.Error(err),
			zap.String("storyID", storyID.String()), zap.String("userID", userID.String()))
		return fmt.Errorf("ошибка обновления держателя хода: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrStoryNotFound
	}
	return nil
}
