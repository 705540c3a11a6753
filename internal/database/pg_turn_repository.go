package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"storyweave-server/internal/interfaces"
	"storyweave-server/internal/models"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ interfaces.TurnRepository = (*pgTurnRepository)(nil)

const uniqueViolationCode = "23505"

type pgTurnRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPgTurnRepository(pool *pgxpool.Pool, logger *zap.Logger) interfaces.TurnRepository {
	return &pgTurnRepository{
		pool:   pool,
		logger: logger.Named("PgTurnRepo"),
	}
}

// Вставка охраняется условием "номер хода - непосредственный преемник максимума":
// при проигрыше гонки за слот запрос не вставляет строк. Уникальный индекс
// (story_id, turn_number) закрывает оставшееся окно между SELECT и INSERT.
const insertTurnQuery = `
INSERT INTO turns (id, story_id, author_id, turn_number, content, is_ai_generated, created_at)
SELECT $1, $2, $3, $4, $5, $6, $7
WHERE (SELECT COALESCE(MAX(turn_number), 0) FROM turns WHERE story_id = $2) = $4 - 1`

const listTurnsQuery = `
SELECT id, story_id, author_id, turn_number, content, is_ai_generated, ai_image_url, created_at
FROM turns
WHERE story_id = $1
ORDER BY turn_number ASC`

const lastTurnNumberQuery = `
SELECT COALESCE(MAX(turn_number), 0) FROM turns WHERE story_id = $1`

const countHumanTurnsQuery = `
SELECT COUNT(*) FROM turns WHERE story_id = $1 AND is_ai_generated = FALSE`

const updateTurnImageQuery = `
UPDATE turns SET ai_image_url = $2 WHERE id = $1 AND ai_image_url IS NULL`

// Insert commits a turn into its slot. Returns models.ErrTurnConflict when the
// slot was taken by a concurrent submission.
func (r *pgTurnRepository) Insert(ctx context.Context, turn *models.Turn) error {
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	tag, err := r.pool.Exec(ctx, insertTurnQuery,
		turn.ID, turn.StoryID, turn.AuthorID, turn.TurnNumber, turn.Content, turn.IsAIGenerated, turn.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			r.logger.Debug("Turn slot lost to concurrent writer (unique violation)",
				zap.String("storyID", turn.StoryID.String()), zap.Int("turnNumber", turn.TurnNumber))
			return models.ErrTurnConflict
		}
		r.logger.Error("Failed to insert turn", zap.Error(err),
			zap.String("storyID", turn.StoryID.String()), zap.Int("turnNumber", turn.TurnNumber))
		return fmt.Errorf("ошибка вставки хода: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Debug("Turn slot lost to concurrent writer (guard condition)",
			zap.String("storyID", turn.StoryID.String()), zap.Int("turnNumber", turn.TurnNumber))
		return models.ErrTurnConflict
	}

	r.logger.Info("Turn committed",
		zap.String("turnID", turn.ID.String()),
		zap.String("storyID", turn.StoryID.String()),
		zap.Int("turnNumber", turn.TurnNumber),
		zap.Bool("isAIGenerated", turn.IsAIGenerated))
	return nil
}

// ListByStory returns turns ordered by turn_number ascending.
func (r *pgTurnRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.Turn, error) {
	var turns []models.Turn
	if err := pgxscan.Select(ctx, r.pool, &turns, listTurnsQuery, storyID); err != nil {
		r.logger.Error("Failed to list turns", zap.Error(err), zap.String("storyID", storyID.String()))
		return nil, fmt.Errorf("ошибка получения ходов истории %s: %w", storyID, err)
	}
	return turns, nil
}

// LastTurnNumber returns the current maximum turn number for the story.
func (r *pgTurnRepository) LastTurnNumber(ctx context.Context, storyID uuid.UUID) (int, error) {
	var last int
	if err := r.pool.QueryRow(ctx, lastTurnNumberQuery, storyID).Scan(&last); err != nil {
		r.logger.Error("Failed to read last turn number", zap.Error(err), zap.String("storyID", storyID.String()))
		return 0, fmt.Errorf("ошибка чтения номера последнего хода: %w", err)
	}
	return last, nil
}

// CountHuman returns the number of human-authored turns.
func (r *pgTurnRepository) CountHuman(ctx context.Context, storyID uuid.UUID) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, countHumanTurnsQuery, storyID).Scan(&count); err != nil {
		r.logger.Error("Failed to count human turns", zap.Error(err), zap.String("storyID", storyID.String()))
		return 0, fmt.Errorf("ошибка подсчета человеческих ходов: %w", err)
	}
	return count, nil
}

// UpdateImageURL sets ai_image_url once; уже установленное значение не перезаписывается.
func (r *pgTurnRepository) UpdateImageURL(ctx context.Context, turnID uuid.UUID, url string) error {
	tag, err := r.pool.Exec(ctx, updateTurnImageQuery, turnID, url)
	if err != nil {
		r.logger.Error("Failed to update turn image URL", zap.Error(err), zap.String("turnID", turnID.String()))
		return fmt.Errorf("ошибка обновления изображения хода %s: %w", turnID, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrTurnNotFound
	}
	r.logger.Info("Turn image URL set", zap.String("turnID", turnID.String()))
	return nil
}
