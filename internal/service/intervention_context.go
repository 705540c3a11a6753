package service

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"storyweave-server/internal/interfaces"
)

const contextEncoding = "cl100k_base"

// ContextBuilder собирает текст последних ходов истории для AI-вмешательства.
// Основной источник - Redis-кеш; при промахе ходы читаются из БД.
// Итоговый текст ограничен бюджетом токенов: старые ходы отбрасываются первыми.
type ContextBuilder struct {
	cache      interfaces.StoryContextCache
	turnRepo   interfaces.TurnRepository
	turnLimit  int
	tokenLimit int
	logger     *zap.Logger

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewContextBuilder создает новый сборщик контекста.
func NewContextBuilder(
	cache interfaces.StoryContextCache,
	turnRepo interfaces.TurnRepository,
	turnLimit int,
	tokenLimit int,
	logger *zap.Logger,
) *ContextBuilder {
	if turnLimit <= 0 {
		turnLimit = 6
	}
	return &ContextBuilder{
		cache:      cache,
		turnRepo:   turnRepo,
		turnLimit:  turnLimit,
		tokenLimit: tokenLimit,
		logger:     logger.Named("ContextBuilder"),
	}
}

// BuildRecentContext возвращает текст последних ходов истории
// (от старых к новым), обрезанный по бюджету токенов.
func (b *ContextBuilder) BuildRecentContext(ctx context.Context, storyID uuid.UUID) (string, error) {
	lines, err := b.cache.RecentTurns(ctx, storyID)
	if err != nil || len(lines) == 0 {
		if err != nil {
			b.logger.Warn("Кеш контекста недоступен, читаем ходы из БД",
				zap.Error(err), zap.String("storyID", storyID.String()))
		}
		lines, err = b.loadFromRepository(ctx, storyID)
		if err != nil {
			return "", err
		}
	}

	lines = b.trimToTokenBudget(lines)
	return strings.Join(lines, "\n\n"), nil
}

// loadFromRepository читает последние turnLimit ходов из БД.
func (b *ContextBuilder) loadFromRepository(ctx context.Context, storyID uuid.UUID) ([]string, error) {
	turns, err := b.turnRepo.ListByStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if len(turns) > b.turnLimit {
		turns = turns[len(turns)-b.turnLimit:]
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.Content)
	}
	return lines, nil
}

// trimToTokenBudget отбрасывает старые строки, пока суммарное число токенов
// не уложится в бюджет. Порядок строк сохраняется (от старых к новым).
func (b *ContextBuilder) trimToTokenBudget(lines []string) []string {
	if b.tokenLimit <= 0 || len(lines) == 0 {
		return lines
	}

	total := 0
	kept := 0
	for i := len(lines) - 1; i >= 0; i-- {
		tokens := b.countTokens(lines[i])
		if kept > 0 && total+tokens > b.tokenLimit {
			break
		}
		total += tokens
		kept++
	}
	return lines[len(lines)-kept:]
}

// countTokens считает токены через tiktoken; при недоступности энкодера
// используется грубая оценка (1 токен на 4 символа).
func (b *ContextBuilder) countTokens(text string) int {
	b.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(contextEncoding)
		if err != nil {
			b.logger.Warn("Не удалось инициализировать tiktoken, используем грубую оценку токенов", zap.Error(err))
			return
		}
		b.enc = enc
	})

	if b.enc != nil {
		return len(b.enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}
