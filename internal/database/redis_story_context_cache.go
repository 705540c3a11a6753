package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storyweave-server/internal/interfaces"
)

// Compile-time check to ensure redisStoryContextCache implements StoryContextCache.
var _ interfaces.StoryContextCache = (*redisStoryContextCache)(nil)

type redisStoryContextCache struct {
	client *redis.Client
	limit  int
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStoryContextCache creates a Redis-backed cache of the most recent turn
// texts per story. Хранится список story_context:{id}, обрезанный до limit записей.
func NewRedisStoryContextCache(client *redis.Client, limit int, ttl time.Duration, logger *zap.Logger) interfaces.StoryContextCache {
	if limit <= 0 {
		limit = 6
	}
	return &redisStoryContextCache{
		client: client,
		limit:  limit,
		ttl:    ttl,
		logger: logger.Named("RedisStoryContextCache"),
	}
}

func contextKey(storyID uuid.UUID) string {
	return fmt.Sprintf("story_context:%s", storyID)
}

// AppendTurn pushes a turn line and trims the list to the configured limit.
func (c *redisStoryContextCache) AppendTurn(ctx context.Context, storyID uuid.UUID, line string) error {
	key := contextKey(storyID)

	pipe := c.client.Pipeline()
	pipe.LPush(ctx, key, line)
	pipe.LTrim(ctx, key, 0, int64(c.limit-1))
	pipe.Expire(ctx, key, c.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Failed to append turn to context cache", zap.Error(err), zap.String("storyID", storyID.String()))
		return fmt.Errorf("ошибка записи в кеш контекста: %w", err)
	}
	return nil
}

// RecentTurns returns cached turn lines in chronological order.
// Пустой результат означает промах кеша - вызывающий должен сходить в репозиторий.
func (c *redisStoryContextCache) RecentTurns(ctx context.Context, storyID uuid.UUID) ([]string, error) {
	lines, err := c.client.LRange(ctx, contextKey(storyID), 0, int64(c.limit-1)).Result()
	if err != nil {
		c.logger.Warn("Failed to read context cache", zap.Error(err), zap.String("storyID", storyID.String()))
		return nil, fmt.Errorf("ошибка чтения кеша контекста: %w", err)
	}

	// LPUSH хранит записи в обратном порядке
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}
