// Package turncache содержит идемпотентное слияние ходов истории.
// События доставляются подписчикам at-least-once, поэтому любое локальное
// представление ленты ходов обязано переживать дубли и перестановки.
package turncache

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"storyweave-server/internal/models"
)

// Merge объединяет известные ходы с входящими: дубли по ID отбрасываются,
// результат отсортирован по TurnNumber. Функция чистая - входные срезы
// не модифицируются. Повторное применение того же события дает тот же результат.
func Merge(known []models.Turn, incoming ...models.Turn) []models.Turn {
	seen := make(map[uuid.UUID]struct{}, len(known)+len(incoming))
	merged := make([]models.Turn, 0, len(known)+len(incoming))

	for _, t := range known {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		merged = append(merged, t)
	}
	for _, t := range incoming {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		merged = append(merged, t)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].TurnNumber < merged[j].TurnNumber
	})
	return merged
}

// Cache - потокобезопасная лента ходов одной истории.
// Используется хабом доставки для снапшота при подключении подписчика.
type Cache struct {
	mu    sync.RWMutex
	turns []models.Turn
}

// NewCache создает пустую ленту.
func NewCache() *Cache {
	return &Cache{}
}

// Apply вливает входящие ходы в ленту.
func (c *Cache) Apply(incoming ...models.Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = Merge(c.turns, incoming...)
}

// Replace полностью заменяет ленту (например, после перечитывания из БД).
func (c *Cache) Replace(turns []models.Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = Merge(nil, turns...)
}

// Snapshot возвращает копию текущей ленты в порядке номеров ходов.
func (c *Cache) Snapshot() []models.Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}
