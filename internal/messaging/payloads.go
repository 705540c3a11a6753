package messaging

import (
	"storyweave-server/internal/models"
)

// InterventionTaskPayload - структура сообщения для задачи AI-вмешательства.
type InterventionTaskPayload struct {
	TaskID          string `json:"task_id"`           // Уникальный ID задачи
	StoryID         string `json:"story_id"`          // ID истории
	Premise         string `json:"premise"`           // Завязка истории
	RecentTurnsText string `json:"recent_turns_text"` // Текст последних ходов (ограничен бюджетом токенов)
}

// TurnEventType определяет тип события по ходам.
type TurnEventType string

const (
	TurnEventCreated TurnEventType = "turn_created"
)

// TurnEventPayload - событие о новом закоммиченном ходе.
// Доставка подписчикам - at-least-once; потребители обязаны сливать идемпотентно.
type TurnEventPayload struct {
	EventType TurnEventType `json:"event_type"`
	StoryID   string        `json:"story_id"`
	Turn      models.Turn   `json:"turn"`
}
