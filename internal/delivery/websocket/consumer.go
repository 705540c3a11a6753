package websocket

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storyweave-server/internal/messaging"
)

// TurnEventConsumer преобразует события из очереди turn_events в рассылку по комнатам.
// Доставка at-least-once: дубли событий гасятся идемпотентным слиянием в ленте хаба.
type TurnEventConsumer struct {
	hub    *StoryHub
	logger zerolog.Logger
}

// NewTurnEventConsumer создает новый обработчик событий о ходах.
func NewTurnEventConsumer(hub *StoryHub, logger zerolog.Logger) *TurnEventConsumer {
	return &TurnEventConsumer{
		hub:    hub,
		logger: logger.With().Str("component", "TurnEventConsumer").Logger(),
	}
}

// Handle обрабатывает одно событие. Сигнатура совместима с messaging.DeliveryHandler.
// Событие подтверждается даже если у истории нет подписчиков.
func (c *TurnEventConsumer) Handle(body []byte) error {
	var payload messaging.TurnEventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("не удалось разобрать событие о ходе: %w", err)
	}

	if payload.EventType != messaging.TurnEventCreated {
		c.logger.Warn().Str("eventType", string(payload.EventType)).Msg("Неизвестный тип события, пропускаем")
		return nil
	}

	storyID, err := uuid.Parse(payload.StoryID)
	if err != nil {
		return fmt.Errorf("некорректный ID истории в событии: %w", err)
	}

	c.hub.ApplyAndBroadcast(storyID, payload.Turn, body)

	c.logger.Debug().
		Str("storyID", payload.StoryID).
		Int("turnNumber", payload.Turn.TurnNumber).
		Msg("Событие о ходе доставлено подписчикам")
	return nil
}
