package models

import (
	"time"

	"github.com/google/uuid"
)

// TurnKind определяет, кем написан ход: человеком или AI.
type TurnKind string

const (
	TurnKindHuman TurnKind = "human"
	TurnKindAI    TurnKind = "ai"
)

// AIAuthorID - зарезервированный системный автор для AI-ходов.
// Он никогда не является участником истории и не участвует в ротации.
var AIAuthorID = uuid.MustParse("a1a1a1a1-0000-4000-8000-000000000001")

// Story - совместная история с участниками и цепочкой ходов.
// CurrentTurnUserID указывает на участника, который имеет право написать
// следующий человеческий ход (nil только до появления первого участника).
type Story struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	Title             string     `json:"title" db:"title"`
	Premise           string     `json:"premise" db:"premise"`
	AuthorID          uuid.UUID  `json:"author_id" db:"author_id"`
	CurrentTurnUserID *uuid.UUID `json:"current_turn_user_id" db:"current_turn_user_id"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// Participant - участник истории. Порядок по JoinedAt задает ротацию.
type Participant struct {
	StoryID  uuid.UUID `json:"story_id" db:"story_id"`
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	JoinedAt time.Time `json:"joined_at" db:"joined_at"`
}

// Turn - один неизменяемый ход истории.
// TurnNumber - сквозная нумерация с 1 без пропусков в рамках истории.
// AIImageURL может быть установлен один раз после создания записи (только для AI-ходов).
type Turn struct {
	ID            uuid.UUID `json:"id" db:"id"`
	StoryID       uuid.UUID `json:"story_id" db:"story_id"`
	AuthorID      uuid.UUID `json:"author_id" db:"author_id"`
	TurnNumber    int       `json:"turn_number" db:"turn_number"`
	Content       string    `json:"content" db:"content"`
	IsAIGenerated bool      `json:"is_ai_generated" db:"is_ai_generated"`
	AIImageURL    *string   `json:"ai_image_url" db:"ai_image_url"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// StoryListItem - элемент списка историй (для экрана выбора).
type StoryListItem struct {
	ID               uuid.UUID `json:"id" db:"id"`
	Title            string    `json:"title" db:"title"`
	Premise          string    `json:"premise" db:"premise"`
	ParticipantCount int       `json:"participant_count" db:"participant_count"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// StoryAggregate - агрегированное представление истории:
// участники в порядке присоединения, ходы в порядке номеров.
type StoryAggregate struct {
	Story        Story         `json:"story"`
	Participants []Participant `json:"participants"`
	Turns        []Turn        `json:"turns"`
}

// HumanTurnCount возвращает количество человеческих ходов в агрегате.
func (a *StoryAggregate) HumanTurnCount() int {
	count := 0
	for _, t := range a.Turns {
		if !t.IsAIGenerated {
			count++
		}
	}
	return count
}
