package interfaces

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/google/uuid"

	"storyweave-server/internal/models"
)

// DBTX - абстракция над pgxpool.Pool или pgx.Tx,
// чтобы репозитории могли работать как с пулом, так и внутри транзакции.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StoryRepository defines the interface for interacting with story and participant data.
//
//go:generate mockery --name StoryRepository --output ./mocks --outpkg mocks --case=underscore
type StoryRepository interface {
	// Create inserts a new story and its author as the first participant atomically.
	// The author becomes the current turn holder.
	Create(ctx context.Context, story *models.Story) error

	// GetByID retrieves a story by its unique ID. Returns models.ErrStoryNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error)

	// List returns all stories with their participant counts.
	List(ctx context.Context) ([]models.StoryListItem, error)

	// ListParticipants returns the participants of a story ordered by joined_at ascending.
	ListParticipants(ctx context.Context, storyID uuid.UUID) ([]models.Participant, error)

	// AddParticipant appends a participant. Повторное добавление - no-op (идемпотентность).
	AddParticipant(ctx context.Context, storyID, userID uuid.UUID) error

	// UpdateHolder persists the participant authorized to write the next human turn.
	UpdateHolder(ctx context.Context, storyID, userID uuid.UUID) error
}

// TurnRepository defines the interface for interacting with turn data.
//
//go:generate mockery --name TurnRepository --output ./mocks --outpkg mocks --case=underscore
type TurnRepository interface {
	// Insert commits a turn into its numbered slot. Вставка атомарно проверяет,
	// что turn.TurnNumber является непосредственным преемником текущего максимума;
	// при проигрыше гонки возвращает models.ErrTurnConflict.
	Insert(ctx context.Context, turn *models.Turn) error

	// ListByStory returns the turns of a story ordered by turn_number ascending.
	ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.Turn, error)

	// LastTurnNumber returns the highest committed turn number (0 when the story has no turns).
	LastTurnNumber(ctx context.Context, storyID uuid.UUID) (int, error)

	// CountHuman returns the number of human-authored turns.
	CountHuman(ctx context.Context, storyID uuid.UUID) (int, error)

	// UpdateImageURL sets ai_image_url exactly once (from NULL to a value).
	UpdateImageURL(ctx context.Context, turnID uuid.UUID, url string) error
}

// StoryContextCache хранит последние ходы истории для сборки контекста AI-вмешательства.
type StoryContextCache interface {
	AppendTurn(ctx context.Context, storyID uuid.UUID, line string) error
	RecentTurns(ctx context.Context, storyID uuid.UUID) ([]string, error)
}

// TextGenerator - внешний коллаборатор генерации текста.
type TextGenerator interface {
	GenerateIntervention(ctx context.Context, premise, recentTurnsText string) (string, error)
}

// ImageGenerator - внешний коллаборатор генерации изображений.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}
