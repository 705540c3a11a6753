package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"storyweave-server/internal/interfaces"
)

var log = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

// systemPrompt - инструкции для модели: вмешательство должно быть коротким
// поворотом сюжета, а не продолжением за игроков.
const systemPrompt = "Ты рассказчик в совместной интерактивной истории, которую пишут несколько авторов по очереди. " +
	"Твоя задача - внести неожиданный поворот сюжета: новое событие, персонажа или осложнение, " +
	"которое обострит историю, но не завершит ее и не отнимет выбор у авторов. " +
	"Ответь ровно 2-3 предложениями на языке истории, без преамбулы и пояснений."

// Client предоставляет доступ к API генерации текста через OpenRouter.
type Client struct {
	client    *openai.Client
	modelName string
	timeout   time.Duration
}

// Config содержит конфигурацию для клиента нейросети
type Config struct {
	APIKey    string
	BaseURL   string
	ModelName string
	Timeout   int
}

var _ interfaces.TextGenerator = (*Client)(nil)

// New создает новый экземпляр клиента нейросети
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("не указан API ключ для OpenRouter")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}

	if cfg.ModelName == "" {
		cfg.ModelName = "deepseek/deepseek-chat-v3-0324:free"
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 15
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL

	return &Client{
		client:    openai.NewClientWithConfig(config),
		modelName: cfg.ModelName,
		timeout:   time.Duration(cfg.Timeout) * time.Second,
	}, nil
}

// GenerateIntervention генерирует текст AI-вмешательства по завязке истории
// и тексту последних ходов. Одна попытка на вызов; ретраи - на стороне воркера.
func (c *Client) GenerateIntervention(ctx context.Context, premise, recentTurnsText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf("Завязка истории: %s\n\nПоследние ходы:\n%s\n\nВнеси поворот сюжета.", premise, recentTurnsText)

	req := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		Temperature: 0.8,
		MaxTokens:   400,
		TopP:        0.95,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("model", c.modelName).Msg("Ошибка при вызове CreateChatCompletion")
		return "", fmt.Errorf("ошибка при генерации вмешательства: %w", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		log.Warn().Str("model", c.modelName).Msg("Пустой ответ от AI")
		return "", errors.New("пустой ответ от API: не получены варианты")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	log.Info().Str("model", c.modelName).Int("length", len(content)).Msg("Получен текст вмешательства от API")
	return content, nil
}
