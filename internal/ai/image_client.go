package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"storyweave-server/internal/interfaces"
)

// ImageClient - клиент HTTP API сервера генерации изображений.
type ImageClient struct {
	logger      *zap.Logger
	httpClient  *http.Client
	baseURL     string
	stylePrefix string
}

// ImageClientConfig содержит конфигурацию клиента генерации изображений.
type ImageClientConfig struct {
	BaseURL     string
	Timeout     int
	StylePrefix string
}

var _ interfaces.ImageGenerator = (*ImageClient)(nil)

// imageAPIRequest - тело запроса к API генерации изображений.
type imageAPIRequest struct {
	Prompt string `json:"prompt"`
	Ratio  string `json:"ratio"`
}

// imageAPIResponse - тело ответа API генерации изображений.
type imageAPIResponse struct {
	ImageURL string `json:"image_url"`
}

// NewImageClient создает новый клиент генерации изображений.
func NewImageClient(cfg ImageClientConfig, logger *zap.Logger) (*ImageClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("не указан базовый URL сервера генерации изображений")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15
	}

	return &ImageClient{
		logger: logger.Named("ImageClient"),
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		stylePrefix: cfg.StylePrefix,
	}, nil
}

// GenerateImage генерирует иллюстрацию по тексту хода и возвращает публичный URL.
// Одна попытка на вызов; ретраи - на стороне воркера.
func (c *ImageClient) GenerateImage(ctx context.Context, prompt string) (string, error) {
	fullPrompt := c.stylePrefix + prompt

	reqBodyBytes, err := json.Marshal(imageAPIRequest{
		Prompt: fullPrompt,
		Ratio:  "3:2",
	})
	if err != nil {
		return "", fmt.Errorf("не удалось сериализовать запрос к API изображений: %w", err)
	}

	endpointURL := c.baseURL + "/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return "", fmt.Errorf("не удалось создать запрос к API изображений: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Отправка запроса к API изображений", zap.String("url", endpointURL))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ошибка HTTP запроса к API изображений: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("API изображений вернул не-OK статус",
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response_body", bodyBytes),
		)
		return "", fmt.Errorf("API изображений вернул статус %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if readErr != nil {
		return "", fmt.Errorf("не удалось прочитать тело ответа API изображений: %w", readErr)
	}

	var apiResp imageAPIResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("не удалось разобрать ответ API изображений: %w", err)
	}
	if apiResp.ImageURL == "" {
		return "", errors.New("API изображений вернул пустой URL")
	}

	c.logger.Info("Изображение сгенерировано", zap.String("url", apiResp.ImageURL))
	return apiResp.ImageURL, nil
}
