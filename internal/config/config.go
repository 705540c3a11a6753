package config

import (
	"fmt"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит конфигурацию для Storyweave Server (API и worker).
type Config struct {
	// Настройки сервера
	Port     string `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Настройки PostgreSQL
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`
	DBSSLMode  string `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns int    `envconfig:"DB_MAX_CONNECTIONS" default:"10"`

	// Настройки Redis (кеш контекста последних ходов)
	RedisAddr         string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword     string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB           int           `envconfig:"REDIS_DB" default:"0"`
	ContextTurnLimit  int           `envconfig:"CONTEXT_TURN_LIMIT" default:"6"`
	ContextCacheTTL   time.Duration `envconfig:"CONTEXT_CACHE_TTL" default:"24h"`
	ContextTokenLimit int           `envconfig:"CONTEXT_TOKEN_LIMIT" default:"1200"`

	// Настройки RabbitMQ
	RabbitMQURL           string `envconfig:"RABBITMQ_URL" required:"true"`
	InterventionTaskQueue string `envconfig:"INTERVENTION_TASK_QUEUE" default:"intervention_tasks"`
	TurnEventsQueue       string `envconfig:"TURN_EVENTS_QUEUE" default:"turn_events"`

	// Политика подачи ходов
	MaxTurnContentLength    int `envconfig:"MAX_TURN_CONTENT_LENGTH" default:"4000"`
	TurnMaxAttempts         int `envconfig:"TURN_MAX_ATTEMPTS" default:"5"`
	InterventionEveryNTurns int `envconfig:"INTERVENTION_EVERY_N_TURNS" default:"3"`

	// Настройки AI генерации текста
	AIAPIKey      string `envconfig:"AI_API_KEY"`
	AIBaseURL     string `envconfig:"AI_BASE_URL" default:"https://openrouter.ai/api/v1"`
	AIModel       string `envconfig:"AI_MODEL" default:"deepseek/deepseek-chat-v3-0324:free"`
	AITimeout     int    `envconfig:"AI_TIMEOUT_SECONDS" default:"15"`
	AIMaxAttempts int    `envconfig:"AI_MAX_ATTEMPTS" default:"3"`

	// Настройки генерации изображений
	ImageServerURL    string `envconfig:"IMAGE_SERVER_URL" default:"http://localhost:8585"`
	ImageTimeout      int    `envconfig:"IMAGE_TIMEOUT_SECONDS" default:"15"`
	ImageMaxAttempts  int    `envconfig:"IMAGE_MAX_ATTEMPTS" default:"3"`
	ImageStylePrefix  string `envconfig:"IMAGE_STYLE_PREFIX" default:"Epic, cinematic, detailed digital painting of: "`
	PipelineTimeout   int    `envconfig:"PIPELINE_TIMEOUT_SECONDS" default:"60"`
	WorkerMetricsPort string `envconfig:"WORKER_METRICS_PORT" default:"9091"`

	// Настройки JWT (проверка токена пользователя; выпуск токенов - внешний сервис)
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// LoadConfig загружает конфигурацию из переменных окружения.
func LoadConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	log.Printf("Конфигурация Storyweave Server загружена:")
	log.Printf("  Port: %s", cfg.Port)
	log.Printf("  LogLevel: %s", cfg.LogLevel)
	log.Printf("  DB DSN: postgres://%s:***@%s:%s/%s?sslmode=%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBSSLMode)
	log.Printf("  Redis Addr: %s", cfg.RedisAddr)
	log.Printf("  RabbitMQ URL: %s", cfg.RabbitMQURL)
	log.Printf("  Intervention Task Queue: %s", cfg.InterventionTaskQueue)
	log.Printf("  Turn Events Queue: %s", cfg.TurnEventsQueue)
	log.Printf("  Intervention Every N Turns: %d", cfg.InterventionEveryNTurns)
	log.Println("  JWT Secret: [ЗАГРУЖЕН]")

	return &cfg, nil
}
