package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storyweave-server/internal/ai"
	"storyweave-server/internal/config"
	"storyweave-server/internal/database"
	"storyweave-server/internal/logger"
	"storyweave-server/internal/messaging"
	"storyweave-server/internal/service"
	"storyweave-server/internal/worker"
)

func main() {
	_ = godotenv.Load()
	log.Println("Запуск Storyweave Intervention Worker...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer zapLogger.Sync()

	ctx := context.Background()

	dbPool, err := database.NewPgxPool(ctx, cfg.GetDSN(), cfg.DBMaxConns, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к БД", zap.Error(err))
	}
	defer dbPool.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		zapLogger.Warn("Redis недоступен, кеш контекста будет работать в режиме промахов", zap.Error(err))
	}

	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к RabbitMQ", zap.Error(err))
	}
	defer rabbitConn.Close()
	zapLogger.Info("Успешное подключение к RabbitMQ")

	// Паблишеры нужны воркеру, чтобы AI-ход прошел через общий координатор:
	// событие о ходе уходит подписчикам тем же путем, что и человеческие ходы.
	interventionPublisher, err := messaging.NewRabbitMQInterventionPublisher(rabbitConn, cfg.InterventionTaskQueue)
	if err != nil {
		zapLogger.Fatal("Не удалось создать паблишер задач вмешательства", zap.Error(err))
	}
	eventPublisher, err := messaging.NewRabbitMQTurnEventPublisher(rabbitConn, cfg.TurnEventsQueue)
	if err != nil {
		zapLogger.Fatal("Не удалось создать паблишер событий о ходах", zap.Error(err))
	}

	storyRepo := database.NewPgStoryRepository(dbPool, zapLogger)
	turnRepo := database.NewPgTurnRepository(dbPool, zapLogger)
	contextCache := database.NewRedisStoryContextCache(redisClient, cfg.ContextTurnLimit, cfg.ContextCacheTTL, zapLogger)
	contextBuilder := service.NewContextBuilder(contextCache, turnRepo, cfg.ContextTurnLimit, cfg.ContextTokenLimit, zapLogger)

	turnService := service.NewTurnService(
		storyRepo, turnRepo, contextCache, contextBuilder,
		interventionPublisher, eventPublisher,
		service.TurnServiceConfig{
			MaxContentLength:        cfg.MaxTurnContentLength,
			MaxAttempts:             cfg.TurnMaxAttempts,
			InterventionEveryNTurns: cfg.InterventionEveryNTurns,
		},
		zapLogger,
	)

	textGen, err := ai.New(ai.Config{
		APIKey:    cfg.AIAPIKey,
		BaseURL:   cfg.AIBaseURL,
		ModelName: cfg.AIModel,
		Timeout:   cfg.AITimeout,
	})
	if err != nil {
		zapLogger.Fatal("Не удалось создать клиент генерации текста", zap.Error(err))
	}

	imageGen, err := ai.NewImageClient(ai.ImageClientConfig{
		BaseURL:     cfg.ImageServerURL,
		Timeout:     cfg.ImageTimeout,
		StylePrefix: cfg.ImageStylePrefix,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось создать клиент генерации изображений", zap.Error(err))
	}

	interventionHandler := worker.NewInterventionHandler(
		textGen, imageGen, turnService, turnRepo,
		worker.Config{
			TextMaxAttempts:  cfg.AIMaxAttempts,
			ImageMaxAttempts: cfg.ImageMaxAttempts,
			PipelineTimeout:  time.Duration(cfg.PipelineTimeout) * time.Second,
		},
		zapLogger,
	)

	worker.StartMetricsServer(cfg.WorkerMetricsPort)

	consumer := messaging.NewQueueConsumer(
		rabbitConn, cfg.InterventionTaskQueue, "intervention-worker",
		interventionHandler.Handle,
		zapLogger,
	)
	go func() {
		if err := consumer.StartConsuming(); err != nil {
			zapLogger.Error("Консьюмер задач вмешательства завершился с ошибкой", zap.Error(err))
		}
	}()

	zapLogger.Info("Воркер запущен, ожидание задач",
		zap.String("queue", cfg.InterventionTaskQueue))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Получен сигнал завершения, останавливаем воркер...")

	consumer.Stop()
	log.Println("Storyweave Intervention Worker успешно остановлен")
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками.
func connectRabbitMQ(url string, logger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 5
	retryDelay := 5 * time.Second
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("Не удалось подключиться к RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, err
}
