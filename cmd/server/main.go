package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"storyweave-server/internal/auth"
	"storyweave-server/internal/config"
	"storyweave-server/internal/database"
	ws "storyweave-server/internal/delivery/websocket"
	"storyweave-server/internal/handler"
	"storyweave-server/internal/logger"
	"storyweave-server/internal/messaging"
	"storyweave-server/internal/middleware"
	"storyweave-server/internal/service"
)

func main() {
	_ = godotenv.Load()
	log.Println("Запуск Storyweave Server...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Logger initialized", zap.String("logLevel", cfg.LogLevel))

	ctx := context.Background()

	// Подключение к PostgreSQL и миграции
	dbPool, err := database.NewPgxPool(ctx, cfg.GetDSN(), cfg.DBMaxConns, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к БД", zap.Error(err))
	}
	defer dbPool.Close()

	if err := database.RunMigrations(ctx, dbPool, zapLogger); err != nil {
		zapLogger.Fatal("Не удалось применить миграции", zap.Error(err))
	}

	// Подключение к Redis (кеш контекста последних ходов)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Кеш не критичен: при промахе контекст собирается из БД.
		zapLogger.Warn("Redis недоступен, кеш контекста будет работать в режиме промахов", zap.Error(err))
	} else {
		zapLogger.Info("Успешное подключение к Redis", zap.String("addr", cfg.RedisAddr))
	}

	// Подключение к RabbitMQ
	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к RabbitMQ", zap.Error(err))
	}
	defer rabbitConn.Close()
	zapLogger.Info("Успешное подключение к RabbitMQ")

	interventionPublisher, err := messaging.NewRabbitMQInterventionPublisher(rabbitConn, cfg.InterventionTaskQueue)
	if err != nil {
		zapLogger.Fatal("Не удалось создать паблишер задач вмешательства", zap.Error(err))
	}
	eventPublisher, err := messaging.NewRabbitMQTurnEventPublisher(rabbitConn, cfg.TurnEventsQueue)
	if err != nil {
		zapLogger.Fatal("Не удалось создать паблишер событий о ходах", zap.Error(err))
	}

	// Инициализация зависимостей
	storyRepo := database.NewPgStoryRepository(dbPool, zapLogger)
	turnRepo := database.NewPgTurnRepository(dbPool, zapLogger)
	contextCache := database.NewRedisStoryContextCache(redisClient, cfg.ContextTurnLimit, cfg.ContextCacheTTL, zapLogger)
	contextBuilder := service.NewContextBuilder(contextCache, turnRepo, cfg.ContextTurnLimit, cfg.ContextTokenLimit, zapLogger)

	storyService := service.NewStoryService(storyRepo, turnRepo, zapLogger)
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

	verifier, err := auth.NewJWTVerifier(cfg.JWTSecret, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось создать JWT верификатор", zap.Error(err))
	}

	// WebSocket доставка ходов подписчикам
	zlog := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	hub := ws.NewStoryHub(zlog)
	wsHandler := ws.NewHandler(hub, verifier, turnRepo, zlog)
	turnEventConsumer := messaging.NewQueueConsumer(
		rabbitConn, cfg.TurnEventsQueue, "ws-delivery",
		ws.NewTurnEventConsumer(hub, zlog).Handle,
		zapLogger,
	)
	go func() {
		if err := turnEventConsumer.StartConsuming(); err != nil {
			zapLogger.Error("Консьюмер событий о ходах завершился с ошибкой", zap.Error(err))
		}
	}()

	// Настройка Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.ZapLoggingMiddleware(zapLogger))
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
	}))

	prom := ginprometheus.NewPrometheus("gin")
	prom.Use(router)

	apiHandler := handler.NewHandler(storyService, turnService, verifier, zapLogger)
	apiHandler.RegisterRoutes(router)

	router.GET("/ws/stories/:id", func(c *gin.Context) {
		wsHandler.ServeWS(c.Writer, c.Request, c.Param("id"))
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		zapLogger.Info("HTTP сервер слушает", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Ошибка запуска HTTP сервера", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Получен сигнал завершения, начинаем graceful shutdown...")

	turnEventConsumer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Ошибка при graceful shutdown HTTP сервера", zap.Error(err))
	}

	log.Println("Storyweave Server успешно остановлен")
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
