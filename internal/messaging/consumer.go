package messaging

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DeliveryHandler обрабатывает одно сообщение из очереди.
// Возврат ошибки приводит к Nack без повторной постановки.
type DeliveryHandler func(body []byte) error

// QueueConsumer отвечает за получение сообщений из RabbitMQ и их обработку.
type QueueConsumer struct {
	conn        *amqp.Connection
	queueName   string
	consumerTag string
	handler     DeliveryHandler
	logger      *zap.Logger
	stopChannel chan struct{}
}

// NewQueueConsumer создает нового консьюмера RabbitMQ для указанной очереди.
func NewQueueConsumer(conn *amqp.Connection, queueName, consumerTag string, handler DeliveryHandler, logger *zap.Logger) *QueueConsumer {
	return &QueueConsumer{
		conn:        conn,
		queueName:   queueName,
		consumerTag: consumerTag,
		handler:     handler,
		logger:      logger.Named("QueueConsumer"),
		stopChannel: make(chan struct{}),
	}
}

// StartConsuming начинает прослушивание очереди.
// Функция блокирующая, запускать в отдельной горутине.
func (c *QueueConsumer) StartConsuming() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("не удалось открыть канал RabbitMQ: %w", err)
	}
	defer ch.Close()

	// Объявляем очередь на случай, если паблишер еще не создал ее.
	// Параметры должны совпадать с паблишером (durable=true).
	q, err := ch.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("не удалось объявить очередь '%s': %w", c.queueName, err)
	}

	// Обрабатываем по одному сообщению за раз
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("не удалось установить QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		c.consumerTag,
		false, // auto-ack (false, подтверждаем вручную)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("не удалось зарегистрировать консьюмера: %w", err)
	}

	c.logger.Info("Консьюмер запущен, ожидание сообщений", zap.String("queue", q.Name))

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				c.logger.Warn("Канал сообщений RabbitMQ закрыт", zap.String("queue", c.queueName))
				return nil
			}

			if err := c.handler(d.Body); err != nil {
				c.logger.Error("Ошибка обработки сообщения",
					zap.Error(err), zap.String("queue", c.queueName), zap.Uint64("deliveryTag", d.DeliveryTag))
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)

		case <-c.stopChannel:
			c.logger.Info("Получен сигнал остановки консьюмера", zap.String("queue", c.queueName))
			return nil
		}
	}
}

// Stop останавливает консьюмер.
func (c *QueueConsumer) Stop() {
	close(c.stopChannel)
}
