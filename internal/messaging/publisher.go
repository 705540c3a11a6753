package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// InterventionTaskPublisher defines the interface for publishing AI intervention tasks.
type InterventionTaskPublisher interface {
	PublishInterventionTask(ctx context.Context, payload InterventionTaskPayload) error
}

// TurnEventPublisher defines the interface for publishing committed turn events.
type TurnEventPublisher interface {
	PublishTurnEvent(ctx context.Context, payload TurnEventPayload) error
}

// rabbitMQPublisher реализует публикацию сообщений в одну очередь RabbitMQ.
type rabbitMQPublisher struct {
	channel   *amqp.Channel
	queueName string
}

// newRabbitMQPublisher открывает канал и объявляет durable очередь.
// Параметры очереди должны совпадать с параметрами у консьюмера.
func newRabbitMQPublisher(conn *amqp.Connection, queueName string) (*rabbitMQPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("publisher: не удалось открыть канал: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		log.Printf("Publisher ERROR: Не удалось объявить очередь '%s': %v", queueName, err)
		ch.Close()
		return nil, fmt.Errorf("publisher: не удалось объявить очередь '%s': %w", queueName, err)
	}

	return &rabbitMQPublisher{channel: ch, queueName: queueName}, nil
}

// NewRabbitMQInterventionPublisher creates a publisher for the intervention task queue.
func NewRabbitMQInterventionPublisher(conn *amqp.Connection, queueName string) (InterventionTaskPublisher, error) {
	return newRabbitMQPublisher(conn, queueName)
}

// NewRabbitMQTurnEventPublisher creates a publisher for the turn events queue.
func NewRabbitMQTurnEventPublisher(conn *amqp.Connection, queueName string) (TurnEventPublisher, error) {
	return newRabbitMQPublisher(conn, queueName)
}

// PublishInterventionTask публикует задачу AI-вмешательства.
func (p *rabbitMQPublisher) PublishInterventionTask(ctx context.Context, payload InterventionTaskPayload) error {
	return p.publishJSON(ctx, payload)
}

// PublishTurnEvent публикует событие о новом ходе.
func (p *rabbitMQPublisher) PublishTurnEvent(ctx context.Context, payload TurnEventPayload) error {
	return p.publishJSON(ctx, payload)
}

func (p *rabbitMQPublisher) publishJSON(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка сериализации сообщения: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(publishCtx,
		"",          // exchange (default)
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("ошибка публикации в очередь '%s': %w", p.queueName, err)
	}
	return nil
}
