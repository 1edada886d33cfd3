package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeType = "topic"

// SetupConn подключается к RabbitMQ и объявляет topic exchange
func SetupConn(url, exchange string, attempts int) (*amqp.Connection, *amqp.Channel, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	if attempts < 1 {
		attempts = 1
	}
	// Брокер может подниматься дольше сервиса
	for i := 0; i < attempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Printf("Не удалось подключиться к RabbitMQ (попытка %d): %v", i+1, err)
		if i+1 < attempts {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("подключение к RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("открытие канала: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,     // name
		exchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("объявление exchange: %w", err)
	}
	return conn, ch, nil
}

// RoutingKey возвращает ключ маршрутизации вида trade.<event_type>
func RoutingKey(msg Message) string {
	return "trade." + string(msg.Type)
}

// RabbitPublisher публикует события в topic exchange
type RabbitPublisher struct {
	mu       sync.Mutex // amqp.Channel не рассчитан на параллельную публикацию
	ch       *amqp.Channel
	exchange string
}

func NewRabbitPublisher(ch *amqp.Channel, exchange string) *RabbitPublisher {
	return &RabbitPublisher{ch: ch, exchange: exchange}
}

func (p *RabbitPublisher) Name() string { return "rabbitmq" }

func (p *RabbitPublisher) Deliver(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("сериализация события: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx,
		p.exchange,      // exchange
		RoutingKey(msg), // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.TradeID.String() + ":" + string(msg.Type) + ":" + msg.RecipientID.String(),
			Timestamp:    msg.OccurredAt,
			Body:         body,
		},
	)
}
