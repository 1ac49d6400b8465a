package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

// PublishMessage публикует сообщение в RabbitMQ.
func PublishMessage(ch *amqp.Channel, exchange string, routingkey string, message any) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = ch.Publish(
		exchange,
		routingkey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Publisher отправляет уведомления в обменник notifications.
// amqp.Channel не потокобезопасен при публикации, поэтому вызовы сериализуются.
type Publisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

// NewPublisher создаёт Publisher поверх настроенного канала.
func NewPublisher(ch *amqp.Channel) *Publisher {
	return &Publisher{ch: ch}
}

// Notify публикует уведомление. Уведомления для оператора уходят в отдельную очередь.
func (p *Publisher) Notify(ctx context.Context, n models.Notification) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	key := RoutingUser
	if n.Kind == models.NotificationAttention {
		key = RoutingAttention
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return PublishMessage(p.ch, NotificationsExchange, key, n)
}
