package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
)

// ErrReject сообщение не может быть обработано никогда, повторная доставка не нужна.
var ErrReject = errors.New("reject message")

// ConsumerMessage запускает потребителя очереди. Не более 10 сообщений
// обрабатываются одновременно. Ошибка обработчика возвращает сообщение в очередь,
// кроме ErrReject.
func ConsumerMessage(ctx context.Context, ch *amqp.Channel, queueName string, log *slog.Logger, handler func(context.Context, []byte) error) error {
	const op = "rabbitmq.ConsumerMessage"
	delivery, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	sem := make(chan struct{}, 10)
	go func() {
		for {
			select {
			case d, ok := <-delivery:
				if !ok {
					return
				}
				sem <- struct{}{}
				go func(delivery amqp.Delivery) {
					defer func() { <-sem }()
					if err := handler(ctx, delivery.Body); err != nil {
						requeue := !errors.Is(err, ErrReject)
						log.Error("failed to handle message", slog.String("queue", queueName),
							slog.Bool("requeue", requeue), sl.Err(err))
						if nackErr := delivery.Nack(false, requeue); nackErr != nil {
							log.Error("failed to nack message", sl.Err(nackErr))
						}
						return
					}
					if ackErr := delivery.Ack(false); ackErr != nil {
						log.Error("failed to ack message", sl.Err(ackErr))
					}
				}(d)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
