package rabbitmq

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// QueueSpec описывает durable очередь и её привязки к exchange
type QueueSpec struct {
	Name        string
	BindingKeys []string
}

// Handler обрабатывает одну доставку
// nil — доставка подтверждается (ack), ошибка — nack с requeue
type Handler func(ctx context.Context, d amqp.Delivery) error

// Consumer — цикл потребления из одной очереди
// Соединение принадлежит только этому consumer-у; при любом сбое оно
// пересоздаётся целиком с фиксированной паузой, пока не отменён контекст
// prefetch = 1: доставки обрабатываются строго по одной
type Consumer struct {
	logger  *zap.Logger
	cfg     Config
	queue   QueueSpec
	handler Handler
}

// NewConsumer создаёт consumer для указанной очереди
func NewConsumer(logger *zap.Logger, cfg Config, queue QueueSpec, handler Handler) *Consumer {
	return &Consumer{
		logger:  logger,
		cfg:     cfg,
		queue:   queue,
		handler: handler,
	}
}

// Run блокируется до отмены контекста, переподключаясь после каждого сбоя
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("starting rabbitmq consumer",
		zap.String("queue", c.queue.Name),
		zap.Strings("binding_keys", c.queue.BindingKeys),
	)

	for {
		if ctx.Err() != nil {
			c.logger.Info("consumer context cancelled, stopping",
				zap.String("queue", c.queue.Name))
			return nil
		}

		if err := c.consumeOnce(ctx); err != nil {
			c.logger.Warn("consumer loop error, will reconnect",
				zap.Error(err),
				zap.String("queue", c.queue.Name),
			)
		}

		select {
		case <-ctx.Done():
			c.logger.Info("consumer context cancelled, stopping",
				zap.String("queue", c.queue.Name))
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// consumeOnce подключается к брокеру, декларирует топологию и обрабатывает
// доставки до отмены контекста или обрыва соединения
func (c *Consumer) consumeOnce(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		c.queue.Name, // name
		true,         // durable
		false,        // auto-delete
		false,        // exclusive
		false,        // no-wait
		nil,          // args
	); err != nil {
		return err
	}

	for _, key := range c.queue.BindingKeys {
		if err := ch.QueueBind(c.queue.Name, key, c.cfg.Exchange, false, nil); err != nil {
			return err
		}
	}

	// По одному сообщению за раз — порядок мутаций внутри очереди сохраняется
	if err := ch.Qos(1, 0, false); err != nil {
		return err
	}

	deliveries, err := ch.Consume(
		c.queue.Name, // queue
		"",           // consumer tag
		false,        // auto-ack
		false,        // exclusive
		false,        // no-local
		false,        // no-wait
		nil,          // args
	)
	if err != nil {
		return err
	}

	c.logger.Info("rabbitmq consumer ready", zap.String("queue", c.queue.Name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}

			if err := c.handler(ctx, d); err != nil {
				c.logger.Warn("failed to handle delivery, requeueing",
					zap.Error(err),
					zap.String("queue", c.queue.Name),
					zap.String("routing_key", d.RoutingKey),
					zap.String("message_id", d.MessageId),
				)
				// Транзакция обработчика откатилась, сообщение вернётся в очередь
				_ = d.Nack(false, true)
				continue
			}

			_ = d.Ack(false)
		}
	}
}
