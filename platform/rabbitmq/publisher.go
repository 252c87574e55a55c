package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Message описывает одно публикуемое доменное событие
type Message struct {
	// EventID — id доменного события, уходит в MessageId брокера
	EventID string
	// EventType — тег типа события, уходит в Type брокера
	EventType string
	// Body — JSON payload события
	Body []byte
}

// Publisher публикует сообщения в topic exchange
// Соединение создаётся лениво при первой публикации и пересоздаётся целиком,
// когда обнаружен обрыв — канал никогда не чинится по частям
type Publisher struct {
	logger *zap.Logger
	cfg    Config

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher создаёт новый Publisher (без подключения к брокеру)
func NewPublisher(logger *zap.Logger, cfg Config) *Publisher {
	return &Publisher{
		logger: logger,
		cfg:    cfg,
	}
}

// Publish отправляет одно persistent сообщение с указанным routing key
// При любой ошибке соединение сбрасывается, следующий вызов подключится заново
func (p *Publisher) Publish(ctx context.Context, routingKey string, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannelLocked(); err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}

	err := p.ch.PublishWithContext(ctx,
		p.cfg.Exchange, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			MessageId:    msg.EventID,
			Type:         msg.EventType,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         msg.Body,
		})
	if err != nil {
		p.resetLocked()
		return fmt.Errorf("publish to %s/%s: %w", p.cfg.Exchange, routingKey, err)
	}

	return nil
}

// ensureChannelLocked лениво создаёт соединение и канал и декларирует exchange
func (p *Publisher) ensureChannelLocked() error {
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.resetLocked()

	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	if err := ch.ExchangeDeclare(
		p.cfg.Exchange, // name
		"topic",        // kind
		true,           // durable
		false,          // auto-delete
		false,          // internal
		false,          // no-wait
		nil,            // args
	); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	p.conn = conn
	p.ch = ch
	p.logger.Info("rabbitmq publisher connected",
		zap.String("exchange", p.cfg.Exchange),
	)
	return nil
}

// resetLocked закрывает соединение и канал целиком
func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close закрывает соединение с брокером
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}
