package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/SignumGusik/KPO/platform/rabbitmq"
)

// Event — одна непубликованная строка outbox таблицы
type Event struct {
	EventID   string
	EventType string
	// Payload — конверт {routingKey, payload}, подготовленный в той же
	// транзакции, что и доменная мутация
	Payload []byte
}

// Envelope — формат payload колонки outbox: адрес доставки хранится
// в самой строке рядом с бизнес-данными
type Envelope struct {
	RoutingKey string          `json:"routingKey"`
	Payload    json.RawMessage `json:"payload"`
}

// Wrap сериализует конверт для записи в outbox
func Wrap(routingKey string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal outbox payload: %w", err)
	}
	return json.Marshal(Envelope{RoutingKey: routingKey, Payload: raw})
}

// Store — доступ relay к outbox таблице сервиса
//
// Строки никогда не удаляются: published_at фиксирует доставку,
// publish_attempts считает неудачные попытки
type Store interface {
	// FetchUnpublished возвращает до limit непубликованных строк,
	// отсортированных по времени создания
	FetchUnpublished(ctx context.Context, limit int) ([]Event, error)

	// MarkPublished проставляет published_at
	MarkPublished(ctx context.Context, eventID string) error

	// IncrementAttempts увеличивает счётчик попыток, строка остаётся
	// доступной для следующего цикла
	IncrementAttempts(ctx context.Context, eventID string) error
}

// Publisher — доставка одного сообщения в брокер
type Publisher interface {
	Publish(ctx context.Context, routingKey string, msg rabbitmq.Message) error
}

// Relay — фоновый цикл, публикующий закоммиченные outbox события в брокер
// Доставка at-least-once: строка помечается published только после успешной
// публикации, любая ошибка оставляет её на повторную попытку без ограничения
// числа попыток
type Relay struct {
	logger    *zap.Logger
	store     Store
	publisher Publisher
	batchSize int
	interval  time.Duration
}

// NewRelay создаёт relay для одного сервиса
func NewRelay(logger *zap.Logger, store Store, publisher Publisher, batchSize int, interval time.Duration) *Relay {
	if batchSize <= 0 {
		batchSize = 20
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{
		logger:    logger,
		store:     store,
		publisher: publisher,
		batchSize: batchSize,
		interval:  interval,
	}
}

// Run блокируется до отмены контекста
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("starting outbox relay",
		zap.Int("batch_size", r.batchSize),
		zap.Duration("interval", r.interval),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay context cancelled, stopping")
			return nil
		case <-ticker.C:
			if err := r.processBatch(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("failed to process outbox batch", zap.Error(err))
			}
		}
	}
}

// processBatch публикует один батч непубликованных событий
func (r *Relay) processBatch(ctx context.Context) error {
	events, err := r.store.FetchUnpublished(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("fetch unpublished events: %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	r.logger.Debug("processing outbox batch", zap.Int("count", len(events)))

	for _, event := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.processEvent(ctx, event)
	}

	return nil
}

// processEvent публикует одно событие; ошибка публикации только увеличивает
// счётчик попыток — событие не теряется
func (r *Relay) processEvent(ctx context.Context, event Event) {
	var env Envelope
	if err := json.Unmarshal(event.Payload, &env); err != nil || env.RoutingKey == "" {
		r.logger.Error("outbox event has malformed envelope",
			zap.Error(err),
			zap.String("event_id", event.EventID),
		)
		if err := r.store.IncrementAttempts(ctx, event.EventID); err != nil {
			r.logger.Error("failed to increment publish attempts",
				zap.Error(err), zap.String("event_id", event.EventID))
		}
		return
	}

	err := r.publisher.Publish(ctx, env.RoutingKey, rabbitmq.Message{
		EventID:   event.EventID,
		EventType: event.EventType,
		Body:      env.Payload,
	})
	if err != nil {
		r.logger.Warn("failed to publish outbox event",
			zap.Error(err),
			zap.String("event_id", event.EventID),
			zap.String("routing_key", env.RoutingKey),
		)
		if err := r.store.IncrementAttempts(ctx, event.EventID); err != nil {
			r.logger.Error("failed to increment publish attempts",
				zap.Error(err), zap.String("event_id", event.EventID))
		}
		return
	}

	if err := r.store.MarkPublished(ctx, event.EventID); err != nil {
		// Строка останется непубликованной и уйдёт повторно — консьюмеры
		// дедуплицируют по event id
		r.logger.Error("failed to mark event as published",
			zap.Error(err), zap.String("event_id", event.EventID))
		return
	}

	r.logger.Info("outbox event published",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("routing_key", env.RoutingKey),
	)
}
