package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status — статус заказа
// PAID и FAILED терминальны: никакой переход из них не выходит
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusFailed  Status = "FAILED"
)

// Outcome — исход платежа, пришедший от платёжного сервиса
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// ApplyOutcome возвращает следующий статус и признак того, что статус
// действительно изменился. Терминальный статус поглощает любой исход —
// опоздавший или продублированный результат ничего не меняет
func (s Status) ApplyOutcome(o Outcome) (Status, bool) {
	if s != StatusPending {
		return s, false
	}
	if o == OutcomeSuccess {
		return StatusPaid, true
	}
	return StatusFailed, true
}

// Order — доменная модель заказа
type Order struct {
	OrderID   uuid.UUID
	UserID    string
	Amount    decimal.Decimal
	Status    Status
	CreatedAt time.Time
}

// OutboxEvent — строка outbox таблицы
// Payload — конверт {routingKey, payload}; строки не удаляются никогда
type OutboxEvent struct {
	EventID         uuid.UUID
	EventType       string
	Payload         []byte
	CreatedAt       time.Time
	PublishedAt     *time.Time
	PublishAttempts int
}

// InboxEvent — строка inbox таблицы: наличие записи с event id — единственное
// доказательство того, что событие уже обработано
type InboxEvent struct {
	EventID    uuid.UUID
	ReceivedAt time.Time
}

// ErrNotFound возвращается, когда заказ не найден в хранилище
var ErrNotFound = errors.New("order not found")

// OrderRepository определяет интерфейс для работы с хранилищем заказов
// Service слой зависит от этого интерфейса, а не от конкретной реализации
type OrderRepository interface {
	// CreateWithOutbox атомарно сохраняет заказ и его outbox событие
	CreateWithOutbox(ctx context.Context, order Order, event OutboxEvent) error

	// GetByID возвращает заказ по ID или ErrNotFound
	GetByID(ctx context.Context, orderID uuid.UUID) (Order, error)

	// ListByUser возвращает заказы пользователя, новые первыми
	ListByUser(ctx context.Context, userID string) ([]Order, error)

	// ApplyPaymentResult в одной транзакции: inbox дедупликация по eventID,
	// переход статуса заказа по исходу, коммит
	// Повторное событие или отсутствующий заказ — не ошибка: changed=false
	ApplyPaymentResult(ctx context.Context, eventID, orderID uuid.UUID, outcome Outcome) (Status, bool, error)
}
