// Package repository описывает доменные модели счетов Payment Service
// и контракт хранилища.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/SignumGusik/KPO/platform/outbox"
	"github.com/SignumGusik/KPO/services/payment/internal/contracts"
)

// Kind тип операции в журнале
type Kind string

const (
	// KindTopUp пополнение счёта
	KindTopUp Kind = "TOPUP"
	// KindDebit списание по заказу
	KindDebit Kind = "DEBIT"
)

// EntryStatus результат операции в журнале
type EntryStatus string

const (
	// EntrySuccess операция выполнена, баланс изменён
	EntrySuccess EntryStatus = "SUCCESS"
	// EntryFailed операция отклонена, баланс не менялся
	EntryFailed EntryStatus = "FAILED"
)

// Ошибки хранилища счетов
var (
	// ErrAccountNotFound счёт не существует
	ErrAccountNotFound = errors.New("account not found")
	// ErrInsufficientFunds на счёте не хватает средств
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrVersionConflict версия счёта изменилась между чтением и записью
	ErrVersionConflict = errors.New("account version conflict")
)

// Account счёт пользователя. Version растёт на каждое изменение баланса
// и служит для optimistic concurrency
type Account struct {
	UserID  string
	Balance decimal.Decimal
	Version int64
}

// LedgerEntry запись журнала операций. OrderID заполнен только для DEBIT
type LedgerEntry struct {
	TxID      uuid.UUID
	OrderID   *uuid.UUID
	UserID    string
	Kind      Kind
	Amount    decimal.Decimal
	Status    EntryStatus
	CreatedAt time.Time
}

// OutboxEvent строка таблицы outbox
type OutboxEvent struct {
	EventID   uuid.UUID
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// AccountRepository контракт хранилища счетов
type AccountRepository interface {
	// CreateOrGetAccount создаёт счёт с нулевым балансом;
	// повторный вызов возвращает существующий счёт
	CreateOrGetAccount(ctx context.Context, userID string) (Account, error)
	// GetAccount возвращает счёт или ErrAccountNotFound
	GetAccount(ctx context.Context, userID string) (Account, error)
	// TopUp атомарно пополняет баланс и пишет запись журнала.
	// Возвращает ErrVersionConflict при конкурентном изменении счёта
	TopUp(ctx context.Context, userID string, amount decimal.Decimal) (Account, error)
	// Debit атомарно списывает amount и пишет запись журнала.
	// orderID опционален: ручное списание через API идёт без заказа
	Debit(ctx context.Context, userID string, orderID *uuid.UUID, amount decimal.Decimal) (Account, error)
	// ProcessPaymentRequested выполняет транзакционный сценарий консьюмера:
	// inbox дедупликация, списание (или отказ), запись журнала
	// и outbox событие с результатом — всё в одной транзакции
	ProcessPaymentRequested(ctx context.Context, ev contracts.PaymentRequested) error
}

// NewOutcomeOutbox собирает outbox строку с результатом оплаты.
// Пустой reason означает успех
func NewOutcomeOutbox(orderID uuid.UUID, reason string) (OutboxEvent, error) {
	eventID := uuid.New()

	var (
		eventType string
		payload   []byte
		err       error
	)
	if reason == "" {
		eventType = contracts.EventTypePaymentSucceeded
		payload, err = outbox.Wrap(contracts.RoutingKeyPaymentSucceeded, contracts.PaymentSucceeded{
			EventID: eventID,
			OrderID: orderID,
		})
	} else {
		eventType = contracts.EventTypePaymentFailed
		payload, err = outbox.Wrap(contracts.RoutingKeyPaymentFailed, contracts.PaymentFailed{
			EventID: eventID,
			OrderID: orderID,
			Reason:  reason,
		})
	}
	if err != nil {
		return OutboxEvent{}, err
	}

	return OutboxEvent{
		EventID:   eventID,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}, nil
}
