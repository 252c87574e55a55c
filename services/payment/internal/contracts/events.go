// Package contracts описывает события, которыми Payment Service
// обменивается с Order Service через брокер.
package contracts

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Routing keys топиковой exchange "events"
const (
	RoutingKeyPaymentRequested = "payments.payment-requested"
	RoutingKeyPaymentSucceeded = "orders.payment-succeeded"
	RoutingKeyPaymentFailed    = "orders.payment-failed"
)

// QueuePaymentRequested очередь запросов на оплату
const QueuePaymentRequested = "payments.payment-requested.q"

// Типы событий (заголовок Type в сообщении брокера)
const (
	EventTypePaymentRequested = "PaymentRequested"
	EventTypePaymentSucceeded = "PaymentSucceeded"
	EventTypePaymentFailed    = "PaymentFailed"
)

// Причины отказа в оплате
const (
	ReasonAccountNotFound   = "account not found"
	ReasonInsufficientFunds = "insufficient funds"
	ReasonAlreadyFailed     = "already failed"
)

// PaymentRequested входящее событие: заказ ждёт списания
type PaymentRequested struct {
	EventID uuid.UUID       `json:"eventId"`
	OrderID uuid.UUID       `json:"orderId"`
	UserID  string          `json:"userId"`
	Amount  decimal.Decimal `json:"amount"`
}

// PaymentSucceeded исходящее событие: списание прошло
type PaymentSucceeded struct {
	EventID uuid.UUID `json:"eventId"`
	OrderID uuid.UUID `json:"orderId"`
}

// PaymentFailed исходящее событие: списание не прошло
type PaymentFailed struct {
	EventID uuid.UUID `json:"eventId"`
	OrderID uuid.UUID `json:"orderId"`
	Reason  string    `json:"reason"`
}
