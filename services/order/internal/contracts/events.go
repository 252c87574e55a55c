package contracts

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Routing keys общего topic exchange. Маршрут каждого события хранится
// в его outbox строке рядом с payload
const (
	RoutingKeyPaymentRequested = "payments.payment-requested"
	RoutingKeyPaymentSucceeded = "orders.payment-succeeded"
	RoutingKeyPaymentFailed    = "orders.payment-failed"
)

// QueuePaymentResults — durable очередь заказов под результаты платежей
const QueuePaymentResults = "orders.payment-results.q"

// Теги типов событий (колонка event_type и свойство Type сообщения)
const (
	EventTypePaymentRequested = "PaymentRequested"
	EventTypePaymentSucceeded = "PaymentSucceeded"
	EventTypePaymentFailed    = "PaymentFailed"
)

// PaymentRequested — заказ создан, платёжный сервис должен списать сумму
type PaymentRequested struct {
	EventID uuid.UUID       `json:"eventId"`
	OrderID uuid.UUID       `json:"orderId"`
	UserID  string          `json:"userId"`
	Amount  decimal.Decimal `json:"amount"`
}

// PaymentSucceeded — списание прошло
// Платёжный сервис шлёт больше полей, нам нужны только эти
type PaymentSucceeded struct {
	EventID uuid.UUID `json:"eventId"`
	OrderID uuid.UUID `json:"orderId"`
}

// PaymentFailed — списание не удалось
type PaymentFailed struct {
	EventID uuid.UUID `json:"eventId"`
	OrderID uuid.UUID `json:"orderId"`
	Reason  string    `json:"reason"`
}
