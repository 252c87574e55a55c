package rabbit

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/SignumGusik/KPO/platform/rabbitmq"
	"github.com/SignumGusik/KPO/services/order/internal/contracts"
	"github.com/SignumGusik/KPO/services/order/internal/service"
)

// NewPaymentResultConsumer создаёт consumer очереди результатов платежей
// Очередь durable и привязана к routing keys успеха и неуспеха
func NewPaymentResultConsumer(logger *zap.Logger, cfg rabbitmq.Config, svc *service.OrderService) *rabbitmq.Consumer {
	queue := rabbitmq.QueueSpec{
		Name: contracts.QueuePaymentResults,
		BindingKeys: []string{
			contracts.RoutingKeyPaymentSucceeded,
			contracts.RoutingKeyPaymentFailed,
		},
	}
	return rabbitmq.NewConsumer(logger, cfg, queue, NewPaymentResultHandler(logger, svc))
}

// NewPaymentResultHandler диспатчит доставку по routing key
// Неизвестный ключ — не ошибка: логируем и подтверждаем без эффекта
// Ошибка декодирования или обработки уводит доставку в nack+requeue
func NewPaymentResultHandler(logger *zap.Logger, svc *service.OrderService) rabbitmq.Handler {
	return func(ctx context.Context, d amqp.Delivery) error {
		switch d.RoutingKey {
		case contracts.RoutingKeyPaymentSucceeded:
			var ev contracts.PaymentSucceeded
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				return fmt.Errorf("decode PaymentSucceeded: %w", err)
			}
			return svc.HandlePaymentSucceeded(ctx, ev)

		case contracts.RoutingKeyPaymentFailed:
			var ev contracts.PaymentFailed
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				return fmt.Errorf("decode PaymentFailed: %w", err)
			}
			return svc.HandlePaymentFailed(ctx, ev)

		default:
			logger.Warn("unknown routing key, acknowledging without effect",
				zap.String("routing_key", d.RoutingKey),
				zap.String("message_id", d.MessageId),
			)
			return nil
		}
	}
}
