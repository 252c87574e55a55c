package rabbit

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/SignumGusik/KPO/platform/rabbitmq"
	"github.com/SignumGusik/KPO/services/payment/internal/contracts"
	"github.com/SignumGusik/KPO/services/payment/internal/service"
)

// NewPaymentRequestConsumer создаёт consumer очереди запросов на оплату
func NewPaymentRequestConsumer(logger *zap.Logger, cfg rabbitmq.Config, svc *service.PaymentService) *rabbitmq.Consumer {
	queue := rabbitmq.QueueSpec{
		Name:        contracts.QueuePaymentRequested,
		BindingKeys: []string{contracts.RoutingKeyPaymentRequested},
	}
	return rabbitmq.NewConsumer(logger, cfg, queue, NewPaymentRequestHandler(logger, svc))
}

// NewPaymentRequestHandler декодирует PaymentRequested и передаёт в service
// Ошибка декодирования или обработки уводит доставку в nack+requeue
func NewPaymentRequestHandler(logger *zap.Logger, svc *service.PaymentService) rabbitmq.Handler {
	return func(ctx context.Context, d amqp.Delivery) error {
		if d.RoutingKey != contracts.RoutingKeyPaymentRequested {
			logger.Warn("unknown routing key, acknowledging without effect",
				zap.String("routing_key", d.RoutingKey),
				zap.String("message_id", d.MessageId),
			)
			return nil
		}

		var ev contracts.PaymentRequested
		if err := json.Unmarshal(d.Body, &ev); err != nil {
			return fmt.Errorf("decode PaymentRequested: %w", err)
		}
		return svc.HandlePaymentRequested(ctx, ev)
	}
}
