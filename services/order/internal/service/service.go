package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/SignumGusik/KPO/platform/outbox"
	"github.com/SignumGusik/KPO/services/order/internal/contracts"
	"github.com/SignumGusik/KPO/services/order/internal/repository"
)

// Ошибки валидации команд: отклоняются синхронно, в outbox не попадают
var (
	ErrUserIDRequired    = errors.New("userId is required")
	ErrAmountNotPositive = errors.New("amount must be > 0")
)

// Notifier доставляет терминальный статус живым подписчикам заказа
// Вызывается только после коммита транзакции и только при реальной смене статуса
type Notifier interface {
	Publish(orderID, status string)
}

// OrderService содержит бизнес-логику сервиса заказов
type OrderService struct {
	logger   *zap.Logger
	repo     repository.OrderRepository
	notifier Notifier
}

// NewOrderService создаёт новый экземпляр OrderService
func NewOrderService(logger *zap.Logger, repo repository.OrderRepository, notifier Notifier) *OrderService {
	return &OrderService{
		logger:   logger,
		repo:     repo,
		notifier: notifier,
	}
}

// CreateOrderInput содержит входные данные для создания заказа
type CreateOrderInput struct {
	UserID string
	Amount decimal.Decimal
}

// CreateOrder сохраняет заказ со статусом PENDING и кладёт событие
// PaymentRequested в outbox той же транзакцией
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (uuid.UUID, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return uuid.Nil, ErrUserIDRequired
	}
	if input.Amount.Sign() <= 0 {
		return uuid.Nil, ErrAmountNotPositive
	}

	now := time.Now().UTC()
	order := repository.Order{
		OrderID:   uuid.New(),
		UserID:    input.UserID,
		Amount:    input.Amount,
		Status:    repository.StatusPending,
		CreatedAt: now,
	}

	ev := contracts.PaymentRequested{
		EventID: uuid.New(),
		OrderID: order.OrderID,
		UserID:  order.UserID,
		Amount:  order.Amount,
	}
	payload, err := outbox.Wrap(contracts.RoutingKeyPaymentRequested, ev)
	if err != nil {
		return uuid.Nil, err
	}

	err = s.repo.CreateWithOutbox(ctx, order, repository.OutboxEvent{
		EventID:   ev.EventID,
		EventType: contracts.EventTypePaymentRequested,
		Payload:   payload,
		CreatedAt: now,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("create order: %w", err)
	}

	s.logger.Info("order created",
		zap.String("order_id", order.OrderID.String()),
		zap.String("user_id", order.UserID),
		zap.String("amount", order.Amount.String()),
	)
	return order.OrderID, nil
}

// GetOrder возвращает заказ по ID
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (repository.Order, error) {
	return s.repo.GetByID(ctx, orderID)
}

// ListOrders возвращает заказы пользователя
func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]repository.Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserIDRequired
	}
	return s.repo.ListByUser(ctx, userID)
}

// HandlePaymentSucceeded применяет успешный исход платежа
// Пуш уходит только если статус реально изменился: повтор того же события
// поглощается inbox-ом и второго пуша не даёт
func (s *OrderService) HandlePaymentSucceeded(ctx context.Context, ev contracts.PaymentSucceeded) error {
	return s.applyResult(ctx, ev.EventID, ev.OrderID, repository.OutcomeSuccess)
}

// HandlePaymentFailed применяет неуспешный исход платежа
// Опоздавший failed после paid статус не трогает
func (s *OrderService) HandlePaymentFailed(ctx context.Context, ev contracts.PaymentFailed) error {
	return s.applyResult(ctx, ev.EventID, ev.OrderID, repository.OutcomeFailure)
}

// Результат без eventId дедуплицировать невозможно: nil попал бы в inbox
// и поглотил бы все последующие события без id. Логируем и подтверждаем
// без эффекта, как на стороне платежей
func (s *OrderService) applyResult(ctx context.Context, eventID, orderID uuid.UUID, outcome repository.Outcome) error {
	if eventID == uuid.Nil || orderID == uuid.Nil {
		s.logger.Warn("payment result event without ids, dropping",
			zap.String("event_id", eventID.String()),
			zap.String("order_id", orderID.String()),
		)
		return nil
	}

	status, changed, err := s.repo.ApplyPaymentResult(ctx, eventID, orderID, outcome)
	if err != nil {
		return fmt.Errorf("apply payment result: %w", err)
	}

	if !changed {
		s.logger.Debug("payment result had no effect",
			zap.String("event_id", eventID.String()),
			zap.String("order_id", orderID.String()),
			zap.String("outcome", string(outcome)),
		)
		return nil
	}

	s.logger.Info("order status updated",
		zap.String("order_id", orderID.String()),
		zap.String("status", string(status)),
	)

	// Транзакция уже закоммичена — можно оповещать подписчиков
	s.notifier.Publish(orderID.String(), string(status))
	return nil
}
