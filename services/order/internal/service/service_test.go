package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SignumGusik/KPO/platform/outbox"
	"github.com/SignumGusik/KPO/services/order/internal/contracts"
	"github.com/SignumGusik/KPO/services/order/internal/repository"
	"github.com/SignumGusik/KPO/services/order/internal/repository/memory"
)

// fakeNotifier записывает пуши для проверок
type fakeNotifier struct {
	mu     sync.Mutex
	pushes []string // orderID:status
}

func (f *fakeNotifier) Publish(orderID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, orderID+":"+status)
}

func (f *fakeNotifier) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pushes...)
}

func newTestService(t *testing.T) (*OrderService, *memory.Repository, *fakeNotifier) {
	t.Helper()
	repo := memory.NewRepository()
	notifier := &fakeNotifier{}
	svc := NewOrderService(zap.NewNop(), repo, notifier)
	return svc, repo, notifier
}

func TestOrderService_CreateOrder(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t)

	orderID, err := svc.CreateOrder(ctx, CreateOrderInput{
		UserID: "user-1",
		Amount: decimal.RequireFromString("149.90"),
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, orderID)

	order, err := svc.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusPending, order.Status)
	require.True(t, order.Amount.Equal(decimal.RequireFromString("149.90")))

	// Событие PaymentRequested лежит в outbox той же "транзакцией"
	events := repo.Outbox()
	require.Len(t, events, 1)
	require.Equal(t, contracts.EventTypePaymentRequested, events[0].EventType)

	var env outbox.Envelope
	require.NoError(t, json.Unmarshal(events[0].Payload, &env))
	require.Equal(t, contracts.RoutingKeyPaymentRequested, env.RoutingKey)

	var ev contracts.PaymentRequested
	require.NoError(t, json.Unmarshal(env.Payload, &ev))
	require.Equal(t, orderID, ev.OrderID)
	require.Equal(t, "user-1", ev.UserID)
	require.True(t, ev.Amount.Equal(order.Amount))
}

func TestOrderService_CreateOrder_Validation(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t)

	_, err := svc.CreateOrder(ctx, CreateOrderInput{UserID: "  ", Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, ErrUserIDRequired)

	_, err = svc.CreateOrder(ctx, CreateOrderInput{UserID: "user-1", Amount: decimal.Zero})
	require.ErrorIs(t, err, ErrAmountNotPositive)

	_, err = svc.CreateOrder(ctx, CreateOrderInput{UserID: "user-1", Amount: decimal.NewFromInt(-5)})
	require.ErrorIs(t, err, ErrAmountNotPositive)

	// Отклонённые команды не оставляют следов в outbox
	require.Empty(t, repo.Outbox())
}

func TestOrderService_ListOrders(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.ListOrders(ctx, "")
	require.ErrorIs(t, err, ErrUserIDRequired)

	_, err = svc.CreateOrder(ctx, CreateOrderInput{UserID: "user-1", Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	_, err = svc.CreateOrder(ctx, CreateOrderInput{UserID: "user-1", Amount: decimal.NewFromInt(20)})
	require.NoError(t, err)
	_, err = svc.CreateOrder(ctx, CreateOrderInput{UserID: "user-2", Amount: decimal.NewFromInt(30)})
	require.NoError(t, err)

	orders, err := svc.ListOrders(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, orders, 2)

	orders, err = svc.ListOrders(ctx, "user-3")
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestOrderService_HandlePaymentSucceeded(t *testing.T) {
	ctx := context.Background()
	svc, repo, notifier := newTestService(t)

	orderID, err := svc.CreateOrder(ctx, CreateOrderInput{UserID: "user-1", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	ev := contracts.PaymentSucceeded{EventID: uuid.New(), OrderID: orderID}
	require.NoError(t, svc.HandlePaymentSucceeded(ctx, ev))

	order, err := svc.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusPaid, order.Status)
	require.True(t, repo.InboxContains(ev.EventID))

	// Подписчики получили ровно один пуш
	require.Equal(t, []string{orderID.String() + ":PAID"}, notifier.all())
}

func TestOrderService_HandlePaymentSucceeded_Duplicate(t *testing.T) {
	ctx := context.Background()
	svc, _, notifier := newTestService(t)

	orderID, err := svc.CreateOrder(ctx, CreateOrderInput{UserID: "user-1", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	ev := contracts.PaymentSucceeded{EventID: uuid.New(), OrderID: orderID}
	require.NoError(t, svc.HandlePaymentSucceeded(ctx, ev))
	// Повторная доставка того же события поглощается inbox-ом
	require.NoError(t, svc.HandlePaymentSucceeded(ctx, ev))

	order, err := svc.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusPaid, order.Status)
	require.Len(t, notifier.all(), 1)
}

func TestOrderService_LateFailureAfterPaid(t *testing.T) {
	ctx := context.Background()
	svc, _, notifier := newTestService(t)

	orderID, err := svc.CreateOrder(ctx, CreateOrderInput{UserID: "user-1", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	require.NoError(t, svc.HandlePaymentSucceeded(ctx, contracts.PaymentSucceeded{
		EventID: uuid.New(), OrderID: orderID,
	}))

	// Опоздавший failed с другим eventID терминальный статус не трогает
	require.NoError(t, svc.HandlePaymentFailed(ctx, contracts.PaymentFailed{
		EventID: uuid.New(), OrderID: orderID, Reason: "insufficient funds",
	}))

	order, err := svc.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusPaid, order.Status)
	require.Len(t, notifier.all(), 1)
}

func TestOrderService_HandlePaymentFailed(t *testing.T) {
	ctx := context.Background()
	svc, _, notifier := newTestService(t)

	orderID, err := svc.CreateOrder(ctx, CreateOrderInput{UserID: "user-1", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	require.NoError(t, svc.HandlePaymentFailed(ctx, contracts.PaymentFailed{
		EventID: uuid.New(), OrderID: orderID, Reason: "account not found",
	}))

	order, err := svc.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusFailed, order.Status)
	require.Equal(t, []string{orderID.String() + ":FAILED"}, notifier.all())
}

func TestOrderService_ResultWithoutIDs(t *testing.T) {
	ctx := context.Background()
	svc, repo, notifier := newTestService(t)

	orderID, err := svc.CreateOrder(ctx, CreateOrderInput{UserID: "user-1", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	// Результат без eventId подтверждается без эффекта: uuid.Nil
	// не должен попасть в inbox и глушить последующие события без id
	require.NoError(t, svc.HandlePaymentSucceeded(ctx, contracts.PaymentSucceeded{
		EventID: uuid.Nil, OrderID: orderID,
	}))
	require.NoError(t, svc.HandlePaymentFailed(ctx, contracts.PaymentFailed{
		EventID: uuid.New(), OrderID: uuid.Nil, Reason: "account not found",
	}))

	order, err := svc.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusPending, order.Status)
	require.False(t, repo.InboxContains(uuid.Nil))
	require.Empty(t, notifier.all())
}

func TestOrderService_ResultForUnknownOrder(t *testing.T) {
	ctx := context.Background()
	svc, repo, notifier := newTestService(t)

	ev := contracts.PaymentSucceeded{EventID: uuid.New(), OrderID: uuid.New()}
	require.NoError(t, svc.HandlePaymentSucceeded(ctx, ev))

	// Событие зафиксировано в inbox, но эффекта и пуша нет
	require.True(t, repo.InboxContains(ev.EventID))
	require.Empty(t, notifier.all())
}
