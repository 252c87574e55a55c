package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SignumGusik/KPO/platform/outbox"
	"github.com/SignumGusik/KPO/services/order/internal/repository"
)

// Repository реализует OrderRepository и outbox.Store в памяти
// Используется в unit-тестах вместо моков; инварианты те же, что у
// PostgreSQL реализации
type Repository struct {
	mu     sync.Mutex
	orders map[uuid.UUID]repository.Order
	outbox []repository.OutboxEvent
	inbox  map[uuid.UUID]time.Time
}

// NewRepository создаёт пустой in-memory репозиторий
func NewRepository() *Repository {
	return &Repository{
		orders: make(map[uuid.UUID]repository.Order),
		outbox: make([]repository.OutboxEvent, 0),
		inbox:  make(map[uuid.UUID]time.Time),
	}
}

// CreateWithOutbox сохраняет заказ и outbox событие атомарно (под одним lock)
func (r *Repository) CreateWithOutbox(ctx context.Context, order repository.Order, event repository.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.orders[order.OrderID] = order
	r.outbox = append(r.outbox, event)
	return nil
}

// GetByID возвращает заказ или ErrNotFound
func (r *Repository) GetByID(ctx context.Context, orderID uuid.UUID) (repository.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return repository.Order{}, repository.ErrNotFound
	}
	return order, nil
}

// ListByUser возвращает заказы пользователя, новые первыми
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]repository.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders := make([]repository.Order, 0)
	for _, order := range r.orders {
		if order.UserID == userID {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

// ApplyPaymentResult повторяет транзакционный сценарий PostgreSQL реализации
func (r *Repository) ApplyPaymentResult(ctx context.Context, eventID, orderID uuid.UUID, outcome repository.Outcome) (repository.Status, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seen := r.inbox[eventID]; seen {
		return "", false, nil
	}
	r.inbox[eventID] = time.Now().UTC()

	order, ok := r.orders[orderID]
	if !ok {
		return "", false, nil
	}

	next, changed := order.Status.ApplyOutcome(outcome)
	if changed {
		order.Status = next
		r.orders[orderID] = order
	}
	return next, changed, nil
}

// InboxContains сообщает, зафиксирован ли eventID в inbox (для тестов)
func (r *Repository) InboxContains(eventID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inbox[eventID]
	return ok
}

// Outbox возвращает копию всех outbox событий (для тестов)
func (r *Repository) Outbox() []repository.OutboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := make([]repository.OutboxEvent, len(r.outbox))
	copy(events, r.outbox)
	return events
}

// FetchUnpublished возвращает до limit непубликованных событий (outbox.Store)
func (r *Repository) FetchUnpublished(ctx context.Context, limit int) ([]outbox.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]outbox.Event, 0)
	for _, e := range r.outbox {
		if e.PublishedAt != nil {
			continue
		}
		events = append(events, outbox.Event{
			EventID:   e.EventID.String(),
			EventType: e.EventType,
			Payload:   e.Payload,
		})
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

// MarkPublished проставляет published_at (outbox.Store)
func (r *Repository) MarkPublished(ctx context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.outbox {
		if r.outbox[i].EventID.String() == eventID {
			now := time.Now().UTC()
			r.outbox[i].PublishedAt = &now
		}
	}
	return nil
}

// IncrementAttempts увеличивает счётчик попыток (outbox.Store)
func (r *Repository) IncrementAttempts(ctx context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.outbox {
		if r.outbox[i].EventID.String() == eventID {
			r.outbox[i].PublishAttempts++
		}
	}
	return nil
}
