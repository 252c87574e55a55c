package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/SignumGusik/KPO/platform/outbox"
	"github.com/SignumGusik/KPO/services/order/internal/repository"
)

// Repository реализует OrderRepository и outbox.Store используя PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository создаёт новый PostgreSQL репозиторий
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateWithOutbox сохраняет заказ и его outbox событие в одной транзакции —
// здесь и начинается transactional outbox
func (r *Repository) CreateWithOutbox(ctx context.Context, order repository.Order, event repository.OutboxEvent) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (order_id, user_id, amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		order.OrderID, order.UserID, order.Amount.String(), string(order.Status), order.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO outbox (event_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4)`,
		event.EventID, event.EventType, event.Payload, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return tx.Commit(ctx)
}

// GetByID получает заказ по ID
func (r *Repository) GetByID(ctx context.Context, orderID uuid.UUID) (repository.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT order_id, user_id, amount::text, status, created_at
		 FROM orders
		 WHERE order_id = $1`,
		orderID)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Order{}, repository.ErrNotFound
		}
		return repository.Order{}, err
	}
	return order, nil
}

// ListByUser возвращает заказы пользователя, новые первыми
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]repository.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT order_id, user_id, amount::text, status, created_at
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]repository.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// ApplyPaymentResult выполняет транзакционный сценарий консьюмера:
// inbox дедупликация, переход статуса, коммит. Частичное состояние
// снаружи транзакции не видно никогда
func (r *Repository) ApplyPaymentResult(ctx context.Context, eventID, orderID uuid.UUID, outcome repository.Outcome) (repository.Status, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback(ctx)

	// Inbox dedup по eventID
	var seen bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM inbox WHERE event_id = $1)`,
		eventID).Scan(&seen)
	if err != nil {
		return "", false, fmt.Errorf("check inbox: %w", err)
	}
	if seen {
		return "", false, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO inbox (event_id, received_at) VALUES ($1, now())`,
		eventID)
	if err != nil {
		return "", false, fmt.Errorf("insert inbox event: %w", err)
	}

	var current repository.Status
	err = tx.QueryRow(ctx,
		`SELECT status FROM orders WHERE order_id = $1 FOR UPDATE`,
		orderID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Заказа нет — нечего обновлять, но eventID фиксируем,
			// чтобы повторная доставка не обрабатывалась снова
			return "", false, tx.Commit(ctx)
		}
		return "", false, fmt.Errorf("load order: %w", err)
	}

	next, changed := current.ApplyOutcome(outcome)
	if changed {
		_, err = tx.Exec(ctx,
			`UPDATE orders SET status = $1 WHERE order_id = $2`,
			string(next), orderID)
		if err != nil {
			return "", false, fmt.Errorf("update order status: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", false, err
	}
	return next, changed, nil
}

// FetchUnpublished возвращает до limit непубликованных outbox строк,
// старые первыми (часть outbox.Store)
func (r *Repository) FetchUnpublished(ctx context.Context, limit int) ([]outbox.Event, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT event_id::text, event_type, payload
		 FROM outbox
		 WHERE published_at IS NULL
		 ORDER BY created_at ASC
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]outbox.Event, 0)
	for rows.Next() {
		var e outbox.Event
		if err := rows.Scan(&e.EventID, &e.EventType, &e.Payload); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkPublished проставляет published_at (часть outbox.Store)
func (r *Repository) MarkPublished(ctx context.Context, eventID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE outbox SET published_at = now() WHERE event_id = $1`,
		eventID)
	return err
}

// IncrementAttempts увеличивает счётчик попыток публикации (часть outbox.Store)
func (r *Repository) IncrementAttempts(ctx context.Context, eventID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE outbox SET publish_attempts = publish_attempts + 1 WHERE event_id = $1`,
		eventID)
	return err
}

// scanOrder собирает доменную модель из строки результата
// amount читается как text и парсится в decimal
func scanOrder(row pgx.Row) (repository.Order, error) {
	var (
		order     repository.Order
		amount    string
		status    string
		createdAt time.Time
	)
	if err := row.Scan(&order.OrderID, &order.UserID, &amount, &status, &createdAt); err != nil {
		return repository.Order{}, err
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return repository.Order{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	order.Amount = dec
	order.Status = repository.Status(status)
	order.CreatedAt = createdAt
	return order, nil
}
