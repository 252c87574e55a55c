// Package postgres реализует хранилище счетов поверх PostgreSQL (pgx).
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
	"github.com/SignumGusik/KPO/services/payment/internal/contracts"
	"github.com/SignumGusik/KPO/services/payment/internal/repository"
)

// Repository реализует AccountRepository и outbox.Store используя PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository создаёт новый PostgreSQL репозиторий
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateOrGetAccount создаёт счёт, если его ещё нет, и возвращает текущее состояние
func (r *Repository) CreateOrGetAccount(ctx context.Context, userID string) (repository.Account, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, balance, version)
		 VALUES ($1, 0, 0)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID)
	if err != nil {
		return repository.Account{}, fmt.Errorf("create account: %w", err)
	}
	return r.GetAccount(ctx, userID)
}

// GetAccount возвращает счёт по userID
func (r *Repository) GetAccount(ctx context.Context, userID string) (repository.Account, error) {
	account, err := scanAccount(r.pool.QueryRow(ctx,
		`SELECT user_id, balance::text, version FROM accounts WHERE user_id = $1`,
		userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Account{}, repository.ErrAccountNotFound
		}
		return repository.Account{}, err
	}
	return account, nil
}

// TopUp пополняет баланс и пишет запись журнала в одной транзакции
func (r *Repository) TopUp(ctx context.Context, userID string, amount decimal.Decimal) (repository.Account, error) {
	return r.mutateBalance(ctx, userID, nil, repository.KindTopUp, amount)
}

// Debit списывает amount и пишет запись журнала в одной транзакции
func (r *Repository) Debit(ctx context.Context, userID string, orderID *uuid.UUID, amount decimal.Decimal) (repository.Account, error) {
	return r.mutateBalance(ctx, userID, orderID, repository.KindDebit, amount)
}

// mutateBalance общий сценарий TopUp/Debit: прочитать счёт, проверить
// достаточность средств, обновить баланс по compare-and-swap на version
func (r *Repository) mutateBalance(ctx context.Context, userID string, orderID *uuid.UUID, kind repository.Kind, amount decimal.Decimal) (repository.Account, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return repository.Account{}, err
	}
	defer tx.Rollback(ctx)

	account, err := scanAccount(tx.QueryRow(ctx,
		`SELECT user_id, balance::text, version FROM accounts WHERE user_id = $1`,
		userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Account{}, repository.ErrAccountNotFound
		}
		return repository.Account{}, err
	}

	var next decimal.Decimal
	if kind == repository.KindTopUp {
		next = account.Balance.Add(amount)
	} else {
		if account.Balance.LessThan(amount) {
			return repository.Account{}, repository.ErrInsufficientFunds
		}
		next = account.Balance.Sub(amount)
	}

	updated, err := casUpdateBalance(ctx, tx, userID, next, account.Version)
	if err != nil {
		return repository.Account{}, err
	}
	if !updated {
		return repository.Account{}, repository.ErrVersionConflict
	}

	if err := insertLedgerEntry(ctx, tx, repository.LedgerEntry{
		TxID:      uuid.New(),
		OrderID:   orderID,
		UserID:    userID,
		Kind:      kind,
		Amount:    amount,
		Status:    repository.EntrySuccess,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return repository.Account{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return repository.Account{}, err
	}

	account.Balance = next
	account.Version++
	return account, nil
}

// ProcessPaymentRequested выполняет полный сценарий консьюмера в одной
// транзакции. Любая ошибка снаружи приводит к nack/requeue, при этом
// дедупликация по inbox гарантирует ровно один бизнес-эффект
func (r *Repository) ProcessPaymentRequested(ctx context.Context, ev contracts.PaymentRequested) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Inbox dedup по eventID
	var seen bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM inbox WHERE event_id = $1)`,
		ev.EventID).Scan(&seen)
	if err != nil {
		return fmt.Errorf("check inbox: %w", err)
	}
	if seen {
		return tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO inbox (event_id, received_at) VALUES ($1, now())`,
		ev.EventID)
	if err != nil {
		return fmt.Errorf("insert inbox event: %w", err)
	}

	// Страховка от повторной обработки того же заказа под другим eventID:
	// если DEBIT по заказу уже есть в журнале, переигрываем его результат
	var prior repository.EntryStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM ledger WHERE order_id = $1 AND kind = $2`,
		ev.OrderID, string(repository.KindDebit)).Scan(&prior)
	switch {
	case err == nil:
		reason := ""
		if prior != repository.EntrySuccess {
			reason = contracts.ReasonAlreadyFailed
		}
		if err := insertOutcome(ctx, tx, ev.OrderID, reason); err != nil {
			return err
		}
		return tx.Commit(ctx)
	case !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("check ledger: %w", err)
	}

	// Загружаем счёт
	account, err := scanAccount(tx.QueryRow(ctx,
		`SELECT user_id, balance::text, version FROM accounts WHERE user_id = $1`,
		ev.UserID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.rejectPayment(ctx, tx, ev, contracts.ReasonAccountNotFound)
		}
		return err
	}

	// Недостаточно средств — отказ фиксируется, баланс не трогаем
	if account.Balance.LessThan(ev.Amount) {
		return r.rejectPayment(ctx, tx, ev, contracts.ReasonInsufficientFunds)
	}

	// Списание: compare-and-swap на version счёта
	updated, err := casUpdateBalance(ctx, tx, ev.UserID, account.Balance.Sub(ev.Amount), account.Version)
	if err != nil {
		return err
	}
	if !updated {
		return repository.ErrVersionConflict
	}

	orderID := ev.OrderID
	if err := insertLedgerEntry(ctx, tx, repository.LedgerEntry{
		TxID:      uuid.New(),
		OrderID:   &orderID,
		UserID:    ev.UserID,
		Kind:      repository.KindDebit,
		Amount:    ev.Amount,
		Status:    repository.EntrySuccess,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	if err := insertOutcome(ctx, tx, ev.OrderID, ""); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// rejectPayment фиксирует отказ: FAILED запись журнала + outbox событие,
// затем commit — отказ это тоже ровно один бизнес-эффект
func (r *Repository) rejectPayment(ctx context.Context, tx pgx.Tx, ev contracts.PaymentRequested, reason string) error {
	orderID := ev.OrderID
	if err := insertLedgerEntry(ctx, tx, repository.LedgerEntry{
		TxID:      uuid.New(),
		OrderID:   &orderID,
		UserID:    ev.UserID,
		Kind:      repository.KindDebit,
		Amount:    ev.Amount,
		Status:    repository.EntryFailed,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	if err := insertOutcome(ctx, tx, ev.OrderID, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// casUpdateBalance обновляет баланс только если version не изменилась.
// Возвращает false, если строка ушла из-под нас
func casUpdateBalance(ctx context.Context, tx pgx.Tx, userID string, balance decimal.Decimal, version int64) (bool, error) {
	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $1, version = version + 1
		 WHERE user_id = $2 AND version = $3`,
		balance.String(), userID, version)
	if err != nil {
		return false, fmt.Errorf("update balance: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func insertLedgerEntry(ctx context.Context, tx pgx.Tx, entry repository.LedgerEntry) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO ledger (tx_id, order_id, user_id, kind, amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.TxID, entry.OrderID, entry.UserID, string(entry.Kind), entry.Amount.String(), string(entry.Status), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func insertOutcome(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, reason string) error {
	event, err := repository.NewOutcomeOutbox(orderID, reason)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO outbox (event_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4)`,
		event.EventID, event.EventType, event.Payload, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
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

// scanAccount собирает доменную модель из строки результата.
// balance читается как text и парсится в decimal
func scanAccount(row pgx.Row) (repository.Account, error) {
	var (
		account repository.Account
		balance string
	)
	if err := row.Scan(&account.UserID, &balance, &account.Version); err != nil {
		return repository.Account{}, err
	}
	dec, err := decimal.NewFromString(balance)
	if err != nil {
		return repository.Account{}, fmt.Errorf("parse balance %q: %w", balance, err)
	}
	account.Balance = dec
	return account, nil
}
