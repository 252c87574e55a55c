// Package memory реализует in-memory хранилище счетов.
// Используется в unit-тестах вместо PostgreSQL.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/SignumGusik/KPO/platform/outbox"
	"github.com/SignumGusik/KPO/services/payment/internal/contracts"
	"github.com/SignumGusik/KPO/services/payment/internal/repository"
)

// Repository потокобезопасное in-memory хранилище
type Repository struct {
	mu       sync.Mutex
	accounts map[string]repository.Account
	ledger   []repository.LedgerEntry
	inbox    map[uuid.UUID]struct{}
	outbox   []repository.OutboxEvent
	marked   map[string]bool
	attempts map[string]int
}

// NewRepository создаёт пустое in-memory хранилище
func NewRepository() *Repository {
	return &Repository{
		accounts: make(map[string]repository.Account),
		inbox:    make(map[uuid.UUID]struct{}),
		marked:   make(map[string]bool),
		attempts: make(map[string]int),
	}
}

// CreateOrGetAccount создаёт счёт с нулевым балансом или возвращает существующий
func (r *Repository) CreateOrGetAccount(ctx context.Context, userID string) (repository.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if account, ok := r.accounts[userID]; ok {
		return account, nil
	}
	account := repository.Account{UserID: userID, Balance: decimal.Zero, Version: 0}
	r.accounts[userID] = account
	return account, nil
}

// GetAccount возвращает счёт или ErrAccountNotFound
func (r *Repository) GetAccount(ctx context.Context, userID string) (repository.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[userID]
	if !ok {
		return repository.Account{}, repository.ErrAccountNotFound
	}
	return account, nil
}

// TopUp пополняет баланс и добавляет запись журнала
func (r *Repository) TopUp(ctx context.Context, userID string, amount decimal.Decimal) (repository.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[userID]
	if !ok {
		return repository.Account{}, repository.ErrAccountNotFound
	}

	account.Balance = account.Balance.Add(amount)
	account.Version++
	r.accounts[userID] = account
	r.ledger = append(r.ledger, repository.LedgerEntry{
		TxID:      uuid.New(),
		UserID:    userID,
		Kind:      repository.KindTopUp,
		Amount:    amount,
		Status:    repository.EntrySuccess,
		CreatedAt: time.Now().UTC(),
	})
	return account, nil
}

// Debit списывает amount и добавляет запись журнала
func (r *Repository) Debit(ctx context.Context, userID string, orderID *uuid.UUID, amount decimal.Decimal) (repository.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[userID]
	if !ok {
		return repository.Account{}, repository.ErrAccountNotFound
	}
	if account.Balance.LessThan(amount) {
		return repository.Account{}, repository.ErrInsufficientFunds
	}

	account.Balance = account.Balance.Sub(amount)
	account.Version++
	r.accounts[userID] = account
	r.ledger = append(r.ledger, repository.LedgerEntry{
		TxID:      uuid.New(),
		OrderID:   orderID,
		UserID:    userID,
		Kind:      repository.KindDebit,
		Amount:    amount,
		Status:    repository.EntrySuccess,
		CreatedAt: time.Now().UTC(),
	})
	return account, nil
}

// ProcessPaymentRequested повторяет транзакционный сценарий консьюмера
func (r *Repository) ProcessPaymentRequested(ctx context.Context, ev contracts.PaymentRequested) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Inbox dedup по eventID
	if _, seen := r.inbox[ev.EventID]; seen {
		return nil
	}
	r.inbox[ev.EventID] = struct{}{}

	// Переигрываем результат, если DEBIT по заказу уже в журнале
	for _, entry := range r.ledger {
		if entry.Kind == repository.KindDebit && entry.OrderID != nil && *entry.OrderID == ev.OrderID {
			reason := ""
			if entry.Status != repository.EntrySuccess {
				reason = contracts.ReasonAlreadyFailed
			}
			return r.appendOutcomeLocked(ev.OrderID, reason)
		}
	}

	account, ok := r.accounts[ev.UserID]
	if !ok {
		r.appendFailedDebitLocked(ev)
		return r.appendOutcomeLocked(ev.OrderID, contracts.ReasonAccountNotFound)
	}

	if account.Balance.LessThan(ev.Amount) {
		r.appendFailedDebitLocked(ev)
		return r.appendOutcomeLocked(ev.OrderID, contracts.ReasonInsufficientFunds)
	}

	account.Balance = account.Balance.Sub(ev.Amount)
	account.Version++
	r.accounts[ev.UserID] = account

	orderID := ev.OrderID
	r.ledger = append(r.ledger, repository.LedgerEntry{
		TxID:      uuid.New(),
		OrderID:   &orderID,
		UserID:    ev.UserID,
		Kind:      repository.KindDebit,
		Amount:    ev.Amount,
		Status:    repository.EntrySuccess,
		CreatedAt: time.Now().UTC(),
	})
	return r.appendOutcomeLocked(ev.OrderID, "")
}

func (r *Repository) appendFailedDebitLocked(ev contracts.PaymentRequested) {
	orderID := ev.OrderID
	r.ledger = append(r.ledger, repository.LedgerEntry{
		TxID:      uuid.New(),
		OrderID:   &orderID,
		UserID:    ev.UserID,
		Kind:      repository.KindDebit,
		Amount:    ev.Amount,
		Status:    repository.EntryFailed,
		CreatedAt: time.Now().UTC(),
	})
}

func (r *Repository) appendOutcomeLocked(orderID uuid.UUID, reason string) error {
	event, err := repository.NewOutcomeOutbox(orderID, reason)
	if err != nil {
		return err
	}
	r.outbox = append(r.outbox, event)
	return nil
}

// Ledger возвращает копию журнала (для тестов)
func (r *Repository) Ledger() []repository.LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]repository.LedgerEntry, len(r.ledger))
	copy(entries, r.ledger)
	return entries
}

// Outbox возвращает копию outbox строк (для тестов)
func (r *Repository) Outbox() []repository.OutboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]repository.OutboxEvent, len(r.outbox))
	copy(events, r.outbox)
	return events
}

// InboxContains сообщает, был ли eventID уже обработан (для тестов)
func (r *Repository) InboxContains(eventID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.inbox[eventID]
	return ok
}

// FetchUnpublished возвращает непубликованные outbox строки (часть outbox.Store)
func (r *Repository) FetchUnpublished(ctx context.Context, limit int) ([]outbox.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]outbox.Event, 0)
	for _, e := range r.outbox {
		if len(events) >= limit {
			break
		}
		if r.marked[e.EventID.String()] {
			continue
		}
		events = append(events, outbox.Event{
			EventID:   e.EventID.String(),
			EventType: e.EventType,
			Payload:   e.Payload,
		})
	}
	return events, nil
}

// MarkPublished помечает строку опубликованной (часть outbox.Store)
func (r *Repository) MarkPublished(ctx context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.marked[eventID] = true
	return nil
}

// IncrementAttempts увеличивает счётчик попыток (часть outbox.Store)
func (r *Repository) IncrementAttempts(ctx context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts[eventID]++
	return nil
}
