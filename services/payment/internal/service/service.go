package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/SignumGusik/KPO/services/payment/internal/contracts"
	"github.com/SignumGusik/KPO/services/payment/internal/repository"
)

// Ошибки валидации команд
var (
	ErrUserIDRequired    = errors.New("userId is required")
	ErrAmountNotPositive = errors.New("amount must be > 0")
)

// PaymentService содержит бизнес-логику сервиса платежей
type PaymentService struct {
	logger *zap.Logger
	repo   repository.AccountRepository
}

// NewPaymentService создаёт новый экземпляр PaymentService
func NewPaymentService(logger *zap.Logger, repo repository.AccountRepository) *PaymentService {
	return &PaymentService{
		logger: logger,
		repo:   repo,
	}
}

// CreateAccount создаёт счёт пользователя; повторный вызов идемпотентен
func (s *PaymentService) CreateAccount(ctx context.Context, userID string) (repository.Account, error) {
	if strings.TrimSpace(userID) == "" {
		return repository.Account{}, ErrUserIDRequired
	}

	account, err := s.repo.CreateOrGetAccount(ctx, userID)
	if err != nil {
		return repository.Account{}, fmt.Errorf("create account: %w", err)
	}

	s.logger.Info("account ready", zap.String("user_id", userID))
	return account, nil
}

// GetAccount возвращает счёт пользователя
func (s *PaymentService) GetAccount(ctx context.Context, userID string) (repository.Account, error) {
	if strings.TrimSpace(userID) == "" {
		return repository.Account{}, ErrUserIDRequired
	}
	return s.repo.GetAccount(ctx, userID)
}

// TopUp пополняет счёт на amount
func (s *PaymentService) TopUp(ctx context.Context, userID string, amount decimal.Decimal) (repository.Account, error) {
	if strings.TrimSpace(userID) == "" {
		return repository.Account{}, ErrUserIDRequired
	}
	if amount.Sign() <= 0 {
		return repository.Account{}, ErrAmountNotPositive
	}

	account, err := s.repo.TopUp(ctx, userID, amount)
	if err != nil {
		return repository.Account{}, fmt.Errorf("top up: %w", err)
	}

	s.logger.Info("account topped up",
		zap.String("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("balance", account.Balance.String()),
	)
	return account, nil
}

// Debit списывает amount со счёта
// orderID опционален: привязка к заказу есть только у списаний консьюмера
func (s *PaymentService) Debit(ctx context.Context, userID string, orderID *uuid.UUID, amount decimal.Decimal) (repository.Account, error) {
	if strings.TrimSpace(userID) == "" {
		return repository.Account{}, ErrUserIDRequired
	}
	if amount.Sign() <= 0 {
		return repository.Account{}, ErrAmountNotPositive
	}

	account, err := s.repo.Debit(ctx, userID, orderID, amount)
	if err != nil {
		return repository.Account{}, fmt.Errorf("debit: %w", err)
	}

	s.logger.Info("account debited",
		zap.String("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("balance", account.Balance.String()),
	)
	return account, nil
}

// HandlePaymentRequested обрабатывает входящее событие оплаты заказа.
// Событие без eventId дедуплицировать невозможно — такое логируем
// и подтверждаем без эффекта, чтобы не зациклить повторную доставку
func (s *PaymentService) HandlePaymentRequested(ctx context.Context, ev contracts.PaymentRequested) error {
	if ev.EventID == uuid.Nil || ev.OrderID == uuid.Nil {
		s.logger.Warn("payment requested event without ids, dropping",
			zap.String("event_id", ev.EventID.String()),
			zap.String("order_id", ev.OrderID.String()),
		)
		return nil
	}

	if err := s.repo.ProcessPaymentRequested(ctx, ev); err != nil {
		return fmt.Errorf("process payment requested: %w", err)
	}

	s.logger.Info("payment requested processed",
		zap.String("event_id", ev.EventID.String()),
		zap.String("order_id", ev.OrderID.String()),
		zap.String("user_id", ev.UserID),
		zap.String("amount", ev.Amount.String()),
	)
	return nil
}
