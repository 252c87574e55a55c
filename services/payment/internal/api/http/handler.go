package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/SignumGusik/KPO/services/payment/internal/repository"
	"github.com/SignumGusik/KPO/services/payment/internal/service"
)

// Handler содержит HTTP-обработчики сервиса платежей
type Handler struct {
	logger         *zap.Logger
	paymentService *service.PaymentService
}

// NewHandler создаёт новый HTTP handler
func NewHandler(logger *zap.Logger, paymentService *service.PaymentService) *Handler {
	return &Handler{
		logger:         logger,
		paymentService: paymentService,
	}
}

type createAccountRequest struct {
	UserID string `json:"userId"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type debitRequest struct {
	// OrderID опционален: ручное списание может идти без заказа
	OrderID *uuid.UUID      `json:"orderId,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
}

type accountResponse struct {
	UserID  string          `json:"userId"`
	Balance decimal.Decimal `json:"balance"`
	Version int64           `json:"version"`
}

// PostAccounts обрабатывает POST /accounts — создание счёта
func (h *Handler) PostAccounts(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	account, err := h.paymentService.CreateAccount(r.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, service.ErrUserIDRequired) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to create account", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

// GetAccount обрабатывает GET /accounts/{userId}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request, userID string) {
	account, err := h.paymentService.GetAccount(r.Context(), userID)
	if err != nil {
		h.writeAccountError(w, err, "failed to get account")
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// PostTopUp обрабатывает POST /accounts/{userId}/topup
func (h *Handler) PostTopUp(w http.ResponseWriter, r *http.Request, userID string) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	account, err := h.paymentService.TopUp(r.Context(), userID, req.Amount)
	if err != nil {
		h.writeAccountError(w, err, "failed to top up account")
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// PostDebit обрабатывает POST /accounts/{userId}/debit
func (h *Handler) PostDebit(w http.ResponseWriter, r *http.Request, userID string) {
	var req debitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	account, err := h.paymentService.Debit(r.Context(), userID, req.OrderID, req.Amount)
	if err != nil {
		h.writeAccountError(w, err, "failed to debit account")
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// writeAccountError транслирует доменные ошибки в HTTP статусы
func (h *Handler) writeAccountError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrUserIDRequired),
		errors.Is(err, service.ErrAmountNotPositive):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, repository.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, "insufficient funds")
	case errors.Is(err, repository.ErrVersionConflict):
		writeError(w, http.StatusConflict, "account was modified concurrently, retry")
	default:
		h.logger.Error(fallback, zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func toAccountResponse(account repository.Account) accountResponse {
	return accountResponse{
		UserID:  account.UserID,
		Balance: account.Balance,
		Version: account.Version,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
