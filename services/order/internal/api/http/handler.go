package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/SignumGusik/KPO/services/order/internal/repository"
	"github.com/SignumGusik/KPO/services/order/internal/service"
)

// Handler содержит HTTP-обработчики сервиса заказов
type Handler struct {
	logger       *zap.Logger
	orderService *service.OrderService
}

// NewHandler создаёт новый HTTP handler
func NewHandler(logger *zap.Logger, orderService *service.OrderService) *Handler {
	return &Handler{
		logger:       logger,
		orderService: orderService,
	}
}

type createOrderRequest struct {
	UserID string          `json:"userId"`
	Amount decimal.Decimal `json:"amount"`
}

type createOrderResponse struct {
	OrderID string `json:"orderId"`
}

type orderResponse struct {
	OrderID   string          `json:"orderId"`
	UserID    string          `json:"userId"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// PostOrders обрабатывает POST /orders — создание заказа
func (h *Handler) PostOrders(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	orderID, err := h.orderService.CreateOrder(r.Context(), service.CreateOrderInput{
		UserID: req.UserID,
		Amount: req.Amount,
	})
	if err != nil {
		if errors.Is(err, service.ErrUserIDRequired) || errors.Is(err, service.ErrAmountNotPositive) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to create order", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create order")
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{OrderID: orderID.String()})
}

// GetOrders обрабатывает GET /orders?userId= — список заказов пользователя
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")

	orders, err := h.orderService.ListOrders(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserIDRequired) {
			writeError(w, http.StatusBadRequest, "userId query param is required")
			return
		}
		h.logger.Error("failed to list orders", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		resp = append(resp, toOrderResponse(order))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetOrderByID обрабатывает GET /orders/{orderId}
func (h *Handler) GetOrderByID(w http.ResponseWriter, r *http.Request, rawID string) {
	orderID, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "orderId must be a valid UUID")
		return
	}

	order, err := h.orderService.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("failed to get order", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get order")
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func toOrderResponse(order repository.Order) orderResponse {
	return orderResponse{
		OrderID:   order.OrderID.String(),
		UserID:    order.UserID,
		Amount:    order.Amount,
		Status:    string(order.Status),
		CreatedAt: order.CreatedAt,
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
