package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SignumGusik/KPO/services/order/internal/repository/memory"
	"github.com/SignumGusik/KPO/services/order/internal/service"
)

type nopNotifier struct{}

func (nopNotifier) Publish(string, string) {}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return newTestRouterReadiness(t, nil)
}

func newTestRouterReadiness(t *testing.T, readiness func() bool) http.Handler {
	t.Helper()
	repo := memory.NewRepository()
	svc := service.NewOrderService(zap.NewNop(), repo, nopNotifier{})
	handler := NewHandler(zap.NewNop(), svc)
	// Заглушка вместо websocket обработчика
	wsStub := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
	})
	return NewRouter(handler, wsStub, readiness, nil)
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrder(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/orders", `{"userId":"user-1","amount":"149.90"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		OrderID string `json:"orderId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	orderID, err := uuid.Parse(resp.OrderID)
	require.NoError(t, err)

	rec = doRequest(t, router, http.MethodGet, "/orders/"+orderID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var order struct {
		OrderID string `json:"orderId"`
		UserID  string `json:"userId"`
		Status  string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	require.Equal(t, orderID.String(), order.OrderID)
	require.Equal(t, "user-1", order.UserID)
	require.Equal(t, "PENDING", order.Status)
}

func TestCreateOrder_Validation(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/orders", `{"userId":"","amount":"10"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/orders", `{"userId":"user-1","amount":"-5"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/orders", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrder_NotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/orders/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/orders/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOrders(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/orders", `{"userId":"user-1","amount":"10"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doRequest(t, router, http.MethodPost, "/orders", `{"userId":"user-1","amount":"20"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/orders?userId=user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var orders []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 2)

	// userId обязателен
	rec = doRequest(t, router, http.MethodGet, "/orders", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_Readiness(t *testing.T) {
	ready := true
	router := newTestRouterReadiness(t, func() bool { return ready })

	rec := doRequest(t, router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// БД недоступна — health отдаёт 503
	ready = false
	rec = doRequest(t, router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
