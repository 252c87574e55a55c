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

	"github.com/SignumGusik/KPO/services/payment/internal/repository/memory"
	"github.com/SignumGusik/KPO/services/payment/internal/service"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	repo := memory.NewRepository()
	svc := service.NewPaymentService(zap.NewNop(), repo)
	return NewRouter(NewHandler(zap.NewNop(), svc), nil, nil)
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeAccount(t *testing.T, rec *httptest.ResponseRecorder) (string, string, int64) {
	t.Helper()
	var resp struct {
		UserID  string `json:"userId"`
		Balance string `json:"balance"`
		Version int64  `json:"version"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.UserID, resp.Balance, resp.Version
}

func TestAccountLifecycle(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/accounts", `{"userId":"user-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	userID, balance, version := decodeAccount(t, rec)
	require.Equal(t, "user-1", userID)
	require.Equal(t, "0", balance)
	require.Equal(t, int64(0), version)

	rec = doRequest(t, router, http.MethodPost, "/accounts/user-1/topup", `{"amount":"100"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	_, balance, version = decodeAccount(t, rec)
	require.Equal(t, "100", balance)
	require.Equal(t, int64(1), version)

	rec = doRequest(t, router, http.MethodPost, "/accounts/user-1/debit",
		`{"orderId":"`+uuid.NewString()+`","amount":"40"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	_, balance, version = decodeAccount(t, rec)
	require.Equal(t, "60", balance)
	require.Equal(t, int64(2), version)

	// списание без orderId — ручная операция
	rec = doRequest(t, router, http.MethodPost, "/accounts/user-1/debit", `{"amount":"10"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	_, balance, version = decodeAccount(t, rec)
	require.Equal(t, "50", balance)
	require.Equal(t, int64(3), version)

	rec = doRequest(t, router, http.MethodGet, "/accounts/user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, balance, _ = decodeAccount(t, rec)
	require.Equal(t, "60", balance)
}

func TestAccountErrors(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/accounts/ghost", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/accounts/ghost/topup", `{"amount":"10"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/accounts", `{"userId":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/accounts", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDebit_InsufficientFunds(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/accounts", `{"userId":"user-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doRequest(t, router, http.MethodPost, "/accounts/user-1/topup", `{"amount":"30"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/accounts/user-1/debit",
		`{"orderId":"`+uuid.NewString()+`","amount":"50"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestDebit_Validation(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/accounts", `{"userId":"user-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	// amount должен быть положительным
	rec = doRequest(t, router, http.MethodPost, "/accounts/user-1/debit", `{"amount":"0"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/accounts/user-1/topup", `{"amount":"0"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
}
