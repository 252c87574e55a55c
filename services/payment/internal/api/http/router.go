package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformhealth "github.com/SignumGusik/KPO/platform/health/http"
	platformobservability "github.com/SignumGusik/KPO/platform/observability"
)

// NewRouter собирает chi-роутер сервиса платежей.
// readiness — проверка готовности (ping БД); при false health отдаёт 503.
// logger используется observability middleware (trace_id в логах запроса)
func NewRouter(h *Handler, readiness func() bool, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Observability: trace context + span на каждый запрос
	if logger != nil {
		r.Use(platformobservability.HTTPMiddleware("payment", logger))
	}

	r.Get("/health", platformhealth.Handler(readiness))

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.PostAccounts)
		r.Get("/{userId}", func(w http.ResponseWriter, req *http.Request) {
			h.GetAccount(w, req, chi.URLParam(req, "userId"))
		})
		r.Post("/{userId}/topup", func(w http.ResponseWriter, req *http.Request) {
			h.PostTopUp(w, req, chi.URLParam(req, "userId"))
		})
		r.Post("/{userId}/debit", func(w http.ResponseWriter, req *http.Request) {
			h.PostDebit(w, req, chi.URLParam(req, "userId"))
		})
	})

	return r
}
