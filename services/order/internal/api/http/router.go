package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformhealth "github.com/SignumGusik/KPO/platform/health/http"
	platformobservability "github.com/SignumGusik/KPO/platform/observability"
)

// NewRouter собирает chi-роутер сервиса заказов.
// wsHandler обслуживает WebSocket-подписки на статусы заказов.
// readiness — проверка готовности (ping БД); при false health отдаёт 503.
// logger используется observability middleware (trace_id в логах запроса)
func NewRouter(h *Handler, wsHandler http.Handler, readiness func() bool, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Observability: trace context + span на каждый запрос
	if logger != nil {
		r.Use(platformobservability.HTTPMiddleware("order", logger))
	}

	r.Get("/health", platformhealth.Handler(readiness))

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.PostOrders)
		r.Get("/", h.GetOrders)
		// регистрируем до /{orderId}, чтобы "ws" не парсился как UUID
		r.Method(http.MethodGet, "/ws", wsHandler)
		r.Get("/{orderId}", func(w http.ResponseWriter, req *http.Request) {
			h.GetOrderByID(w, req, chi.URLParam(req, "orderId"))
		})
	})

	return r
}
