package ws

import (
	"sync"

	"go.uber.org/zap"
)

// Conn — минимум, который хабу нужен от websocket соединения
type Conn interface {
	WriteJSON(v any) error
}

// StatusUpdate — сообщение, которое уходит подписчикам заказа
type StatusUpdate struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// Hub хранит маппинг orderId -> множество открытых соединений
// Реестр защищён мьютексом и принадлежит приложению: хаб передаётся
// по ссылке туда, где он нужен, глобального состояния нет
type Hub struct {
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]map[Conn]struct{}
}

// NewHub создаёт пустой хаб
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[string]map[Conn]struct{}),
	}
}

// Subscribe подписывает соединение на обновления заказа
func (h *Hub) Subscribe(orderID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[orderID]
	if !ok {
		set = make(map[Conn]struct{})
		h.subs[orderID] = set
	}
	set[c] = struct{}{}
}

// UnsubscribeAll удаляет соединение из всех подписок
// Вызывается безусловно при закрытии соединения, чтобы реестр не тёк
func (h *Hub) UnsubscribeAll(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for orderID, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, orderID)
		}
	}
}

// Publish рассылает {orderId, status} всем подписчикам заказа
// Рассылка идёт по снапшоту множества, поэтому параллельная отписка
// не ломает итерацию; соединение, в которое не удалось записать,
// удаляется из реестра
func (h *Hub) Publish(orderID, status string) {
	h.mu.Lock()
	set, ok := h.subs[orderID]
	if !ok {
		h.mu.Unlock()
		return
	}
	conns := make([]Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	update := StatusUpdate{OrderID: orderID, Status: status}

	for _, c := range conns {
		if err := c.WriteJSON(update); err != nil {
			h.logger.Debug("dropping dead subscriber",
				zap.Error(err),
				zap.String("order_id", orderID),
			)
			h.mu.Lock()
			if set, ok := h.subs[orderID]; ok {
				delete(set, c)
				if len(set) == 0 {
					delete(h.subs, orderID)
				}
			}
			h.mu.Unlock()
		}
	}
}
