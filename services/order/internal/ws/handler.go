package ws

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// maxMessageSize — предел на размер входящего кадра
// Кадры больше лимита отбрасываются, соединение при этом не закрывается
const maxMessageSize = 256 * 1024

type subscribeRequest struct {
	Type    string `json:"type"`
	OrderID string `json:"orderId"`
}

// NewHandler возвращает HTTP handler, апгрейдящий соединение до websocket
// Клиент шлёт {"type":"subscribe","orderId":...}; некорректный ввод
// игнорируется, сервер никогда не закрывает соединение из-за него
func NewHandler(logger *zap.Logger, hub *Hub) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		defer func() {
			hub.UnsubscribeAll(conn)
			_ = conn.Close()
		}()

		for {
			msgType, reader, err := conn.NextReader()
			if err != nil {
				// клиент закрыл соединение или оборвался
				return
			}
			if msgType != websocket.TextMessage {
				_, _ = io.Copy(io.Discard, reader)
				continue
			}

			data, err := io.ReadAll(io.LimitReader(reader, maxMessageSize+1))
			if err != nil {
				return
			}
			if len(data) > maxMessageSize {
				// слишком большой кадр — дочитываем и отбрасываем
				_, _ = io.Copy(io.Discard, reader)
				continue
			}

			var req subscribeRequest
			if err := json.Unmarshal(data, &req); err != nil {
				// плохой JSON — игнорируем, соединение не рвём
				continue
			}

			if req.Type == "subscribe" && strings.TrimSpace(req.OrderID) != "" {
				hub.Subscribe(req.OrderID, conn)
				logger.Debug("websocket subscribed",
					zap.String("order_id", req.OrderID),
				)
			}
		}
	}
}
