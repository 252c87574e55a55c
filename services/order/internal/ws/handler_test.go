package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dialTestServer(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(NewHandler(zap.NewNop(), hub))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUpdate(t *testing.T, conn *websocket.Conn) StatusUpdate {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var update StatusUpdate
	require.NoError(t, conn.ReadJSON(&update))
	return update
}

// waitSubscribed опрашивает хаб, пока обработчик не зарегистрирует подписку
func waitSubscribed(t *testing.T, hub *Hub, orderID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.Lock()
		_, ok := hub.subs[orderID]
		hub.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("subscription for %s never registered", orderID)
}

func TestHandler_SubscribeAndReceive(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := dialTestServer(t, hub)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"subscribe","orderId":"order-1"}`)))
	waitSubscribed(t, hub, "order-1")

	hub.Publish("order-1", "PAID")

	update := readUpdate(t, conn)
	require.Equal(t, StatusUpdate{OrderID: "order-1", Status: "PAID"}, update)
}

func TestHandler_IgnoresBadInput(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := dialTestServer(t, hub)

	// Плохой JSON и сообщение без type не рвут соединение
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"orderId":"order-1"}`)))

	// Валидная подписка после мусора продолжает работать
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"subscribe","orderId":"order-2"}`)))
	waitSubscribed(t, hub, "order-2")

	hub.Publish("order-2", "FAILED")
	update := readUpdate(t, conn)
	require.Equal(t, "FAILED", update.Status)
}

func TestHandler_OversizedFrameDiscarded(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := dialTestServer(t, hub)

	// Кадр больше лимита отбрасывается без закрытия соединения
	big := make([]byte, maxMessageSize+1024)
	for i := range big {
		big[i] = 'a'
	}
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, big))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"subscribe","orderId":"order-3"}`)))
	waitSubscribed(t, hub, "order-3")

	hub.Publish("order-3", "PAID")
	update := readUpdate(t, conn)
	require.Equal(t, "PAID", update.Status)
}
