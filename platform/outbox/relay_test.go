package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SignumGusik/KPO/platform/rabbitmq"
)

// fakeStore — in-memory outbox для тестов relay
type fakeStore struct {
	mu       sync.Mutex
	events   []Event
	marked   map[string]bool
	attempts map[string]int
}

func newFakeStore(events ...Event) *fakeStore {
	return &fakeStore{
		events:   events,
		marked:   make(map[string]bool),
		attempts: make(map[string]int),
	}
}

func (s *fakeStore) FetchUnpublished(ctx context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0)
	for _, e := range s.events {
		if s.marked[e.EventID] {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) MarkPublished(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked[eventID] = true
	return nil
}

func (s *fakeStore) IncrementAttempts(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[eventID]++
	return nil
}

// fakePublisher записывает публикации; err != nil имитирует недоступный брокер
type fakePublisher struct {
	mu        sync.Mutex
	published []rabbitmq.Message
	keys      []string
	err       error
}

func (p *fakePublisher) Publish(ctx context.Context, routingKey string, msg rabbitmq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, msg)
	p.keys = append(p.keys, routingKey)
	return nil
}

func mustWrap(t *testing.T, routingKey string, payload any) []byte {
	t.Helper()
	raw, err := Wrap(routingKey, payload)
	require.NoError(t, err)
	return raw
}

func TestWrap(t *testing.T) {
	raw := mustWrap(t, "payments.payment-requested", map[string]string{"orderId": "o-1"})

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, "payments.payment-requested", env.RoutingKey)
	require.JSONEq(t, `{"orderId":"o-1"}`, string(env.Payload))
}

func TestRelay_PublishesAndMarks(t *testing.T) {
	ctx := context.Background()

	store := newFakeStore(
		Event{EventID: "e-1", EventType: "PaymentRequested",
			Payload: mustWrap(t, "payments.payment-requested", map[string]string{"orderId": "o-1"})},
		Event{EventID: "e-2", EventType: "PaymentSucceeded",
			Payload: mustWrap(t, "orders.payment-succeeded", map[string]string{"orderId": "o-2"})},
	)
	pub := &fakePublisher{}
	relay := NewRelay(zap.NewNop(), store, pub, 10, 0)

	require.NoError(t, relay.processBatch(ctx))

	require.Len(t, pub.published, 2)
	require.Equal(t, []string{"payments.payment-requested", "orders.payment-succeeded"}, pub.keys)
	require.Equal(t, "e-1", pub.published[0].EventID)
	require.Equal(t, "PaymentRequested", pub.published[0].EventType)
	require.JSONEq(t, `{"orderId":"o-1"}`, string(pub.published[0].Body))

	require.True(t, store.marked["e-1"])
	require.True(t, store.marked["e-2"])

	// Повторный батч пустой: опубликованные строки не выбираются
	require.NoError(t, relay.processBatch(ctx))
	require.Len(t, pub.published, 2)
}

func TestRelay_BrokerDownRetainsEvents(t *testing.T) {
	ctx := context.Background()

	store := newFakeStore(Event{
		EventID:   "e-1",
		EventType: "PaymentRequested",
		Payload:   mustWrap(t, "payments.payment-requested", map[string]string{"orderId": "o-1"}),
	})
	pub := &fakePublisher{err: errors.New("broker unavailable")}
	relay := NewRelay(zap.NewNop(), store, pub, 10, 0)

	require.NoError(t, relay.processBatch(ctx))
	require.False(t, store.marked["e-1"])
	require.Equal(t, 1, store.attempts["e-1"])

	// Брокер ожил — событие доставляется следующим циклом
	pub.err = nil
	require.NoError(t, relay.processBatch(ctx))
	require.True(t, store.marked["e-1"])
	require.Len(t, pub.published, 1)
}

func TestRelay_MalformedEnvelope(t *testing.T) {
	ctx := context.Background()

	store := newFakeStore(Event{EventID: "e-bad", EventType: "X", Payload: []byte("{not json")})
	pub := &fakePublisher{}
	relay := NewRelay(zap.NewNop(), store, pub, 10, 0)

	require.NoError(t, relay.processBatch(ctx))
	require.Empty(t, pub.published)
	require.False(t, store.marked["e-bad"])
	require.Equal(t, 1, store.attempts["e-bad"])
}

func TestRelay_BatchLimit(t *testing.T) {
	ctx := context.Background()

	events := make([]Event, 0, 5)
	for _, id := range []string{"e-1", "e-2", "e-3", "e-4", "e-5"} {
		events = append(events, Event{
			EventID:   id,
			EventType: "PaymentRequested",
			Payload:   mustWrap(t, "payments.payment-requested", map[string]string{"orderId": id}),
		})
	}
	store := newFakeStore(events...)
	pub := &fakePublisher{}
	relay := NewRelay(zap.NewNop(), store, pub, 2, 0)

	require.NoError(t, relay.processBatch(ctx))
	require.Len(t, pub.published, 2)

	require.NoError(t, relay.processBatch(ctx))
	require.NoError(t, relay.processBatch(ctx))
	require.Len(t, pub.published, 5)
}
