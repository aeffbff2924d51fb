package subscription

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"restaurant-sync/internal/common/logger"
	"restaurant-sync/internal/notify"
)

type fakeConn struct {
	mu     sync.Mutex
	topics map[notify.Topic]chan []byte
	closed chan error
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		topics: make(map[notify.Topic]chan []byte),
		closed: make(chan error, 1),
	}
}

func (c *fakeConn) Subscribe(ctx context.Context, topic notify.Topic) (<-chan []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan []byte, 16)
	c.topics[topic] = ch
	return ch, nil
}

func (c *fakeConn) Closed() <-chan error { return c.closed }

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) drop(err error) {
	c.once.Do(func() { c.closed <- err })
}

func (c *fakeConn) deliver(topic notify.Topic, payload []byte) {
	c.mu.Lock()
	ch := c.topics[topic]
	c.mu.Unlock()
	if ch != nil {
		ch <- payload
	}
}

func (c *fakeConn) hasSubscription(topic notify.Topic) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[topic]
	return ok
}

type fakeTransport struct {
	mu       sync.Mutex
	conns    []*fakeConn
	failures int
}

func (t *fakeTransport) Connect(ctx context.Context) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failures > 0 {
		t.failures--
		return nil, errors.New("dial failed")
	}
	conn := newFakeConn()
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.conns) {
		return nil
	}
	return t.conns[i]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(transport Transport) *Manager {
	return NewManager(transport, Config{ReconnectDelay: 10 * time.Millisecond},
		logger.NewWithWriter("test", io.Discard))
}

func TestSubscribeBeforeConnectIsAppliedOnConnect(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(transport)
	defer m.Close()

	events := make(chan notify.Event, 4)
	m.Subscribe(notify.TopicKitchen, func(ev notify.Event, _ notify.Envelope) { events <- ev })

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := transport.conn(0)
	waitFor(t, "subscription attach", func() bool { return conn.hasSubscription(notify.TopicKitchen) })
	if len(events) != 0 {
		t.Fatal("no deliveries yet, handler must not have fired")
	}
}

func TestDeliveryDispatchesOrderEvent(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(transport)
	defer m.Close()

	events := make(chan notify.Event, 4)
	m.Subscribe(notify.TopicKitchen, func(ev notify.Event, _ notify.Envelope) { events <- ev })
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	conn := transport.conn(0)
	waitFor(t, "subscription attach", func() bool { return conn.hasSubscription(notify.TopicKitchen) })
	conn.deliver(notify.TopicKitchen, []byte(`{"orderId":1,"status":"READY"}`))

	select {
	case ev := <-events:
		oe, ok := ev.(notify.OrderEvent)
		if !ok {
			t.Fatalf("expected OrderEvent, got %T", ev)
		}
		if oe.OrderID != 1 || string(oe.Status) != "READY" {
			t.Errorf("event = %#v", oe)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestReconnectReappliesSubscriptions(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(transport)
	defer m.Close()

	events := make(chan notify.Event, 4)
	m.Subscribe(notify.TableTopic(3), func(ev notify.Event, _ notify.Envelope) { events <- ev })
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn1 := transport.conn(0)
	waitFor(t, "first attach", func() bool { return conn1.hasSubscription(notify.TableTopic(3)) })

	conn1.drop(errors.New("broker restarted"))

	waitFor(t, "reconnect", func() bool { return transport.conn(1) != nil })
	conn2 := transport.conn(1)
	waitFor(t, "second attach", func() bool { return conn2.hasSubscription(notify.TableTopic(3)) })
	waitFor(t, "connected state", func() bool { return m.State() == StateConnected })

	conn2.deliver(notify.TableTopic(3), []byte(`{"orderId":2,"status":"DELIVERED"}`))
	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked after reconnect")
	}
}

func TestFirstConnectFailureIsNonFatal(t *testing.T) {
	transport := &fakeTransport{failures: 1}
	m := newTestManager(transport)
	defer m.Close()

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected first connect attempt to report failure")
	}
	// The loop keeps retrying in the background.
	waitFor(t, "background reconnect", func() bool { return m.State() == StateConnected })
}

func TestMalformedAndViolatingPayloadsAreDropped(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(transport)
	defer m.Close()

	events := make(chan notify.Event, 4)
	m.Subscribe(notify.TopicKitchen, func(ev notify.Event, _ notify.Envelope) { events <- ev })
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := transport.conn(0)
	waitFor(t, "attach", func() bool { return conn.hasSubscription(notify.TopicKitchen) })

	// Garbage, a discriminant-free envelope and a double-discriminant envelope
	// must all be dropped; only the valid one reaches the handler.
	conn.deliver(notify.TopicKitchen, []byte(`not json`))
	conn.deliver(notify.TopicKitchen, []byte(`{"status":"READY"}`))
	conn.deliver(notify.TopicKitchen, []byte(`{"orderId":1,"requestId":2}`))
	conn.deliver(notify.TopicKitchen, []byte(`{"orderId":7,"status":"HAZIR"}`))

	select {
	case ev := <-events:
		oe, ok := ev.(notify.OrderEvent)
		if !ok || oe.OrderID != 7 {
			t.Fatalf("expected the valid order event, got %#v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid payload was not dispatched")
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected extra dispatch: %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(transport)
	defer m.Close()

	events := make(chan notify.Event, 4)
	sub := m.Subscribe(notify.TopicKitchen, func(ev notify.Event, _ notify.Envelope) { events <- ev })
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := transport.conn(0)
	waitFor(t, "attach", func() bool { return conn.hasSubscription(notify.TopicKitchen) })

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	conn.deliver(notify.TopicKitchen, []byte(`{"orderId":1,"status":"READY"}`))
	select {
	case ev := <-events:
		t.Fatalf("handler invoked after unsubscribe: %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectIdempotentAndCloseTerminal(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(transport)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect must be a no-op, got %v", err)
	}
	if n := len(transport.conns); n != 1 {
		t.Fatalf("transport dialed %d times, want 1", n)
	}

	m.Close()
	m.Close() // idempotent
	if err := m.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Connect after Close = %v, want ErrClosed", err)
	}
	if m.State() != StateClosed {
		t.Errorf("state = %v, want closed", m.State())
	}
}
