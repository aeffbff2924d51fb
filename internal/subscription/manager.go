package subscription

import (
	"context"
	"errors"
	"sync"
	"time"

	"restaurant-sync/internal/common/logger"
	"restaurant-sync/internal/notify"
)

// ErrClosed is returned by Connect after the manager was torn down.
var ErrClosed = errors.New("subscription manager closed")

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Handler receives every successfully decoded, classified envelope delivered
// on the subscription's topic. Invocation order matches transport delivery
// order within one topic.
type Handler func(ev notify.Event, env notify.Envelope)

// Conn is one live transport connection. Subscribe returns a channel of raw
// payloads for a topic; the channel closes when the connection drops.
type Conn interface {
	Subscribe(ctx context.Context, topic notify.Topic) (<-chan []byte, error)
	Closed() <-chan error
	Close() error
}

// Transport dials connections. The wire handshake behind it is replaceable;
// the manager only cares about connect, deliver and drop.
type Transport interface {
	Connect(ctx context.Context) (Conn, error)
}

type Config struct {
	// ReconnectDelay is a constant backoff between reconnect attempts.
	// Reconnection volume is small, so no exponential schedule.
	ReconnectDelay time.Duration
	// OnStateChange, when set, is invoked after every state transition.
	OnStateChange func(State)
}

// Manager owns exactly one live transport connection per observer process,
// rebuilds it after a drop, and keeps a table of topic subscriptions that is
// re-applied once the connection is back. Handlers fire only while CONNECTED.
type Manager struct {
	transport Transport
	lg        *logger.Logger
	delay     time.Duration
	onState   func(State)

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	mu    sync.Mutex
	state State
	conn  Conn
	subs  map[*Subscription]struct{}
}

func NewManager(transport Transport, cfg Config, lg *logger.Logger) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		transport: transport,
		lg:        lg,
		delay:     cfg.ReconnectDelay,
		onState:   cfg.OnStateChange,
		runCtx:    ctx,
		runCancel: cancel,
		state:     StateDisconnected,
		subs:      make(map[*Subscription]struct{}),
	}
}

// Connect is idempotent: while a connection exists or is being established it
// returns immediately. Otherwise it starts the connection loop and waits for
// the first attempt to resolve. A failed first attempt is non-fatal — the
// manager keeps reconnecting in the background and cached observer state
// stays valid.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateClosed:
		m.mu.Unlock()
		return ErrClosed
	case StateConnecting, StateConnected, StateReconnecting:
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	first := make(chan error, 1)
	m.wg.Add(1)
	go m.run(first)

	select {
	case err := <-first:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers handler for topic. If the transport is not currently
// connected the subscription is queued and applied automatically once
// CONNECTED is reached, so no manual re-subscription is ever needed.
func (m *Manager) Subscribe(topic notify.Topic, handler Handler) *Subscription {
	sub := &Subscription{topic: topic, handler: handler, m: m}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		sub.closed = true
		return sub
	}
	m.subs[sub] = struct{}{}
	if m.state == StateConnected && m.conn != nil {
		m.attachLocked(sub, m.conn)
	}
	return sub
}

// Unsubscribe releases sub. Idempotent; safe after disconnect or teardown.
func (m *Manager) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.Unsubscribe()
}

// Close releases the connection and every subscription. Safe to call at any
// time, including before a connection ever succeeded, and more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateClosed)
	conn := m.conn
	m.conn = nil
	subs := make([]*Subscription, 0, len(m.subs))
	for sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subs = make(map[*Subscription]struct{})
	m.mu.Unlock()

	m.runCancel()
	for _, sub := range subs {
		sub.stopPump()
		sub.markClosed()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.onState != nil {
		go m.onState(s)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.setStateLocked(s)
	m.mu.Unlock()
}

func (m *Manager) run(first chan<- error) {
	defer m.wg.Done()
	reported := false
	report := func(err error) {
		if !reported {
			reported = true
			first <- err
		}
	}

	for {
		if m.State() == StateClosed {
			return
		}
		conn, err := m.transport.Connect(m.runCtx)
		if err != nil {
			if m.runCtx.Err() != nil {
				report(ErrClosed)
				return
			}
			m.lg.Error("transport_connect_failed", err, map[string]any{"retry_in": m.delay.String()})
			report(err)
			m.setState(StateReconnecting)
			select {
			case <-m.runCtx.Done():
				return
			case <-time.After(m.delay):
			}
			continue
		}

		m.mu.Lock()
		if m.state == StateClosed {
			m.mu.Unlock()
			_ = conn.Close()
			return
		}
		m.conn = conn
		m.setStateLocked(StateConnected)
		for sub := range m.subs {
			m.attachLocked(sub, conn)
		}
		m.mu.Unlock()
		report(nil)
		m.lg.Info("transport_connected", map[string]any{"subscriptions": m.subscriptionCount()})

		select {
		case err := <-conn.Closed():
			m.lg.Error("transport_connection_lost", err, map[string]any{"retry_in": m.delay.String()})
			m.detachAll()
			m.mu.Lock()
			m.conn = nil
			closed := m.state == StateClosed
			if !closed {
				m.setStateLocked(StateReconnecting)
			}
			m.mu.Unlock()
			_ = conn.Close()
			if closed {
				return
			}
			select {
			case <-m.runCtx.Done():
				return
			case <-time.After(m.delay):
			}
		case <-m.runCtx.Done():
			m.detachAll()
			_ = conn.Close()
			return
		}
	}
}

func (m *Manager) subscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// attachLocked starts one pump goroutine reading topic deliveries for sub on
// conn. One pump per subscription keeps handler invocation in delivery order.
func (m *Manager) attachLocked(sub *Subscription, conn Conn) {
	pumpCtx, cancel := context.WithCancel(m.runCtx)
	ch, err := conn.Subscribe(pumpCtx, sub.topic)
	if err != nil {
		cancel()
		m.lg.Error("topic_subscribe_failed", err, map[string]any{"topic": string(sub.topic)})
		return
	}
	sub.setPump(cancel)
	go m.pump(pumpCtx, sub, ch)
}

func (m *Manager) detachAll() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()
	for _, sub := range subs {
		sub.stopPump()
	}
}

func (m *Manager) pump(ctx context.Context, sub *Subscription, ch <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			m.dispatch(sub, raw)
		}
	}
}

// dispatch decodes, classifies and hands one payload to the handler. Malformed
// payloads and unknown kinds are logged and dropped; the subscription stays
// alive regardless.
func (m *Manager) dispatch(sub *Subscription, raw []byte) {
	env, err := notify.Decode(raw)
	if err != nil {
		m.lg.Error("envelope_decode_failed", err, map[string]any{"topic": string(sub.topic)})
		return
	}
	ev := notify.Classify(env)
	if u, ok := ev.(notify.UnknownEvent); ok {
		if u.Violation {
			m.lg.Warn("envelope_protocol_violation", notify.ErrProtocolViolation, map[string]any{"topic": string(sub.topic)})
		} else {
			m.lg.Debug("envelope_unknown_kind", map[string]any{"topic": string(sub.topic)})
		}
		return
	}
	sub.handler(ev, env)
}

// Subscription binds one observer handler to one topic. Owned by the manager
// that created it.
type Subscription struct {
	topic   notify.Topic
	handler Handler
	m       *Manager

	mu         sync.Mutex
	cancelPump context.CancelFunc
	closed     bool
}

func (s *Subscription) Topic() notify.Topic { return s.topic }

// Unsubscribe detaches the subscription. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancelPump
	s.cancelPump = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.m.mu.Lock()
	delete(s.m.subs, s)
	s.m.mu.Unlock()
}

func (s *Subscription) setPump(cancel context.CancelFunc) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return
	}
	if s.cancelPump != nil {
		s.cancelPump()
	}
	s.cancelPump = cancel
	s.mu.Unlock()
}

func (s *Subscription) stopPump() {
	s.mu.Lock()
	cancel := s.cancelPump
	s.cancelPump = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Subscription) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
