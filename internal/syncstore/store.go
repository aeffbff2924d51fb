package syncstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"restaurant-sync/internal/common/logger"
	"restaurant-sync/internal/domain"
	"restaurant-sync/internal/notify"
)

// ErrClosed is returned once the owning observer tore the store down.
var ErrClosed = errors.New("sync store closed")

// Fetcher is the authoritative read contract against the external order
// store. Fetched values always win over pushed/optimistic data.
type Fetcher interface {
	GetOrder(ctx context.Context, id int64) (domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	GetRequest(ctx context.Context, id int64) (domain.TableRequest, error)
	ListRequests(ctx context.Context) ([]domain.TableRequest, error)
}

// Mutator is the fire-and-verify mutation contract: after a successful
// mutation the caller re-fetches rather than trusting the response.
type Mutator interface {
	SetOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) error
	SetRequestStatus(ctx context.Context, id int64, status domain.RequestStatus) error
}

// InboxEntry is one advisory request notification. The inbox lives only as
// long as the observer; it never feeds back into order state.
type InboxEntry struct {
	ID          string    `json:"id"`
	RequestID   int64     `json:"request_id"`
	TableID     int64     `json:"table_id"`
	TableNumber string    `json:"table_number,omitempty"`
	RequestType string    `json:"request_type"`
	Message     string    `json:"message,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// LogEntry records every received envelope, keyed by a locally generated
// sequence id. Duplicates land here even when their apply is a no-op.
type LogEntry struct {
	Seq        uint64    `json:"seq"`
	Kind       string    `json:"kind"`
	OrderID    int64     `json:"order_id,omitempty"`
	RequestID  int64     `json:"request_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Message    string    `json:"message,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

type Config struct {
	// InboxCap bounds the advisory inbox; oldest entries drop first.
	InboxCap int
	// FetchTimeout bounds each reconciling fetch triggered by an envelope.
	FetchTimeout time.Duration
}

type orderEntry struct {
	order domain.Order
	// known is false while the entry exists only as an optimistic overlay
	// from an envelope, before any authoritative fetch landed.
	known         bool
	appliedTicket uint64
}

type requestEntry struct {
	request       domain.TableRequest
	appliedTicket uint64
}

// Store is the client-side authoritative cache of one observer. Envelopes
// apply an optimistic status overlay for immediate feedback; every distinct
// order event also triggers a reconciling fetch, and the fetched value wins.
// Fetches carry monotonic tickets so a slow fetch for an older event can
// never clobber a newer result. Not shared across observers.
type Store struct {
	fetcher Fetcher
	mutator Mutator
	lg      *logger.Logger
	cfg     Config

	mu          sync.Mutex
	closed      bool
	connected   bool
	lastSyncErr error
	tickets     uint64
	logSeq      uint64

	orders   map[int64]*orderEntry
	requests map[int64]*requestEntry
	inbox    []InboxEntry
	seen     map[string]struct{}
	logbook  []LogEntry
}

func New(fetcher Fetcher, mutator Mutator, cfg Config, lg *logger.Logger) *Store {
	if cfg.InboxCap <= 0 {
		cfg.InboxCap = 100
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	return &Store{
		fetcher:  fetcher,
		mutator:  mutator,
		lg:       lg,
		cfg:      cfg,
		orders:   make(map[int64]*orderEntry),
		requests: make(map[int64]*requestEntry),
		seen:     make(map[string]struct{}),
	}
}

// ApplyEvent applies one classified envelope. Idempotent: re-delivery of an
// envelope matching the cached state is a no-op beyond the notification log.
// Unknown events mutate nothing.
func (s *Store) ApplyEvent(ev notify.Event) {
	switch e := ev.(type) {
	case notify.OrderEvent:
		s.applyOrderEvent(e)
	case notify.RequestEvent:
		s.applyRequestEvent(e)
	}
}

func (s *Store) applyOrderEvent(e notify.OrderEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.appendLogLocked(LogEntry{Kind: "order", OrderID: e.OrderID, Status: string(e.Status), Message: e.Message})

	entry, ok := s.orders[e.OrderID]
	if ok && entry.order.Status == e.Status {
		// Re-delivered message; nothing changed, no re-fetch.
		s.mu.Unlock()
		return
	}
	if !ok {
		entry = &orderEntry{order: domain.Order{ID: e.OrderID}}
		s.orders[e.OrderID] = entry
	}
	// Weak tier: overlay the pushed status for immediate display.
	entry.order.Status = e.Status
	s.tickets++
	ticket := s.tickets
	s.mu.Unlock()

	s.lg.Debug("order_event_applied", map[string]any{"order_id": e.OrderID, "status": string(e.Status)})

	// Strong tier: the envelope is a hint to re-fetch; exactly one fetch per
	// distinct received status change.
	go s.reconcileOrder(e.OrderID, ticket)
}

func (s *Store) applyRequestEvent(e notify.RequestEvent) {
	key := fmt.Sprintf("req|%d|%s|%s", e.RequestID, e.RequestType, e.Message)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.appendLogLocked(LogEntry{Kind: "request", RequestID: e.RequestID, Message: e.Message})

	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}
	s.inbox = append(s.inbox, InboxEntry{
		ID:          uuid.NewString(),
		RequestID:   e.RequestID,
		TableID:     e.TableID,
		TableNumber: e.TableNumber,
		RequestType: e.RequestType,
		Message:     e.Message,
		ReceivedAt:  time.Now().UTC(),
	})
	if len(s.inbox) > s.cfg.InboxCap {
		s.inbox = s.inbox[len(s.inbox)-s.cfg.InboxCap:]
	}
}

func (s *Store) appendLogLocked(entry LogEntry) {
	s.logSeq++
	entry.Seq = s.logSeq
	entry.ReceivedAt = time.Now().UTC()
	s.logbook = append(s.logbook, entry)
	if len(s.logbook) > s.cfg.InboxCap*10 {
		s.logbook = s.logbook[len(s.logbook)-s.cfg.InboxCap*10:]
	}
}

func (s *Store) nextTicket() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets++
	return s.tickets
}

func (s *Store) reconcileOrder(id int64, ticket uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FetchTimeout)
	defer cancel()

	order, err := s.fetcher.GetOrder(ctx, id)
	s.applyFetchedOrder(id, ticket, order, err)
}

func (s *Store) applyFetchedOrder(id int64, ticket uint64, order domain.Order, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// Observer torn down mid-flight: discard, no dangling writes.
		return
	}
	if err != nil {
		// Cached/optimistic value stays displayed; retried on next trigger.
		s.lastSyncErr = err
		s.lg.Error("order_reconcile_failed", err, map[string]any{"order_id": id})
		return
	}
	entry, ok := s.orders[id]
	if !ok {
		entry = &orderEntry{}
		s.orders[id] = entry
	}
	if ticket < entry.appliedTicket {
		// A later fetch already applied; this result is stale.
		return
	}
	canonical, _ := domain.CanonicalStatus(string(order.Status))
	order.Status = canonical
	entry.order = order
	entry.known = true
	entry.appliedTicket = ticket
	s.lastSyncErr = nil
}

// Refresh replaces cached order state with the authoritative list.
func (s *Store) Refresh(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	ticket := s.nextTicket()
	orders, err := s.fetcher.ListOrders(ctx)
	if err != nil {
		s.mu.Lock()
		if !s.closed {
			s.lastSyncErr = err
		}
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, order := range orders {
		entry, ok := s.orders[order.ID]
		if !ok {
			entry = &orderEntry{}
			s.orders[order.ID] = entry
		}
		if ticket < entry.appliedTicket {
			continue
		}
		canonical, _ := domain.CanonicalStatus(string(order.Status))
		order.Status = canonical
		entry.order = order
		entry.known = true
		entry.appliedTicket = ticket
	}
	s.lastSyncErr = nil
	return nil
}

// RefreshRequests replaces cached table requests with the authoritative list.
func (s *Store) RefreshRequests(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	ticket := s.nextTicket()
	requests, err := s.fetcher.ListRequests(ctx)
	if err != nil {
		s.mu.Lock()
		if !s.closed {
			s.lastSyncErr = err
		}
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, req := range requests {
		entry, ok := s.requests[req.ID]
		if !ok {
			entry = &requestEntry{}
			s.requests[req.ID] = entry
		}
		if ticket < entry.appliedTicket {
			continue
		}
		entry.request = req
		entry.appliedTicket = ticket
	}
	s.lastSyncErr = nil
	return nil
}

// Lookup fetches one order authoritatively (the "open order detail" path),
// updates the cache and returns the fetched value.
func (s *Store) Lookup(ctx context.Context, id int64) (domain.Order, error) {
	if s.isClosed() {
		return domain.Order{}, ErrClosed
	}
	ticket := s.nextTicket()
	order, err := s.fetcher.GetOrder(ctx, id)
	s.applyFetchedOrder(id, ticket, order, err)
	if err != nil {
		return domain.Order{}, err
	}
	canonical, _ := domain.CanonicalStatus(string(order.Status))
	order.Status = canonical
	return order, nil
}

// UpdateOrderStatus mutates an order's status fire-and-verify style: the
// mutation response is never trusted, the order is re-fetched instead.
func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	if s.mutator == nil {
		return errors.New("store is read-only")
	}
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.mutator.SetOrderStatus(ctx, id, status); err != nil {
		return err
	}
	ticket := s.nextTicket()
	order, err := s.fetcher.GetOrder(ctx, id)
	s.applyFetchedOrder(id, ticket, order, err)
	return err
}

// AdvanceOrder moves an order to the single forward successor of its cached
// status. This is the only transition the display offers.
func (s *Store) AdvanceOrder(ctx context.Context, id int64) (domain.OrderStatus, error) {
	s.mu.Lock()
	entry, ok := s.orders[id]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("order %d not cached", id)
	}
	current := entry.order.Status
	s.mu.Unlock()

	next, ok := domain.NextStatus(current)
	if !ok {
		return "", fmt.Errorf("order %d has no next status from %q", id, current)
	}
	if err := s.UpdateOrderStatus(ctx, id, next); err != nil {
		return "", err
	}
	return next, nil
}

// UpdateRequestStatus mutates a table request fire-and-verify style.
func (s *Store) UpdateRequestStatus(ctx context.Context, id int64, status domain.RequestStatus) error {
	if s.mutator == nil {
		return errors.New("store is read-only")
	}
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.mutator.SetRequestStatus(ctx, id, status); err != nil {
		return err
	}
	ticket := s.nextTicket()
	req, err := s.fetcher.GetRequest(ctx, id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err != nil {
		s.lastSyncErr = err
		return err
	}
	entry, ok := s.requests[id]
	if !ok {
		entry = &requestEntry{}
		s.requests[id] = entry
	}
	if ticket >= entry.appliedTicket {
		entry.request = req
		entry.appliedTicket = ticket
	}
	return nil
}

// Order returns the cached view of one order.
func (s *Store) Order(id int64) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return entry.order, true
}

// Orders returns the consistent read view, ordered by id.
func (s *Store) Orders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0, len(s.orders))
	for _, entry := range s.orders {
		out = append(out, entry.order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Requests returns cached table requests, ordered by id.
func (s *Store) Requests() []domain.TableRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TableRequest, 0, len(s.requests))
	for _, entry := range s.requests {
		out = append(out, entry.request)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Inbox returns the advisory request inbox, newest last.
func (s *Store) Inbox() []InboxEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]InboxEntry, len(s.inbox))
	copy(out, s.inbox)
	return out
}

// Log returns the notification log, oldest first.
func (s *Store) Log() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.logbook))
	copy(out, s.logbook)
	return out
}

// SetConnected records transport liveness for the presentation layer.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
}

func (s *Store) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// LastSyncError reports the most recent reconciliation failure, cleared by
// the next successful fetch. Internal staleness marker, never a hard failure.
func (s *Store) LastSyncError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSyncErr
}

// Close tears the store down. In-flight fetches complete but their results
// are discarded.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
