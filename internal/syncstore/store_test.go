package syncstore

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"restaurant-sync/internal/common/logger"
	"restaurant-sync/internal/domain"
	"restaurant-sync/internal/notify"
)

type fakeBackend struct {
	mu            sync.Mutex
	orders        map[int64]domain.Order
	requests      map[int64]domain.TableRequest
	getOrderCalls int
	err           error
	gate          chan struct{} // when set, GetOrder blocks until closed
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		orders:   make(map[int64]domain.Order),
		requests: make(map[int64]domain.TableRequest),
	}
}

func (f *fakeBackend) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	f.mu.Lock()
	f.getOrderCalls++
	gate := f.gate
	err := f.err
	order, ok := f.orders[id]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return domain.Order{}, err
	}
	if !ok {
		return domain.Order{}, errors.New("order not found")
	}
	return order, nil
}

func (f *fakeBackend) ListOrders(ctx context.Context) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Order, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeBackend) GetRequest(ctx context.Context, id int64) (domain.TableRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return domain.TableRequest{}, errors.New("request not found")
	}
	return req, nil
}

func (f *fakeBackend) ListRequests(ctx context.Context) ([]domain.TableRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.TableRequest, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeBackend) SetOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return errors.New("order not found")
	}
	order.Status = status
	f.orders[id] = order
	return nil
}

func (f *fakeBackend) SetRequestStatus(ctx context.Context, id int64, status domain.RequestStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return errors.New("request not found")
	}
	req.Status = status
	f.requests[id] = req
	return nil
}

func (f *fakeBackend) setOrder(order domain.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.ID] = order
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getOrderCalls
}

func newTestStore(backend *fakeBackend, cfg Config) *Store {
	return New(backend, backend, cfg, logger.NewWithWriter("test", io.Discard))
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

func TestOrderEventOverlaysThenFetchWins(t *testing.T) {
	backend := newFakeBackend()
	backend.setOrder(domain.Order{ID: 1, Status: domain.StatusDelivered, TotalAmount: 50})
	store := newTestStore(backend, Config{})
	defer store.Close()

	store.ApplyEvent(notify.OrderEvent{OrderID: 1, Status: domain.StatusReady, StatusKnown: true})

	// Optimistic overlay is visible immediately.
	order, ok := store.Order(1)
	if !ok {
		t.Fatal("order not cached after event")
	}
	if order.Status != domain.StatusReady && order.Status != domain.StatusDelivered {
		t.Fatalf("unexpected interim status %q", order.Status)
	}

	// The authoritative fetch always wins over the pushed status.
	waitFor(t, "reconcile", func() bool {
		o, _ := store.Order(1)
		return o.Status == domain.StatusDelivered && o.TotalAmount == 50
	})
}

func TestDuplicateOrderEventSkipsRefetchButLogs(t *testing.T) {
	backend := newFakeBackend()
	backend.setOrder(domain.Order{ID: 1, Status: domain.StatusReady})
	store := newTestStore(backend, Config{})
	defer store.Close()

	store.ApplyEvent(notify.OrderEvent{OrderID: 1, Status: domain.StatusReady, StatusKnown: true})
	waitFor(t, "first reconcile", func() bool { return backend.calls() == 1 })

	// Same status as cached: idempotent, no second fetch.
	store.ApplyEvent(notify.OrderEvent{OrderID: 1, Status: domain.StatusReady, StatusKnown: true})
	time.Sleep(50 * time.Millisecond)
	if n := backend.calls(); n != 1 {
		t.Errorf("GetOrder called %d times, want exactly 1", n)
	}
	if entries := store.Log(); len(entries) != 2 {
		t.Errorf("log has %d entries, want 2 (duplicates are still logged)", len(entries))
	}
}

func TestStaleFetchResultDiscarded(t *testing.T) {
	backend := newFakeBackend()
	backend.setOrder(domain.Order{ID: 1, Status: domain.StatusDelivered})
	store := newTestStore(backend, Config{})
	defer store.Close()

	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	fresh, _ := store.Order(1)
	if fresh.Status != domain.StatusDelivered {
		t.Fatalf("refreshed status = %q", fresh.Status)
	}

	// A fetch that started before the refresh completes late; its ticket is
	// older, so its result must not clobber the newer one.
	store.applyFetchedOrder(1, 0, domain.Order{ID: 1, Status: domain.StatusPreparing}, nil)
	order, _ := store.Order(1)
	if order.Status != domain.StatusDelivered {
		t.Errorf("stale fetch overwrote newer state: %q", order.Status)
	}
}

func TestFetchErrorKeepsCachedValue(t *testing.T) {
	backend := newFakeBackend()
	backend.setOrder(domain.Order{ID: 1, Status: domain.StatusPreparing})
	store := newTestStore(backend, Config{})
	defer store.Close()

	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	backend.mu.Lock()
	backend.err = errors.New("order store down")
	backend.mu.Unlock()

	store.ApplyEvent(notify.OrderEvent{OrderID: 1, Status: domain.StatusReady, StatusKnown: true})
	waitFor(t, "sync error recorded", func() bool { return store.LastSyncError() != nil })

	// The optimistic overlay stays displayed despite the failed reconcile.
	order, _ := store.Order(1)
	if order.Status != domain.StatusReady {
		t.Errorf("status = %q, want optimistic READY retained", order.Status)
	}

	backend.mu.Lock()
	backend.err = nil
	backend.mu.Unlock()
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh after recovery: %v", err)
	}
	if store.LastSyncError() != nil {
		t.Error("sync error not cleared by successful fetch")
	}
}

func TestRequestInboxDedupAndCap(t *testing.T) {
	backend := newFakeBackend()
	store := newTestStore(backend, Config{InboxCap: 2})
	defer store.Close()

	ev := notify.RequestEvent{RequestID: 9, TableID: 3, RequestType: domain.RequestTypeComplaint, Message: "soup is cold"}
	store.ApplyEvent(ev)
	store.ApplyEvent(ev) // duplicate delivery
	if n := len(store.Inbox()); n != 1 {
		t.Fatalf("inbox has %d entries after duplicate, want 1", n)
	}
	if n := len(store.Log()); n != 2 {
		t.Errorf("log has %d entries, want 2", n)
	}

	// Same request id, different message: a distinct notification.
	store.ApplyEvent(notify.RequestEvent{RequestID: 9, TableID: 3, RequestType: domain.RequestTypeComplaint, Message: "still cold"})
	if n := len(store.Inbox()); n != 2 {
		t.Fatalf("inbox has %d entries, want 2", n)
	}

	// Cap evicts the oldest.
	store.ApplyEvent(notify.RequestEvent{RequestID: 10, TableID: 4, RequestType: domain.RequestTypeHelp})
	inbox := store.Inbox()
	if len(inbox) != 2 {
		t.Fatalf("inbox has %d entries, want capped 2", len(inbox))
	}
	if inbox[0].Message != "still cold" || inbox[1].RequestID != 10 {
		t.Errorf("unexpected inbox order: %#v", inbox)
	}
}

func TestCloseDiscardsInflightFetch(t *testing.T) {
	backend := newFakeBackend()
	backend.setOrder(domain.Order{ID: 1, Status: domain.StatusReady})
	gate := make(chan struct{})
	backend.mu.Lock()
	backend.gate = gate
	backend.mu.Unlock()

	store := newTestStore(backend, Config{})
	store.ApplyEvent(notify.OrderEvent{OrderID: 1, Status: domain.StatusPreparing, StatusKnown: true})
	waitFor(t, "fetch started", func() bool { return backend.calls() == 1 })

	store.Close()
	close(gate)
	time.Sleep(50 * time.Millisecond)

	// The late result lands after Close and must be discarded.
	order, ok := store.Order(1)
	if ok && order.Status == domain.StatusReady {
		t.Error("in-flight fetch result applied after Close")
	}
	if err := store.Refresh(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Refresh after Close = %v, want ErrClosed", err)
	}
}

func TestUpdateOrderStatusFireAndVerify(t *testing.T) {
	backend := newFakeBackend()
	backend.setOrder(domain.Order{ID: 1, Status: domain.StatusReady})
	store := newTestStore(backend, Config{})
	defer store.Close()

	if err := store.UpdateOrderStatus(context.Background(), 1, domain.StatusDelivered); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	order, ok := store.Order(1)
	if !ok || order.Status != domain.StatusDelivered {
		t.Errorf("cached status = %q, want re-fetched DELIVERED", order.Status)
	}
}

func TestAdvanceOrderUsesForwardChain(t *testing.T) {
	backend := newFakeBackend()
	backend.setOrder(domain.Order{ID: 1, Status: domain.StatusPreparing})
	store := newTestStore(backend, Config{})
	defer store.Close()

	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	next, err := store.AdvanceOrder(context.Background(), 1)
	if err != nil {
		t.Fatalf("AdvanceOrder: %v", err)
	}
	if next != domain.StatusReady {
		t.Errorf("advanced to %q, want READY", next)
	}
	order, _ := store.Order(1)
	if order.Status != domain.StatusReady {
		t.Errorf("cached status = %q", order.Status)
	}

	// Terminal statuses have no forward action.
	backend.setOrder(domain.Order{ID: 2, Status: domain.StatusCompleted})
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := store.AdvanceOrder(context.Background(), 2); err == nil {
		t.Error("expected error advancing a COMPLETED order")
	}
}

func TestReadOnlyStoreRejectsMutations(t *testing.T) {
	backend := newFakeBackend()
	store := New(backend, nil, Config{}, logger.NewWithWriter("test", io.Discard))
	defer store.Close()

	if err := store.UpdateOrderStatus(context.Background(), 1, domain.StatusReady); err == nil {
		t.Error("expected read-only error")
	}
	if err := store.UpdateRequestStatus(context.Background(), 1, domain.RequestResolved); err == nil {
		t.Error("expected read-only error")
	}
}

func TestUpdateRequestStatusVerifies(t *testing.T) {
	backend := newFakeBackend()
	backend.mu.Lock()
	backend.requests[5] = domain.TableRequest{ID: 5, TableID: 2, RequestType: domain.RequestTypeHelp, Status: domain.RequestPending}
	backend.mu.Unlock()
	store := newTestStore(backend, Config{})
	defer store.Close()

	if err := store.UpdateRequestStatus(context.Background(), 5, domain.RequestResolved); err != nil {
		t.Fatalf("UpdateRequestStatus: %v", err)
	}
	requests := store.Requests()
	if len(requests) != 1 || requests[0].Status != domain.RequestResolved {
		t.Errorf("requests = %#v", requests)
	}
}
