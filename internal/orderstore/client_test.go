package orderstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"restaurant-sync/internal/common/logger"
	"restaurant-sync/internal/domain"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, logger.NewWithWriter("test", io.Discard))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("localhost:3000", logger.NewWithWriter("test", io.Discard)); err == nil {
		t.Fatal("expected error for non-absolute url")
	}
}

func TestGetOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orders/7", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("missing Accept header")
		}
		json.NewEncoder(w).Encode(domain.Order{ID: 7, OrderNumber: "ORD_20260831_007", Status: domain.StatusReady})
	})
	client := testClient(t, mux)

	order, err := client.GetOrder(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.ID != 7 || order.Status != domain.StatusReady {
		t.Errorf("order = %#v", order)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	client := testClient(t, http.NotFoundHandler())
	if _, err := client.GetOrder(context.Background(), 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListOrders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orders", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]domain.Order{{ID: 1}, {ID: 2}})
	})
	client := testClient(t, mux)

	orders, err := client.ListOrders(context.Background())
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Errorf("got %d orders", len(orders))
	}
}

func TestSetOrderStatus(t *testing.T) {
	var got map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/orders/3/status", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})
	client := testClient(t, mux)

	if err := client.SetOrderStatus(context.Background(), 3, domain.StatusDelivered); err != nil {
		t.Fatalf("SetOrderStatus: %v", err)
	}
	if got["status"] != "DELIVERED" {
		t.Errorf("body = %#v", got)
	}
}

func TestUnexpectedStatusSurfacesProblem(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{"type": "invalid_transition", "detail": "READY -> PENDING"})
	}))
	err := client.SetOrderStatus(context.Background(), 1, domain.StatusPending)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "invalid_transition") {
		t.Errorf("error %q does not carry the problem type", got)
	}
}
