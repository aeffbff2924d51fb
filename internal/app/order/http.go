package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"restaurant-sync/internal/common/config"
	"restaurant-sync/internal/common/db"
	"restaurant-sync/internal/common/httpx"
	"restaurant-sync/internal/common/logger"
	"restaurant-sync/internal/common/mq"
	"restaurant-sync/internal/domain"
	"restaurant-sync/internal/notify"
	"restaurant-sync/internal/repository"
)

// Run starts the order-service: the authoritative HTTP API backed by
// Postgres, publishing change envelopes to the topic exchange.
func Run(ctx context.Context, cfg config.App, port int) error {
	lg := logger.New("order-service")

	conn, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		lg.Error("db_connect_failed", err, nil)
		return err
	}
	defer conn.Close()

	repo := repository.NewStore(conn.Pool)
	if err := repo.InitSchema(ctx); err != nil {
		lg.Error("schema_init_failed", err, nil)
		return err
	}

	broker, err := mq.Dial(cfg.Rabbit)
	if err != nil {
		lg.Error("rabbitmq_connect_failed", err, nil)
		return err
	}
	defer broker.Close()
	if err := broker.DeclareTopology(notify.Exchange); err != nil {
		lg.Error("topology_declare_failed", err, nil)
		return err
	}

	svc := NewService(repo, notify.NewAMQPRouter(broker, lg), lg)

	srv := httpx.New(":"+strconv.Itoa(port), Routes(svc))
	lg.Info("order_service_started", map[string]any{"port": port})
	return srv.Run(ctx)
}

// Routes builds the order-service mux.
func Routes(svc *Service) *http.ServeMux {
	h := &handlers{svc: svc}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/orders", h.createOrder)
	mux.HandleFunc("GET /api/orders", h.listOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.getOrder)
	mux.HandleFunc("PUT /api/orders/{id}/status", h.updateOrderStatus)
	mux.HandleFunc("POST /api/requests", h.createRequest)
	mux.HandleFunc("GET /api/requests", h.listRequests)
	mux.HandleFunc("GET /api/requests/pending", h.listPendingRequests)
	mux.HandleFunc("GET /api/requests/{id}", h.getRequest)
	mux.HandleFunc("PUT /api/requests/{id}/status", h.updateRequestStatus)
	return mux
}

type handlers struct {
	svc *Service
}

type statusUpdate struct {
	Status string `json:"status"`
}

func (h *handlers) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	order, err := h.svc.CreateOrder(r.Context(), req)
	if err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "invalid_order", err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, order)
}

func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	var orders []domain.Order
	var err error
	if raw := r.URL.Query().Get("table_id"); raw != "" {
		tableID, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || tableID <= 0 {
			httpx.WriteProblem(w, http.StatusBadRequest, "invalid_table_id", "table_id must be a positive integer")
			return
		}
		orders, err = h.svc.ListOrdersByTable(r.Context(), tableID)
	} else {
		orders, err = h.svc.ListOrders(r.Context())
	}
	if err != nil {
		httpx.WriteProblem(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orders)
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		httpx.WriteProblem(w, http.StatusBadRequest, "invalid_id", "order id must be a positive integer")
		return
	}
	order, err := h.svc.GetOrder(r.Context(), id)
	if errors.Is(err, repository.ErrOrderNotFound) {
		httpx.WriteProblem(w, http.StatusNotFound, "order_not_found", "no such order")
		return
	}
	if err != nil {
		httpx.WriteProblem(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, order)
}

func (h *handlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		httpx.WriteProblem(w, http.StatusBadRequest, "invalid_id", "order id must be a positive integer")
		return
	}
	var upd statusUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	order, err := h.svc.UpdateOrderStatus(r.Context(), id, upd.Status)
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		httpx.WriteProblem(w, http.StatusNotFound, "order_not_found", "no such order")
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidTransition):
		httpx.WriteProblem(w, http.StatusUnprocessableEntity, "invalid_transition", err.Error())
	case err != nil:
		httpx.WriteProblem(w, http.StatusInternalServerError, "storage_error", err.Error())
	default:
		httpx.WriteJSON(w, http.StatusOK, order)
	}
}

func (h *handlers) createRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	request, err := h.svc.CreateRequest(r.Context(), req)
	if err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, request)
}

func (h *handlers) listRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.svc.ListRequests(r.Context())
	if err != nil {
		httpx.WriteProblem(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, requests)
}

func (h *handlers) listPendingRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.svc.ListPendingRequests(r.Context())
	if err != nil {
		httpx.WriteProblem(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, requests)
}

func (h *handlers) getRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		httpx.WriteProblem(w, http.StatusBadRequest, "invalid_id", "request id must be a positive integer")
		return
	}
	request, err := h.svc.GetRequest(r.Context(), id)
	if errors.Is(err, repository.ErrRequestNotFound) {
		httpx.WriteProblem(w, http.StatusNotFound, "request_not_found", "no such request")
		return
	}
	if err != nil {
		httpx.WriteProblem(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, request)
}

func (h *handlers) updateRequestStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		httpx.WriteProblem(w, http.StatusBadRequest, "invalid_id", "request id must be a positive integer")
		return
	}
	var upd statusUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	request, err := h.svc.UpdateRequestStatus(r.Context(), id, upd.Status)
	switch {
	case errors.Is(err, repository.ErrRequestNotFound):
		httpx.WriteProblem(w, http.StatusNotFound, "request_not_found", "no such request")
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidTransition):
		httpx.WriteProblem(w, http.StatusUnprocessableEntity, "invalid_transition", err.Error())
	case err != nil:
		httpx.WriteProblem(w, http.StatusInternalServerError, "storage_error", err.Error())
	default:
		httpx.WriteJSON(w, http.StatusOK, request)
	}
}
