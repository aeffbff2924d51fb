package kitchen

import (
	"encoding/json"
	"net/http"

	"restaurant-sync/internal/common/httpx"
	"restaurant-sync/internal/domain"
	"restaurant-sync/internal/syncstore"
)

// Routes exposes the display's cached view plus its two actions: advancing an
// order one step and resolving a table request.
func Routes(store *syncstore.Store) *http.ServeMux {
	h := &handlers{store: store}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /kitchen/orders", h.orders)
	mux.HandleFunc("GET /kitchen/orders/{id}", h.order)
	mux.HandleFunc("POST /kitchen/orders/{id}/advance", h.advance)
	mux.HandleFunc("GET /kitchen/requests", h.requests)
	mux.HandleFunc("GET /kitchen/inbox", h.inbox)
	mux.HandleFunc("GET /kitchen/notifications", h.notifications)
	mux.HandleFunc("PUT /kitchen/requests/{id}/status", h.updateRequest)
	return mux
}

type handlers struct {
	store *syncstore.Store
}

func (h *handlers) orders(w http.ResponseWriter, r *http.Request) {
	var syncError string
	if err := h.store.LastSyncError(); err != nil {
		syncError = err.Error()
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"orders":     h.store.Orders(),
		"connected":  h.store.Connected(),
		"sync_error": syncError,
	})
}

func (h *handlers) order(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		httpx.WriteProblem(w, http.StatusBadRequest, "invalid_id", "order id must be a positive integer")
		return
	}
	// Detail view is always an authoritative fetch, not a cache read.
	order, err := h.store.Lookup(r.Context(), id)
	if err != nil {
		httpx.WriteProblem(w, http.StatusBadGateway, "order_store_unreachable", err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, order)
}

func (h *handlers) advance(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		httpx.WriteProblem(w, http.StatusBadRequest, "invalid_id", "order id must be a positive integer")
		return
	}
	next, err := h.store.AdvanceOrder(r.Context(), id)
	if err != nil {
		httpx.WriteProblem(w, http.StatusConflict, "advance_failed", err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order_id": id, "status": string(next)})
}

func (h *handlers) requests(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.store.Requests())
}

func (h *handlers) inbox(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.store.Inbox())
}

func (h *handlers) notifications(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.store.Log())
}

func (h *handlers) updateRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		httpx.WriteProblem(w, http.StatusBadRequest, "invalid_id", "request id must be a positive integer")
		return
	}
	var upd struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	status, okStatus := domain.CanonicalRequestStatus(upd.Status)
	if !okStatus {
		httpx.WriteProblem(w, http.StatusUnprocessableEntity, "invalid_status", "unknown request status")
		return
	}
	if err := h.store.UpdateRequestStatus(r.Context(), id, status); err != nil {
		httpx.WriteProblem(w, http.StatusBadGateway, "order_store_unreachable", err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": id, "status": string(status)})
}
