package tracking

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"restaurant-sync/internal/common/config"
	"restaurant-sync/internal/common/httpx"
	"restaurant-sync/internal/common/logger"
	"restaurant-sync/internal/notify"
	"restaurant-sync/internal/orderstore"
	"restaurant-sync/internal/subscription"
	"restaurant-sync/internal/syncstore"
)

// Run starts the tracking-service: a read-only observer bound to a single
// table. It subscribes to that table's topic only and never mutates orders.
func Run(ctx context.Context, cfg config.App, port int, tableID int64) error {
	if tableID <= 0 {
		return errors.New("tracking-service requires --table")
	}
	lg := logger.New("tracking-service")

	client, err := orderstore.NewClient(cfg.OrderStore.BaseURL, lg)
	if err != nil {
		lg.Error("order_store_client_failed", err, nil)
		return err
	}
	store := syncstore.New(client, nil, syncstore.Config{
		FetchTimeout: time.Duration(cfg.Sync.FetchTimeoutSeconds) * time.Second,
	}, lg)
	defer store.Close()

	manager := subscription.NewManager(
		subscription.NewAMQPTransport(cfg.Rabbit, lg),
		subscription.Config{
			ReconnectDelay: time.Duration(cfg.Sync.ReconnectDelaySeconds) * time.Second,
			OnStateChange: func(s subscription.State) {
				store.SetConnected(s == subscription.StateConnected)
			},
		}, lg)
	defer manager.Close()

	manager.Subscribe(notify.TableTopic(tableID), func(ev notify.Event, _ notify.Envelope) {
		store.ApplyEvent(ev)
	})
	if err := manager.Connect(ctx); err != nil {
		lg.Error("subscription_connect_failed", err, nil)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /table/orders", func(w http.ResponseWriter, r *http.Request) {
		var syncError string
		if err := store.LastSyncError(); err != nil {
			syncError = err.Error()
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"table_id":   tableID,
			"orders":     store.Orders(),
			"connected":  store.Connected(),
			"sync_error": syncError,
		})
	})
	mux.HandleFunc("GET /table/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := httpx.PathID(r, "id")
		if !ok {
			httpx.WriteProblem(w, http.StatusBadRequest, "invalid_id", "order id must be a positive integer")
			return
		}
		order, err := store.Lookup(r.Context(), id)
		if err != nil {
			httpx.WriteProblem(w, http.StatusBadGateway, "order_store_unreachable", err.Error())
			return
		}
		httpx.WriteJSON(w, http.StatusOK, order)
	})
	mux.HandleFunc("GET /table/notifications", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, store.Log())
	})

	srv := httpx.New(":"+strconv.Itoa(port), mux)
	lg.Info("tracking_service_started", map[string]any{"port": port, "table_id": tableID})
	return srv.Run(ctx)
}
