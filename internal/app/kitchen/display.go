package kitchen

import (
	"context"
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

// Run starts the kitchen-display observer. It mirrors the order store into a
// local cache: push notifications give immediate feedback, a periodic refresh
// plus per-event re-fetches keep the cache authoritative.
func Run(ctx context.Context, cfg config.App, port int) error {
	lg := logger.New("kitchen-display")

	client, err := orderstore.NewClient(cfg.OrderStore.BaseURL, lg)
	if err != nil {
		lg.Error("order_store_client_failed", err, nil)
		return err
	}
	store := syncstore.New(client, client, syncstore.Config{
		InboxCap:     cfg.Sync.InboxCap,
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

	manager.Subscribe(notify.TopicKitchen, func(ev notify.Event, _ notify.Envelope) {
		store.ApplyEvent(ev)
	})
	if err := manager.Connect(ctx); err != nil {
		// The manager keeps retrying; the display starts on cached fetches.
		lg.Error("subscription_connect_failed", err, nil)
	}

	if err := store.Refresh(ctx); err != nil {
		lg.Error("initial_refresh_failed", err, nil)
	}
	if err := store.RefreshRequests(ctx); err != nil {
		lg.Error("initial_request_refresh_failed", err, nil)
	}

	interval := time.Duration(cfg.Sync.RefreshIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go refreshLoop(ctx, store, interval, lg)

	srv := httpx.New(":"+strconv.Itoa(port), Routes(store))
	lg.Info("kitchen_display_started", map[string]any{"port": port})
	return srv.Run(ctx)
}

// refreshLoop polls the order store so the display converges even when the
// broker is down and push notifications are lost.
func refreshLoop(ctx context.Context, store *syncstore.Store, interval time.Duration, lg *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Refresh(ctx); err != nil {
				lg.Error("periodic_refresh_failed", err, nil)
			}
			if err := store.RefreshRequests(ctx); err != nil {
				lg.Error("periodic_request_refresh_failed", err, nil)
			}
		}
	}
}
