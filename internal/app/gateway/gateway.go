package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"

	"restaurant-sync/internal/common/config"
	"restaurant-sync/internal/common/httpx"
	"restaurant-sync/internal/common/logger"
	"restaurant-sync/internal/notify"
	"restaurant-sync/internal/subscription"
)

// frame is what the gateway pushes to browsers: the topic the envelope was
// delivered on plus the envelope itself, untouched.
type frame struct {
	Topic    string          `json:"topic"`
	Envelope notify.Envelope `json:"envelope"`
	SentAt   time.Time       `json:"sent_at"`
}

// Run starts the gateway: it bridges broker topics to browser sessions over
// SockJS. One broker connection serves every browser; each browser picks its
// topic with a subscribe frame.
func Run(ctx context.Context, cfg config.App, port int) error {
	lg := logger.New("gateway")
	hub := NewHub(lg)

	manager := subscription.NewManager(
		subscription.NewAMQPTransport(cfg.Rabbit, lg),
		subscription.Config{
			ReconnectDelay: time.Duration(cfg.Sync.ReconnectDelaySeconds) * time.Second,
		}, lg)
	defer manager.Close()

	manager.Subscribe(notify.TopicKitchen, func(ev notify.Event, env notify.Envelope) {
		forward(hub, notify.TopicKitchen, env, lg)
	})
	// One wildcard subscription covers every table; the concrete table topic
	// is recovered from the envelope.
	manager.Subscribe(notify.TopicAllTables, func(ev notify.Event, env notify.Envelope) {
		if env.TableID == nil {
			return
		}
		forward(hub, notify.TableTopic(*env.TableID), env, lg)
	})
	if err := manager.Connect(ctx); err != nil {
		lg.Error("subscription_connect_failed", err, nil)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/", sockjs.NewHandler("/ws", sockjs.DefaultOptions, func(session sockjs.Session) {
		serveSession(hub, session, lg)
	}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"state":   manager.State().String(),
			"clients": hub.ClientCount(),
		})
	})

	srv := httpx.New(":"+strconv.Itoa(port), mux)
	lg.Info("gateway_started", map[string]any{"port": port})
	return srv.Run(ctx)
}

func forward(hub *Hub, topic notify.Topic, env notify.Envelope, lg *logger.Logger) {
	payload, err := json.Marshal(frame{Topic: string(topic), Envelope: env, SentAt: time.Now().UTC()})
	if err != nil {
		lg.Error("frame_marshal_failed", err, nil)
		return
	}
	hub.Broadcast(topic, payload)
}

func serveSession(hub *Hub, session sockjs.Session, lg *logger.Logger) {
	client := &Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
	hub.Register(client)
	defer hub.Unregister(client)
	lg.Debug("browser_connected", map[string]any{"client_id": client.ID})

	go func() {
		for msg := range client.Send {
			_ = session.Send(string(msg))
		}
	}()

	for {
		msg, err := session.Recv()
		if err != nil {
			lg.Debug("browser_disconnected", map[string]any{"client_id": client.ID})
			return
		}
		ctl, ok := ParseControl([]byte(msg))
		if !ok {
			continue
		}
		if ctl.Action == "unsubscribe" {
			hub.SetTopic(client, "")
			continue
		}
		topic, ok := validTopic(ctl.Topic)
		if !ok {
			_ = session.Close(4000, "unknown topic")
			return
		}
		hub.SetTopic(client, topic)
	}
}

// validTopic accepts "kitchen" and concrete table topics ("table/7").
func validTopic(raw string) (notify.Topic, bool) {
	if raw == string(notify.TopicKitchen) {
		return notify.TopicKitchen, true
	}
	if id, ok := strings.CutPrefix(raw, "table/"); ok {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil && n > 0 {
			return notify.TableTopic(n), true
		}
	}
	return "", false
}
