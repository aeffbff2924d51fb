package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"restaurant-sync/internal/common/logger"
	"restaurant-sync/internal/domain"
)

// Router publishes envelopes whenever the backing store mutates. Order events
// go to the kitchen topic and, when the order belongs to a table, to that
// table's topic. Request events go to the kitchen only; requests are not
// mirrored back to the originating table.
type Router interface {
	OrderChanged(ctx context.Context, order domain.Order, message string) error
	RequestCreated(ctx context.Context, req domain.TableRequest) error
}

// Broker is the publish half of the MQ client the router writes to.
type Broker interface {
	Publish(ctx context.Context, exchange, key string, pub amqp.Publishing) error
}

type AMQPRouter struct {
	broker Broker
	lg     *logger.Logger
}

func NewAMQPRouter(broker Broker, lg *logger.Logger) *AMQPRouter {
	return &AMQPRouter{broker: broker, lg: lg}
}

func (r *AMQPRouter) OrderChanged(ctx context.Context, order domain.Order, message string) error {
	id := order.ID
	total := order.TotalAmount
	env := Envelope{
		OrderID:     &id,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		TotalAmount: &total,
		TableNumber: order.TableNumber,
		Message:     message,
		CreatedAt:   order.CreatedAt.UTC().Format(time.RFC3339),
	}
	if order.TableID != 0 {
		tableID := order.TableID
		env.TableID = &tableID
	}

	topics := []Topic{TopicKitchen}
	if order.TableID != 0 {
		topics = append(topics, TableTopic(order.TableID))
	}
	for _, topic := range topics {
		if err := r.publish(ctx, topic, order.OrderNumber, env); err != nil {
			return fmt.Errorf("publish order event to %s: %w", topic, err)
		}
	}
	r.lg.Debug("order_event_published", map[string]any{
		"order_id": order.ID, "status": string(order.Status), "topics": len(topics),
	})
	return nil
}

func (r *AMQPRouter) RequestCreated(ctx context.Context, req domain.TableRequest) error {
	id := req.ID
	tableID := req.TableID
	env := Envelope{
		RequestID:           &id,
		TableID:             &tableID,
		TableNumber:         req.TableNumber,
		RequestType:         req.RequestType,
		Message:             req.Message,
		NotificationMessage: fmt.Sprintf("table %s: %s", req.TableNumber, domain.RequestTypeLabel(req.RequestType)),
		CreatedAt:           req.CreatedAt.UTC().Format(time.RFC3339),
	}
	if err := r.publish(ctx, TopicKitchen, strconv.FormatInt(req.ID, 10), env); err != nil {
		return fmt.Errorf("publish request event: %w", err)
	}
	r.lg.Debug("request_event_published", map[string]any{
		"request_id": req.ID, "request_type": req.RequestType,
	})
	return nil
}

func (r *AMQPRouter) publish(ctx context.Context, topic Topic, correlationID string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.broker.Publish(ctx, Exchange, topic.RoutingKey(), amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   "application/json",
		MessageId:     uuid.NewString(),
		CorrelationId: correlationID,
		Timestamp:     time.Now().UTC(),
		Headers:       amqp.Table{"x-source": "order-service"},
		Body:          body,
	})
}
