package subscription

import (
	"context"
	"errors"
	"sync"

	"restaurant-sync/internal/common/logger"
	"restaurant-sync/internal/common/mq"
	"restaurant-sync/internal/notify"
)

// AMQPTransport dials RabbitMQ and exposes topic subscriptions as exclusive
// server-named queues bound to the notifications exchange. An exclusive queue
// exists only while its connection does, so messages published during a
// disconnect window are never replayed to this observer — the sync store's
// reconciling fetches close that gap.
type AMQPTransport struct {
	cfg mq.Config
	lg  *logger.Logger
}

func NewAMQPTransport(cfg mq.Config, lg *logger.Logger) *AMQPTransport {
	return &AMQPTransport{cfg: cfg, lg: lg}
}

func (t *AMQPTransport) Connect(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := mq.Dial(t.cfg)
	if err != nil {
		return nil, err
	}
	if err := client.DeclareTopology(notify.Exchange); err != nil {
		client.Close()
		return nil, err
	}

	conn := &amqpConn{client: client, closed: make(chan error, 1)}
	notifyClose := client.NotifyClose()
	go func() {
		amqpErr := <-notifyClose
		if amqpErr != nil {
			conn.closed <- amqpErr
		} else {
			conn.closed <- errors.New("connection closed")
		}
	}()
	return conn, nil
}

type amqpConn struct {
	client *mq.Client
	closed chan error
	once   sync.Once
}

func (c *amqpConn) Subscribe(ctx context.Context, topic notify.Topic) (<-chan []byte, error) {
	ch := c.client.Channel()
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, err
	}
	if err := ch.QueueBind(q.Name, topic.RoutingKey(), notify.Exchange, false, nil); err != nil {
		return nil, err
	}
	// Auto-ack: envelopes are re-fetch hints, not durable work items.
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case out <- d.Body:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *amqpConn) Closed() <-chan error { return c.closed }

func (c *amqpConn) Close() error {
	c.once.Do(func() { c.client.Close() })
	return nil
}
