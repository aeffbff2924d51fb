package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Config struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	User  string `yaml:"user"`
	Pass  string `yaml:"password"`
	VHost string `yaml:"vhost"`
}

func (c Config) URL() string {
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", c.User, c.Pass, c.Host, c.Port, vhost)
}

type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	acks <-chan amqp.Confirmation
	mu   sync.Mutex // serializes Publish while waiting for confirms
}

func Dial(cfg Config) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL())
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return &Client{conn: conn, ch: ch, acks: acks}, nil
}

func (c *Client) Channel() *amqp.Channel { return c.ch }

func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// NotifyClose registers a listener fired when the underlying connection
// drops, deliberately or not.
func (c *Client) NotifyClose() <-chan *amqp.Error {
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

func (c *Client) Ping() error {
	if c.conn == nil || c.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// DeclareTopology declares the durable topic exchange notifications flow
// through. Idempotent, safe to call from every process.
func (c *Client) DeclareTopology(exchange string) error {
	return c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
}

// Publish sends one message and waits for the broker's ack, giving the
// router its at-least-once guarantee.
func (c *Client) Publish(ctx context.Context, exchange, key string, pub amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pub.Timestamp.IsZero() {
		pub.Timestamp = time.Now().UTC()
	}
	if err := c.ch.PublishWithContext(ctx, exchange, key, false, false, pub); err != nil {
		return err
	}
	select {
	case conf := <-c.acks:
		if conf.Ack {
			return nil
		}
		return errors.New("publish NACK from broker")
	case <-ctx.Done():
		return ctx.Err()
	}
}
