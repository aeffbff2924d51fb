package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"password"`
	Name string `yaml:"database"`
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Pass, c.Host, c.Port, c.Name)
}

type Conn struct{ *pgxpool.Pool }

// Connect dials Postgres with a constant-delay retry so the service survives
// the database coming up after it.
func Connect(ctx context.Context, cfg Config) (*Conn, error) {
	const (
		maxRetries = 10
		retryDelay = 2 * time.Second
		pingTTL    = 5 * time.Second
	)

	var lastErr error
	for i := 1; i <= maxRetries; i++ {
		pool, err := pgxpool.New(ctx, cfg.DSN())
		if err == nil {
			pctx, cancel := context.WithTimeout(ctx, pingTTL)
			err = pool.Ping(pctx)
			cancel()
			if err == nil {
				return &Conn{Pool: pool}, nil
			}
			pool.Close()
		}
		lastErr = err

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("db connect canceled: %w", ctx.Err())
		}
	}
	return nil, fmt.Errorf("database unreachable after %d attempts: %w", maxRetries, lastErr)
}

func (c *Conn) Close() {
	if c != nil && c.Pool != nil {
		c.Pool.Close()
	}
}
