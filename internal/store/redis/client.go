// Package redis implements the candle window and signal cache stores on
// Redis (go-redis v8). Every call carries a per-call timeout and runs
// through a circuit breaker so a dead server fails fast.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trading-signal/internal/breaker"

	goredis "github.com/go-redis/redis/v8"
)

const defaultTimeout = 2 * time.Second

// Config configures the Redis connection.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Timeout  time.Duration // per-call deadline
}

// Connect creates a Redis client and pings the server.
func Connect(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", "addr", cfg.Addr)
	return client, nil
}

// base carries what every store needs: the client, a call deadline and a
// breaker.
type base struct {
	client  *goredis.Client
	timeout time.Duration
	cb      *breaker.Breaker
}

func newBase(client *goredis.Client, timeout time.Duration, cb *breaker.Breaker) base {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return base{client: client, timeout: timeout, cb: cb}
}

// do runs fn under the call deadline and, when configured, the breaker.
func (b base) do(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if b.cb == nil {
		return fn(ctx)
	}
	return b.cb.Execute(func() error { return fn(ctx) })
}

// Ping reports whether the server answers within the call deadline.
func Ping(ctx context.Context, client *goredis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return client.Ping(ctx).Err()
}
