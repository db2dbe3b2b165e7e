package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"trading-signal/internal/breaker"
	"trading-signal/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// WindowStore keeps the rolling candle window as a Redis list per
// symbol+interval key, oldest first, capped at maxCandles.
type WindowStore struct {
	base
	maxCandles int64
}

// NewWindowStore creates a window store. cb may be nil.
func NewWindowStore(client *goredis.Client, maxCandles int, timeout time.Duration, cb *breaker.Breaker) *WindowStore {
	return &WindowStore{
		base:       newBase(client, timeout, cb),
		maxCandles: int64(maxCandles),
	}
}

// Append pushes c onto the tail of the list and trims the head so at most
// maxCandles remain. Both commands run in one MULTI/EXEC.
func (w *WindowStore) Append(ctx context.Context, key string, c model.Candle) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("redis window: marshal: %w", err)
	}
	return w.do(ctx, func(ctx context.Context) error {
		_, err := w.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.RPush(ctx, key, data)
			pipe.LTrim(ctx, key, -w.maxCandles, -1)
			return nil
		})
		if err != nil {
			return fmt.Errorf("redis window append %s: %w", key, err)
		}
		return nil
	})
}

// Load returns the window in chronological order. Entries that fail to
// decode are skipped and logged.
func (w *WindowStore) Load(ctx context.Context, key string) ([]model.Candle, error) {
	var raw []string
	err := w.do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = w.client.LRange(ctx, key, 0, -1).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis window load %s: %w", key, err)
	}

	out := make([]model.Candle, 0, len(raw))
	for i, s := range raw {
		var c model.Candle
		if err := json.Unmarshal([]byte(s), &c); err != nil {
			slog.Warn("redis window: skipping malformed candle", "key", key, "index", i, "error", err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Len returns the number of candles stored under key.
func (w *WindowStore) Len(ctx context.Context, key string) (int64, error) {
	var n int64
	err := w.do(ctx, func(ctx context.Context) error {
		var err error
		n, err = w.client.LLen(ctx, key).Result()
		return err
	})
	return n, err
}
