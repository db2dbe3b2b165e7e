package model

import (
	"context"
	"time"
)

// ── Ports ──
// These interfaces decouple the signal pipeline from concrete storage and
// market-data implementations (Redis, in-memory, HTTP providers).

// CandleSource supplies a chronological candle series for an instrument.
// Failures are ErrDataUnavailable-compatible.
type CandleSource interface {
	Fetch(ctx context.Context, instrument string) (PriceSeries, error)
}

// QuoteSource returns a real-time last price used to override the most
// recent close of a bulk series.
type QuoteSource interface {
	Quote(ctx context.Context, instrument string) (float64, error)
}

// CandleWindow is the persisted rolling candle window keyed by symbol+interval.
type CandleWindow interface {
	// Append adds c to the window under key, evicting the oldest entries
	// beyond the window capacity.
	Append(ctx context.Context, key string, c Candle) error

	// Load returns the window in chronological order.
	Load(ctx context.Context, key string) ([]Candle, error)
}

// CacheStore persists signal cache entries as flat string fields.
type CacheStore interface {
	// Get returns the stored fields, or nil, nil on a miss.
	Get(ctx context.Context, key string) (map[string]string, error)

	// Put stores fields under key with a storage-level TTL.
	Put(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
