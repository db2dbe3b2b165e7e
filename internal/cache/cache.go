// Package cache bounds signal recomputation per instrument.
//
// SignalCache stores the last computed signal per instrument in a
// model.CacheStore (Redis hash or in-memory) and serves it while fresh.
// Stored entries carry the fields timestamp (Unix seconds, float), price
// and signal_type. Entries that fail to decode are deleted and treated as
// a miss.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"trading-signal/internal/logger"
	"trading-signal/internal/model"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL        = 60 * time.Second
	DefaultStorageTTL = 120 * time.Second
	DefaultKeyPrefix  = "signal_cache:"

	// DefaultComputeTimeout bounds a shared computation once it is detached
	// from the caller that started it.
	DefaultComputeTimeout = 30 * time.Second
	// MaxClockSkew is how far in the future a stored timestamp may lie
	// before the entry is treated as corrupt.
	MaxClockSkew = 5 * time.Second

	fieldTimestamp = "timestamp"
	fieldPrice     = "price"
	fieldSignal    = "signal_type"
)

// ComputeFunc produces a fresh signal and the price it was computed at.
type ComputeFunc func(ctx context.Context) (model.SignalType, float64, error)

// Result is a cache lookup outcome.
type Result struct {
	Entry  model.CacheEntry
	Cached bool // served from the store without computing
}

// Hooks are optional observers, typically wired to metrics.
type Hooks struct {
	OnHit        func(instrument string)
	OnMiss       func(instrument string)
	OnCorrupt    func(instrument string)
	OnStoreError func(instrument, op string)
}

// Options configures a SignalCache. Zero values take the defaults.
type Options struct {
	TTL            time.Duration // freshness window
	StorageTTL     time.Duration // expiry applied at the store
	ComputeTimeout time.Duration // bounds a computation shared by concurrent callers
	KeyPrefix      string
	Now            func() time.Time
	Hooks          Hooks
}

// SignalCache serves fresh signals from a store and recomputes on expiry.
//
// Concurrent misses for the same instrument inside one process share a
// single computation. Across processes writers overwrite each other; the
// last write wins.
type SignalCache struct {
	store      model.CacheStore
	ttl        time.Duration
	storageTTL time.Duration
	prefix     string
	timeout    time.Duration
	now        func() time.Time
	hooks      Hooks

	group singleflight.Group
}

// New creates a SignalCache on store.
func New(store model.CacheStore, opts Options) *SignalCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.StorageTTL <= 0 {
		opts.StorageTTL = DefaultStorageTTL
	}
	if opts.StorageTTL < opts.TTL {
		opts.StorageTTL = opts.TTL
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.ComputeTimeout <= 0 {
		opts.ComputeTimeout = DefaultComputeTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SignalCache{
		store:      store,
		ttl:        opts.TTL,
		storageTTL: opts.StorageTTL,
		prefix:     opts.KeyPrefix,
		timeout:    opts.ComputeTimeout,
		now:        opts.Now,
		hooks:      opts.Hooks,
	}
}

// TTL returns the freshness window.
func (c *SignalCache) TTL() time.Duration { return c.ttl }

// Key returns the store key for instrument, e.g. "signal_cache:XAUUSD".
func (c *SignalCache) Key(instrument string) string {
	return c.prefix + strings.ToUpper(instrument)
}

// GetOrCompute returns the cached signal for instrument if it is younger
// than the TTL. Otherwise it calls fn, stores the result stamped with the
// current time and returns it. Store failures degrade to a miss; only fn's
// error is returned.
func (c *SignalCache) GetOrCompute(ctx context.Context, instrument string, fn ComputeFunc) (Result, error) {
	instrument = strings.ToUpper(instrument)
	if entry, ok := c.lookup(ctx, instrument); ok {
		c.hook(c.hooks.OnHit, instrument)
		return Result{Entry: entry, Cached: true}, nil
	}
	c.hook(c.hooks.OnMiss, instrument)

	// The shared computation is detached from the caller that started it,
	// so one caller going away does not fail the others waiting on it.
	ch := c.group.DoChan(instrument, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		sig, price, err := fn(shared)
		if err != nil {
			return nil, err
		}
		entry := model.CacheEntry{
			Instrument: instrument,
			Signal:     sig,
			Price:      price,
			ComputedAt: c.now(),
		}
		c.put(shared, entry)
		return entry, nil
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return Result{Entry: res.Val.(model.CacheEntry)}, nil
	}
}

// Invalidate deletes the entry for instrument so the next request recomputes.
func (c *SignalCache) Invalidate(ctx context.Context, instrument string) error {
	key := c.Key(instrument)
	if err := c.store.Delete(ctx, key); err != nil {
		c.storeErr(ctx, instrument, "delete", err)
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	slog.Info("signal cache invalidated", append(logger.LogWithTrace(ctx), "instrument", strings.ToUpper(instrument))...)
	return nil
}

// lookup returns a fresh entry. Corrupt entries are deleted.
func (c *SignalCache) lookup(ctx context.Context, instrument string) (model.CacheEntry, bool) {
	key := c.Key(instrument)
	fields, err := c.store.Get(ctx, key)
	if err != nil {
		c.storeErr(ctx, instrument, "get", err)
		return model.CacheEntry{}, false
	}
	if fields == nil {
		return model.CacheEntry{}, false
	}

	entry, err := Decode(instrument, fields)
	if err == nil && entry.ComputedAt.After(c.now().Add(MaxClockSkew)) {
		err = corrupt("timestamp %s is in the future", entry.ComputedAt.Format(time.RFC3339))
	}
	if err != nil {
		slog.Warn("signal cache entry corrupt, deleting",
			append(logger.LogWithTrace(ctx), "instrument", instrument, "error", err)...)
		c.hook(c.hooks.OnCorrupt, instrument)
		if derr := c.store.Delete(ctx, key); derr != nil {
			c.storeErr(ctx, instrument, "delete", derr)
		}
		return model.CacheEntry{}, false
	}

	if c.now().Sub(entry.ComputedAt) >= c.ttl {
		return model.CacheEntry{}, false
	}
	return entry, true
}

func (c *SignalCache) put(ctx context.Context, e model.CacheEntry) {
	if err := c.store.Put(ctx, c.Key(e.Instrument), Encode(e), c.storageTTL); err != nil {
		c.storeErr(ctx, e.Instrument, "put", err)
	}
}

func (c *SignalCache) storeErr(ctx context.Context, instrument, op string, err error) {
	slog.Warn("signal cache store error",
		append(logger.LogWithTrace(ctx), "instrument", instrument, "op", op, "error", err)...)
	if c.hooks.OnStoreError != nil {
		c.hooks.OnStoreError(instrument, op)
	}
}

func (c *SignalCache) hook(fn func(string), instrument string) {
	if fn != nil {
		fn(instrument)
	}
}

// Encode renders an entry as store fields.
func Encode(e model.CacheEntry) map[string]string {
	ts := float64(e.ComputedAt.UnixNano()) / 1e9
	return map[string]string{
		fieldTimestamp: strconv.FormatFloat(ts, 'f', -1, 64),
		fieldPrice:     strconv.FormatFloat(e.Price, 'f', -1, 64),
		fieldSignal:    string(e.Signal),
	}
}

// Decode parses store fields. Missing or malformed fields return an error
// wrapping model.ErrCacheCorrupt.
func Decode(instrument string, fields map[string]string) (model.CacheEntry, error) {
	raw, ok := fields[fieldTimestamp]
	if !ok {
		return model.CacheEntry{}, corrupt("missing %s", fieldTimestamp)
	}
	ts, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return model.CacheEntry{}, corrupt("bad %s %q", fieldTimestamp, raw)
	}

	raw, ok = fields[fieldPrice]
	if !ok {
		return model.CacheEntry{}, corrupt("missing %s", fieldPrice)
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return model.CacheEntry{}, corrupt("bad %s %q", fieldPrice, raw)
	}

	sig, err := model.ParseSignalType(fields[fieldSignal])
	if err != nil {
		return model.CacheEntry{}, corrupt("%v", err)
	}

	sec, frac := math.Modf(ts)
	return model.CacheEntry{
		Instrument: instrument,
		Signal:     sig,
		Price:      price,
		ComputedAt: time.Unix(int64(sec), int64(frac*1e9)),
	}, nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrCacheCorrupt, fmt.Sprintf(format, args...))
}

