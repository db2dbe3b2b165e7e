// Package memstore provides in-memory implementations of the candle window
// and cache store ports, used when Redis is not configured and in tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"trading-signal/internal/model"
)

// Window is a mutex-guarded rolling candle window with FIFO eviction.
type Window struct {
	mu         sync.Mutex
	maxCandles int
	data       map[string][]model.Candle
}

// NewWindow creates a window store holding at most maxCandles per key.
func NewWindow(maxCandles int) *Window {
	return &Window{maxCandles: maxCandles, data: make(map[string][]model.Candle)}
}

// Append adds c to the tail of key's window, evicting the oldest beyond the cap.
func (w *Window) Append(_ context.Context, key string, c model.Candle) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	win := append(w.data[key], c)
	if over := len(win) - w.maxCandles; over > 0 {
		win = append([]model.Candle(nil), win[over:]...)
	}
	w.data[key] = win
	return nil
}

// Load returns a copy of key's window, oldest first.
func (w *Window) Load(_ context.Context, key string) ([]model.Candle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.Candle(nil), w.data[key]...), nil
}

type cacheItem struct {
	fields  map[string]string
	expires time.Time // zero means no expiry
}

// Cache is an in-memory CacheStore with storage-level expiry on an
// injectable clock.
type Cache struct {
	mu    sync.Mutex
	items map[string]cacheItem
	now   func() time.Time
}

// NewCache creates an empty cache store. A nil now uses time.Now.
func NewCache(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{items: make(map[string]cacheItem), now: now}
}

// Get returns a copy of the fields under key, or nil on a miss or expiry.
func (c *Cache) Get(_ context.Context, key string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, nil
	}
	if !it.expires.IsZero() && !c.now().Before(it.expires) {
		delete(c.items, key)
		return nil, nil
	}
	out := make(map[string]string, len(it.fields))
	for k, v := range it.fields {
		out[k] = v
	}
	return out, nil
}

// Put replaces the fields under key.
func (c *Cache) Put(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	it := cacheItem{fields: cp}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl > 0 {
		it.expires = c.now().Add(ttl)
	}
	c.items[key] = it
	return nil
}

// Delete removes key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// Set stores raw fields without expiry. Tests use it to plant entries.
func (c *Cache) Set(key string, fields map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheItem{fields: fields}
}
