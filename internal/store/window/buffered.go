package window

import (
	"context"
	"log/slog"
	"sync"

	"trading-signal/internal/model"
)

type pending struct {
	key    string
	candle model.Candle
}

// Buffered wraps a CandleWindow so store failures do not lose candles
// immediately. A failed append is queued locally and replayed, in order,
// ahead of the next append. While the queue is non-empty new candles join
// its tail, so per-key order is preserved.
type Buffered struct {
	store model.CandleWindow

	mu     sync.Mutex
	buffer []pending
	maxBuf int // max queued candles before dropping oldest

	// Callbacks
	OnBuffer func()          // a candle was queued
	OnDrop   func()          // the queue was full and the oldest candle was dropped
	OnFlush  func(count int) // queued candles reached the store
}

// NewBuffered wraps store with a queue of at most maxBufferSize candles.
func NewBuffered(store model.CandleWindow, maxBufferSize int) *Buffered {
	if maxBufferSize <= 0 {
		maxBufferSize = 1000
	}
	return &Buffered{
		store:  store,
		buffer: make([]pending, 0, 16),
		maxBuf: maxBufferSize,
	}
}

// Append writes c, draining any queued candles first. Store errors queue
// the candle and are not returned.
func (b *Buffered) Append(ctx context.Context, key string, c model.Candle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buffer) > 0 {
		b.enqueue(key, c)
		b.drain(ctx)
		return nil
	}
	if err := b.store.Append(ctx, key, c); err != nil {
		slog.Warn("window store unavailable, buffering candle", "key", key, "error", err)
		b.enqueue(key, c)
	}
	return nil
}

// Load returns the stored window for key followed by any candles still
// queued for it.
func (b *Buffered) Load(ctx context.Context, key string) ([]model.Candle, error) {
	stored, err := b.store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.buffer {
		if p.key == key {
			stored = append(stored, p.candle)
		}
	}
	return stored, nil
}

// Flush tries to drain the queue now.
func (b *Buffered) Flush(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drain(ctx)
}

// PendingCount returns the number of queued candles.
func (b *Buffered) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// enqueue must be called with mu held.
func (b *Buffered) enqueue(key string, c model.Candle) {
	if len(b.buffer) >= b.maxBuf {
		b.buffer = b.buffer[1:]
		if b.OnDrop != nil {
			b.OnDrop()
		}
	}
	b.buffer = append(b.buffer, pending{key: key, candle: c})
	if b.OnBuffer != nil {
		b.OnBuffer()
	}
}

// drain writes queued candles in order until the first failure.
// Must be called with mu held.
func (b *Buffered) drain(ctx context.Context) {
	flushed := 0
	for len(b.buffer) > 0 {
		p := b.buffer[0]
		if err := b.store.Append(ctx, p.key, p.candle); err != nil {
			break
		}
		b.buffer = b.buffer[1:]
		flushed++
	}
	if flushed > 0 {
		slog.Info("window buffer flushed", "count", flushed, "pending", len(b.buffer))
		if b.OnFlush != nil {
			b.OnFlush(flushed)
		}
	}
}
