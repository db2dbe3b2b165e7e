// Package window persists aggregated candles into the rolling candle window.
package window

import (
	"context"
	"log/slog"

	"trading-signal/internal/model"
)

// Writer is the single consumer of an aggregator's candle channel. It
// appends candles to the store in arrival order, so candles for one key
// are never reordered. Store errors are reported and skipped.
type Writer struct {
	store model.CandleWindow

	OnWritten func(c model.Candle)            // optional, after a successful append
	OnError   func(c model.Candle, err error) // optional, after a failed append
}

// NewWriter creates a Writer for store.
func NewWriter(store model.CandleWindow) *Writer {
	return &Writer{store: store}
}

// Run reads candles until ctx is cancelled or candleCh is closed.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			w.write(ctx, c)
		}
	}
}

func (w *Writer) write(ctx context.Context, c model.Candle) {
	key := c.Key()
	if err := w.store.Append(ctx, key, c); err != nil {
		slog.Error("window append failed", "key", key, "ts", c.TS.Unix(), "error", err)
		if w.OnError != nil {
			w.OnError(c, err)
		}
		return
	}
	slog.Debug("window append", "key", key, "ts", c.TS.Unix(), "close", c.Close)
	if w.OnWritten != nil {
		w.OnWritten(c)
	}
}
