package source

import (
	"context"

	"trading-signal/internal/model"
)

// Window serves an instrument from the rolling candle window written by
// the live feed.
type Window struct {
	store model.CandleWindow
	key   string
}

// NewWindow reads the window stored under key, e.g. "candle:XAUUSD:M5".
func NewWindow(store model.CandleWindow, key string) *Window {
	return &Window{store: store, key: key}
}

func (w *Window) Fetch(ctx context.Context, instrument string) (model.PriceSeries, error) {
	candles, err := w.store.Load(ctx, w.key)
	if err != nil {
		return model.PriceSeries{}, wrapErr("window", instrument, err)
	}
	return model.PriceSeries{Instrument: instrument, Candles: candles}, nil
}
