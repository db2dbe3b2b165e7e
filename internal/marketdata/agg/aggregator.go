// Package agg folds a live tick stream into fixed-interval OHLC candles.
package agg

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"trading-signal/internal/model"
)

const defaultCheckInterval = time.Second

// Aggregator builds candles of a fixed interval for one symbol.
//
// Ticks are buffered; when the time since the last flush reaches the
// interval, the buffer becomes one candle (the tick that crosses the
// boundary is part of it) and the timer restarts. A wall-clock check also
// flushes a buffer that stops receiving ticks. All state is owned by the
// Run goroutine.
type Aggregator struct {
	symbol   string
	interval time.Duration

	buf       []float64
	lastFlush time.Time

	// Now is the wall clock used by the idle check. Defaults to time.Now.
	Now func() time.Time
	// CheckInterval is how often the idle check runs.
	CheckInterval time.Duration

	// Metrics hooks (optional, set externally)
	OnCandle        func(c model.Candle)
	OnDroppedCandle func(c model.Candle)
	OnDroppedTick   func(t model.Tick)
}

// New creates an Aggregator for symbol emitting candles every interval.
func New(symbol string, interval time.Duration) *Aggregator {
	return &Aggregator{
		symbol:        strings.ToUpper(symbol),
		interval:      interval,
		buf:           make([]float64, 0, 512),
		Now:           time.Now,
		CheckInterval: defaultCheckInterval,
	}
}

// Symbol returns the aggregated symbol.
func (a *Aggregator) Symbol() string { return a.symbol }

// Run consumes ticks from tickCh and sends finalized candles to candleCh.
// Sends never block: if candleCh is full the candle is dropped. On context
// cancellation or a closed tickCh the open buffer is flushed before return.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, candleCh chan<- model.Candle) {
	ticker := time.NewTicker(a.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flush(a.Now().UTC(), candleCh)
			return

		case tick, ok := <-tickCh:
			if !ok {
				a.flush(a.Now().UTC(), candleCh)
				return
			}
			a.processTick(tick, candleCh)

		case <-ticker.C:
			a.checkIdle(candleCh)
		}
	}
}

// processTick buffers one tick and flushes if the interval has elapsed.
func (a *Aggregator) processTick(tick model.Tick, candleCh chan<- model.Candle) {
	if !strings.EqualFold(tick.Symbol, a.symbol) || tick.Price <= 0 || math.IsNaN(tick.Price) || math.IsInf(tick.Price, 0) {
		if a.OnDroppedTick != nil {
			a.OnDroppedTick(tick)
		}
		return
	}

	ts := tick.TS.UTC()
	if a.lastFlush.IsZero() {
		a.lastFlush = ts
	}
	a.buf = append(a.buf, tick.Price)

	if ts.Sub(a.lastFlush) >= a.interval {
		a.flush(ts, candleCh)
	}
}

// checkIdle flushes when the interval has passed on the wall clock without
// a boundary-crossing tick. An empty buffer only restarts the timer.
func (a *Aggregator) checkIdle(candleCh chan<- model.Candle) {
	if a.lastFlush.IsZero() {
		return
	}
	now := a.Now().UTC()
	if now.Sub(a.lastFlush) >= a.interval {
		a.flush(now, candleCh)
	}
}

// flush emits the buffer as one candle stamped at, then clears it.
// An empty buffer produces no candle.
func (a *Aggregator) flush(at time.Time, candleCh chan<- model.Candle) {
	if len(a.buf) == 0 {
		if !a.lastFlush.IsZero() {
			a.lastFlush = at
		}
		return
	}

	c := model.Candle{
		Symbol:   a.symbol,
		Interval: a.interval,
		TS:       at,
		Open:     a.buf[0],
		High:     a.buf[0],
		Low:      a.buf[0],
		Close:    a.buf[len(a.buf)-1],
	}
	for _, p := range a.buf[1:] {
		if p > c.High {
			c.High = p
		}
		if p < c.Low {
			c.Low = p
		}
	}
	a.buf = a.buf[:0]
	a.lastFlush = at

	a.emit(c, candleCh)
}

// emit sends a finalized candle to candleCh. Non-blocking so tick
// ingestion never waits on storage.
func (a *Aggregator) emit(c model.Candle, candleCh chan<- model.Candle) {
	select {
	case candleCh <- c:
		if a.OnCandle != nil {
			a.OnCandle(c)
		}
	default:
		slog.Warn("candle channel full, dropping candle", "key", c.Key(), "ts", c.TS.Unix())
		if a.OnDroppedCandle != nil {
			a.OnDroppedCandle(c)
		}
	}
}
