// Package pipeline wires the live ingest path:
// quote feed → aggregator → fan-out → rolling window (+ sqlite archive).
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trading-signal/internal/marketdata/agg"
	"trading-signal/internal/marketdata/bus"
	"trading-signal/internal/metrics"
	"trading-signal/internal/model"
	"trading-signal/internal/store/window"
)

// TickSource streams ticks into tickCh until ctx is cancelled.
type TickSource interface {
	Run(ctx context.Context, tickCh chan<- model.Tick) error
}

// Archive is the durable candle sink; the sqlite archive implements it.
type Archive interface {
	window.RecentReader
	Run(ctx context.Context, candleCh <-chan model.Candle)
}

// Config sizes the ingest pipeline.
type Config struct {
	Symbol       string
	Interval     time.Duration
	MaxCandles   int // window capacity, used to seed from the archive
	TickBuffer   int
	CandleBuffer int
}

func (c *Config) defaults() {
	if c.TickBuffer <= 0 {
		c.TickBuffer = 10000
	}
	if c.CandleBuffer <= 0 {
		c.CandleBuffer = 256
	}
}

// Ingest runs the live candle pipeline for one symbol.
type Ingest struct {
	cfg     Config
	source  TickSource
	window  model.CandleWindow
	archive Archive // optional

	Metrics *metrics.Metrics // optional
}

// NewIngest creates the pipeline. archive may be nil.
func NewIngest(cfg Config, source TickSource, win model.CandleWindow, archive Archive) *Ingest {
	cfg.defaults()
	return &Ingest{cfg: cfg, source: source, window: win, archive: archive}
}

// Run blocks until ctx is cancelled. On shutdown the tick channel is closed
// so the aggregator flushes its open candle and every downstream stage
// drains before Run returns.
func (p *Ingest) Run(ctx context.Context) error {
	if p.archive != nil && p.cfg.MaxCandles > 0 {
		if _, err := window.Seed(ctx, p.window, p.archive, p.cfg.Symbol, p.cfg.Interval, p.cfg.MaxCandles); err != nil {
			slog.Warn("window seed failed", "symbol", p.cfg.Symbol, "error", err)
		}
	}

	tickCh := make(chan model.Tick, p.cfg.TickBuffer)
	candleCh := make(chan model.Candle, p.cfg.CandleBuffer)

	// Downstream stages stop on channel close, not on ctx, so they drain.
	drainCtx := context.WithoutCancel(ctx)

	aggregator := agg.New(p.cfg.Symbol, p.cfg.Interval)
	fan := bus.New(p.cfg.CandleBuffer)
	writer := window.NewWriter(p.window)
	p.wireHooks(aggregator, fan, writer)

	windowCh := fan.Subscribe("window")
	var archiveCh <-chan model.Candle
	if p.archive != nil {
		archiveCh = fan.Subscribe("archive")
	}

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() {
		aggregator.Run(drainCtx, tickCh, candleCh)
		close(candleCh)
	})
	run(func() { fan.Run(drainCtx, candleCh) })
	run(func() { writer.Run(drainCtx, windowCh) })
	if archiveCh != nil {
		run(func() { p.archive.Run(drainCtx, archiveCh) })
	}
	if p.Metrics != nil {
		run(func() { p.reportSaturation(ctx, fan, tickCh, candleCh) })
	}

	slog.Info("ingest pipeline started", "symbol", p.cfg.Symbol, "interval", p.cfg.Interval.String(), "archive", p.archive != nil)
	err := p.source.Run(ctx, tickCh)
	close(tickCh)
	wg.Wait()
	slog.Info("ingest pipeline stopped", "symbol", p.cfg.Symbol)
	return err
}

func (p *Ingest) wireHooks(a *agg.Aggregator, fan *bus.FanOut, w *window.Writer) {
	m := p.Metrics
	if m == nil {
		return
	}
	a.OnCandle = func(model.Candle) { m.CandlesTotal.Inc() }
	a.OnDroppedCandle = func(model.Candle) { m.DroppedCandles.Inc() }
	a.OnDroppedTick = func(model.Tick) { m.DroppedTicks.Inc() }
	fan.OnDrop = func(sub string, _ model.Candle) { m.FanoutDropsTotal.WithLabelValues(sub).Inc() }
	w.OnWritten = m.ObserveWindowWrite
	w.OnError = func(model.Candle, error) { m.WindowWriteErrors.Inc() }
}

func (p *Ingest) reportSaturation(ctx context.Context, fan *bus.FanOut, tickCh chan model.Tick, candleCh chan model.Candle) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Metrics.ObserveChannel("ticks", len(tickCh), cap(tickCh))
			p.Metrics.ObserveChannel("candles", len(candleCh), cap(candleCh))
			for _, s := range fan.ChannelStats() {
				p.Metrics.ObserveChannel("fanout_"+s.Name, s.Len, s.Cap)
			}
		}
	}
}
