package agg

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"trading-signal/internal/model"
)

var t0 = time.Unix(1700000000, 0).UTC()

// newTestAgg returns an aggregator whose idle check never fires and whose
// clock is fixed at now.
func newTestAgg(interval time.Duration, now time.Time) *Aggregator {
	a := New("XAUUSD", interval)
	a.Now = func() time.Time { return now }
	a.CheckInterval = time.Hour
	return a
}

func tick(price float64, at time.Duration) model.Tick {
	return model.Tick{Symbol: "XAUUSD", Price: price, TS: t0.Add(at)}
}

// runAll feeds ticks, closes the input and collects every emitted candle.
func runAll(a *Aggregator, ticks ...model.Tick) []model.Candle {
	tickCh := make(chan model.Tick, len(ticks))
	candleCh := make(chan model.Candle, 100)
	for _, tk := range ticks {
		tickCh <- tk
	}
	close(tickCh)
	a.Run(context.Background(), tickCh, candleCh)
	close(candleCh)

	var out []model.Candle
	for c := range candleCh {
		out = append(out, c)
	}
	return out
}

func TestAggregator_RoundTrip(t *testing.T) {
	a := newTestAgg(5*time.Minute, t0.Add(4*time.Minute))
	candles := runAll(a,
		tick(100, 0),
		tick(101, 30*time.Second),
		tick(99, time.Minute),
		tick(102, 2*time.Minute),
	)
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	c := candles[0]
	if c.Open != 100 || c.High != 102 || c.Low != 99 || c.Close != 102 {
		t.Errorf("got {o:%v h:%v l:%v c:%v}, want {100 102 99 102}", c.Open, c.High, c.Low, c.Close)
	}
	if c.Symbol != "XAUUSD" || c.Interval != 5*time.Minute || c.Key() != "candle:XAUUSD:M5" {
		t.Errorf("unexpected identity %s %v %s", c.Symbol, c.Interval, c.Key())
	}
	if err := c.Validate(); err != nil {
		t.Error(err)
	}
}

func TestAggregator_FlushOnInterval(t *testing.T) {
	a := newTestAgg(5*time.Minute, t0.Add(7*time.Minute))
	candles := runAll(a,
		tick(100, 0),
		tick(105, time.Minute),
		tick(98, 5*time.Minute), // reaches the interval: part of the first candle
		tick(99, 6*time.Minute),
		tick(97, 6*time.Minute+30*time.Second),
	)
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}

	first := candles[0]
	if first.Open != 100 || first.High != 105 || first.Low != 98 || first.Close != 98 {
		t.Errorf("first candle %+v", first)
	}
	if !first.TS.Equal(t0.Add(5 * time.Minute)) {
		t.Errorf("first candle ts %v, want flush time %v", first.TS, t0.Add(5*time.Minute))
	}

	second := candles[1]
	if second.Open != 99 || second.High != 99 || second.Low != 97 || second.Close != 97 {
		t.Errorf("second candle %+v", second)
	}
	if !second.TS.Equal(t0.Add(7 * time.Minute)) {
		t.Errorf("final flush should be stamped with the clock, got %v", second.TS)
	}
	if !first.TS.Before(second.TS) {
		t.Error("candles must be emitted in order")
	}
}

func TestAggregator_EmptyFlushNoCandle(t *testing.T) {
	a := newTestAgg(time.Minute, t0)
	if candles := runAll(a); len(candles) != 0 {
		t.Errorf("expected no candles, got %d", len(candles))
	}
}

func TestAggregator_DropsForeignAndInvalidTicks(t *testing.T) {
	a := newTestAgg(time.Minute, t0.Add(30*time.Second))
	var dropped int
	a.OnDroppedTick = func(model.Tick) { dropped++ }

	candles := runAll(a,
		tick(100, 0),
		model.Tick{Symbol: "BTC", Price: 60000, TS: t0.Add(time.Second)},
		tick(0, 2*time.Second),
		tick(-1, 3*time.Second),
		model.Tick{Symbol: "xauusd", Price: 101, TS: t0.Add(4 * time.Second)},
	)
	if dropped != 3 {
		t.Errorf("expected 3 dropped ticks, got %d", dropped)
	}
	if len(candles) != 1 || candles[0].High != 101 || candles[0].Low != 100 {
		t.Errorf("unexpected candles %+v", candles)
	}
}

func TestAggregator_NonBlockingEmit(t *testing.T) {
	a := newTestAgg(time.Minute, t0)
	var dropped, emitted int
	a.OnDroppedCandle = func(model.Candle) { dropped++ }
	a.OnCandle = func(model.Candle) { emitted++ }

	tickCh := make(chan model.Tick, 10)
	candleCh := make(chan model.Candle, 1) // room for one candle only
	tickCh <- tick(100, 0)
	tickCh <- tick(101, 30*time.Second)
	tickCh <- tick(102, time.Minute)     // flush 1
	tickCh <- tick(103, 150*time.Second) // flush 2, channel full
	close(tickCh)

	done := make(chan struct{})
	go func() {
		a.Run(context.Background(), tickCh, candleCh)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("aggregator blocked on a full candle channel")
	}
	if emitted != 1 || dropped != 1 {
		t.Errorf("expected 1 emitted and 1 dropped, got %d / %d", emitted, dropped)
	}
}

func TestAggregator_IdleFlush(t *testing.T) {
	var nowNanos atomic.Int64
	nowNanos.Store(t0.UnixNano())

	a := New("XAUUSD", 5*time.Minute)
	a.Now = func() time.Time { return time.Unix(0, nowNanos.Load()).UTC() }
	a.CheckInterval = 5 * time.Millisecond

	tickCh := make(chan model.Tick, 10)
	candleCh := make(chan model.Candle, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx, tickCh, candleCh)

	tickCh <- tick(100, 0)
	tickCh <- tick(101, time.Minute)
	waitDrained(t, tickCh)

	// No more ticks arrive; the wall clock passes the interval.
	nowNanos.Store(t0.Add(5 * time.Minute).UnixNano())

	select {
	case c := <-candleCh:
		if c.Open != 100 || c.Close != 101 {
			t.Errorf("unexpected idle candle %+v", c)
		}
		if !c.TS.Equal(t0.Add(5 * time.Minute)) {
			t.Errorf("idle candle ts %v", c.TS)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected idle flush")
	}
}

func TestAggregator_FlushOnCancel(t *testing.T) {
	a := newTestAgg(time.Hour, t0.Add(time.Minute))
	tickCh := make(chan model.Tick, 1)
	candleCh := make(chan model.Candle, 1)
	tickCh <- tick(100, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx, tickCh, candleCh)
		close(done)
	}()

	waitDrained(t, tickCh)
	cancel()
	<-done

	select {
	case c := <-candleCh:
		if c.Close != 100 {
			t.Errorf("unexpected candle %+v", c)
		}
	default:
		t.Fatal("expected the open buffer to be flushed on cancel")
	}
}

// waitDrained blocks until the aggregator has taken every queued tick.
func waitDrained(t *testing.T, ch chan model.Tick) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(ch) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("ticks not consumed")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
}
