// Package replay re-runs archived candles through the indicator engine and
// signal rules, so the rule table can be checked against history without
// live market data.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trading-signal/internal/indicator"
	"trading-signal/internal/model"
	"trading-signal/internal/signal"
)

// maxGap caps the simulated wait between two candles.
const maxGap = 5 * time.Second

// Reader loads archived candles, oldest first. The sqlite archive
// implements it.
type Reader interface {
	ReadRecent(ctx context.Context, symbol string, interval time.Duration, n int) ([]model.Candle, error)
}

// Replayer reads archived candles and replays them at a configurable speed
// multiplier.
type Replayer struct {
	reader Reader
}

// New creates a Replayer backed by reader.
func New(reader Reader) *Replayer {
	return &Replayer{reader: reader}
}

// Run replays up to limit of the most recent candles for symbol into outCh.
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as
// fast as possible. Run does not close outCh.
func (r *Replayer) Run(ctx context.Context, symbol string, interval time.Duration, limit int, speed float64, outCh chan<- model.Candle) (int, error) {
	candles, err := r.reader.ReadRecent(ctx, symbol, interval, limit)
	if err != nil {
		return 0, fmt.Errorf("replay: read archive: %w", err)
	}
	if len(candles) == 0 {
		slog.Warn("replay: no archived candles", "symbol", symbol, "interval", interval.String())
		return 0, nil
	}
	slog.Info("replay loaded", "symbol", symbol, "candles", len(candles), "speed", speed)

	var prevTS time.Time
	emitted := 0
	for _, c := range candles {
		if speed > 0 && !prevTS.IsZero() {
			if gap := time.Duration(float64(c.TS.Sub(prevTS)) / speed); gap > 0 {
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(min(gap, maxGap)):
				}
			}
		}
		prevTS = c.TS

		select {
		case <-ctx.Done():
			return emitted, ctx.Err()
		case outCh <- c:
			emitted++
		}
	}
	return emitted, nil
}

// Point is the signal evaluated at one replayed candle.
type Point struct {
	TS       time.Time
	Signal   model.SignalType
	Rule     string
	Snapshot model.IndicatorSnapshot
}

// Evaluator keeps a rolling window of candles and classifies it after each
// step, the way the live service classifies a fetched series.
type Evaluator struct {
	symbol     string
	window     int
	params     indicator.Params
	classifier *signal.Classifier
	candles    []model.Candle
}

// NewEvaluator creates an Evaluator over a window of at most window candles.
// A nil classifier uses the default thresholds.
func NewEvaluator(symbol string, window int, params indicator.Params, cl *signal.Classifier) *Evaluator {
	if cl == nil {
		cl = signal.NewClassifier(signal.DefaultThresholds())
	}
	if window < params.MinLen {
		window = params.MinLen
	}
	return &Evaluator{
		symbol:     symbol,
		window:     window,
		params:     params,
		classifier: cl,
		candles:    make([]model.Candle, 0, window),
	}
}

// Step appends c and classifies the window. ok is false until the window
// holds enough candles.
func (e *Evaluator) Step(c model.Candle) (p Point, ok bool) {
	if len(e.candles) == e.window {
		copy(e.candles, e.candles[1:])
		e.candles = e.candles[:e.window-1]
	}
	e.candles = append(e.candles, c)

	snap, err := indicator.Compute(model.PriceSeries{Instrument: e.symbol, Candles: e.candles}, e.params)
	if err != nil {
		return Point{}, false
	}
	sig, rule := e.classifier.Classify(snap)
	return Point{TS: c.TS, Signal: sig, Rule: rule, Snapshot: snap}, true
}
