// Package signalsvc answers signal requests: it resolves the instrument,
// serves a fresh cached signal or runs fetch → indicators → classify and
// caches the outcome.
package signalsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"trading-signal/internal/cache"
	"trading-signal/internal/indicator"
	"trading-signal/internal/logger"
	"trading-signal/internal/model"
	"trading-signal/internal/signal"
)

// Sources resolves instruments and fetches their series. Lookup must fail
// with model.ErrInvalidInstrument for unknown instruments without doing
// any I/O.
type Sources interface {
	model.CandleSource
	Lookup(instrument string) (model.CandleSource, error)
}

// Result is the answer to a signal request.
type Result struct {
	Instrument string           `json:"instrument"`
	Signal     model.SignalType `json:"signal"`
	Message    string           `json:"message"`
	Price      float64          `json:"price"`
	ComputedAt time.Time        `json:"computedAt"`
	Cached     bool             `json:"cached"`
}

// Hooks are optional observers, typically wired to metrics.
type Hooks struct {
	OnComputed    func(instrument string, sig model.SignalType, rule string, took time.Duration)
	OnUnavailable func(instrument string)
}

// Options configures a Service.
type Options struct {
	Params indicator.Params
	Hooks  Hooks
}

// Service is safe for concurrent use.
type Service struct {
	sources    Sources
	cache      *cache.SignalCache
	classifier *signal.Classifier
	params     indicator.Params
	hooks      Hooks
}

// New creates a Service. A zero Params takes indicator.DefaultParams.
func New(sources Sources, c *cache.SignalCache, cl *signal.Classifier, opts Options) *Service {
	if opts.Params.MinLen == 0 {
		opts.Params = indicator.DefaultParams()
	}
	if cl == nil {
		cl = signal.NewClassifier(signal.DefaultThresholds())
	}
	return &Service{
		sources:    sources,
		cache:      c,
		classifier: cl,
		params:     opts.Params,
		hooks:      opts.Hooks,
	}
}

// GetSignal returns the signal for instrument, from cache when fresh.
// Errors are model.ErrInvalidInstrument or ErrDataUnavailable-compatible.
func (s *Service) GetSignal(ctx context.Context, instrument string) (Result, error) {
	inst, err := s.resolve(instrument)
	if err != nil {
		return Result{}, err
	}

	res, err := s.cache.GetOrCompute(ctx, inst, func(ctx context.Context) (model.SignalType, float64, error) {
		return s.compute(ctx, inst)
	})
	if err != nil {
		if errors.Is(err, model.ErrDataUnavailable) && s.hooks.OnUnavailable != nil {
			s.hooks.OnUnavailable(inst)
		}
		slog.Warn("signal unavailable", append(logger.LogWithTrace(ctx), "instrument", inst, "error", err)...)
		return Result{}, err
	}

	return Result{
		Instrument: inst,
		Signal:     res.Entry.Signal,
		Message:    signal.Message(res.Entry.Signal),
		Price:      res.Entry.Price,
		ComputedAt: res.Entry.ComputedAt,
		Cached:     res.Cached,
	}, nil
}

// Reset drops the cached signal for instrument.
func (s *Service) Reset(ctx context.Context, instrument string) error {
	inst, err := s.resolve(instrument)
	if err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, inst)
}

func (s *Service) resolve(instrument string) (string, error) {
	inst := strings.ToUpper(strings.TrimSpace(instrument))
	if inst == "" {
		return "", fmt.Errorf("%w: empty instrument", model.ErrInvalidInstrument)
	}
	if _, err := s.sources.Lookup(inst); err != nil {
		return "", err
	}
	return inst, nil
}

func (s *Service) compute(ctx context.Context, inst string) (model.SignalType, float64, error) {
	start := time.Now()
	series, err := s.sources.Fetch(ctx, inst)
	if err != nil {
		return "", 0, err
	}
	snap, err := indicator.Compute(series, s.params)
	if err != nil {
		return "", 0, err
	}
	sig, rule := s.classifier.Classify(snap)

	slog.Info("signal computed", append(logger.LogWithTrace(ctx),
		"instrument", inst,
		"rsi", snap.RSI,
		"macd", snap.MACD,
		"macd_signal", snap.MACDSignal,
		"trend", snap.Trend,
		"zone", snap.Zone,
		"ma_cross", snap.MACross,
		"ema200", snap.EMA200,
		"volume_spike", snap.VolumeSpike,
		"price", snap.Price,
		"signal", sig,
		"rule", rule,
	)...)

	if s.hooks.OnComputed != nil {
		s.hooks.OnComputed(inst, sig, rule, time.Since(start))
	}
	return sig, snap.Price, nil
}
