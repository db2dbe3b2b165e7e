package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trading-signal/internal/model"
)

// MetalsQuote reads a real-time spot price from metals-api.com
// (latest?base=USD&symbols=XAU → rates.USDXAU), rounded to cents.
type MetalsQuote struct {
	cfg HTTPConfig
}

// NewMetalsQuote creates a spot-price quote source.
func NewMetalsQuote(cfg HTTPConfig, timeout time.Duration) *MetalsQuote {
	cfg.defaults(timeout)
	return &MetalsQuote{cfg: cfg}
}

// Quote returns the USD price for a metal instrument such as "XAUUSD".
func (m *MetalsQuote) Quote(ctx context.Context, instrument string) (float64, error) {
	metal := strings.TrimSuffix(strings.ToUpper(instrument), "USD")
	q := url.Values{}
	q.Set("access_key", m.cfg.APIKey)
	q.Set("base", "USD")
	q.Set("symbols", metal)
	u := strings.TrimRight(m.cfg.BaseURL, "/") + "/latest?" + q.Encode()

	res, err := getJSON(ctx, m.cfg, u, nil)
	if err != nil {
		return 0, wrapErr("metals", instrument, err)
	}
	rate := res.Get("rates.USD" + metal)
	if !rate.Exists() {
		return 0, wrapErr("metals", instrument, fmt.Errorf("%w: no USD%s rate", model.ErrDataUnavailable, metal))
	}
	p, ok := number(rate)
	if !ok || p <= 0 {
		return 0, wrapErr("metals", instrument, fmt.Errorf("%w: bad USD%s rate %q", model.ErrDataUnavailable, metal, rate.Raw))
	}
	rounded, _ := decimal.NewFromFloat(p).Round(2).Float64()
	return rounded, nil
}

// Override replaces the most recent close of a bulk series with a live
// quote. A failing quote is logged and the bulk series is returned as is.
type Override struct {
	bulk  model.CandleSource
	quote model.QuoteSource
}

// WithOverride wraps bulk so its last close comes from quote.
func WithOverride(bulk model.CandleSource, quote model.QuoteSource) *Override {
	return &Override{bulk: bulk, quote: quote}
}

func (o *Override) Fetch(ctx context.Context, instrument string) (model.PriceSeries, error) {
	s, err := o.bulk.Fetch(ctx, instrument)
	if err != nil || s.Len() == 0 {
		return s, err
	}
	p, err := o.quote.Quote(ctx, instrument)
	if err != nil {
		slog.Warn("quote override skipped", "instrument", instrument, "error", err)
		return s, nil
	}

	candles := make([]model.Candle, len(s.Candles))
	copy(candles, s.Candles)
	last := &candles[len(candles)-1]
	last.Close = p
	if p > last.High {
		last.High = p
	}
	if p < last.Low {
		last.Low = p
	}
	slog.Debug("quote override applied", "instrument", instrument, "price", p)
	return model.PriceSeries{Instrument: s.Instrument, Candles: candles}, nil
}
