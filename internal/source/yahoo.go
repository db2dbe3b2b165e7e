package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"trading-signal/internal/model"
)

// Yahoo fetches 5-minute candles from the Yahoo Finance chart API
// (interval=5m, range=2d), keeping the most recent OutputSize rows.
type Yahoo struct {
	cfg HTTPConfig
}

// NewYahoo creates a Yahoo chart provider.
func NewYahoo(cfg HTTPConfig, timeout time.Duration) *Yahoo {
	cfg.defaults(timeout)
	return &Yahoo{cfg: cfg}
}

// For returns a CandleSource for one Yahoo ticker, e.g. "GC=F".
func (y *Yahoo) For(symbol string) model.CandleSource {
	return bound{p: y, symbol: symbol}
}

func (y *Yahoo) name() string { return "yahoo" }

func (y *Yahoo) fetchSymbol(ctx context.Context, symbol string) ([]model.Candle, error) {
	u := strings.TrimRight(y.cfg.BaseURL, "/") + "/v8/finance/chart/" + url.PathEscape(symbol) + "?interval=5m&range=2d"
	header := http.Header{}
	header.Set("User-Agent", "Mozilla/5.0")

	res, err := getJSON(ctx, y.cfg, u, header)
	if err != nil {
		return nil, err
	}
	candles, err := parseYahoo(res, symbol)
	if err != nil {
		return nil, err
	}
	if n := y.cfg.OutputSize; len(candles) > n {
		candles = candles[len(candles)-n:]
	}
	return candles, nil
}

// parseYahoo converts a chart body into candles. Rows with a null close
// (no trades in the bucket) are skipped.
func parseYahoo(res gjson.Result, symbol string) ([]model.Candle, error) {
	if e := res.Get("chart.error"); e.Exists() && e.Type != gjson.Null {
		return nil, fmt.Errorf("%w: %s", model.ErrDataUnavailable, e.Get("description").String())
	}
	r := res.Get("chart.result.0")
	stamps := r.Get("timestamp").Array()
	quote := r.Get("indicators.quote.0")
	if len(stamps) == 0 || !quote.Exists() {
		return nil, fmt.Errorf("%w: empty chart", model.ErrDataUnavailable)
	}

	opens := quote.Get("open").Array()
	highs := quote.Get("high").Array()
	lows := quote.Get("low").Array()
	closes := quote.Get("close").Array()
	vols := quote.Get("volume").Array()

	at := func(col []gjson.Result, i int) (float64, bool) {
		if i >= len(col) || col[i].Type != gjson.Number {
			return 0, false
		}
		return col[i].Num, true
	}

	out := make([]model.Candle, 0, len(stamps))
	for i, ts := range stamps {
		cl, ok := at(closes, i)
		if !ok {
			continue
		}
		c := model.Candle{
			Symbol:   symbol,
			Interval: DefaultInterval,
			TS:       time.Unix(ts.Int(), 0).UTC(),
			Open:     cl, High: cl, Low: cl, Close: cl,
		}
		if v, ok := at(opens, i); ok {
			c.Open = v
		}
		if v, ok := at(highs, i); ok {
			c.High = v
		}
		if v, ok := at(lows, i); ok {
			c.Low = v
		}
		if v, ok := at(vols, i); ok {
			c.Volume = model.Float(v)
		}
		if c.Validate() != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
