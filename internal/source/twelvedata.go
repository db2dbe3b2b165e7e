package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"trading-signal/internal/model"
)

var twelveDataLayouts = []string{"2006-01-02 15:04:05", "2006-01-02"}

// TwelveData fetches 5-minute candles from the TwelveData time_series API.
type TwelveData struct {
	cfg HTTPConfig
}

// NewTwelveData creates a TwelveData provider.
func NewTwelveData(cfg HTTPConfig, timeout time.Duration) *TwelveData {
	cfg.defaults(timeout)
	return &TwelveData{cfg: cfg}
}

// For returns a CandleSource for one TwelveData symbol, e.g. "BTC/USD".
func (t *TwelveData) For(symbol string) model.CandleSource {
	return bound{p: t, symbol: symbol}
}

func (t *TwelveData) name() string { return "twelvedata" }

func (t *TwelveData) fetchSymbol(ctx context.Context, symbol string) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", "5min")
	q.Set("outputsize", strconv.Itoa(t.cfg.OutputSize))
	q.Set("apikey", t.cfg.APIKey)
	u := strings.TrimRight(t.cfg.BaseURL, "/") + "/time_series?" + q.Encode()

	res, err := getJSON(ctx, t.cfg, u, nil)
	if err != nil {
		return nil, err
	}
	return parseTwelveData(res, symbol)
}

// parseTwelveData converts a time_series body into chronological candles.
// Values arrive newest first. Rows that do not parse are skipped.
func parseTwelveData(res gjson.Result, symbol string) ([]model.Candle, error) {
	if res.Get("status").String() == "error" {
		return nil, fmt.Errorf("%w: %s", model.ErrDataUnavailable, res.Get("message").String())
	}
	values := res.Get("values")
	if !values.IsArray() {
		return nil, fmt.Errorf("%w: response has no values", model.ErrDataUnavailable)
	}

	rows := values.Array()
	out := make([]model.Candle, 0, len(rows))
	skipped := 0
	for _, v := range rows {
		c, ok := twelveDataRow(v)
		if !ok {
			skipped++
			continue
		}
		c.Symbol = symbol
		out = append(out, c)
	}
	if skipped > 0 {
		slog.Warn("twelvedata skipped malformed rows", "symbol", symbol, "skipped", skipped)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out, nil
}

func twelveDataRow(v gjson.Result) (model.Candle, bool) {
	ts, ok := parseTime(v.Get("datetime").String())
	if !ok {
		return model.Candle{}, false
	}
	c := model.Candle{Interval: DefaultInterval, TS: ts}
	fields := []*float64{&c.Open, &c.High, &c.Low, &c.Close}
	for i, key := range []string{"open", "high", "low", "close"} {
		f, ok := number(v.Get(key))
		if !ok {
			return model.Candle{}, false
		}
		*fields[i] = f
	}
	if vol, ok := number(v.Get("volume")); ok {
		c.Volume = model.Float(vol)
	}
	if c.Validate() != nil {
		return model.Candle{}, false
	}
	return c, true
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range twelveDataLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// number reads a JSON number or numeric string.
func number(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Num, true
	case gjson.String:
		f, err := strconv.ParseFloat(r.Str, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
