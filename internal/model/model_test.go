package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func flatSeries(n int, price float64) PriceSeries {
	base := time.Unix(1700000000, 0).UTC()
	s := PriceSeries{Instrument: "XAUUSD"}
	for i := 0; i < n; i++ {
		s.Candles = append(s.Candles, Candle{
			Symbol: "XAUUSD", Interval: 5 * time.Minute,
			TS:   base.Add(time.Duration(i) * 5 * time.Minute),
			Open: price, High: price, Low: price, Close: price,
		})
	}
	return s
}

func TestPriceSeries_Validate_Boundary(t *testing.T) {
	if err := flatSeries(29, 100).Validate(MinSeriesLen); !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("29 candles: expected ErrDataUnavailable, got %v", err)
	}
	if err := flatSeries(30, 100).Validate(MinSeriesLen); err != nil {
		t.Fatalf("30 candles: expected nil, got %v", err)
	}
}

func TestPriceSeries_Validate_OutOfOrder(t *testing.T) {
	s := flatSeries(30, 100)
	s.Candles[10].TS = s.Candles[9].TS.Add(-time.Minute)

	err := s.Validate(MinSeriesLen)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	var se *SourceError
	if !errors.As(err, &se) || se.Instrument != "XAUUSD" {
		t.Errorf("expected SourceError for XAUUSD, got %#v", err)
	}
}

func TestPriceSeries_Volumes(t *testing.T) {
	s := flatSeries(3, 100)
	if s.Volumes() != nil {
		t.Error("expected nil volumes when candles lack volume")
	}
	for i := range s.Candles {
		s.Candles[i].Volume = Float(float64(i + 1))
	}
	vols := s.Volumes()
	if len(vols) != 3 || vols[2] != 3 {
		t.Errorf("unexpected volumes %v", vols)
	}
}

func TestPriceSeries_Tail(t *testing.T) {
	s := flatSeries(10, 100)
	tail := s.Tail(4)
	if tail.Len() != 4 {
		t.Fatalf("expected 4 candles, got %d", tail.Len())
	}
	if !tail.Candles[0].TS.Equal(s.Candles[6].TS) {
		t.Error("tail should keep the most recent candles")
	}
	if s.Tail(50).Len() != 10 {
		t.Error("tail larger than series should return the series")
	}
}

func TestCandle_JSONLayout(t *testing.T) {
	c := Candle{
		Symbol: "XAUUSD", Interval: 5 * time.Minute,
		TS:   time.Unix(1700000300, 0).UTC(),
		Open: 100, High: 102, Low: 99, Close: 102,
	}
	raw := string(c.JSON())
	if raw != `{"time":1700000300,"open":100,"high":102,"low":99,"close":102}` {
		t.Fatalf("unexpected wire layout: %s", raw)
	}

	var back Candle
	if err := json.Unmarshal([]byte(`{"time":1700000300,"open":1,"high":3,"low":0.5,"close":2,"volume":42}`), &back); err != nil {
		t.Fatal(err)
	}
	if back.Volume == nil || *back.Volume != 42 {
		t.Errorf("expected volume 42, got %v", back.Volume)
	}
	if back.TS.Unix() != 1700000300 {
		t.Errorf("expected ts 1700000300, got %d", back.TS.Unix())
	}
}

func TestCandle_Validate(t *testing.T) {
	good := Candle{Open: 100, High: 102, Low: 99, Close: 101}
	if err := good.Validate(); err != nil {
		t.Errorf("expected valid candle, got %v", err)
	}
	bad := Candle{Open: 100, High: 99, Low: 98, Close: 101}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for close above high")
	}
}

func TestWindowKey(t *testing.T) {
	cases := []struct {
		sym  string
		d    time.Duration
		want string
	}{
		{"xauusd", 5 * time.Minute, "candle:XAUUSD:M5"},
		{"BTC", time.Hour, "candle:BTC:H1"},
		{"ETH", 30 * time.Second, "candle:ETH:S30"},
	}
	for _, tc := range cases {
		if got := WindowKey(tc.sym, tc.d); got != tc.want {
			t.Errorf("WindowKey(%s, %v) = %s, want %s", tc.sym, tc.d, got, tc.want)
		}
	}
}

func TestParseSignalType(t *testing.T) {
	for _, s := range []string{"STRONG_BUY", "WEAK_BUY", "STRONG_SELL", "WEAK_SELL", "NEUTRAL"} {
		if _, err := ParseSignalType(s); err != nil {
			t.Errorf("%s: unexpected error %v", s, err)
		}
	}
	if _, err := ParseSignalType("HOLD"); err == nil {
		t.Error("expected error for unknown signal")
	}
}

func TestErrors_Taxonomy(t *testing.T) {
	if !errors.Is(ErrSourceTimeout, ErrDataUnavailable) {
		t.Error("timeout must be treated as data unavailable")
	}
	err := &SourceError{Source: "twelvedata", Instrument: "BTC", Err: ErrSourceTimeout}
	if !errors.Is(err, ErrDataUnavailable) {
		t.Error("SourceError should unwrap to its cause")
	}
	if !strings.HasPrefix(err.Error(), "twelvedata BTC: ") {
		t.Errorf("unexpected message %q", err.Error())
	}
}
