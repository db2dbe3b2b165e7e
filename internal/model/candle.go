package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Candle is a fixed-interval OHLC summary for one instrument.
// Volume is nil for instruments without exchange volume (spot gold, FX).
type Candle struct {
	Symbol   string
	Interval time.Duration
	TS       time.Time // emission time (UTC)
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   *float64
}

// candleWire is the persisted window layout: {time, open, high, low, close, volume?}.
type candleWire struct {
	Time   int64    `json:"time"`
	Open   float64  `json:"open"`
	High   float64  `json:"high"`
	Low    float64  `json:"low"`
	Close  float64  `json:"close"`
	Volume *float64 `json:"volume,omitempty"`
}

// MarshalJSON encodes the candle in the persisted window layout.
func (c Candle) MarshalJSON() ([]byte, error) {
	return json.Marshal(candleWire{
		Time:   c.TS.Unix(),
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
	})
}

// UnmarshalJSON decodes the persisted window layout. Symbol and Interval are
// not part of the wire format and are left for the caller to fill in.
func (c *Candle) UnmarshalJSON(b []byte) error {
	var w candleWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	c.TS = time.Unix(w.Time, 0).UTC()
	c.Open, c.High, c.Low, c.Close = w.Open, w.High, w.Low, w.Close
	c.Volume = w.Volume
	return nil
}

// Validate checks low <= {open, close} <= high.
func (c *Candle) Validate() error {
	if c.Low > c.Open || c.Low > c.Close || c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("candle %s@%d: ohlc out of range (o=%.4f h=%.4f l=%.4f c=%.4f)",
			c.Symbol, c.TS.Unix(), c.Open, c.High, c.Low, c.Close)
	}
	return nil
}

// Key returns the rolling-window key for this candle's symbol and interval.
func (c *Candle) Key() string {
	return WindowKey(c.Symbol, c.Interval)
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// WindowKey returns "candle:{SYMBOL}:{label}", e.g. "candle:XAUUSD:M5".
func WindowKey(symbol string, interval time.Duration) string {
	return "candle:" + strings.ToUpper(symbol) + ":" + IntervalLabel(interval)
}

// IntervalLabel renders an interval the way chart tools label timeframes:
// seconds as S, minutes as M, hours as H.
func IntervalLabel(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return "H" + itoa(int(d/time.Hour))
	case d >= time.Minute && d%time.Minute == 0:
		return "M" + itoa(int(d/time.Minute))
	default:
		return "S" + itoa(int(d/time.Second))
	}
}

// Float returns a pointer to v, for optional volume fields.
func Float(v float64) *float64 { return &v }

// itoa is a minimal int-to-string without importing strconv in hot path.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
