package model

import (
	"fmt"
	"time"
)

// Trend is the direction of the last three closes.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// Zone places the current price relative to the recent mean band.
type Zone string

const (
	ZoneSupport    Zone = "support"
	ZoneResistance Zone = "resistance"
	ZoneMiddle     Zone = "middle"
)

// MACross is the SMA20 vs SMA50 relationship.
type MACross string

const (
	CrossBullish MACross = "bullish"
	CrossBearish MACross = "bearish"
)

// IndicatorSnapshot is derived fresh from a PriceSeries and never mutated.
type IndicatorSnapshot struct {
	RSI         float64 `json:"rsi"`
	MACD        float64 `json:"macd"`
	MACDSignal  float64 `json:"macd_signal"`
	BollUpper   float64 `json:"boll_upper"`
	BollLower   float64 `json:"boll_lower"`
	EMA200      float64 `json:"ema200"`
	Trend       Trend   `json:"trend"`
	Zone        Zone    `json:"zone"`
	MACross     MACross `json:"ma_cross"`
	VolumeSpike bool    `json:"volume_spike"`
	Price       float64 `json:"price"`
}

// SignalType is the discrete trade-signal state.
type SignalType string

const (
	StrongBuy  SignalType = "STRONG_BUY"
	WeakBuy    SignalType = "WEAK_BUY"
	StrongSell SignalType = "STRONG_SELL"
	WeakSell   SignalType = "WEAK_SELL"
	Neutral    SignalType = "NEUTRAL"
)

// ParseSignalType validates a stored signal string.
func ParseSignalType(s string) (SignalType, error) {
	switch t := SignalType(s); t {
	case StrongBuy, WeakBuy, StrongSell, WeakSell, Neutral:
		return t, nil
	}
	return "", fmt.Errorf("unknown signal type %q", s)
}

// CacheEntry is the last computed signal for one instrument.
type CacheEntry struct {
	Instrument string
	Signal     SignalType
	Price      float64
	ComputedAt time.Time
}
