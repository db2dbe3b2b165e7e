package indicator

import (
	"math"

	"trading-signal/internal/model"
)

// Params configures Compute. Use DefaultParams and override fields.
type Params struct {
	MinLen int // series shorter than this are ErrDataUnavailable

	RSIPeriod    int
	RSISmoothing RSISmoothing
	RSIDefault   float64 // used when RSI is undefined (no gains and no losses)

	MACDFast, MACDSlow, MACDSignal int

	BollPeriod      int
	BollK           float64
	BollFallbackPct float64 // price·(1±pct) when fewer than BollPeriod points

	EMALong int

	ZonePeriod      int
	ZoneSensitivity float64

	MAFast, MASlow int

	VolumeLookback     int
	VolumeSpikeFactor  float64
	VolumeSpikeDefault bool // used when the series carries no volume
}

// DefaultParams returns the standard 14/12-26-9/20x2/200 configuration.
func DefaultParams() Params {
	return Params{
		MinLen:             model.MinSeriesLen,
		RSIPeriod:          14,
		RSISmoothing:       RSISimple,
		RSIDefault:         50,
		MACDFast:           12,
		MACDSlow:           26,
		MACDSignal:         9,
		BollPeriod:         20,
		BollK:              2,
		BollFallbackPct:    0.05,
		EMALong:            200,
		ZonePeriod:         20,
		ZoneSensitivity:    0.003,
		MAFast:             20,
		MASlow:             50,
		VolumeLookback:     3,
		VolumeSpikeFactor:  1.3,
		VolumeSpikeDefault: false,
	}
}

// Compute derives an IndicatorSnapshot from series. It is pure: the same
// series and params always give the same snapshot. Series shorter than
// p.MinLen, or out of chronological order, return ErrDataUnavailable.
func Compute(series model.PriceSeries, p Params) (model.IndicatorSnapshot, error) {
	if err := series.Validate(p.MinLen); err != nil {
		return model.IndicatorSnapshot{}, err
	}
	closes := series.Closes()
	price := closes[len(closes)-1]

	rsi := NewRSIWith(p.RSIPeriod, p.RSISmoothing)
	macd := NewMACD(p.MACDFast, p.MACDSlow, p.MACDSignal)
	ema := NewEMA(p.EMALong)
	boll := NewStdDev(p.BollPeriod)
	fast := NewSMA(p.MAFast)
	slow := NewSMA(p.MASlow)

	// One pass over the series feeds every indicator.
	for _, c := range closes {
		rsi.Update(c)
		macd.Update(c)
		ema.Update(c)
		boll.Update(c)
		fast.Update(c)
		slow.Update(c)
	}

	snap := model.IndicatorSnapshot{
		RSI:         rsi.Value(),
		MACD:        macd.Value(),
		MACDSignal:  macd.Signal(),
		EMA200:      ema.Value(),
		Trend:       DetectTrend(closes),
		Zone:        DetectZone(closes, p.ZonePeriod, p.ZoneSensitivity),
		MACross:     maCross(fast, slow),
		VolumeSpike: DetectVolumeSpike(series.Volumes(), p.VolumeLookback, p.VolumeSpikeFactor, p.VolumeSpikeDefault),
		Price:       price,
	}
	if math.IsNaN(snap.RSI) {
		snap.RSI = p.RSIDefault
	}

	if boll.Ready() {
		mean, sd := boll.Mean(), boll.Value()
		snap.BollUpper = mean + p.BollK*sd
		snap.BollLower = mean - p.BollK*sd
	} else {
		snap.BollUpper = price * (1 + p.BollFallbackPct)
		snap.BollLower = price * (1 - p.BollFallbackPct)
	}
	return snap, nil
}

// DetectTrend compares the last three closes: strictly increasing is
// bullish, strictly decreasing is bearish, anything else neutral.
func DetectTrend(closes []float64) model.Trend {
	n := len(closes)
	if n < 3 {
		return model.TrendNeutral
	}
	a, b, c := closes[n-3], closes[n-2], closes[n-1]
	switch {
	case a < b && b < c:
		return model.TrendBullish
	case a > b && b > c:
		return model.TrendBearish
	default:
		return model.TrendNeutral
	}
}

// DetectZone places the last close against the mean of the trailing
// period closes widened by ±sensitivity. At or above the upper band is
// resistance, at or below the lower band is support.
func DetectZone(closes []float64, period int, sensitivity float64) model.Zone {
	if len(closes) == 0 {
		return model.ZoneMiddle
	}
	recent := closes
	if len(recent) > period {
		recent = recent[len(recent)-period:]
	}
	var sum float64
	for _, c := range recent {
		sum += c
	}
	mean := sum / float64(len(recent))
	price := closes[len(closes)-1]

	switch {
	case price >= mean*(1+sensitivity):
		return model.ZoneResistance
	case price <= mean*(1-sensitivity):
		return model.ZoneSupport
	default:
		return model.ZoneMiddle
	}
}

// DetectVolumeSpike reports whether the last volume exceeds factor times
// the mean of the lookback volumes before it. Without enough volume data it
// returns def.
func DetectVolumeSpike(volumes []float64, lookback int, factor float64, def bool) bool {
	if lookback <= 0 || len(volumes) < lookback+1 {
		return def
	}
	prev := volumes[len(volumes)-lookback-1 : len(volumes)-1]
	var sum float64
	for _, v := range prev {
		sum += v
	}
	return volumes[len(volumes)-1] > factor*sum/float64(lookback)
}

// maCross is bullish when the fast SMA is above the slow one. An undefined
// slow SMA (fewer points than its period) is bearish.
func maCross(fast, slow *SMA) model.MACross {
	if fast.Ready() && slow.Ready() && fast.Value() > slow.Value() {
		return model.CrossBullish
	}
	return model.CrossBearish
}
