package model

import "fmt"

// MinSeriesLen is the minimum number of candles required for indicator validity.
const MinSeriesLen = 30

// PriceSeries is a chronological candle sequence for one instrument,
// most recent last.
type PriceSeries struct {
	Instrument string
	Candles    []Candle
}

// Len returns the number of candles.
func (s PriceSeries) Len() int { return len(s.Candles) }

// Last returns the most recent candle. It panics on an empty series.
func (s PriceSeries) Last() Candle { return s.Candles[len(s.Candles)-1] }

// Closes returns the close prices in chronological order.
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Close
	}
	return out
}

// Volumes returns per-candle volumes, or nil if any candle lacks volume.
func (s PriceSeries) Volumes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		if c.Volume == nil {
			return nil
		}
		out[i] = *c.Volume
	}
	return out
}

// Tail returns a series holding at most the n most recent candles.
func (s PriceSeries) Tail(n int) PriceSeries {
	if n <= 0 || len(s.Candles) <= n {
		return s
	}
	return PriceSeries{Instrument: s.Instrument, Candles: s.Candles[len(s.Candles)-n:]}
}

// Validate returns ErrDataUnavailable when the series is shorter than min
// or not in chronological order.
func (s PriceSeries) Validate(min int) error {
	if len(s.Candles) < min {
		return &SourceError{
			Instrument: s.Instrument,
			Err:        fmt.Errorf("%w: %d candles, need %d", ErrDataUnavailable, len(s.Candles), min),
		}
	}
	for i := 1; i < len(s.Candles); i++ {
		if s.Candles[i].TS.Before(s.Candles[i-1].TS) {
			return &SourceError{
				Instrument: s.Instrument,
				Err:        fmt.Errorf("%w: candles out of order at index %d", ErrDataUnavailable, i),
			}
		}
	}
	return nil
}
