package indicator

import "math"

// EMA calculates an Exponential Moving Average with smoothing 2/(span+1).
//
// Weights are bias-adjusted: the value is the weighted mean of all prices
// seen, with weight (1-α)^i for the price i steps back. The first value is
// therefore the first price, and short series (fewer points than span) give
// a smoothed approximation instead of being undefined.
// O(1) per update.
type EMA struct {
	span  int
	decay float64 // 1 - α
	num   float64 // Σ (1-α)^i · p[n-i]
	den   float64 // Σ (1-α)^i
	count int
}

// NewEMA creates a new EMA indicator with the given span.
func NewEMA(span int) *EMA {
	return &EMA{
		span:  span,
		decay: 1 - 2.0/float64(span+1),
	}
}

func (e *EMA) Name() string { return "EMA_" + itoa(e.span) }

func (e *EMA) Update(price float64) {
	e.num = price + e.decay*e.num
	e.den = 1 + e.decay*e.den
	e.count++
}

func (e *EMA) Value() float64 {
	if e.count == 0 {
		return math.NaN()
	}
	return e.num / e.den
}

// Ready reports whether a full span has been observed. Value is defined
// earlier than that.
func (e *EMA) Ready() bool { return e.count >= e.span }

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.num, e.den, e.count = 0, 0, 0
}
