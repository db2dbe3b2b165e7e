package indicator

import "math"

// RSISmoothing selects how average gain and loss are carried forward.
type RSISmoothing int

const (
	// RSISimple averages gains and losses over the trailing period deltas.
	RSISimple RSISmoothing = iota
	// RSIWilder seeds with a simple average, then applies Wilder's smoothing.
	RSIWilder
)

// RSI calculates the Relative Strength Index.
// Update is O(1) per price; the simple form keeps the trailing deltas in
// circular buffers.
type RSI struct {
	period    int
	smoothing RSISmoothing
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64

	gains  []float64
	losses []float64
	idx    int
}

// NewRSI creates an RSI with the given period (typically 14) using the
// trailing simple average.
func NewRSI(period int) *RSI {
	return NewRSIWith(period, RSISimple)
}

// NewRSIWith creates an RSI with an explicit smoothing method.
func NewRSIWith(period int, smoothing RSISmoothing) *RSI {
	r := &RSI{period: period, smoothing: smoothing}
	if smoothing == RSISimple {
		r.gains = make([]float64, period)
		r.losses = make([]float64, period)
	}
	return r
}

func (r *RSI) Name() string { return "RSI_" + itoa(r.period) }

func (r *RSI) Update(price float64) {
	r.count++
	if r.count == 1 {
		// First price: no delta yet
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	p := float64(r.period)
	if r.smoothing == RSISimple {
		r.avgGain += (gain - r.gains[r.idx]) / p
		r.avgLoss += (loss - r.losses[r.idx]) / p
		r.gains[r.idx], r.losses[r.idx] = gain, loss
		r.idx = (r.idx + 1) % r.period
		return
	}

	if r.count <= r.period+1 {
		// Accumulation phase: build initial averages
		r.avgGain += gain / p
		r.avgLoss += loss / p
		return
	}
	// Wilder's smoothing: avgGain = (prevAvgGain * (period-1) + gain) / period
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
}

// Value returns RSI in [0, 100]. It is NaN until period deltas have been
// seen, and NaN when the window holds neither gains nor losses.
func (r *RSI) Value() float64 {
	if !r.Ready() {
		return math.NaN()
	}
	// Running sums can drift a hair below zero after many evictions.
	gain, loss := math.Max(r.avgGain, 0), math.Max(r.avgLoss, 0)
	if loss <= epsilon {
		if gain <= epsilon {
			return math.NaN()
		}
		return 100.0
	}
	rs := gain / loss
	return clamp(100.0-(100.0/(1.0+rs)), 0, 100)
}

func (r *RSI) Ready() bool { return r.count > r.period }

// epsilon absorbs floating-point residue in rolling sums.
const epsilon = 1e-12

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
