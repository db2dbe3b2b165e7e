package indicator

import "math"

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
type SMA struct {
	period int
	buf    []float64 // preallocated circular buffer
	idx    int       // current write position
	count  int       // total values received
	sum    float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMA) Name() string { return "SMA_" + itoa(s.period) }

func (s *SMA) Update(price float64) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}
	s.buf[s.idx] = price
	s.sum += price
	s.idx = (s.idx + 1) % s.period
	s.count++
}

// Value returns the window mean, or NaN until period prices have been seen.
func (s *SMA) Value() float64 {
	if !s.Ready() {
		return math.NaN()
	}
	return s.sum / float64(s.period)
}

func (s *SMA) Ready() bool { return s.count >= s.period }

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}

// StdDev is the rolling sample standard deviation (n-1 denominator) over a
// window. It wraps an SMA so the mean and the window share one buffer.
type StdDev struct {
	sma *SMA
}

// NewStdDev creates a rolling standard deviation over period prices.
func NewStdDev(period int) *StdDev {
	return &StdDev{sma: NewSMA(period)}
}

func (d *StdDev) Name() string { return "STDDEV_" + itoa(d.sma.period) }

func (d *StdDev) Update(price float64) { d.sma.Update(price) }

func (d *StdDev) Ready() bool { return d.sma.Ready() && d.sma.period > 1 }

// Value recomputes the deviation over the buffered window.
func (d *StdDev) Value() float64 {
	if !d.Ready() {
		return math.NaN()
	}
	mean := d.sma.Value()
	var ss float64
	for _, p := range d.sma.buf {
		ss += (p - mean) * (p - mean)
	}
	return math.Sqrt(ss / float64(d.sma.period-1))
}

// Mean returns the window mean.
func (d *StdDev) Mean() float64 { return d.sma.Value() }
