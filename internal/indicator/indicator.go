// Package indicator provides technical indicator calculations over a close
// price series.
//
// The building blocks (EMA, SMA, RSI, StdDev, MACD) are streaming: each
// receives prices in chronological order with O(1) Update. Compute feeds a
// whole PriceSeries through fresh instances and reduces the result to a
// model.IndicatorSnapshot, so it is a pure function of its input.
package indicator

// Indicator is the interface for all streaming indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA_20", "EMA_200").
	Name() string

	// Update feeds the next close price and recalculates.
	Update(price float64)

	// Value returns the current calculated value. NaN if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// itoa converts int to string without importing strconv.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
