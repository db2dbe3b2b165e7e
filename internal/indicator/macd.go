package indicator

import "math"

// MACD is the fast-minus-slow EMA line with its own EMA as signal line.
type MACD struct {
	fast, slow, signal *EMA
	line               float64
}

// NewMACD creates a MACD with the given spans (typically 12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
		line:   math.NaN(),
	}
}

func (m *MACD) Name() string {
	return "MACD_" + itoa(m.fast.span) + "_" + itoa(m.slow.span) + "_" + itoa(m.signal.span)
}

func (m *MACD) Update(price float64) {
	m.fast.Update(price)
	m.slow.Update(price)
	m.line = m.fast.Value() - m.slow.Value()
	m.signal.Update(m.line)
}

// Value returns the MACD line.
func (m *MACD) Value() float64 { return m.line }

// Signal returns the signal line.
func (m *MACD) Signal() float64 { return m.signal.Value() }

func (m *MACD) Ready() bool { return m.slow.Ready() }
