package signal

import "trading-signal/internal/model"

var messages = map[model.SignalType]string{
	model.StrongBuy:  "STRONG BUY: support zone, bullish trend, MA cross and volume all confirm.",
	model.WeakBuy:    "BUY signal: some bullish indicators align, caution advised. Monitor closely.",
	model.StrongSell: "STRONG SELL: resistance zone, bearish MA cross and MACD down. High conviction short.",
	model.WeakSell:   "SELL signal: weak bearish setup forming, partial confirmation. Monitor further.",
	model.Neutral:    "No clear signal.",
}

// Message returns the fixed display text for a signal type.
func Message(t model.SignalType) string {
	if m, ok := messages[t]; ok {
		return m
	}
	return "No signal available."
}
