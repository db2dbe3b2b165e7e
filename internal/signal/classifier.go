// Package signal reduces an indicator snapshot to a discrete SignalType.
//
// Classification is an ordered rule table evaluated top-to-bottom: the first
// rule whose condition holds decides the signal. The table always ends in
// catch-all rules, so exactly one rule matches any snapshot.
package signal

import "trading-signal/internal/model"

// Thresholds are the RSI cutoffs used by the rule table.
type Thresholds struct {
	BuyRSIMax  float64 // strong buy requires RSI below this
	SellRSIMin float64 // strong sell requires RSI above this
	NeutralRSI float64 // catch-all: RSI below this is a weak buy
}

// DefaultThresholds returns the 40/60 set with a 50 catch-all.
func DefaultThresholds() Thresholds {
	return Thresholds{BuyRSIMax: 40, SellRSIMin: 60, NeutralRSI: 50}
}

// Rule is one row of the decision table.
type Rule struct {
	Name string
	When func(s model.IndicatorSnapshot) bool
	Then model.SignalType
}

// Classifier evaluates an ordered rule table. It is stateless after
// construction and safe for concurrent use.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds the standard rule table for the given thresholds.
func NewClassifier(th Thresholds) *Classifier {
	return &Classifier{rules: []Rule{
		{
			Name: "strong_buy",
			When: func(s model.IndicatorSnapshot) bool {
				return s.Zone == model.ZoneSupport && s.RSI < th.BuyRSIMax &&
					s.MACD > s.MACDSignal && s.Trend == model.TrendBullish &&
					s.MACross == model.CrossBullish && s.Price > s.EMA200 && s.VolumeSpike
			},
			Then: model.StrongBuy,
		},
		{
			Name: "strong_sell",
			When: func(s model.IndicatorSnapshot) bool {
				return s.Zone == model.ZoneResistance && s.RSI > th.SellRSIMin &&
					s.MACD < s.MACDSignal && s.Trend == model.TrendBearish &&
					s.MACross == model.CrossBearish && s.Price < s.EMA200 && s.VolumeSpike
			},
			Then: model.StrongSell,
		},
		{
			Name: "weak_buy",
			When: func(s model.IndicatorSnapshot) bool {
				return s.Trend == model.TrendBullish && s.MACD > s.MACDSignal && s.Price > s.EMA200
			},
			Then: model.WeakBuy,
		},
		{
			Name: "weak_sell",
			When: func(s model.IndicatorSnapshot) bool {
				return s.Trend == model.TrendBearish && s.MACD < s.MACDSignal && s.Price < s.EMA200
			},
			Then: model.WeakSell,
		},
		{
			Name: "rsi_below_neutral",
			When: func(s model.IndicatorSnapshot) bool { return s.RSI < th.NeutralRSI },
			Then: model.WeakBuy,
		},
		{
			// RSI == NeutralRSI lands here.
			Name: "default",
			When: func(model.IndicatorSnapshot) bool { return true },
			Then: model.WeakSell,
		},
	}}
}

// NewClassifierWithRules builds a classifier from a custom table. The last
// rule should be a catch-all; if no rule matches, Classify returns Neutral.
func NewClassifierWithRules(rules []Rule) *Classifier {
	return &Classifier{rules: append([]Rule(nil), rules...)}
}

// Classify returns the signal of the first matching rule and that rule's name.
func (c *Classifier) Classify(s model.IndicatorSnapshot) (model.SignalType, string) {
	for _, r := range c.rules {
		if r.When(s) {
			return r.Then, r.Name
		}
	}
	return model.Neutral, ""
}

// Rules returns a copy of the rule table in evaluation order.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}
