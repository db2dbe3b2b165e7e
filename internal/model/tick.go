package model

import "time"

// Tick is a single last-price observation from a live quote feed.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	TS     time.Time `json:"ts"` // UTC receive/exchange time
}
