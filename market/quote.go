package market

import "time"

// Quote is one timestamped price observation for an instrument.
// Quotes are immutable once emitted; Time is strictly increasing
// per instrument.
type Quote struct {
	Instrument   string
	Price        float64
	Delta        float64 // price change vs the previous quote
	PercentDelta float64 // Delta / previous price * 100
	Volume       float64
	Time         time.Time
}

// QuoteHandler receives quotes from a subscription.
type QuoteHandler func(Quote)
