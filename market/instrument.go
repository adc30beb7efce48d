package market

import (
	"fmt"
	"strconv"
)

// Instrument describes one tradable symbol and the parameters the feed
// uses to simulate its price.
type Instrument struct {
	Symbol    string // e.g. "BTC/USD"
	Precision int    // display decimals

	BasePrice  float64 // starting price for the simulator
	Volatility float64 // fraction, e.g. 0.02
	Drift      float64 // fraction, e.g. 0.001

	// Volume range for generated samples; independent of price.
	VolumeMin float64
	VolumeMax float64
}

// FormatPrice renders a price for display at the instrument's precision.
// Authoritative values are never rounded; this is presentation only.
func (i Instrument) FormatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', i.Precision, 64)
}

func (i Instrument) String() string {
	return fmt.Sprintf("%s (prec=%d)", i.Symbol, i.Precision)
}
