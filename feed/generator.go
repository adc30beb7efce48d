package feed

import (
	"math/rand"
	"time"

	"github.com/rustyeddy/papertrade/market"
)

// DefaultDriftBias is the offset subtracted from the uniform drift term,
// skewing generated prices slightly upward. Purely cosmetic; configurable.
const DefaultDriftBias = 0.4

// Generator produces the next synthetic price sample for an instrument
// from its previous price using a bounded random walk with drift.
//
// The random source is injected so tests can assert bounds
// deterministically.
type Generator struct {
	rnd       *rand.Rand
	driftBias float64
}

func NewGenerator(rnd *rand.Rand, driftBias float64) *Generator {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{rnd: rnd, driftBias: driftBias}
}

// Next computes the next quote for inst given the previous price. It is
// total over its domain: a non-positive prev is clamped to the
// instrument's base price rather than rejected.
func (g *Generator) Next(inst market.Instrument, prev float64, now time.Time) market.Quote {
	if prev <= 0 {
		prev = inst.BasePrice
	}

	r1 := 2*g.rnd.Float64() - 1 // uniform in [-1, 1]
	r2 := g.rnd.Float64() - g.driftBias
	delta := prev*inst.Volatility*r1 + prev*inst.Drift*r2

	price := prev + delta
	if floor := prev * 0.01; price < floor {
		price = floor
	}

	volume := inst.VolumeMin
	if inst.VolumeMax > inst.VolumeMin {
		volume += g.rnd.Float64() * (inst.VolumeMax - inst.VolumeMin)
	}

	return market.Quote{
		Instrument:   inst.Symbol,
		Price:        price,
		Delta:        price - prev,
		PercentDelta: (price - prev) / prev * 100,
		Volume:       volume,
		Time:         now,
	}
}
