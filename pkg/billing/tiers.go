package billing

import (
	"math"

	"github.com/tariffdeck/tariffdeck/pkg/types"
)

// tieredDemandCharge integrates billed demand through the determinant's
// tiers: each tier prices the kW that falls inside its width, and the final
// unbounded tier absorbs whatever remains.
func tieredDemandCharge(kw float64, tiers []types.DemandTier) float64 {
	remaining := kw
	prev := 0.0
	var cost float64
	for _, t := range tiers {
		if remaining <= 0 {
			break
		}
		if t.UpToKW == nil {
			cost += remaining * t.PricePerKW
			remaining = 0
			break
		}
		width := *t.UpToKW - prev
		take := math.Min(remaining, width)
		if take > 0 {
			cost += take * t.PricePerKW
			remaining -= take
		}
		prev = *t.UpToKW
	}
	return cost
}

// marginalTierPrice returns the tier price in effect at the given demand
// level. Demand beyond every finite threshold prices at the last tier.
func marginalTierPrice(kw float64, tiers []types.DemandTier) float64 {
	if len(tiers) == 0 {
		return 0
	}
	for _, t := range tiers {
		if t.UpToKW == nil || kw <= *t.UpToKW {
			return t.PricePerKW
		}
	}
	return tiers[len(tiers)-1].PricePerKW
}
