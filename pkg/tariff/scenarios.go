package tariff

import (
	"sort"

	"github.com/tariffdeck/tariffdeck/pkg/types"
)

const (
	// capMarginKW is backed off the peak and off tier thresholds when seeding
	// candidate caps.
	capMarginKW = 0.1

	// maxCandidateCaps bounds downstream simulation cost, not correctness.
	// When exceeded, the lowest and highest halves are kept; values nearest
	// the peak tend to dominate economic impact.
	maxCandidateCaps = 24
)

// GenerateCandidateCapsKW produces a deterministic, ascending list of demand
// caps worth simulating for peak shaving. Seeds are fractions of the observed
// peak plus just-under-threshold values for every finite demand tier. Only
// values in (0, peak] survive.
func GenerateCandidateCapsKW(peakKW float64, tariff types.TariffModel) []float64 {
	var seeds []float64
	if peakKW > 0 {
		seeds = append(seeds, peakKW-capMarginKW, 0.95*peakKW, 0.90*peakKW)
	}
	for _, det := range tariff.DemandDeterminants {
		for _, tier := range det.Tiers {
			if tier.UpToKW != nil {
				seeds = append(seeds, *tier.UpToKW-capMarginKW)
			}
		}
	}

	seen := make(map[float64]bool, len(seeds))
	caps := make([]float64, 0, len(seeds))
	for _, v := range seeds {
		if v <= 0 || v > peakKW || seen[v] {
			continue
		}
		seen[v] = true
		caps = append(caps, v)
	}
	sort.Float64s(caps)

	if len(caps) > maxCandidateCaps {
		half := maxCandidateCaps / 2
		trimmed := make([]float64, 0, maxCandidateCaps)
		trimmed = append(trimmed, caps[:half]...)
		trimmed = append(trimmed, caps[len(caps)-half:]...)
		caps = trimmed
	}
	return caps
}
