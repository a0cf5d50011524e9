// Package tariff resolves rate codes and produces candidate peak-shaving
// scenarios. Identification here is deterministic: no fuzzy matching, no
// document parsing.
package tariff

import (
	"fmt"

	"github.com/tariffdeck/tariffdeck/pkg/types"
)

// DetectRate deterministically resolves a rate code for the supplied billing
// periods: the first non-empty rate code among the periods wins, else the
// caller's fallback. With neither, detection fails with zero confidence and
// no tariff; downstream optimization is expected to block on that.
//
// On success a minimal demand-only fallback TariffModel is synthesized: a
// single peak determinant with one unbounded tier at demandRatePerKW, no
// energy charges, no fixed charge. That lets savings math proceed while
// reconciliation stays honest about unmodeled energy.
func DetectRate(periods []types.BillingPeriod, fallbackRateCode string, demandRatePerKW float64, utilityName, timezone string) types.RateDetection {
	rateCode := ""
	source := ""
	for _, p := range periods {
		if p.RateCode != "" {
			rateCode = p.RateCode
			source = fmt.Sprintf("billing period %s", p.CycleID)
			break
		}
	}
	if rateCode == "" && fallbackRateCode != "" {
		rateCode = fallbackRateCode
		source = "caller-provided fallback"
	}

	if rateCode == "" {
		return types.RateDetection{
			Confidence: 0,
			Reason:     "no rate code present on any billing period and no fallback rate code provided",
		}
	}

	model := &types.TariffModel{
		TariffID: fmt.Sprintf("fallback-%s", rateCode),
		RateCode: rateCode,
		Utility:  utilityName,
		Version:  "fallback",
		Timezone: timezone,
		DemandDeterminants: []types.DemandDeterminant{
			{
				ID:   "peak-demand",
				Name: "Peak demand",
				Kind: types.DeterminantPeak,
				Tiers: []types.DemandTier{
					{PricePerKW: demandRatePerKW},
				},
			},
		},
	}

	return types.RateDetection{
		RateCode:   rateCode,
		Confidence: 1.0,
		Reason:     fmt.Sprintf("rate code %q resolved from %s", rateCode, source),
		Tariff:     model,
	}
}
