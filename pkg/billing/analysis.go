package billing

import (
	"math"
	"sort"

	"github.com/tariffdeck/tariffdeck/pkg/types"
)

const (
	// tierMarginKW is backed off a tier threshold when deriving a shaving
	// target, so the target sits strictly under the threshold.
	tierMarginKW = 0.1

	// highValueDollarsPerKW marks cycles where shaving a kW is clearly worth
	// pursuing.
	highValueDollarsPerKW = 20.0
)

// AnalyzeCycles derives one CycleAnalysis per billing period from already
// joined intervals. capKW, when supplied, overrides the tier-derived shaving
// target.
func AnalyzeCycles(tariff types.TariffModel, periods []types.BillingPeriod, assignments []types.CycleAssignment, capKW *float64) []types.CycleAnalysis {
	rowsByCycle := GroupByCycle(assignments)
	thresholds := tierThresholds(tariff)
	structure := demandStructure(tariff)

	out := make([]types.CycleAnalysis, 0, len(periods))
	for _, period := range periods {
		rows := rowsByCycle[period.CycleID]

		ca := types.CycleAnalysis{
			CycleID:         period.CycleID,
			DemandStructure: structure,
		}

		interval, _ := inferGranularity(rows)
		ca.IntervalMinutes = interval.Minutes()
		havePeak := false
		for _, row := range rows {
			ca.TotalKWH += row.KW * interval.Hours()
			// strictly-greater keeps the first-encountered timestamp on ties
			if !havePeak || row.KW > ca.PeakKW {
				ca.PeakKW = row.KW
				ca.PeakTimestamp = row.Timestamp
				havePeak = true
			}
		}

		for _, th := range thresholds {
			if th > ca.PeakKW {
				next := th
				ca.NextTierThresholdKW = &next
				break
			}
		}

		switch {
		case capKW != nil:
			target := *capKW
			ca.TargetKW = &target
		case ca.NextTierThresholdKW != nil:
			target := *ca.NextTierThresholdKW - tierMarginKW
			ca.TargetKW = &target
		}
		if ca.TargetKW != nil {
			ca.AvoidableKW = math.Max(0, ca.PeakKW-*ca.TargetKW)
		}

		ca.MarginalDollarsPerKW = marginalTierPrice(ca.PeakKW, marginalTiers(tariff))
		ca.PeakShavingValueHigh = ca.MarginalDollarsPerKW >= highValueDollarsPerKW

		out = append(out, ca)
	}
	return out
}

// demandStructure classifies the tariff: any ratchet wins, then multiple
// tiers, then flat.
func demandStructure(tariff types.TariffModel) types.DemandStructure {
	if len(tariff.Ratchets) > 0 {
		return types.DemandStructureRatcheted
	}
	for _, det := range tariff.DemandDeterminants {
		if len(det.Tiers) > 1 {
			return types.DemandStructureTiered
		}
	}
	return types.DemandStructureFlat
}

// tierThresholds collects every finite tier threshold across all demand
// determinants, ascending.
func tierThresholds(tariff types.TariffModel) []float64 {
	var out []float64
	for _, det := range tariff.DemandDeterminants {
		for _, tier := range det.Tiers {
			if tier.UpToKW != nil {
				out = append(out, *tier.UpToKW)
			}
		}
	}
	sort.Float64s(out)
	return out
}

// marginalTiers picks the tier schedule the marginal price is read from: the
// first peak-kind determinant, else the first determinant.
func marginalTiers(tariff types.TariffModel) []types.DemandTier {
	for _, det := range tariff.DemandDeterminants {
		if det.Kind == types.DeterminantPeak {
			return det.Tiers
		}
	}
	if len(tariff.DemandDeterminants) > 0 {
		return tariff.DemandDeterminants[0].Tiers
	}
	return nil
}
