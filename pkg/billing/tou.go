package billing

import (
	"fmt"
	"sort"
	"time"

	"github.com/tariffdeck/tariffdeck/pkg/types"
)

// matchState is the outcome of classifying an interval against the tariff's
// energy-charge windows.
type matchState int

const (
	matchNone matchState = iota
	matchOne
	matchAmbiguous
)

// windowMatch is the tagged result of TOU classification. Ambiguity is a
// distinguishable, reportable state rather than an implicit pick-first.
type windowMatch struct {
	state       matchState
	bucket      string
	pricePerKWH float64
	candidates  []string
}

// classifyEnergyWindow finds the energy-charge window covering a local
// timestamp. Exactly one match is the contract; zero or multiple matches mean
// the tariff's window set is incomplete or overlapping for real data.
func classifyEnergyWindow(charges []types.EnergyCharge, local time.Time) windowMatch {
	season := types.SeasonForMonth(local.Month())
	minute := local.Hour()*60 + local.Minute()
	weekday := local.Weekday()

	var m windowMatch
	for _, ec := range charges {
		if ec.Season != types.SeasonAll && ec.Season != season {
			continue
		}
		for _, w := range ec.Windows {
			if !w.Contains(minute, weekday) {
				continue
			}
			bucket := w.Name
			if bucket == "" {
				bucket = ec.ID
			}
			m.candidates = append(m.candidates, bucket)
			m.bucket = bucket
			m.pricePerKWH = ec.PricePerKWH
		}
	}

	switch len(m.candidates) {
	case 0:
		m.state = matchNone
	case 1:
		m.state = matchOne
	default:
		m.state = matchAmbiguous
	}
	return m
}

// computeEnergyBreakdown disaggregates a cycle's intervals into TOU buckets
// and prices them. It fails for the whole cycle on non-uniform granularity or
// on any interval that matches zero or multiple windows.
func computeEnergyBreakdown(charges []types.EnergyCharge, rows []types.IntervalRow, loc *time.Location) (*types.EnergyBreakdown, []types.BillLineItem, error) {
	interval, distinct := inferGranularity(rows)
	if distinct > 1 {
		return nil, nil, fmt.Errorf("non-uniform interval granularity (%d distinct deltas observed)", distinct)
	}
	intervalHours := interval.Hours()

	bd := &types.EnergyBreakdown{
		IntervalMinutes: interval.Minutes(),
		KWHByPeriod:     make(map[string]float64),
		DollarsByPeriod: make(map[string]float64),
	}

	for _, row := range rows {
		local := row.Timestamp.In(loc)
		m := classifyEnergyWindow(charges, local)
		switch m.state {
		case matchNone:
			return nil, nil, fmt.Errorf("no energy window matches %s (season=%s weekday=%s minute=%d)",
				local.Format(time.RFC3339), types.SeasonForMonth(local.Month()), local.Weekday(), local.Hour()*60+local.Minute())
		case matchAmbiguous:
			return nil, nil, fmt.Errorf("%d energy windows match %s (%v)",
				len(m.candidates), local.Format(time.RFC3339), m.candidates)
		}
		kwh := row.KW * intervalHours
		bd.KWHTotal += kwh
		bd.KWHByPeriod[m.bucket] += kwh
		bd.DollarsByPeriod[m.bucket] += kwh * m.pricePerKWH
	}

	var bucketSum float64
	buckets := make([]string, 0, len(bd.KWHByPeriod))
	for b, kwh := range bd.KWHByPeriod {
		buckets = append(buckets, b)
		bucketSum += kwh
	}
	sort.Strings(buckets)

	bd.Reconciliation = types.EnergyReconciliation{
		BucketKWH: bucketSum,
		TotalKWH:  bd.KWHTotal,
		Delta:     bucketSum - bd.KWHTotal,
		OK:        withinTolerance(bucketSum, bd.KWHTotal, energyReconTolerance),
	}

	items := make([]types.BillLineItem, 0, len(buckets))
	for _, b := range buckets {
		items = append(items, types.BillLineItem{
			Kind:   types.LineItemEnergy,
			Label:  fmt.Sprintf("Energy (%s)", b),
			Amount: bd.DollarsByPeriod[b],
			Meta: map[string]string{
				"kwh": fmt.Sprintf("%.6f", bd.KWHByPeriod[b]),
			},
		})
	}
	return bd, items, nil
}
