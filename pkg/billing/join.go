package billing

import (
	"sort"
	"time"

	"github.com/tariffdeck/tariffdeck/pkg/types"
)

// unassignedSampleCap bounds how many unmatched intervals are retained for
// diagnostics.
const unassignedSampleCap = 25

// CyclePeak is the maximum-kW interval observed in a cycle.
type CyclePeak struct {
	KW        float64   `json:"kw"`
	Timestamp time.Time `json:"timestamp"`
}

// JoinResult is the output of assigning interval readings to billing cycles.
type JoinResult struct {
	Assignments         []types.CycleAssignment `json:"assignments"`
	IntervalsPerCycle   map[string]int          `json:"intervalsPerCycle"`
	PeakByCycle         map[string]CyclePeak    `json:"peakByCycle"`
	UnassignedIntervals int                     `json:"unassignedIntervals"`
	UnassignedSample    []types.IntervalRow     `json:"unassignedSample,omitempty"`
}

// JoinIntervalsToCycles assigns each interval to the billing period whose
// inclusive day-level span contains its timestamp. Periods are matched in
// ascending billStartDate order, so overlapping periods resolve to the
// earliest-starting one. Spans are day-granular on purpose: bill periods are
// defined calendrically, and boundary intervals must not be dropped over
// sub-day timezone skew.
//
// Intervals matching no period are counted and sampled, and excluded from all
// cycle aggregates. Peak ties keep the first-encountered timestamp in input
// order.
func JoinIntervalsToCycles(periods []types.BillingPeriod, intervals []types.IntervalRow, loc *time.Location) JoinResult {
	if loc == nil {
		loc = time.UTC
	}

	sorted := make([]types.BillingPeriod, len(periods))
	copy(sorted, periods)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].BillStartDate.Before(sorted[j].BillStartDate)
	})

	type span struct {
		cycleID    string
		start, end time.Time // [start, end)
	}
	spans := make([]span, len(sorted))
	for i, p := range sorted {
		spans[i] = span{
			cycleID: p.CycleID,
			start:   startOfDay(p.BillStartDate, loc),
			end:     startOfNextDay(p.BillEndDate, loc),
		}
	}

	res := JoinResult{
		IntervalsPerCycle: make(map[string]int),
		PeakByCycle:       make(map[string]CyclePeak),
	}

	for _, row := range intervals {
		cycleID := ""
		for _, sp := range spans {
			if !row.Timestamp.Before(sp.start) && row.Timestamp.Before(sp.end) {
				cycleID = sp.cycleID
				break
			}
		}
		if cycleID == "" {
			res.UnassignedIntervals++
			if len(res.UnassignedSample) < unassignedSampleCap {
				res.UnassignedSample = append(res.UnassignedSample, row)
			}
			continue
		}

		res.Assignments = append(res.Assignments, types.CycleAssignment{
			IntervalRow: row,
			CycleID:     cycleID,
		})
		res.IntervalsPerCycle[cycleID]++

		// strictly-greater keeps the first-encountered timestamp on ties
		if peak, ok := res.PeakByCycle[cycleID]; !ok || row.KW > peak.KW {
			res.PeakByCycle[cycleID] = CyclePeak{KW: row.KW, Timestamp: row.Timestamp}
		}
	}

	return res
}

// GroupByCycle splits assignments into per-cycle row slices, preserving input
// order within each cycle.
func GroupByCycle(assignments []types.CycleAssignment) map[string][]types.IntervalRow {
	out := make(map[string][]types.IntervalRow)
	for _, a := range assignments {
		out[a.CycleID] = append(out[a.CycleID], a.IntervalRow)
	}
	return out
}

// startOfDay re-anchors the calendar date of t at midnight in loc. The date
// fields are taken as given; bill dates are calendar days, not instants, so
// they must not shift when the tariff zone differs from the input zone.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// startOfNextDay returns local midnight of the calendar day after t's date.
// Spans must end on a midnight, not start+24h, because DST-transition days
// are 23 or 25 hours long in the tariff zone.
func startOfNextDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}
