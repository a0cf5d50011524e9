package billing

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tariffdeck/tariffdeck/pkg/types"
)

const (
	// UnsupportedConstructCode tags diagnostics for tariff constructs the
	// engine cannot price (missing energy charges, bad timezones, ambiguous
	// windows). Downstream surfaces these to users; they are never silent.
	UnsupportedConstructCode = "TARIFFENGINE_UNSUPPORTED_CONSTRUCT"

	// missingNotesCap bounds the deduplicated note list on a run.
	missingNotesCap = 10

	// Stated-bill reconciliation passes on either tolerance. Wide on purpose:
	// fallback tariffs omit energy charges, riders and taxes, so the check
	// flags gross mismatches only.
	reconcileAbsToleranceDollars = 50.0
	reconcileRelTolerance        = 0.10
)

// noteSet accumulates deduplicated, capped missing-component notes for a run.
type noteSet struct {
	seen  map[string]bool
	notes []string
}

func (n *noteSet) add(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if n.seen == nil {
		n.seen = make(map[string]bool)
	}
	if n.seen[msg] {
		return
	}
	n.seen[msg] = true
	if len(n.notes) < missingNotesCap {
		n.notes = append(n.notes, msg)
	}
}

// CalculateBillsPerCycle computes one CycleBill per billing period from two
// parallel interval sets ("before" and "after") already joined to cycles.
// Cycles are processed in ascending billEndDate order; ratchet state
// accumulates across cycles in that order, so the order is load-bearing.
//
// Stated totals come from statedTotalsByCycleID when present, falling back to
// each period's StatedTotalBill. All failures are local to a cycle or line
// item; no bad cycle aborts the run.
func CalculateBillsPerCycle(tariff types.TariffModel, periods []types.BillingPeriod, assignedBefore, assignedAfter []types.CycleAssignment, statedTotalsByCycleID map[string]float64) types.TariffRunOutput {
	sorted := make([]types.BillingPeriod, len(periods))
	copy(sorted, periods)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].BillEndDate.Before(sorted[j].BillEndDate)
	})

	before := GroupByCycle(assignedBefore)
	after := GroupByCycle(assignedAfter)

	var notes noteSet
	loc, err := tariff.Location()
	if err != nil {
		loc = nil
		notes.add("%s: %v", UnsupportedConstructCode, err)
	}

	// ratchetHistory holds prior ratcheted *before* values per determinant,
	// oldest first. It lives only for this run.
	ratchetHistory := make(map[string][]float64)

	out := types.TariffRunOutput{}
	for _, period := range sorted {
		bill := computeCycleBill(tariff, period, before[period.CycleID], after[period.CycleID], loc, ratchetHistory, &notes)

		if stated, ok := statedTotal(period, statedTotalsByCycleID); ok {
			bill.Reconcile = reconcileStated(bill.Total, stated, len(tariff.EnergyCharges) == 0)
		}

		out.Cycles = append(out.Cycles, bill)
		out.TotalAfter += bill.Total
	}

	out.CycleCount = len(out.Cycles)
	out.MissingComponentNotes = notes.notes
	return out
}

func computeCycleBill(tariff types.TariffModel, period types.BillingPeriod, rowsBefore, rowsAfter []types.IntervalRow, loc *time.Location, ratchetHistory map[string][]float64, notes *noteSet) types.CycleBill {
	bill := types.CycleBill{
		CycleID:       period.CycleID,
		BillStartDate: period.BillStartDate,
		BillEndDate:   period.BillEndDate,
	}

	if tariff.FixedMonthlyCharge > 0 {
		bill.LineItems = append(bill.LineItems, types.BillLineItem{
			Kind:   types.LineItemFixed,
			Label:  "Fixed monthly charge",
			Amount: tariff.FixedMonthlyCharge,
		})
	}

	// TOU energy. Skipped, never approximated, when the tariff models no
	// energy charges or the timezone is unusable.
	switch {
	case len(tariff.EnergyCharges) == 0:
		notes.add("%s: tariff %s has no energy charges; energy is unmodeled", UnsupportedConstructCode, tariff.TariffID)
	case loc == nil:
		notes.add("%s: tariff %s timezone unavailable; energy skipped", UnsupportedConstructCode, tariff.TariffID)
	default:
		bd, items, err := computeEnergyBreakdown(tariff.EnergyCharges, rowsAfter, loc)
		if err != nil {
			notes.add("%s: cycle %s energy: %v", UnsupportedConstructCode, period.CycleID, err)
		} else {
			bill.EnergyBreakdown = bd
			bill.LineItems = append(bill.LineItems, items...)
		}
	}

	for _, det := range tariff.DemandDeterminants {
		rowsB := determinantRows(det, rowsBefore, loc, tariff.TariffID, notes)
		rowsA := determinantRows(det, rowsAfter, loc, tariff.TariffID, notes)

		beforeKW, bindingBefore := peakWithBindings(rowsB)
		afterKW, bindingAfter := peakWithBindings(rowsA)

		bd := types.BillingDeterminant{
			DeterminantID:           det.ID,
			Name:                    det.Name,
			Kind:                    det.Kind,
			BeforeKW:                beforeKW,
			AfterKW:                 afterKW,
			BindingTimestampsBefore: bindingBefore,
			BindingTimestampsAfter:  bindingAfter,
		}

		if r := ratchetFor(tariff, det.ID); r != nil {
			floor := ratchetFloor(*r, ratchetHistory[det.ID])
			bd.RatchetFloorKW = &floor
			if floor > bd.BeforeKW || floor > bd.AfterKW {
				bd.RatchetApplied = true
				bd.BeforeKW = math.Max(bd.BeforeKW, floor)
				bd.AfterKW = math.Max(bd.AfterKW, floor)
			}
		}

		charge := tieredDemandCharge(bd.AfterKW, det.Tiers)
		bill.LineItems = append(bill.LineItems, types.BillLineItem{
			Kind:   types.LineItemDemand,
			Label:  fmt.Sprintf("Demand (%s)", det.Name),
			Amount: charge,
			Meta: map[string]string{
				"billedKw": fmt.Sprintf("%.6f", bd.AfterKW),
			},
		})

		// History tracks the ratcheted before value: the baseline obligation
		// persists regardless of intervention, while charges price the after.
		ratchetHistory[det.ID] = append(ratchetHistory[det.ID], bd.BeforeKW)

		bill.Determinants = append(bill.Determinants, bd)
	}

	for _, li := range bill.LineItems {
		bill.Total += li.Amount
	}
	return bill
}

// determinantRows filters a cycle's rows to those inside the determinant's
// windows. No windows means every interval counts. If the tariff timezone is
// unusable the windows cannot be evaluated; the determinant degrades to all
// intervals with a note rather than silently pricing nothing.
func determinantRows(det types.DemandDeterminant, rows []types.IntervalRow, loc *time.Location, tariffID string, notes *noteSet) []types.IntervalRow {
	if len(det.Windows) == 0 {
		return rows
	}
	if loc == nil {
		notes.add("%s: tariff %s timezone unavailable; determinant %s windows ignored", UnsupportedConstructCode, tariffID, det.ID)
		return rows
	}
	var out []types.IntervalRow
	for _, row := range rows {
		local := row.Timestamp.In(loc)
		minute := local.Hour()*60 + local.Minute()
		for _, w := range det.Windows {
			if w.Contains(minute, local.Weekday()) {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

// peakWithBindings returns the maximum kW across rows and every timestamp
// within tolerance of that maximum. Simultaneous peaks are all reported.
func peakWithBindings(rows []types.IntervalRow) (float64, []time.Time) {
	if len(rows) == 0 {
		return 0, nil
	}
	peak := math.Inf(-1)
	for _, row := range rows {
		if row.KW > peak {
			peak = row.KW
		}
	}
	var binding []time.Time
	for _, row := range rows {
		if math.Abs(row.KW-peak) <= bindingPeakTolerance {
			binding = append(binding, row.Timestamp)
		}
	}
	return peak, binding
}

// ratchetFor returns the first ratchet referencing the determinant, if any.
func ratchetFor(tariff types.TariffModel, determinantID string) *types.Ratchet {
	for i := range tariff.Ratchets {
		if tariff.Ratchets[i].AppliesToDeterminantID == determinantID {
			return &tariff.Ratchets[i]
		}
	}
	return nil
}

// ratchetFloor computes percent x max of up to lookbackCycles trailing
// history entries. Short or empty history uses whatever exists; an empty
// history yields prevMax 0 and thus no floor.
func ratchetFloor(r types.Ratchet, history []float64) float64 {
	start := len(history) - r.LookbackCycles
	if start < 0 {
		start = 0
	}
	var prevMax float64
	for _, v := range history[start:] {
		if v > prevMax {
			prevMax = v
		}
	}
	return r.Percent * prevMax
}

func statedTotal(period types.BillingPeriod, overrides map[string]float64) (float64, bool) {
	if overrides != nil {
		if v, ok := overrides[period.CycleID]; ok {
			return v, true
		}
	}
	if period.StatedTotalBill != nil {
		return *period.StatedTotalBill, true
	}
	return 0, false
}

func reconcileStated(computed, stated float64, energyUnmodeled bool) *types.Reconcile {
	rec := &types.Reconcile{
		StatedTotal:   stated,
		ComputedTotal: computed,
		Delta:         computed - stated,
	}
	absOK := math.Abs(rec.Delta) <= reconcileAbsToleranceDollars
	relOK := stated != 0 && math.Abs(rec.Delta/stated) <= reconcileRelTolerance
	rec.OK = absOK || relOK
	if !rec.OK {
		rec.Notes = fmt.Sprintf("computed total %.2f differs from stated %.2f by %.2f, outside $%.0f and %.0f%% tolerances",
			computed, stated, rec.Delta, reconcileAbsToleranceDollars, reconcileRelTolerance*100)
		if energyUnmodeled {
			rec.Notes += "; energy charges are unmodeled on this tariff"
		}
	}
	return rec
}
