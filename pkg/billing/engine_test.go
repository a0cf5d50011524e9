package billing

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tariffdeck/tariffdeck/pkg/types"
)

func fptr(v float64) *float64 { return &v }

// flatDemandTariff bills a single all-interval peak determinant and nothing
// else.
func flatDemandTariff(pricePerKW float64) types.TariffModel {
	return types.TariffModel{
		TariffID: "flat",
		RateCode: "TEST-1",
		Timezone: "UTC",
		DemandDeterminants: []types.DemandDeterminant{
			{
				ID:    "peak",
				Name:  "Peak demand",
				Kind:  types.DeterminantPeak,
				Tiers: []types.DemandTier{{PricePerKW: pricePerKW}},
			},
		},
	}
}

func assignCycle(cycleID string, rows []types.IntervalRow) []types.CycleAssignment {
	out := make([]types.CycleAssignment, len(rows))
	for i, r := range rows {
		out[i] = types.CycleAssignment{IntervalRow: r, CycleID: cycleID}
	}
	return out
}

// flatLoad builds n uniform readings at the given kW.
func flatLoad(start time.Time, n int, step time.Duration, kw float64) []types.IntervalRow {
	rows := make([]types.IntervalRow, n)
	for i := range rows {
		rows[i] = types.IntervalRow{Timestamp: start.Add(time.Duration(i) * step), KW: kw}
	}
	return rows
}

func TestTieredDemandCharge(t *testing.T) {
	tiers := []types.DemandTier{
		{UpToKW: fptr(10), PricePerKW: 1},
		{UpToKW: fptr(20), PricePerKW: 2},
		{PricePerKW: 3},
	}
	// 10x1 + 10x2 + 5x3
	assert.InDelta(t, 45, tieredDemandCharge(25, tiers), 1e-9)
	assert.InDelta(t, 5, tieredDemandCharge(5, tiers), 1e-9)
	assert.InDelta(t, 10, tieredDemandCharge(10, tiers), 1e-9)
	assert.InDelta(t, 12, tieredDemandCharge(11, tiers), 1e-9)
	assert.Zero(t, tieredDemandCharge(0, tiers))
}

func TestMarginalTierPrice(t *testing.T) {
	tiers := []types.DemandTier{
		{UpToKW: fptr(10), PricePerKW: 1},
		{UpToKW: fptr(20), PricePerKW: 2},
		{PricePerKW: 3},
	}
	assert.Equal(t, 1.0, marginalTierPrice(5, tiers))
	assert.Equal(t, 1.0, marginalTierPrice(10, tiers))
	assert.Equal(t, 2.0, marginalTierPrice(15, tiers))
	assert.Equal(t, 3.0, marginalTierPrice(100, tiers))
}

func TestRatchetMonotonicity(t *testing.T) {
	tm := flatDemandTariff(10)
	tm.Ratchets = []types.Ratchet{
		{ID: "r1", LookbackCycles: 1, Percent: 0.9, AppliesToDeterminantID: "peak"},
	}

	periods := []types.BillingPeriod{
		{CycleID: "c1", BillStartDate: day(2024, 1, 1), BillEndDate: day(2024, 1, 31)},
		{CycleID: "c2", BillStartDate: day(2024, 2, 1), BillEndDate: day(2024, 2, 29)},
	}
	rows1 := flatLoad(day(2024, 1, 5), 4, 15*time.Minute, 200)
	rows2 := flatLoad(day(2024, 2, 5), 4, 15*time.Minute, 100)
	assigned := append(assignCycle("c1", rows1), assignCycle("c2", rows2)...)

	out := CalculateBillsPerCycle(tm, periods, assigned, assigned, nil)
	require.Len(t, out.Cycles, 2)

	first := out.Cycles[0].Determinants[0]
	assert.False(t, first.RatchetApplied)
	assert.Equal(t, 200.0, first.AfterKW)

	second := out.Cycles[1].Determinants[0]
	assert.True(t, second.RatchetApplied)
	require.NotNil(t, second.RatchetFloorKW)
	assert.InDelta(t, 180, *second.RatchetFloorKW, 1e-9)
	assert.InDelta(t, 180, second.AfterKW, 1e-9)
	assert.InDelta(t, 180, second.BeforeKW, 1e-9)

	// billed on the ratcheted value
	assert.InDelta(t, 1800, out.Cycles[1].Total, 1e-9)
}

func TestRatchetHistoryTracksBefore(t *testing.T) {
	// Before stays high while after is shaved; the third cycle's floor must
	// derive from the unshaved before values.
	tm := flatDemandTariff(10)
	tm.Ratchets = []types.Ratchet{
		{ID: "r1", LookbackCycles: 12, Percent: 0.5, AppliesToDeterminantID: "peak"},
	}
	periods := []types.BillingPeriod{
		{CycleID: "c1", BillStartDate: day(2024, 1, 1), BillEndDate: day(2024, 1, 31)},
		{CycleID: "c2", BillStartDate: day(2024, 2, 1), BillEndDate: day(2024, 2, 29)},
	}
	before := append(
		assignCycle("c1", flatLoad(day(2024, 1, 5), 2, 15*time.Minute, 400)),
		assignCycle("c2", flatLoad(day(2024, 2, 5), 2, 15*time.Minute, 100))...)
	after := append(
		assignCycle("c1", flatLoad(day(2024, 1, 5), 2, 15*time.Minute, 150)),
		assignCycle("c2", flatLoad(day(2024, 2, 5), 2, 15*time.Minute, 100))...)

	out := CalculateBillsPerCycle(tm, periods, before, after, nil)
	require.Len(t, out.Cycles, 2)

	second := out.Cycles[1].Determinants[0]
	// floor = 0.5 x 400 (before history), not 0.5 x 150 (after)
	require.NotNil(t, second.RatchetFloorKW)
	assert.InDelta(t, 200, *second.RatchetFloorKW, 1e-9)
	assert.InDelta(t, 200, second.AfterKW, 1e-9)
}

func TestRatchetNoHistoryNoFloor(t *testing.T) {
	tm := flatDemandTariff(10)
	tm.Ratchets = []types.Ratchet{
		{ID: "r1", LookbackCycles: 3, Percent: 0.9, AppliesToDeterminantID: "peak"},
	}
	periods := []types.BillingPeriod{
		{CycleID: "c1", BillStartDate: day(2024, 1, 1), BillEndDate: day(2024, 1, 31)},
	}
	assigned := assignCycle("c1", flatLoad(day(2024, 1, 5), 2, 15*time.Minute, 50))

	out := CalculateBillsPerCycle(tm, periods, assigned, assigned, nil)
	det := out.Cycles[0].Determinants[0]
	assert.False(t, det.RatchetApplied)
	require.NotNil(t, det.RatchetFloorKW)
	assert.Zero(t, *det.RatchetFloorKW)
	assert.Equal(t, 50.0, det.AfterKW)
}

// fullCoverageTOUTariff covers every minute of every day with non-overlapping
// windows for both seasons.
func fullCoverageTOUTariff() types.TariffModel {
	windows := []types.TOUWindow{
		{Name: "off_peak", StartMinute: 21 * 60, EndMinute: 9 * 60, Days: types.DaysAll},
		{Name: "mid_peak", StartMinute: 9 * 60, EndMinute: 16 * 60, Days: types.DaysAll},
		{Name: "on_peak", StartMinute: 16 * 60, EndMinute: 21 * 60, Days: types.DaysAll},
	}
	return types.TariffModel{
		TariffID:           "tou",
		RateCode:           "TOU-8",
		Timezone:           "America/Los_Angeles",
		FixedMonthlyCharge: 25,
		EnergyCharges: []types.EnergyCharge{
			{ID: "all-season", Season: types.SeasonAll, Windows: windows, PricePerKWH: 0.20},
		},
		DemandDeterminants: []types.DemandDeterminant{
			{
				ID:    "peak",
				Name:  "Peak demand",
				Kind:  types.DeterminantPeak,
				Tiers: []types.DemandTier{{PricePerKW: 15}},
			},
		},
	}
}

func TestTOUEnergyReconciliation(t *testing.T) {
	tm := fullCoverageTOUTariff()
	periods := []types.BillingPeriod{
		{CycleID: "c1", BillStartDate: day(2024, 7, 1), BillEndDate: day(2024, 7, 31)},
	}
	var rows []types.IntervalRow
	start := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 24*4*7; i++ {
		rows = append(rows, types.IntervalRow{
			Timestamp: start.Add(time.Duration(i) * 15 * time.Minute),
			KW:        4 + float64(i%5),
		})
	}
	assigned := assignCycle("c1", rows)

	out := CalculateBillsPerCycle(tm, periods, assigned, assigned, nil)
	require.Len(t, out.Cycles, 1)
	require.Empty(t, out.MissingComponentNotes)

	bd := out.Cycles[0].EnergyBreakdown
	require.NotNil(t, bd)
	assert.Equal(t, 15.0, bd.IntervalMinutes)
	assert.True(t, bd.Reconciliation.OK)

	var bucketKWH, bucketDollars float64
	for _, v := range bd.KWHByPeriod {
		bucketKWH += v
	}
	for _, v := range bd.DollarsByPeriod {
		bucketDollars += v
	}
	assert.InDelta(t, bd.KWHTotal, bucketKWH, 1e-9)

	var energyTotal float64
	for _, li := range out.Cycles[0].LineItems {
		if li.Kind == types.LineItemEnergy {
			energyTotal += li.Amount
		}
	}
	assert.InDelta(t, bucketDollars, energyTotal, 1e-9)

	// three buckets plus fixed plus demand
	assert.Len(t, out.Cycles[0].LineItems, 5)
	assert.Equal(t, types.LineItemFixed, out.Cycles[0].LineItems[0].Kind)
}

func TestAmbiguousTOUWindowIsHardFailure(t *testing.T) {
	tm := fullCoverageTOUTariff()
	// second charge overlapping every minute of the day
	tm.EnergyCharges = append(tm.EnergyCharges, types.EnergyCharge{
		ID:     "overlap",
		Season: types.SeasonAll,
		Windows: []types.TOUWindow{
			{Name: "everything", StartMinute: 0, EndMinute: 1440, Days: types.DaysAll},
		},
		PricePerKWH: 0.10,
	})

	periods := []types.BillingPeriod{
		{CycleID: "c1", BillStartDate: day(2024, 7, 1), BillEndDate: day(2024, 7, 31)},
	}
	assigned := assignCycle("c1", flatLoad(time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC), 8, 15*time.Minute, 5))

	out := CalculateBillsPerCycle(tm, periods, assigned, assigned, nil)
	require.Len(t, out.Cycles, 1)

	// no energy items, no double- or single-counted guess
	assert.Nil(t, out.Cycles[0].EnergyBreakdown)
	for _, li := range out.Cycles[0].LineItems {
		assert.NotEqual(t, types.LineItemEnergy, li.Kind)
	}
	require.NotEmpty(t, out.MissingComponentNotes)
	assert.Contains(t, out.MissingComponentNotes[0], UnsupportedConstructCode)

	// demand still computes
	assert.InDelta(t, 25+5*15, out.Cycles[0].Total, 1e-9)
}

func TestUncoveredMinuteIsHardFailure(t *testing.T) {
	tm := fullCoverageTOUTariff()
	// carve a hole: mid_peak now starts at 10:00, leaving 09:00-10:00 uncovered
	tm.EnergyCharges[0].Windows[1].StartMinute = 10 * 60

	periods := []types.BillingPeriod{
		{CycleID: "c1", BillStartDate: day(2024, 7, 1), BillEndDate: day(2024, 7, 31)},
	}
	// 09:30 local on Jul 1 (16:30 UTC)
	assigned := assignCycle("c1", flatLoad(time.Date(2024, 7, 1, 16, 30, 0, 0, time.UTC), 4, 15*time.Minute, 5))

	out := CalculateBillsPerCycle(tm, periods, assigned, assigned, nil)
	assert.Nil(t, out.Cycles[0].EnergyBreakdown)
	require.NotEmpty(t, out.MissingComponentNotes)
	assert.Contains(t, out.MissingComponentNotes[0], "no energy window matches")
}

func TestNonUniformGranularityFails(t *testing.T) {
	tm := fullCoverageTOUTariff()
	periods := []types.BillingPeriod{
		{CycleID: "c1", BillStartDate: day(2024, 7, 1), BillEndDate: day(2024, 7, 31)},
	}
	start := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	rows := []types.IntervalRow{
		{Timestamp: start, KW: 5},
		{Timestamp: start.Add(15 * time.Minute), KW: 5},
		{Timestamp: start.Add(45 * time.Minute), KW: 5}, // 30m gap
	}
	assigned := assignCycle("c1", rows)

	out := CalculateBillsPerCycle(tm, periods, assigned, assigned, nil)
	assert.Nil(t, out.Cycles[0].EnergyBreakdown)
	require.NotEmpty(t, out.MissingComponentNotes)
	assert.Contains(t, out.MissingComponentNotes[0], "non-uniform interval granularity")
}

func TestMissingEnergyChargesNote(t *testing.T) {
	tm := flatDemandTariff(12)
	periods := []types.BillingPeriod{
		{CycleID: "c1", BillStartDate: day(2024, 1, 1), BillEndDate: day(2024, 1, 31)},
		{CycleID: "c2", BillStartDate: day(2024, 2, 1), BillEndDate: day(2024, 2, 29)},
	}
	assigned := append(
		assignCycle("c1", flatLoad(day(2024, 1, 5), 2, 15*time.Minute, 10)),
		assignCycle("c2", flatLoad(day(2024, 2, 5), 2, 15*time.Minute, 10))...)

	out := CalculateBillsPerCycle(tm, periods, assigned, assigned, nil)
	// the note is deduplicated across cycles
	assert.Len(t, out.MissingComponentNotes, 1)
	assert.Contains(t, out.MissingComponentNotes[0], "no energy charges")
}

func TestStatedBillReconciliation(t *testing.T) {
	tm := flatDemandTariff(10)
	periods := []types.BillingPeriod{
		{CycleID: "c1", BillStartDate: day(2024, 1, 1), BillEndDate: day(2024, 1, 31), StatedTotalBill: fptr(520)},
		{CycleID: "c2", BillStartDate: day(2024, 2, 1), BillEndDate: day(2024, 2, 29), StatedTotalBill: fptr(2000)},
	}
	assigned := append(
		assignCycle("c1", flatLoad(day(2024, 1, 5), 2, 15*time.Minute, 50)),  // computes 500
		assignCycle("c2", flatLoad(day(2024, 2, 5), 2, 15*time.Minute, 50))...) // computes 500

	out := CalculateBillsPerCycle(tm, periods, assigned, assigned, nil)

	// |500-520| = 20 <= $50
	rec1 := out.Cycles[0].Reconcile
	require.NotNil(t, rec1)
	assert.True(t, rec1.OK)
	assert.Empty(t, rec1.Notes)

	// |500-2000| fails both tolerances
	rec2 := out.Cycles[1].Reconcile
	require.NotNil(t, rec2)
	assert.False(t, rec2.OK)
	assert.Contains(t, rec2.Notes, "energy charges are unmodeled")

	// reconciliation failure never blocks the run
	assert.Equal(t, 2, out.CycleCount)
	assert.InDelta(t, 1000, out.TotalAfter, 1e-9)
}

func TestStatedTotalsOverrideMap(t *testing.T) {
	tm := flatDemandTariff(10)
	periods := []types.BillingPeriod{
		{CycleID: "c1", BillStartDate: day(2024, 1, 1), BillEndDate: day(2024, 1, 31), StatedTotalBill: fptr(9999)},
	}
	assigned := assignCycle("c1", flatLoad(day(2024, 1, 5), 2, 15*time.Minute, 50))

	out := CalculateBillsPerCycle(tm, periods, assigned, assigned, map[string]float64{"c1": 510})
	require.NotNil(t, out.Cycles[0].Reconcile)
	assert.Equal(t, 510.0, out.Cycles[0].Reconcile.StatedTotal)
	assert.True(t, out.Cycles[0].Reconcile.OK)
}

func TestRelativeToleranceAlonePasses(t *testing.T) {
	rec := reconcileStated(1050, 1000, false)
	// delta $50... exactly at abs tolerance
	assert.True(t, rec.OK)

	rec = reconcileStated(1090, 1000, false)
	// delta $90 > $50 but 9% <= 10%
	assert.True(t, rec.OK)

	rec = reconcileStated(1200, 1000, false)
	assert.False(t, rec.OK)
}

func TestDeterminantWindowsLimitRows(t *testing.T) {
	tm := flatDemandTariff(10)
	tm.DemandDeterminants[0].Windows = []types.TOUWindow{
		{Name: "afternoon", StartMinute: 12 * 60, EndMinute: 18 * 60, Days: types.DaysAll},
	}
	periods := []types.BillingPeriod{
		{CycleID: "c1", BillStartDate: day(2024, 1, 1), BillEndDate: day(2024, 1, 31)},
	}
	rows := []types.IntervalRow{
		{Timestamp: time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC), KW: 90},  // outside window
		{Timestamp: time.Date(2024, 1, 5, 14, 0, 0, 0, time.UTC), KW: 40}, // inside
	}
	assigned := assignCycle("c1", rows)

	out := CalculateBillsPerCycle(tm, periods, assigned, assigned, nil)
	det := out.Cycles[0].Determinants[0]
	assert.Equal(t, 40.0, det.AfterKW)
	assert.InDelta(t, 400, out.Cycles[0].Total, 1e-9)
}

func TestBindingTimestampsReportAllPeaks(t *testing.T) {
	tm := flatDemandTariff(10)
	periods := []types.BillingPeriod{
		{CycleID: "c1", BillStartDate: day(2024, 1, 1), BillEndDate: day(2024, 1, 31)},
	}
	t1 := time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 1, 6, 8, 0, 0, 0, time.UTC)
	rows := []types.IntervalRow{
		{Timestamp: t1, KW: 75},
		{Timestamp: t2, KW: 75},
		{Timestamp: t2.Add(time.Hour), KW: 10},
	}
	assigned := assignCycle("c1", rows)

	out := CalculateBillsPerCycle(tm, periods, assigned, assigned, nil)
	det := out.Cycles[0].Determinants[0]
	assert.Equal(t, []time.Time{t1, t2}, det.BindingTimestampsAfter)
}

func TestIdempotence(t *testing.T) {
	tm := fullCoverageTOUTariff()
	tm.Ratchets = []types.Ratchet{
		{ID: "r1", LookbackCycles: 2, Percent: 0.8, AppliesToDeterminantID: "peak"},
	}
	periods := []types.BillingPeriod{
		{CycleID: "c1", BillStartDate: day(2024, 6, 1), BillEndDate: day(2024, 6, 30), StatedTotalBill: fptr(900)},
		{CycleID: "c2", BillStartDate: day(2024, 7, 1), BillEndDate: day(2024, 7, 31)},
	}
	var rows []types.IntervalRow
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 24*4*40; i++ {
		rows = append(rows, types.IntervalRow{
			Timestamp: start.Add(time.Duration(i) * 15 * time.Minute),
			KW:        3 + float64((i*7)%11),
		})
	}
	joined := JoinIntervalsToCycles(periods, rows, time.UTC)

	out1 := CalculateBillsPerCycle(tm, periods, joined.Assignments, joined.Assignments, nil)
	out2 := CalculateBillsPerCycle(tm, periods, joined.Assignments, joined.Assignments, nil)
	assert.True(t, reflect.DeepEqual(out1, out2))
}

func TestTotalsBeforeAndSavingsStayZero(t *testing.T) {
	tm := flatDemandTariff(10)
	periods := []types.BillingPeriod{
		{CycleID: "c1", BillStartDate: day(2024, 1, 1), BillEndDate: day(2024, 1, 31)},
	}
	assigned := assignCycle("c1", flatLoad(day(2024, 1, 5), 2, 15*time.Minute, 50))

	out := CalculateBillsPerCycle(tm, periods, assigned, assigned, nil)
	assert.Zero(t, out.TotalBefore)
	assert.Zero(t, out.TotalSavings)
	assert.NotZero(t, out.TotalAfter)
}
