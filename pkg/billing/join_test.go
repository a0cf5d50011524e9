package billing

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tariffdeck/tariffdeck/pkg/types"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestJoinIntervalsToCycles(t *testing.T) {
	periods := []types.BillingPeriod{
		{CycleID: "jan", BillStartDate: day(2024, 1, 1), BillEndDate: day(2024, 1, 31)},
		{CycleID: "feb", BillStartDate: day(2024, 2, 1), BillEndDate: day(2024, 2, 29)},
	}

	intervals := []types.IntervalRow{
		{Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), KW: 10},
		{Timestamp: time.Date(2024, 1, 31, 23, 45, 0, 0, time.UTC), KW: 12},
		{Timestamp: time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC), KW: 20},
		{Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), KW: 5}, // no period
	}

	res := JoinIntervalsToCycles(periods, intervals, time.UTC)

	assert.Equal(t, 2, res.IntervalsPerCycle["jan"])
	assert.Equal(t, 1, res.IntervalsPerCycle["feb"])
	assert.Equal(t, 1, res.UnassignedIntervals)
	require.Len(t, res.UnassignedSample, 1)
	assert.Equal(t, 5.0, res.UnassignedSample[0].KW)

	assert.Equal(t, 12.0, res.PeakByCycle["jan"].KW)
	assert.Equal(t, 20.0, res.PeakByCycle["feb"].KW)
}

func TestJoinCompleteness(t *testing.T) {
	// Every interval inside some period's day span must be assigned.
	periods := []types.BillingPeriod{
		{CycleID: "c1", BillStartDate: day(2024, 6, 1), BillEndDate: day(2024, 6, 30)},
	}
	var intervals []types.IntervalRow
	for ts := day(2024, 6, 1); ts.Before(day(2024, 7, 1)); ts = ts.Add(15 * time.Minute) {
		intervals = append(intervals, types.IntervalRow{Timestamp: ts, KW: 1})
	}

	res := JoinIntervalsToCycles(periods, intervals, time.UTC)
	assert.Zero(t, res.UnassignedIntervals)
	assert.Equal(t, len(intervals), res.IntervalsPerCycle["c1"])
}

func TestJoinOverlappingPeriodsFirstWins(t *testing.T) {
	periods := []types.BillingPeriod{
		// deliberately out of order; join sorts by start date
		{CycleID: "later", BillStartDate: day(2024, 1, 10), BillEndDate: day(2024, 1, 31)},
		{CycleID: "earlier", BillStartDate: day(2024, 1, 1), BillEndDate: day(2024, 1, 20)},
	}
	row := types.IntervalRow{Timestamp: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), KW: 3}

	res := JoinIntervalsToCycles(periods, []types.IntervalRow{row}, time.UTC)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, "earlier", res.Assignments[0].CycleID)
}

func TestJoinPeakTieKeepsFirstEncountered(t *testing.T) {
	periods := []types.BillingPeriod{
		{CycleID: "c1", BillStartDate: day(2024, 1, 1), BillEndDate: day(2024, 1, 31)},
	}
	first := time.Date(2024, 1, 5, 18, 0, 0, 0, time.UTC)
	second := time.Date(2024, 1, 20, 18, 0, 0, 0, time.UTC)
	intervals := []types.IntervalRow{
		{Timestamp: second, KW: 50},
		{Timestamp: first, KW: 50},
	}

	res := JoinIntervalsToCycles(periods, intervals, time.UTC)
	// input order, not timestamp order, decides the tie
	assert.Equal(t, second, res.PeakByCycle["c1"].Timestamp)
}

func TestJoinBoundaryIntervalsLocalTime(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	periods := []types.BillingPeriod{
		{CycleID: "c1", BillStartDate: day(2024, 1, 1), BillEndDate: day(2024, 1, 31)},
	}
	// 2024-01-31 23:59 local is 2024-02-01 07:59 UTC; day-granular spans in
	// the tariff zone must still capture it.
	boundary := time.Date(2024, 2, 1, 7, 59, 0, 0, time.UTC)
	res := JoinIntervalsToCycles(periods, []types.IntervalRow{{Timestamp: boundary, KW: 1}}, loc)
	assert.Zero(t, res.UnassignedIntervals)
	assert.Equal(t, 1, res.IntervalsPerCycle["c1"])
}

func TestJoinDSTFallBackEndDay(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	// DST ends 2024-11-03; that local day is 25 hours long. The span must
	// still cover the whole end day, including its last hour.
	periods := []types.BillingPeriod{
		{CycleID: "oct-nov", BillStartDate: day(2024, 10, 4), BillEndDate: day(2024, 11, 3)},
	}
	late := time.Date(2024, 11, 3, 23, 30, 0, 0, loc)
	res := JoinIntervalsToCycles(periods, []types.IntervalRow{{Timestamp: late, KW: 1}}, loc)
	assert.Zero(t, res.UnassignedIntervals)
	assert.Equal(t, 1, res.IntervalsPerCycle["oct-nov"])
}

func TestJoinDSTSpringForwardEndDay(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	// DST starts 2025-03-09; that local day is 23 hours long. The earlier
	// cycle's span must not spill into the next cycle's first day.
	periods := []types.BillingPeriod{
		{CycleID: "feb-mar", BillStartDate: day(2025, 2, 8), BillEndDate: day(2025, 3, 9)},
		{CycleID: "mar-apr", BillStartDate: day(2025, 3, 10), BillEndDate: day(2025, 4, 9)},
	}
	early := time.Date(2025, 3, 10, 0, 30, 0, 0, loc)
	res := JoinIntervalsToCycles(periods, []types.IntervalRow{{Timestamp: early, KW: 1}}, loc)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, "mar-apr", res.Assignments[0].CycleID)
}

func TestJoinUnassignedSampleCap(t *testing.T) {
	var intervals []types.IntervalRow
	for i := 0; i < 40; i++ {
		intervals = append(intervals, types.IntervalRow{
			Timestamp: day(2030, 1, 1).Add(time.Duration(i) * time.Hour),
			KW:        float64(i),
		})
	}
	res := JoinIntervalsToCycles(nil, intervals, time.UTC)
	assert.Equal(t, 40, res.UnassignedIntervals)
	assert.Len(t, res.UnassignedSample, unassignedSampleCap)
}

func TestGroupByCycle(t *testing.T) {
	var assignments []types.CycleAssignment
	for i := 0; i < 6; i++ {
		assignments = append(assignments, types.CycleAssignment{
			IntervalRow: types.IntervalRow{Timestamp: day(2024, 1, 1).Add(time.Duration(i) * time.Hour), KW: float64(i)},
			CycleID:     fmt.Sprintf("c%d", i%2),
		})
	}
	grouped := GroupByCycle(assignments)
	assert.Len(t, grouped["c0"], 3)
	assert.Len(t, grouped["c1"], 3)
	// order within a cycle follows input order
	assert.Equal(t, 0.0, grouped["c0"][0].KW)
	assert.Equal(t, 2.0, grouped["c0"][1].KW)
}
