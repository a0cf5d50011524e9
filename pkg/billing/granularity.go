package billing

import (
	"math"
	"sort"
	"time"

	"github.com/tariffdeck/tariffdeck/pkg/types"
)

const (
	// defaultIntervalMinutes is assumed when a cycle has too few points to
	// infer a granularity.
	defaultIntervalMinutes = 15

	// energyReconTolerance bounds the bucketed-vs-total kWh self check.
	energyReconTolerance = 1e-6

	// bindingPeakTolerance decides which rows count as binding the peak.
	bindingPeakTolerance = 1e-6
)

// inferGranularity returns the mode of successive timestamp deltas and how
// many distinct deltas were observed. Rows are sorted by timestamp before
// differencing; input order is not assumed. Fewer than two rows yields the
// 15-minute default and zero distinct deltas.
func inferGranularity(rows []types.IntervalRow) (time.Duration, int) {
	if len(rows) < 2 {
		return defaultIntervalMinutes * time.Minute, 0
	}

	ts := make([]time.Time, len(rows))
	for i, r := range rows {
		ts[i] = r.Timestamp
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })

	counts := make(map[time.Duration]int)
	for i := 1; i < len(ts); i++ {
		counts[ts[i].Sub(ts[i-1])]++
	}

	var mode time.Duration
	best := 0
	for d, n := range counts {
		if n > best || (n == best && d < mode) {
			mode, best = d, n
		}
	}
	return mode, len(counts)
}

// withinTolerance reports whether a and b agree within tol absolutely or
// relatively.
func withinTolerance(a, b, tol float64) bool {
	delta := math.Abs(a - b)
	if delta <= tol {
		return true
	}
	if b != 0 && delta/math.Abs(b) <= tol {
		return true
	}
	return false
}
