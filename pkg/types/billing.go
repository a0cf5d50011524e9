package types

import (
	"fmt"
	"math"
	"time"
)

// BillingPeriod is one utility billing cycle. CycleID is the stable join and
// grouping key; dates are day-granular and inclusive on both ends.
type BillingPeriod struct {
	CycleID         string    `json:"cycleId"`
	AccountID       string    `json:"accountId,omitempty"`
	BillStartDate   time.Time `json:"billStartDate"`
	BillEndDate     time.Time `json:"billEndDate"`
	RateCode        string    `json:"rateCode,omitempty"`
	StatedTotalBill *float64  `json:"statedTotalBill,omitempty"`
}

// Validate checks the period's structural invariants.
func (p *BillingPeriod) Validate() error {
	if p.CycleID == "" {
		return fmt.Errorf("billing period has no cycleId")
	}
	if p.BillEndDate.Before(p.BillStartDate) {
		return fmt.Errorf("billing period %s: billEndDate before billStartDate", p.CycleID)
	}
	return nil
}

// IntervalRow is one normalized interval reading. KW may be negative (export)
// but must be finite.
type IntervalRow struct {
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
	KW        float64   `json:"kw" firestore:"kw"`
}

// Validate rejects non-finite readings.
func (r *IntervalRow) Validate() error {
	if math.IsNaN(r.KW) || math.IsInf(r.KW, 0) {
		return fmt.Errorf("interval at %s has non-finite kw", r.Timestamp.Format(time.RFC3339))
	}
	return nil
}

// CycleAssignment is an interval reading joined to its billing cycle.
type CycleAssignment struct {
	IntervalRow
	CycleID string `json:"cycleId"`
}

// BillingDeterminant is a computed demand determinant for one cycle. Before
// and after are two parallel scenarios (e.g. baseline vs. with an
// intervention) over two interval sets assigned to the same cycle.
type BillingDeterminant struct {
	DeterminantID           string          `json:"determinantId"`
	Name                    string          `json:"name"`
	Kind                    DeterminantKind `json:"kind"`
	BeforeKW                float64         `json:"beforeKw"`
	AfterKW                 float64         `json:"afterKw"`
	BindingTimestampsBefore []time.Time     `json:"bindingTimestampsBefore"`
	BindingTimestampsAfter  []time.Time     `json:"bindingTimestampsAfter"`
	RatchetApplied          bool            `json:"ratchetApplied"`
	RatchetFloorKW          *float64        `json:"ratchetFloorKw,omitempty"`
}

// LineItemKind classifies a bill line item.
type LineItemKind string

const (
	LineItemFixed  LineItemKind = "fixed"
	LineItemEnergy LineItemKind = "energy"
	LineItemDemand LineItemKind = "demand"
	LineItemOther  LineItemKind = "other"
)

// BillLineItem is one charge on a cycle bill.
type BillLineItem struct {
	Kind   LineItemKind      `json:"kind"`
	Label  string            `json:"label"`
	Amount float64           `json:"amount"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// EnergyReconciliation asserts that bucketed kWh sums back to the cycle total.
// The sums are definitionally equal by construction; the check exists to catch
// refactors.
type EnergyReconciliation struct {
	BucketKWH float64 `json:"bucketKwh"`
	TotalKWH  float64 `json:"totalKwh"`
	Delta     float64 `json:"delta"`
	OK        bool    `json:"ok"`
}

// EnergyBreakdown is the per-cycle TOU energy disaggregation.
type EnergyBreakdown struct {
	IntervalMinutes float64              `json:"intervalMinutes"`
	KWHTotal        float64              `json:"kwhTotal"`
	KWHByPeriod     map[string]float64   `json:"kwhByTouPeriod"`
	DollarsByPeriod map[string]float64   `json:"chargesByTouPeriod"`
	Reconciliation  EnergyReconciliation `json:"reconciliation"`
}

// Reconcile compares a computed cycle total against the utility's stated
// total. The tolerance is intentionally wide; it flags gross mismatches, not
// exactness.
type Reconcile struct {
	StatedTotal   float64 `json:"statedTotal"`
	ComputedTotal float64 `json:"computedTotal"`
	Delta         float64 `json:"delta"`
	OK            bool    `json:"ok"`
	Notes         string  `json:"notes,omitempty"`
}

// CycleBill is the computed bill for one billing cycle.
type CycleBill struct {
	CycleID         string               `json:"cycleId"`
	BillStartDate   time.Time            `json:"billStartDate"`
	BillEndDate     time.Time            `json:"billEndDate"`
	Determinants    []BillingDeterminant `json:"determinants"`
	LineItems       []BillLineItem       `json:"lineItems"`
	EnergyBreakdown *EnergyBreakdown     `json:"energyBreakdown,omitempty"`
	Total           float64              `json:"total"`
	Reconcile       *Reconcile           `json:"reconcile,omitempty"`
}

// TariffRunOutput is the result of one billing run. TotalBefore and
// TotalSavings stay zero here; callers compare two runs to compute savings.
type TariffRunOutput struct {
	CycleCount            int         `json:"cycleCount"`
	TotalBefore           float64     `json:"totalBefore"`
	TotalAfter            float64     `json:"totalAfter"`
	TotalSavings          float64     `json:"totalSavings"`
	Cycles                []CycleBill `json:"cycles"`
	MissingComponentNotes []string    `json:"missingComponentsNotes,omitempty"`
}

// SavedRun is a persisted billing run summary for an account.
type SavedRun struct {
	AccountID string          `json:"accountId"`
	TariffID  string          `json:"tariffId"`
	Timestamp time.Time       `json:"timestamp"`
	Output    TariffRunOutput `json:"output"`
}
