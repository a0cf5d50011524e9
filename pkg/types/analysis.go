package types

import "time"

// DemandStructure classifies how a tariff bills demand.
type DemandStructure string

const (
	DemandStructureFlat      DemandStructure = "flat"
	DemandStructureTiered    DemandStructure = "tiered"
	DemandStructureRatcheted DemandStructure = "ratcheted"
)

// CycleAnalysis derives the economic targets for one billing cycle.
type CycleAnalysis struct {
	CycleID         string    `json:"cycleId"`
	PeakKW          float64   `json:"peakKw"`
	PeakTimestamp   time.Time `json:"peakTimestamp"`
	TotalKWH        float64   `json:"totalKwh"`
	IntervalMinutes float64   `json:"intervalMinutes"`

	DemandStructure DemandStructure `json:"demandStructure"`

	// NextTierThresholdKW is the lowest finite tier threshold strictly above
	// the measured peak, if any.
	NextTierThresholdKW *float64 `json:"nextTierThresholdKw,omitempty"`
	// TargetKW is the demand level worth shaving to: the next threshold minus
	// a 0.1 kW margin, or a caller-supplied cap.
	TargetKW *float64 `json:"targetKw,omitempty"`
	// AvoidableKW is max(0, peak - target).
	AvoidableKW float64 `json:"avoidableKw"`
	// MarginalDollarsPerKW is the tier price in effect at the measured peak.
	MarginalDollarsPerKW float64 `json:"marginalDollarsPerKw"`

	PeakShavingValueHigh bool `json:"peakShavingValueHigh"`
}

// RateDetection is the result of deterministic tariff identification.
// Confidence is binary: 1.0 when a rate code was resolved, 0.0 otherwise.
type RateDetection struct {
	RateCode   string       `json:"rateCode,omitempty"`
	Confidence float64      `json:"confidence"`
	Reason     string       `json:"reason"`
	Tariff     *TariffModel `json:"tariff,omitempty"`
}
