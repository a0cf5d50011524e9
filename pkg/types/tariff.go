package types

import (
	"fmt"
	"time"
)

// Season scopes an energy charge to part of the year.
type Season string

const (
	SeasonAll    Season = "all"
	SeasonSummer Season = "summer"
	SeasonWinter Season = "winter"
)

// SeasonForMonth maps a calendar month to a season. June through September is
// summer, everything else is winter. Tariff-specific season calendars are a
// known v1 gap.
func SeasonForMonth(m time.Month) Season {
	if m >= time.June && m <= time.September {
		return SeasonSummer
	}
	return SeasonWinter
}

// DayType scopes a window to a subset of the week.
type DayType string

const (
	DaysAll     DayType = "all"
	DaysWeekday DayType = "weekday"
	DaysWeekend DayType = "weekend"
)

// Matches reports whether the weekday falls in the day type.
func (d DayType) Matches(w time.Weekday) bool {
	switch d {
	case DaysWeekday:
		return w >= time.Monday && w <= time.Friday
	case DaysWeekend:
		return w == time.Saturday || w == time.Sunday
	default:
		return true
	}
}

// TOUWindow defines a daily time-of-use window in local minutes-of-day.
// EndMinute is exclusive. EndMinute < StartMinute means the window wraps
// midnight.
type TOUWindow struct {
	Name        string  `json:"name"`
	StartMinute int     `json:"startMinute"` // minutes after local midnight, 0-1440
	EndMinute   int     `json:"endMinute"`   // exclusive, 0-1440
	Days        DayType `json:"days"`
}

// ContainsMinute reports whether the local minute-of-day falls in the window,
// honoring midnight wrap-around.
func (w *TOUWindow) ContainsMinute(minute int) bool {
	if w.EndMinute < w.StartMinute {
		return minute >= w.StartMinute || minute < w.EndMinute
	}
	return minute >= w.StartMinute && minute < w.EndMinute
}

// Contains reports whether the window covers the given local minute-of-day on
// the given weekday.
func (w *TOUWindow) Contains(minute int, weekday time.Weekday) bool {
	return w.Days.Matches(weekday) && w.ContainsMinute(minute)
}

// EnergyCharge prices energy consumed within its windows during its season.
type EnergyCharge struct {
	ID          string      `json:"id"`
	Season      Season      `json:"season"`
	Windows     []TOUWindow `json:"windows"`
	PricePerKWH float64     `json:"pricePerKwh"`
}

// DeterminantKind classifies a demand determinant.
type DeterminantKind string

const (
	DeterminantPeak       DeterminantKind = "peak"
	DeterminantPartPeak   DeterminantKind = "part_peak"
	DeterminantOffPeak    DeterminantKind = "off_peak"
	DeterminantFacilities DeterminantKind = "facilities"
	DeterminantCustom     DeterminantKind = "custom"
)

// DemandTier is one step of a tiered demand price. A nil UpToKW means the tier
// is unbounded and must be last.
type DemandTier struct {
	UpToKW     *float64 `json:"upToKw,omitempty"`
	PricePerKW float64  `json:"pricePerKw"`
}

// DemandDeterminant is a billed demand quantity. Windows limit which intervals
// count toward the determinant; no windows means every interval in the cycle
// counts.
type DemandDeterminant struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Kind    DeterminantKind `json:"kind"`
	Windows []TOUWindow     `json:"windows,omitempty"`
	Tiers   []DemandTier    `json:"tiers"`
}

// Ratchet floors billed demand at a percentage of the highest peak seen in the
// trailing LookbackCycles cycles for the referenced determinant.
type Ratchet struct {
	ID                     string  `json:"id"`
	LookbackCycles         int     `json:"lookbackCycles"` // 1-12
	Percent                float64 `json:"percent"`        // 0-1
	AppliesToDeterminantID string  `json:"appliesToDeterminantId"`
}

// TariffModel is a versioned, immutable description of a rate schedule. All
// local-time window matching uses Timezone.
type TariffModel struct {
	TariffID           string              `json:"tariffId"`
	RateCode           string              `json:"rateCode"`
	Utility            string              `json:"utility"`
	Version            string              `json:"version"`
	Timezone           string              `json:"timezone"`
	FixedMonthlyCharge float64             `json:"fixedMonthlyCharge"`
	EnergyCharges      []EnergyCharge      `json:"energyCharges"`
	DemandDeterminants []DemandDeterminant `json:"demandDeterminants"`
	Ratchets           []Ratchet           `json:"ratchets,omitempty"`

	LocationPtr *time.Location `json:"-"`
}

// Location resolves the tariff's IANA timezone, preferring an already-loaded
// LocationPtr.
func (t *TariffModel) Location() (*time.Location, error) {
	if t.LocationPtr != nil {
		return t.LocationPtr, nil
	}
	if t.Timezone == "" {
		return nil, fmt.Errorf("tariff %s has no timezone", t.TariffID)
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load location %s: %w", t.Timezone, err)
	}
	return loc, nil
}

// Validate checks the structural invariants of the tariff. It does not verify
// window coverage; that is enforced at billing time against real intervals.
func (t *TariffModel) Validate() error {
	if t.FixedMonthlyCharge < 0 {
		return fmt.Errorf("fixedMonthlyCharge must be non-negative, got %v", t.FixedMonthlyCharge)
	}
	for _, ec := range t.EnergyCharges {
		if ec.PricePerKWH < 0 {
			return fmt.Errorf("energy charge %s: pricePerKwh must be non-negative", ec.ID)
		}
		switch ec.Season {
		case SeasonAll, SeasonSummer, SeasonWinter:
		default:
			return fmt.Errorf("energy charge %s: unknown season %q", ec.ID, ec.Season)
		}
		for _, w := range ec.Windows {
			if err := validateWindow(w); err != nil {
				return fmt.Errorf("energy charge %s: %w", ec.ID, err)
			}
		}
	}
	determinantIDs := make(map[string]bool, len(t.DemandDeterminants))
	for _, d := range t.DemandDeterminants {
		if d.ID == "" {
			return fmt.Errorf("demand determinant %q has no id", d.Name)
		}
		if determinantIDs[d.ID] {
			return fmt.Errorf("duplicate demand determinant id %s", d.ID)
		}
		determinantIDs[d.ID] = true
		switch d.Kind {
		case DeterminantPeak, DeterminantPartPeak, DeterminantOffPeak, DeterminantFacilities, DeterminantCustom:
		default:
			return fmt.Errorf("demand determinant %s: unknown kind %q", d.ID, d.Kind)
		}
		for _, w := range d.Windows {
			if err := validateWindow(w); err != nil {
				return fmt.Errorf("demand determinant %s: %w", d.ID, err)
			}
		}
		if len(d.Tiers) == 0 {
			return fmt.Errorf("demand determinant %s has no tiers", d.ID)
		}
		var prev *float64
		for i, tier := range d.Tiers {
			if tier.PricePerKW < 0 {
				return fmt.Errorf("demand determinant %s: tier %d pricePerKw must be non-negative", d.ID, i)
			}
			if tier.UpToKW == nil {
				if i != len(d.Tiers)-1 {
					return fmt.Errorf("demand determinant %s: unbounded tier %d must be last", d.ID, i)
				}
				continue
			}
			if prev != nil && *tier.UpToKW <= *prev {
				return fmt.Errorf("demand determinant %s: tier upToKw values must be strictly increasing", d.ID)
			}
			prev = tier.UpToKW
		}
	}
	for _, r := range t.Ratchets {
		if r.LookbackCycles < 1 || r.LookbackCycles > 12 {
			return fmt.Errorf("ratchet %s: lookbackCycles must be within 1-12, got %d", r.ID, r.LookbackCycles)
		}
		if r.Percent < 0 || r.Percent > 1 {
			return fmt.Errorf("ratchet %s: percent must be within 0-1, got %v", r.ID, r.Percent)
		}
		if !determinantIDs[r.AppliesToDeterminantID] {
			return fmt.Errorf("ratchet %s references unknown determinant %s", r.ID, r.AppliesToDeterminantID)
		}
	}
	return nil
}

func validateWindow(w TOUWindow) error {
	if w.StartMinute < 0 || w.StartMinute > 1440 || w.EndMinute < 0 || w.EndMinute > 1440 {
		return fmt.Errorf("window %s: minutes must be within 0-1440", w.Name)
	}
	if w.StartMinute == w.EndMinute {
		return fmt.Errorf("window %s: startMinute and endMinute are equal, window is empty", w.Name)
	}
	switch w.Days {
	case DaysAll, DaysWeekday, DaysWeekend:
		return nil
	default:
		return fmt.Errorf("window %s: unknown day type %q", w.Name, w.Days)
	}
}
