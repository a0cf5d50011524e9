package main

import (
	"context"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/tariffdeck/tariffdeck/pkg/log"
	"github.com/tariffdeck/tariffdeck/pkg/storage"
	"github.com/tariffdeck/tariffdeck/pkg/types"
)

// Seeds the Firestore emulator with a demo TOU+demand tariff, a year of
// billing periods, and synthetic 15-minute interval readings so the API can
// be exercised locally.
func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	lflag.Configure()

	ctx := context.Background()

	log.Ctx(ctx).InfoContext(ctx, "seeding demo data")

	const accountID = "demo-account"

	tariff := demoTariff()
	if err := s.UpsertTariff(ctx, tariff); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed tariff", "error", err)
		os.Exit(1)
	}

	periods := demoPeriods(2024)
	if err := s.SetBillingPeriods(ctx, accountID, periods); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed billing periods", "error", err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	rows := demoIntervals(rng, periods)
	if err := s.UpsertIntervalReadings(ctx, accountID, rows); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed interval readings", "error", err)
		os.Exit(1)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded demo data",
		"accountID", accountID,
		"tariffID", tariff.TariffID,
		"periods", len(periods),
		"intervals", len(rows))
}

func fptr(f float64) *float64 { return &f }

func demoTariff() types.TariffModel {
	weekdays := types.DaysWeekday
	return types.TariffModel{
		TariffID:           "demo-b19-2024",
		RateCode:           "B-19",
		Utility:            "demo",
		Version:            "2024",
		Timezone:           "America/Los_Angeles",
		FixedMonthlyCharge: 150,
		EnergyCharges: []types.EnergyCharge{
			{
				ID:     "summer-peak",
				Season: types.SeasonSummer,
				Windows: []types.TOUWindow{
					{Name: "peak", StartMinute: 16 * 60, EndMinute: 21 * 60, Days: weekdays},
				},
				PricePerKWH: 0.32,
			},
			{
				ID:     "summer-off",
				Season: types.SeasonSummer,
				Windows: []types.TOUWindow{
					{Name: "off_peak", StartMinute: 21 * 60, EndMinute: 16 * 60, Days: weekdays},
					{Name: "off_peak", StartMinute: 0, EndMinute: 24 * 60, Days: types.DaysWeekend},
				},
				PricePerKWH: 0.14,
			},
			{
				ID:     "winter-all",
				Season: types.SeasonWinter,
				Windows: []types.TOUWindow{
					{Name: "all_hours", StartMinute: 0, EndMinute: 24 * 60, Days: types.DaysAll},
				},
				PricePerKWH: 0.18,
			},
		},
		DemandDeterminants: []types.DemandDeterminant{
			{
				ID:   "facilities",
				Name: "Facilities demand",
				Kind: types.DeterminantFacilities,
				Tiers: []types.DemandTier{
					{UpToKW: fptr(50), PricePerKW: 12},
					{UpToKW: fptr(200), PricePerKW: 18},
					{PricePerKW: 24},
				},
			},
			{
				ID:   "peak-demand",
				Name: "Peak period demand",
				Kind: types.DeterminantPeak,
				Windows: []types.TOUWindow{
					{Name: "peak", StartMinute: 16 * 60, EndMinute: 21 * 60, Days: weekdays},
				},
				Tiers: []types.DemandTier{{PricePerKW: 21.5}},
			},
		},
		Ratchets: []types.Ratchet{
			{
				ID:                     "facilities-ratchet",
				LookbackCycles:         11,
				Percent:                0.5,
				AppliesToDeterminantID: "facilities",
			},
		},
	}
}

func demoPeriods(year int) []types.BillingPeriod {
	periods := make([]types.BillingPeriod, 0, 12)
	for m := time.January; m <= time.December; m++ {
		start := time.Date(year, m, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, -1)
		periods = append(periods, types.BillingPeriod{
			CycleID:       start.Format("2006-01"),
			BillStartDate: start,
			BillEndDate:   end,
			RateCode:      "B-19",
		})
	}
	return periods
}

// demoIntervals produces a plausible commercial load shape: a weekday-heavy
// daily curve peaking mid-afternoon, taller in summer, with jitter.
func demoIntervals(rng *rand.Rand, periods []types.BillingPeriod) []types.IntervalRow {
	start := periods[0].BillStartDate
	end := periods[len(periods)-1].BillEndDate.AddDate(0, 0, 1)

	var rows []types.IntervalRow
	for t := start; t.Before(end); t = t.Add(15 * time.Minute) {
		base := 30.0
		hour := float64(t.Hour()) + float64(t.Minute())/60

		// daily bell curve around 15:00
		dist := math.Abs(hour - 15)
		kw := base + 80*math.Exp(-(dist*dist)/18)

		if types.SeasonForMonth(t.Month()) == types.SeasonSummer {
			kw *= 1.3
		}
		if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
			kw *= 0.5
		}
		kw += (rng.Float64() * 6) - 3

		rows = append(rows, types.IntervalRow{Timestamp: t, KW: kw})
	}
	return rows
}
