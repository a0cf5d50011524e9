package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/tariffdeck/tariffdeck/pkg/types"
)

var (
	ErrTariffNotFound  = errors.New("tariff not found")
	ErrAccountNotFound = errors.New("account not found")
)

// Database defines the interface for the tariff catalog and per-account
// billing data. The billing engine itself never touches storage; this serves
// the HTTP surface and tooling.
type Database interface {
	// Tariff catalog
	GetTariff(ctx context.Context, tariffID string) (types.TariffModel, error)
	ListTariffs(ctx context.Context) ([]types.TariffModel, error)
	UpsertTariff(ctx context.Context, tariff types.TariffModel) error

	// Billing periods
	GetBillingPeriods(ctx context.Context, accountID string) ([]types.BillingPeriod, error)
	SetBillingPeriods(ctx context.Context, accountID string, periods []types.BillingPeriod) error

	// Interval readings
	UpsertIntervalReadings(ctx context.Context, accountID string, rows []types.IntervalRow) error
	GetIntervalReadings(ctx context.Context, accountID string, start, end time.Time) ([]types.IntervalRow, error)

	// Run history
	InsertRun(ctx context.Context, run types.SavedRun) error
	GetRunHistory(ctx context.Context, accountID string, start, end time.Time) ([]types.SavedRun, error)

	// Lifecycle
	Close() error
}

// Configured sets up the storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
