package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/tariffdeck/tariffdeck/pkg/storage"
	"github.com/tariffdeck/tariffdeck/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetTariff(ctx context.Context, tariffID string) (types.TariffModel, error) {
	args := m.Called(ctx, tariffID)
	return args.Get(0).(types.TariffModel), args.Error(1)
}

func (m *MockDatabase) ListTariffs(ctx context.Context) ([]types.TariffModel, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]types.TariffModel), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) UpsertTariff(ctx context.Context, tariff types.TariffModel) error {
	args := m.Called(ctx, tariff)
	return args.Error(0)
}

func (m *MockDatabase) GetBillingPeriods(ctx context.Context, accountID string) ([]types.BillingPeriod, error) {
	args := m.Called(ctx, accountID)
	if v := args.Get(0); v != nil {
		return v.([]types.BillingPeriod), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) SetBillingPeriods(ctx context.Context, accountID string, periods []types.BillingPeriod) error {
	args := m.Called(ctx, accountID, periods)
	return args.Error(0)
}

func (m *MockDatabase) UpsertIntervalReadings(ctx context.Context, accountID string, rows []types.IntervalRow) error {
	args := m.Called(ctx, accountID, rows)
	return args.Error(0)
}

func (m *MockDatabase) GetIntervalReadings(ctx context.Context, accountID string, start, end time.Time) ([]types.IntervalRow, error) {
	args := m.Called(ctx, accountID, start, end)
	if v := args.Get(0); v != nil {
		return v.([]types.IntervalRow), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) InsertRun(ctx context.Context, run types.SavedRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockDatabase) GetRunHistory(ctx context.Context, accountID string, start, end time.Time) ([]types.SavedRun, error) {
	args := m.Called(ctx, accountID, start, end)
	if v := args.Get(0); v != nil {
		return v.([]types.SavedRun), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
