package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/kidspc/kidspc-server/internal/model"
	"github.com/kidspc/kidspc-server/internal/repository"
)

type mockSettingsRepo struct {
	mock.Mock
}

func (m *mockSettingsRepo) FindByDeviceID(ctx context.Context, deviceID string) (*model.DeviceSettings, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeviceSettings), args.Error(1)
}

func (m *mockSettingsRepo) CreateDefaults(ctx context.Context, deviceID, accountID string) (*model.DeviceSettings, error) {
	args := m.Called(ctx, deviceID, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeviceSettings), args.Error(1)
}

func (m *mockSettingsRepo) Update(ctx context.Context, deviceID string, params model.UpdateDeviceSettingsParams) (*model.DeviceSettings, error) {
	args := m.Called(ctx, deviceID, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeviceSettings), args.Error(1)
}

func (m *mockSettingsRepo) WithTx(tx *sqlx.Tx) repository.DeviceSettingsRepository {
	return m
}

type mockCommandRepo struct {
	mock.Mock
}

func (m *mockCommandRepo) FindByDeviceID(ctx context.Context, deviceID string, limit, offset int) ([]model.Command, error) {
	args := m.Called(ctx, deviceID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Command), args.Error(1)
}

func (m *mockCommandRepo) FindPendingByDeviceID(ctx context.Context, deviceID string) ([]model.Command, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Command), args.Error(1)
}

func (m *mockCommandRepo) Create(ctx context.Context, params model.CreateCommandParams) (*model.Command, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Command), args.Error(1)
}

func (m *mockCommandRepo) Ack(ctx context.Context, id, deviceID string) (bool, error) {
	args := m.Called(ctx, id, deviceID)
	return args.Bool(0), args.Error(1)
}

func (m *mockCommandRepo) DeleteAcked(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockCommandRepo) WithTx(tx *sqlx.Tx) repository.CommandRepository {
	return m
}

type mockEventRepo struct {
	mock.Mock
}

func (m *mockEventRepo) FindByDeviceID(ctx context.Context, deviceID, eventType string, limit, offset int) ([]model.Event, error) {
	args := m.Called(ctx, deviceID, eventType, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Event), args.Error(1)
}

func (m *mockEventRepo) CountByDeviceID(ctx context.Context, deviceID, eventType string) (int, error) {
	args := m.Called(ctx, deviceID, eventType)
	return args.Int(0), args.Error(1)
}

func (m *mockEventRepo) Create(ctx context.Context, params model.CreateEventParams) (*model.Event, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Event), args.Error(1)
}

func (m *mockEventRepo) WithTx(tx *sqlx.Tx) repository.EventRepository {
	return m
}

type mockUsageRepo struct {
	mock.Mock
}

func (m *mockUsageRepo) FindDailyByDeviceID(ctx context.Context, deviceID string, since time.Time) ([]model.DailyUsage, error) {
	args := m.Called(ctx, deviceID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DailyUsage), args.Error(1)
}

func (m *mockUsageRepo) UpsertDaily(ctx context.Context, params model.UpsertDailyUsageParams) (*model.DailyUsage, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DailyUsage), args.Error(1)
}

func (m *mockUsageRepo) FindActivityByDeviceID(ctx context.Context, deviceID string, since time.Time) ([]model.ActivitySample, error) {
	args := m.Called(ctx, deviceID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ActivitySample), args.Error(1)
}

func (m *mockUsageRepo) CreateActivitySample(ctx context.Context, params model.CreateActivitySampleParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func (m *mockUsageRepo) WithTx(tx *sqlx.Tx) repository.UsageRepository {
	return m
}

type mockBlocklistRepo struct {
	mock.Mock
}

func (m *mockBlocklistRepo) FindSitesByDeviceID(ctx context.Context, deviceID string) ([]model.BlockedSite, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.BlockedSite), args.Error(1)
}

func (m *mockBlocklistRepo) FindAppsByDeviceID(ctx context.Context, deviceID string) ([]model.BlockedApp, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.BlockedApp), args.Error(1)
}

func (m *mockBlocklistRepo) ReplaceSites(ctx context.Context, tx *sqlx.Tx, deviceID, accountID string, patterns []string) error {
	args := m.Called(ctx, tx, deviceID, accountID, patterns)
	return args.Error(0)
}

func (m *mockBlocklistRepo) ReplaceApps(ctx context.Context, tx *sqlx.Tx, deviceID, accountID string, names []string) error {
	args := m.Called(ctx, tx, deviceID, accountID, names)
	return args.Error(0)
}
