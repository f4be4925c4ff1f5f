package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kidspc/kidspc-server/internal/errors"
	"github.com/kidspc/kidspc-server/internal/model"
)

func TestHeartbeat(t *testing.T) {
	deviceRepo := new(mockDeviceRepo)
	commandRepo := new(mockCommandRepo)
	svc := NewSyncService(deviceRepo, nil, commandRepo, nil, nil, nil)

	device := newTestDevice("account-1")
	deviceRepo.On("Heartbeat", mock.Anything, "device-1", true, true).Return(nil)
	commandRepo.On("FindPendingByDeviceID", mock.Anything, "device-1").Return([]model.Command{
		{ID: "cmd-1", Command: "lock", Status: model.CommandStatusPending},
		{ID: "cmd-2", Command: "refresh", Status: model.CommandStatusPending},
	}, nil)

	result, err := svc.Heartbeat(context.Background(), device, true)
	require.NoError(t, err)
	assert.Equal(t, 2, result.PendingCommands)
	assert.WithinDuration(t, time.Now(), result.ServerTime, 5*time.Second)
	deviceRepo.AssertExpectations(t)
}

func TestReportUsage(t *testing.T) {
	t.Run("upserts the day and stores samples", func(t *testing.T) {
		usageRepo := new(mockUsageRepo)
		svc := NewSyncService(new(mockDeviceRepo), nil, nil, nil, usageRepo, nil)

		device := newTestDevice("account-1")
		sampledAt := time.Now().Add(-time.Hour)
		usageRepo.On("UpsertDaily", mock.Anything, mock.MatchedBy(func(p model.UpsertDailyUsageParams) bool {
			return p.AccountID == "account-1" && p.DeviceID == "device-1" &&
				p.UsedMinutes == 95 && p.Date.Format("2006-01-02") == "2026-08-28"
		})).Return(&model.DailyUsage{DeviceID: "device-1", UsedMinutes: 95}, nil)
		usageRepo.On("CreateActivitySample", mock.Anything, model.CreateActivitySampleParams{
			AccountID: "account-1",
			DeviceID:  "device-1",
			App:       "minecraft.exe",
			Title:     "Minecraft",
			Minutes:   45,
			SampledAt: sampledAt,
		}).Return(nil)

		usage, err := svc.ReportUsage(context.Background(), device, UsageReport{
			Date:        "2026-08-28",
			UsedMinutes: 95,
			Activity: []ActivityReport{
				{App: "minecraft.exe", Title: "Minecraft", Minutes: 45, SampledAt: sampledAt},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 95, usage.UsedMinutes)
		usageRepo.AssertExpectations(t)
	})

	t.Run("rejects an unlinked device", func(t *testing.T) {
		svc := NewSyncService(new(mockDeviceRepo), nil, nil, nil, new(mockUsageRepo), nil)

		device := newTestDevice("account-1")
		device.AccountID = nil

		_, err := svc.ReportUsage(context.Background(), device, UsageReport{Date: "2026-08-28"})
		require.Error(t, err)
		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeForbidden, appErr.Code)
	})

	t.Run("rejects a malformed date", func(t *testing.T) {
		svc := NewSyncService(new(mockDeviceRepo), nil, nil, nil, new(mockUsageRepo), nil)

		_, err := svc.ReportUsage(context.Background(), newTestDevice("account-1"), UsageReport{Date: "28/08/2026"})
		require.Error(t, err)
		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeValidation, appErr.Code)
	})
}

func TestReportEvents(t *testing.T) {
	eventRepo := new(mockEventRepo)
	svc := NewSyncService(new(mockDeviceRepo), nil, nil, eventRepo, nil, nil)

	device := newTestDevice("account-1")
	ts := time.Now()
	eventRepo.On("Create", mock.Anything, mock.MatchedBy(func(p model.CreateEventParams) bool {
		return p.AccountID == "account-1" && p.DeviceID == "device-1"
	})).Return(&model.Event{ID: "evt-1"}, nil).Twice()

	stored, err := svc.ReportEvents(context.Background(), device, []EventReport{
		{Type: "screen_locked", Timestamp: ts},
		{Type: "limit_reached", Timestamp: ts},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
	eventRepo.AssertExpectations(t)
}

func TestAckCommand(t *testing.T) {
	t.Run("acks a pending command", func(t *testing.T) {
		commandRepo := new(mockCommandRepo)
		svc := NewSyncService(new(mockDeviceRepo), nil, commandRepo, nil, nil, nil)

		commandRepo.On("Ack", mock.Anything, "cmd-1", "device-1").Return(true, nil)

		err := svc.AckCommand(context.Background(), newTestDevice("account-1"), "cmd-1")
		assert.NoError(t, err)
	})

	t.Run("double ack reports not found", func(t *testing.T) {
		commandRepo := new(mockCommandRepo)
		svc := NewSyncService(new(mockDeviceRepo), nil, commandRepo, nil, nil, nil)

		commandRepo.On("Ack", mock.Anything, "cmd-1", "device-1").Return(false, nil)

		err := svc.AckCommand(context.Background(), newTestDevice("account-1"), "cmd-1")
		require.Error(t, err)
		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeNotFound, appErr.Code)
	})
}

func TestFetchSettings(t *testing.T) {
	settingsRepo := new(mockSettingsRepo)
	blocklistRepo := new(mockBlocklistRepo)
	svc := NewSyncService(new(mockDeviceRepo), settingsRepo, nil, nil, nil, blocklistRepo)

	device := newTestDevice("account-1")
	settingsRepo.On("FindByDeviceID", mock.Anything, "device-1").Return(&model.DeviceSettings{
		DeviceID:          "device-1",
		DailyLimitMinutes: 120,
	}, nil)
	blocklistRepo.On("FindSitesByDeviceID", mock.Anything, "device-1").Return([]model.BlockedSite{
		{Pattern: "*.example-casino.com"},
		{Pattern: "badsite.net"},
	}, nil)
	blocklistRepo.On("FindAppsByDeviceID", mock.Anything, "device-1").Return([]model.BlockedApp{
		{Name: "torrent.exe"},
	}, nil)

	bundle, err := svc.FetchSettings(context.Background(), device)
	require.NoError(t, err)
	assert.Equal(t, 120, bundle.Settings.DailyLimitMinutes)
	assert.Equal(t, []string{"*.example-casino.com", "badsite.net"}, bundle.BlockedSites)
	assert.Equal(t, []string{"torrent.exe"}, bundle.BlockedApps)
}
