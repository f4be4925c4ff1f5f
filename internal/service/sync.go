package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/kidspc/kidspc-server/internal/errors"
	"github.com/kidspc/kidspc-server/internal/model"
	"github.com/kidspc/kidspc-server/internal/repository"
)

// SyncService is the surface the desktop agent talks to with its device
// JWT: heartbeats, usage reporting, event ingestion and the command queue.
type SyncService struct {
	deviceRepo    repository.DeviceRepository
	settingsRepo  repository.DeviceSettingsRepository
	commandRepo   repository.CommandRepository
	eventRepo     repository.EventRepository
	usageRepo     repository.UsageRepository
	blocklistRepo repository.BlocklistRepository
}

func NewSyncService(
	deviceRepo repository.DeviceRepository,
	settingsRepo repository.DeviceSettingsRepository,
	commandRepo repository.CommandRepository,
	eventRepo repository.EventRepository,
	usageRepo repository.UsageRepository,
	blocklistRepo repository.BlocklistRepository,
) *SyncService {
	return &SyncService{
		deviceRepo:    deviceRepo,
		settingsRepo:  settingsRepo,
		commandRepo:   commandRepo,
		eventRepo:     eventRepo,
		usageRepo:     usageRepo,
		blocklistRepo: blocklistRepo,
	}
}

type HeartbeatResult struct {
	ServerTime      time.Time `json:"server_time"`
	PendingCommands int       `json:"pending_commands"`
}

// Heartbeat stamps liveness and tells the agent whether a command poll is
// worth the round trip.
func (s *SyncService) Heartbeat(ctx context.Context, device *model.Device, appRunning bool) (*HeartbeatResult, error) {
	if err := s.deviceRepo.Heartbeat(ctx, device.ID, true, appRunning); err != nil {
		return nil, apperrors.Database(err)
	}

	pending, err := s.commandRepo.FindPendingByDeviceID(ctx, device.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	return &HeartbeatResult{
		ServerTime:      time.Now().UTC(),
		PendingCommands: len(pending),
	}, nil
}

type UsageReport struct {
	Date        string           `json:"date" validate:"required,datetime=2006-01-02"`
	UsedMinutes int              `json:"used_minutes" validate:"min=0,max=1440"`
	Activity    []ActivityReport `json:"activity" validate:"max=500,dive"`
}

type ActivityReport struct {
	App       string    `json:"app" validate:"required,max=255"`
	Title     string    `json:"title" validate:"max=512"`
	Minutes   int       `json:"minutes" validate:"min=0,max=1440"`
	SampledAt time.Time `json:"sampled_at" validate:"required"`
}

// ReportUsage upserts the day's total and appends foreground samples. The
// agent reports absolute minutes for the day, so replays and overlapping
// reports converge instead of double counting.
func (s *SyncService) ReportUsage(ctx context.Context, device *model.Device, report UsageReport) (*model.DailyUsage, error) {
	if device.AccountID == nil {
		return nil, apperrors.Forbidden("device is not linked to an account")
	}

	date, err := time.Parse("2006-01-02", report.Date)
	if err != nil {
		return nil, apperrors.ValidationError("invalid date format, expected YYYY-MM-DD")
	}

	usage, err := s.usageRepo.UpsertDaily(ctx, model.UpsertDailyUsageParams{
		AccountID:   *device.AccountID,
		DeviceID:    device.ID,
		Date:        date,
		UsedMinutes: report.UsedMinutes,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	for _, sample := range report.Activity {
		if err := s.usageRepo.CreateActivitySample(ctx, model.CreateActivitySampleParams{
			AccountID: *device.AccountID,
			DeviceID:  device.ID,
			App:       sample.App,
			Title:     sample.Title,
			Minutes:   sample.Minutes,
			SampledAt: sample.SampledAt,
		}); err != nil {
			log.Warn().Err(err).Str("deviceId", device.ID).Msg("failed to store activity sample")
		}
	}

	return usage, nil
}

type EventReport struct {
	Type      string          `json:"type" validate:"required,max=64"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp" validate:"required"`
}

func (s *SyncService) ReportEvents(ctx context.Context, device *model.Device, reports []EventReport) (int, error) {
	if device.AccountID == nil {
		return 0, apperrors.Forbidden("device is not linked to an account")
	}

	stored := 0
	for _, report := range reports {
		if _, err := s.eventRepo.Create(ctx, model.CreateEventParams{
			AccountID: *device.AccountID,
			DeviceID:  device.ID,
			Type:      report.Type,
			Payload:   report.Payload,
			Timestamp: report.Timestamp,
		}); err != nil {
			return stored, apperrors.Database(err)
		}
		stored++
	}
	return stored, nil
}

func (s *SyncService) PendingCommands(ctx context.Context, device *model.Device) ([]model.Command, error) {
	commands, err := s.commandRepo.FindPendingByDeviceID(ctx, device.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return commands, nil
}

// AckCommand marks a command delivered. The conditional update means a
// double ack reports not-found rather than silently succeeding.
func (s *SyncService) AckCommand(ctx context.Context, device *model.Device, commandID string) error {
	acked, err := s.commandRepo.Ack(ctx, commandID, device.ID)
	if err != nil {
		return apperrors.Database(err)
	}
	if !acked {
		return apperrors.NotFound("pending command")
	}
	return nil
}

type SettingsBundle struct {
	Settings     *model.DeviceSettings `json:"settings"`
	BlockedSites []string              `json:"blocked_sites"`
	BlockedApps  []string              `json:"blocked_apps"`
}

// FetchSettings returns everything the agent needs to enforce locally in
// one response.
func (s *SyncService) FetchSettings(ctx context.Context, device *model.Device) (*SettingsBundle, error) {
	if device.AccountID == nil {
		return nil, apperrors.Forbidden("device is not linked to an account")
	}

	settings, err := s.settingsRepo.FindByDeviceID(ctx, device.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if settings == nil {
		settings, err = s.settingsRepo.CreateDefaults(ctx, device.ID, *device.AccountID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
	}

	sites, err := s.blocklistRepo.FindSitesByDeviceID(ctx, device.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	apps, err := s.blocklistRepo.FindAppsByDeviceID(ctx, device.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	bundle := &SettingsBundle{
		Settings:     settings,
		BlockedSites: make([]string, 0, len(sites)),
		BlockedApps:  make([]string, 0, len(apps)),
	}
	for _, site := range sites {
		bundle.BlockedSites = append(bundle.BlockedSites, site.Pattern)
	}
	for _, app := range apps {
		bundle.BlockedApps = append(bundle.BlockedApps, app.Name)
	}
	return bundle, nil
}
