package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/kidspc/kidspc-server/internal/audit"
	"github.com/kidspc/kidspc-server/internal/database"
	apperrors "github.com/kidspc/kidspc-server/internal/errors"
	"github.com/kidspc/kidspc-server/internal/model"
	"github.com/kidspc/kidspc-server/internal/repository"
	"github.com/kidspc/kidspc-server/internal/util"
)

// Commands the desktop client understands. Anything else is rejected at
// the API boundary so typos do not sit in the queue forever.
var allowedCommands = map[string]bool{
	"lock":            true,
	"unlock":          true,
	"shutdown":        true,
	"add_time":        true,
	"remove_time":     true,
	"refresh":         true,
	"unpair":          true,
	"update_settings": true,
}

// DeviceService is the parent dashboard's view of paired devices:
// listing, renaming, unpairing, settings, blocklists and the command
// queue. The device agent's side lives in SyncService.
type DeviceService struct {
	deviceRepo    repository.DeviceRepository
	settingsRepo  repository.DeviceSettingsRepository
	commandRepo   repository.CommandRepository
	eventRepo     repository.EventRepository
	usageRepo     repository.UsageRepository
	blocklistRepo repository.BlocklistRepository
	db            *database.DB
}

func NewDeviceService(
	db *database.DB,
	deviceRepo repository.DeviceRepository,
	settingsRepo repository.DeviceSettingsRepository,
	commandRepo repository.CommandRepository,
	eventRepo repository.EventRepository,
	usageRepo repository.UsageRepository,
	blocklistRepo repository.BlocklistRepository,
) *DeviceService {
	return &DeviceService{
		db:            db,
		deviceRepo:    deviceRepo,
		settingsRepo:  settingsRepo,
		commandRepo:   commandRepo,
		eventRepo:     eventRepo,
		usageRepo:     usageRepo,
		blocklistRepo: blocklistRepo,
	}
}

func (s *DeviceService) List(ctx context.Context, accountID string) ([]model.Device, error) {
	devices, err := s.deviceRepo.FindAllByAccountID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return devices, nil
}

func (s *DeviceService) Get(ctx context.Context, accountID, deviceID string) (*model.Device, error) {
	device, err := s.deviceRepo.FindByIDForAccount(ctx, deviceID, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if device == nil {
		return nil, apperrors.NotFound("device")
	}
	return device, nil
}

func (s *DeviceService) Rename(ctx context.Context, accountID, deviceID, name string) (*model.Device, error) {
	device, err := s.deviceRepo.Update(ctx, deviceID, accountID, model.UpdateDeviceParams{Name: &name})
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if device == nil {
		return nil, apperrors.NotFound("device")
	}
	return device, nil
}

// Delete unpairs a device. An unpair command is queued first so a client
// that still holds a valid JWT picks it up on its next poll and wipes its
// local state; the soft delete then frees the quota slot immediately.
func (s *DeviceService) Delete(ctx context.Context, accountID, deviceID string) error {
	device, err := s.Get(ctx, accountID, deviceID)
	if err != nil {
		return err
	}

	if _, err := s.commandRepo.Create(ctx, model.CreateCommandParams{
		AccountID: accountID,
		DeviceID:  device.ID,
		Command:   "unpair",
	}); err != nil {
		return apperrors.Database(err)
	}

	deleted, err := s.deviceRepo.SoftDelete(ctx, deviceID, accountID)
	if err != nil {
		return apperrors.Database(err)
	}
	if !deleted {
		return apperrors.NotFound("device")
	}

	audit.DeviceDeleted(accountID, deviceID)
	return nil
}

func (s *DeviceService) GetSettings(ctx context.Context, accountID, deviceID string) (*model.DeviceSettings, error) {
	if _, err := s.Get(ctx, accountID, deviceID); err != nil {
		return nil, err
	}

	settings, err := s.settingsRepo.FindByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if settings == nil {
		// Devices paired before settings existed get defaults on first read.
		settings, err = s.settingsRepo.CreateDefaults(ctx, deviceID, accountID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
	}
	return settings, nil
}

type UpdateSettingsInput struct {
	DailyLimitMinutes    *int             `json:"daily_limit_minutes" validate:"omitempty,min=0,max=1440"`
	StrikePenaltyMinutes *int             `json:"strike_penalty_minutes" validate:"omitempty,min=0,max=1440"`
	Schedule             *json.RawMessage `json:"schedule"`
	Password             *string          `json:"password" validate:"omitempty,min=4,max=64"`
	CurrentPassword      *string          `json:"current_password"`
}

// UpdateSettings applies a partial update and queues an update_settings
// command so the device refreshes without waiting for its settings poll.
func (s *DeviceService) UpdateSettings(ctx context.Context, accountID, deviceID string, input UpdateSettingsInput) (*model.DeviceSettings, error) {
	current, err := s.GetSettings(ctx, accountID, deviceID)
	if err != nil {
		return nil, err
	}

	params := model.UpdateDeviceSettingsParams{
		DailyLimitMinutes:    input.DailyLimitMinutes,
		StrikePenaltyMinutes: input.StrikePenaltyMinutes,
		Schedule:             input.Schedule,
	}
	if input.Password != nil {
		// An existing PIN can only be replaced by whoever knows it.
		if current.PasswordHash != nil && *current.PasswordHash != "" {
			if input.CurrentPassword == nil || !util.CheckPasswordHash(*input.CurrentPassword, *current.PasswordHash) {
				return nil, apperrors.Forbidden("Current settings password does not match")
			}
		}
		hash, err := util.HashPassword(*input.Password)
		if err != nil {
			return nil, apperrors.Internal("failed to hash settings password").WithCause(err)
		}
		params.PasswordHash = &hash
	}

	settings, err := s.settingsRepo.Update(ctx, deviceID, params)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if settings == nil {
		return nil, apperrors.NotFound("device settings")
	}

	if _, err := s.commandRepo.Create(ctx, model.CreateCommandParams{
		AccountID: accountID,
		DeviceID:  deviceID,
		Command:   "update_settings",
	}); err != nil {
		log.Warn().Err(err).Str("deviceId", deviceID).Msg("failed to queue settings refresh command")
	}

	return settings, nil
}

func (s *DeviceService) SendCommand(ctx context.Context, accountID, deviceID, command string, payload json.RawMessage) (*model.Command, error) {
	if !allowedCommands[command] {
		return nil, apperrors.ValidationError("unknown command: " + command)
	}

	if _, err := s.Get(ctx, accountID, deviceID); err != nil {
		return nil, err
	}

	cmd, err := s.commandRepo.Create(ctx, model.CreateCommandParams{
		AccountID: accountID,
		DeviceID:  deviceID,
		Command:   command,
		Payload:   payload,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().
		Str("deviceId", deviceID).
		Str("command", command).
		Msg("command queued")

	return cmd, nil
}

func (s *DeviceService) ListCommands(ctx context.Context, accountID, deviceID string, limit, offset int) ([]model.Command, error) {
	if _, err := s.Get(ctx, accountID, deviceID); err != nil {
		return nil, err
	}
	commands, err := s.commandRepo.FindByDeviceID(ctx, deviceID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return commands, nil
}

func (s *DeviceService) ListEvents(ctx context.Context, accountID, deviceID, eventType string, limit, offset int) ([]model.Event, int, error) {
	if _, err := s.Get(ctx, accountID, deviceID); err != nil {
		return nil, 0, err
	}
	events, err := s.eventRepo.FindByDeviceID(ctx, deviceID, eventType, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Database(err)
	}
	total, err := s.eventRepo.CountByDeviceID(ctx, deviceID, eventType)
	if err != nil {
		return nil, 0, apperrors.Database(err)
	}
	return events, total, nil
}

func (s *DeviceService) UsageHistory(ctx context.Context, accountID, deviceID string, days int) ([]model.DailyUsage, error) {
	if _, err := s.Get(ctx, accountID, deviceID); err != nil {
		return nil, err
	}
	since := time.Now().AddDate(0, 0, -days)
	usage, err := s.usageRepo.FindDailyByDeviceID(ctx, deviceID, since)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return usage, nil
}

func (s *DeviceService) Activity(ctx context.Context, accountID, deviceID string, since time.Time) ([]model.ActivitySample, error) {
	if _, err := s.Get(ctx, accountID, deviceID); err != nil {
		return nil, err
	}
	samples, err := s.usageRepo.FindActivityByDeviceID(ctx, deviceID, since)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return samples, nil
}

func (s *DeviceService) ListBlockedSites(ctx context.Context, accountID, deviceID string) ([]model.BlockedSite, error) {
	if _, err := s.Get(ctx, accountID, deviceID); err != nil {
		return nil, err
	}
	sites, err := s.blocklistRepo.FindSitesByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return sites, nil
}

func (s *DeviceService) ListBlockedApps(ctx context.Context, accountID, deviceID string) ([]model.BlockedApp, error) {
	if _, err := s.Get(ctx, accountID, deviceID); err != nil {
		return nil, err
	}
	apps, err := s.blocklistRepo.FindAppsByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return apps, nil
}

// ReplaceBlockedSites swaps the full site list in one transaction; the
// device applies lists wholesale so partial writes would leave it
// enforcing a mix of old and new rules.
func (s *DeviceService) ReplaceBlockedSites(ctx context.Context, accountID, deviceID string, patterns []string) error {
	if _, err := s.Get(ctx, accountID, deviceID); err != nil {
		return err
	}
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.blocklistRepo.ReplaceSites(ctx, tx, deviceID, accountID, patterns)
	})
	if err != nil {
		return apperrors.Database(err)
	}
	return s.queueRefresh(ctx, accountID, deviceID)
}

func (s *DeviceService) ReplaceBlockedApps(ctx context.Context, accountID, deviceID string, names []string) error {
	if _, err := s.Get(ctx, accountID, deviceID); err != nil {
		return err
	}
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.blocklistRepo.ReplaceApps(ctx, tx, deviceID, accountID, names)
	})
	if err != nil {
		return apperrors.Database(err)
	}
	return s.queueRefresh(ctx, accountID, deviceID)
}

func (s *DeviceService) queueRefresh(ctx context.Context, accountID, deviceID string) error {
	if _, err := s.commandRepo.Create(ctx, model.CreateCommandParams{
		AccountID: accountID,
		DeviceID:  deviceID,
		Command:   "refresh",
	}); err != nil {
		log.Warn().Err(err).Str("deviceId", deviceID).Msg("failed to queue refresh command")
	}
	return nil
}
