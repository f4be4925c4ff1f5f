package service

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/kidspc/kidspc-server/internal/audit"
	"github.com/kidspc/kidspc-server/internal/config"
	"github.com/kidspc/kidspc-server/internal/database"
	apperrors "github.com/kidspc/kidspc-server/internal/errors"
	"github.com/kidspc/kidspc-server/internal/model"
	"github.com/kidspc/kidspc-server/internal/repository"
	"github.com/kidspc/kidspc-server/internal/util"
)

// Alphabet for human-typable codes; O, I, 0 and 1 are excluded because
// they are ambiguous on a child's screen.
const pairingCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	deviceCodeGroups = 2 // XXX-XXX, typed from the desktop dialog
	webCodeGroups    = 3 // XXX-XXX-XXX, generated on the dashboard
	codeGroupLen     = 3

	maxGenerateAttempts = 5

	defaultDeviceName = "New PC"
)

type CheckResult struct {
	Status    model.PairingStatus `json:"status"`
	DeviceID  *string             `json:"pc_id,omitempty"`
	AccountID *string             `json:"user_id,omitempty"`
	DeviceJWT *string             `json:"device_jwt,omitempty"`
}

type ConfirmResult struct {
	DeviceID   string `json:"pc_id"`
	DeviceName string `json:"device_name"`
	IsRepair   bool   `json:"is_repair"`
}

type ClaimResult struct {
	DeviceID  string `json:"pc_id"`
	AccountID string `json:"user_id"`
	DeviceJWT string `json:"device_jwt"`
	IsRepair  bool   `json:"is_repair"`
}

type PairingService struct {
	db           *database.DB
	tokenRepo    repository.PairingTokenRepository
	deviceRepo   repository.DeviceRepository
	subRepo      repository.SubscriptionRepository
	settingsRepo repository.DeviceSettingsRepository
	jwtSecret    string
	codeTTL      time.Duration
	syncTokenTTL time.Duration
	replayWindow time.Duration
}

func NewPairingService(
	db *database.DB,
	tokenRepo repository.PairingTokenRepository,
	deviceRepo repository.DeviceRepository,
	subRepo repository.SubscriptionRepository,
	settingsRepo repository.DeviceSettingsRepository,
	cfg *config.Config,
) *PairingService {
	return &PairingService{
		db:           db,
		tokenRepo:    tokenRepo,
		deviceRepo:   deviceRepo,
		subRepo:      subRepo,
		settingsRepo: settingsRepo,
		jwtSecret:    cfg.DeviceJWTSecret,
		codeTTL:      cfg.CodeTTL(),
		syncTokenTTL: cfg.SyncTokenTTL(),
		replayWindow: cfg.ReplayWindow(),
	}
}

// RequestCode issues a short code for the device-initiated flow: the
// desktop client shows it (and a QR) and the parent confirms it on the
// dashboard. When the client re-pairs it passes its existing device id so
// confirmation transfers ownership instead of creating a new device.
func (s *PairingService) RequestCode(ctx context.Context, platform string, existingDeviceID *string) (*model.PairingToken, error) {
	token, err := s.createToken(ctx, model.CreatePairingTokenParams{
		Kind:      model.TokenKindCode,
		Platform:  util.NormalizePlatform(platform),
		DeviceID:  existingDeviceID,
		ExpiresAt: time.Now().Add(s.codeTTL),
	}, deviceCodeGroups)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("code", util.MaskCode(token.Value)).
		Str("platform", token.Platform).
		Time("expiresAt", token.ExpiresAt).
		Msg("pairing code issued")

	return token, nil
}

// GenerateWebCode issues a longer code from the dashboard side; the parent
// reads it out and the child types it into the desktop client.
func (s *PairingService) GenerateWebCode(ctx context.Context, accountID string) (*model.PairingToken, error) {
	token, err := s.createToken(ctx, model.CreatePairingTokenParams{
		Kind:      model.TokenKindCode,
		Platform:  "windows",
		AccountID: &accountID,
		ExpiresAt: time.Now().Add(s.codeTTL),
	}, webCodeGroups)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("code", util.MaskCode(token.Value)).
		Str("accountId", accountID).
		Msg("web pairing code issued")

	return token, nil
}

// Check is the polling read of the pairing state machine. Expiry is
// computed here, lazily; there is no background transition. A confirmed
// token keeps answering with the same binding.
func (s *PairingService) Check(ctx context.Context, value string) (*CheckResult, error) {
	token, err := s.tokenRepo.FindByValue(ctx, normalizeCode(value))
	if err != nil {
		return nil, apperrors.Database(err)
	}

	if token == nil {
		return &CheckResult{Status: model.PairingStatusInvalid}, nil
	}

	if token.Consumed() {
		return &CheckResult{
			Status:    model.PairingStatusConfirmed,
			DeviceID:  token.BoundDeviceID,
			AccountID: token.BoundAccountID,
			DeviceJWT: token.DeviceJWT,
		}, nil
	}

	if token.ExpiredAt(time.Now()) {
		return &CheckResult{Status: model.PairingStatusExpired}, nil
	}

	return &CheckResult{Status: model.PairingStatusPending}, nil
}

// Confirm is the parent's side of the device-initiated flow: the account
// holder submits the code shown on the child's screen. Quota and
// subscription gates apply to fresh pairings only; re-pairing an existing
// device transfers ownership without consuming a slot twice.
func (s *PairingService) Confirm(ctx context.Context, accountID, code string) (*ConfirmResult, error) {
	token, err := s.tokenRepo.FindByValue(ctx, normalizeCode(code))
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if token == nil {
		return nil, apperrors.InvalidCode()
	}
	if token.Consumed() {
		return nil, apperrors.AlreadyUsed()
	}
	if token.ExpiredAt(time.Now()) {
		return nil, apperrors.ExpiredCode()
	}

	var result *ConfirmResult
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		bound, isRepair, err := s.bindDevice(ctx, tx, token, accountID)
		if err != nil {
			return err
		}

		deviceJWT, err := util.SignDeviceJWT(s.jwtSecret, bound.ID, accountID)
		if err != nil {
			return apperrors.Internal("failed to sign device credential").WithCause(err)
		}

		ok, err := s.tokenRepo.WithTx(tx).Consume(ctx, token.Value, model.TokenBinding{
			AccountID: accountID,
			DeviceID:  bound.ID,
			DeviceJWT: deviceJWT,
		})
		if err != nil {
			return apperrors.Database(err)
		}
		if !ok {
			// A concurrent confirm won the conditional update; roll
			// everything back and surface the terminal state.
			return apperrors.AlreadyUsed()
		}

		result = &ConfirmResult{
			DeviceID:   bound.ID,
			DeviceName: bound.Name,
			IsRepair:   isRepair,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit.PairingConfirmed(accountID, result.DeviceID, result.IsRepair)
	return result, nil
}

// Claim is the device's side of the sync-token flow. The caller is
// unauthenticated; the token itself is the credential and carries the
// issuing account. Already-paired devices retrying a consumed token get
// the original binding back, bounded by the replay window.
func (s *PairingService) Claim(ctx context.Context, value, platform, name string) (*ClaimResult, error) {
	value = strings.TrimSpace(value)
	token, err := s.tokenRepo.FindByValue(ctx, value)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if token == nil {
		// Web codes are case-insensitive when typed into the client;
		// sync tokens are lowercase hex and always hit the exact lookup.
		if normalized := normalizeCode(value); normalized != value {
			token, err = s.tokenRepo.FindByValue(ctx, normalized)
			if err != nil {
				return nil, apperrors.Database(err)
			}
		}
	}
	if token == nil {
		return nil, apperrors.InvalidCode()
	}

	now := time.Now()

	if token.Consumed() {
		return s.replayClaim(ctx, token, now)
	}

	if token.AccountID == nil {
		// Sync tokens are always account-issued; a code without an
		// account must go through Confirm instead.
		return nil, apperrors.InvalidCode()
	}
	accountID := *token.AccountID

	if token.Kind == model.TokenKindSync {
		// The device row points at its current sync token; issuing a
		// fresh token supersedes earlier ones even inside their window.
		holder, err := s.deviceRepo.FindBySyncTokenHash(ctx, util.HashToken(token.Value))
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if holder == nil || token.DeviceID == nil || holder.ID != *token.DeviceID {
			return nil, apperrors.InvalidCode()
		}
	}

	if token.ExpiredAt(now) {
		// Expiry is only enforced for devices that have never completed
		// a pairing; a paired device retrying after a network failure
		// must still succeed (see replayClaim for the consumed case).
		paired, err := s.tokenDevicePaired(ctx, token)
		if err != nil {
			return nil, err
		}
		if !paired {
			return nil, apperrors.ExpiredCode()
		}
	}

	var result *ClaimResult
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		bound, isRepair, err := s.bindDeviceForClaim(ctx, tx, token, accountID, platform, name)
		if err != nil {
			return err
		}

		deviceJWT, err := util.SignDeviceJWT(s.jwtSecret, bound.ID, accountID)
		if err != nil {
			return apperrors.Internal("failed to sign device credential").WithCause(err)
		}

		ok, err := s.tokenRepo.WithTx(tx).Consume(ctx, token.Value, model.TokenBinding{
			AccountID: accountID,
			DeviceID:  bound.ID,
			DeviceJWT: deviceJWT,
		})
		if err != nil {
			return apperrors.Database(err)
		}
		if !ok {
			return apperrors.AlreadyUsed()
		}

		result = &ClaimResult{
			DeviceID:  bound.ID,
			AccountID: accountID,
			DeviceJWT: deviceJWT,
			IsRepair:  isRepair,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit.DeviceClaimed(accountID, result.DeviceID, result.IsRepair)
	return result, nil
}

// replayClaim handles a consumed token presented again. Legitimate case:
// the device committed server-side but lost the response and retries. The
// replay returns the stored binding without side effects, but only while
// the bound device is still paired and the replay window has not lapsed.
func (s *PairingService) replayClaim(ctx context.Context, token *model.PairingToken, now time.Time) (*ClaimResult, error) {
	if token.BoundDeviceID == nil || token.BoundAccountID == nil || token.DeviceJWT == nil {
		return nil, apperrors.AlreadyUsed()
	}

	if token.UsedAt != nil && now.After(token.UsedAt.Add(s.replayWindow)) {
		return nil, apperrors.AlreadyUsed()
	}

	device, err := s.deviceRepo.FindByID(ctx, *token.BoundDeviceID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if device == nil || device.PairedAt == nil {
		return nil, apperrors.AlreadyUsed()
	}

	log.Info().
		Str("deviceId", device.ID).
		Str("token", util.MaskCode(token.Value)).
		Msg("idempotent claim replay")

	return &ClaimResult{
		DeviceID:  *token.BoundDeviceID,
		AccountID: *token.BoundAccountID,
		DeviceJWT: *token.DeviceJWT,
		IsRepair:  true,
	}, nil
}

// tokenDevicePaired reports whether the token targets a device that has
// already completed a pairing at least once.
func (s *PairingService) tokenDevicePaired(ctx context.Context, token *model.PairingToken) (bool, error) {
	if token.DeviceID == nil {
		return false, nil
	}
	device, err := s.deviceRepo.FindByID(ctx, *token.DeviceID)
	if err != nil {
		return false, apperrors.Database(err)
	}
	return device != nil && device.PairedAt != nil, nil
}

// bindDevice resolves the device a confirmed token binds to: transfer of
// an existing device (re-pair) or creation of a fresh one, gated by
// subscription and quota. Must run inside the claim transaction; the
// advisory lock serializes quota checks for the account.
func (s *PairingService) bindDevice(ctx context.Context, tx *sqlx.Tx, token *model.PairingToken, accountID string) (*model.Device, bool, error) {
	if err := database.AdvisoryLock(ctx, tx, "devices:"+accountID); err != nil {
		return nil, false, apperrors.Database(err)
	}

	deviceRepo := s.deviceRepo.WithTx(tx)

	if token.DeviceID != nil {
		device, err := deviceRepo.FindByID(ctx, *token.DeviceID)
		if err != nil {
			return nil, false, apperrors.Database(err)
		}
		if device == nil {
			return nil, false, apperrors.NotFound("device")
		}
		transferred, err := deviceRepo.TransferOwnership(ctx, device.ID, accountID, time.Now())
		if err != nil {
			return nil, false, apperrors.Database(err)
		}
		if transferred == nil {
			return nil, false, apperrors.NotFound("device")
		}
		return transferred, true, nil
	}

	if err := s.checkQuota(ctx, tx, accountID); err != nil {
		return nil, false, err
	}

	device, err := deviceRepo.Create(ctx, model.CreateDeviceParams{
		AccountID: accountID,
		Name:      defaultDeviceName,
		Platform:  token.Platform,
		PairedAt:  time.Now(),
	})
	if err != nil {
		return nil, false, apperrors.Database(err)
	}

	if _, err := s.settingsRepo.WithTx(tx).CreateDefaults(ctx, device.ID, accountID); err != nil {
		return nil, false, apperrors.Database(err)
	}

	return device, false, nil
}

// bindDeviceForClaim is bindDevice for the sync-token flow, where the
// device may declare its platform and preferred name.
func (s *PairingService) bindDeviceForClaim(ctx context.Context, tx *sqlx.Tx, token *model.PairingToken, accountID, platform, name string) (*model.Device, bool, error) {
	if token.DeviceID != nil {
		return s.bindDevice(ctx, tx, token, accountID)
	}

	if err := database.AdvisoryLock(ctx, tx, "devices:"+accountID); err != nil {
		return nil, false, apperrors.Database(err)
	}

	if err := s.checkQuota(ctx, tx, accountID); err != nil {
		return nil, false, err
	}

	deviceName := strings.TrimSpace(name)
	if deviceName == "" {
		deviceName = defaultDeviceName
	}

	deviceRepo := s.deviceRepo.WithTx(tx)
	device, err := deviceRepo.Create(ctx, model.CreateDeviceParams{
		AccountID: accountID,
		Name:      deviceName,
		Platform:  util.NormalizePlatform(platform),
		PairedAt:  time.Now(),
	})
	if err != nil {
		return nil, false, apperrors.Database(err)
	}

	if _, err := s.settingsRepo.WithTx(tx).CreateDefaults(ctx, device.ID, accountID); err != nil {
		return nil, false, apperrors.Database(err)
	}

	return device, false, nil
}

// checkQuota enforces the pairing gates: a usable subscription and a free
// device slot. Callers hold the per-account advisory lock, which makes the
// count-then-create sequence race-free.
func (s *PairingService) checkQuota(ctx context.Context, tx *sqlx.Tx, accountID string) error {
	sub, err := s.subRepo.WithTx(tx).FindByAccountID(ctx, accountID)
	if err != nil {
		return apperrors.Database(err)
	}
	if sub == nil || !sub.Status.Usable() {
		return apperrors.NoSubscription()
	}

	maxDevices := sub.MaxDevices
	if maxDevices <= 0 {
		maxDevices = config.BaseMaxDevices
	}

	deviceCount, err := s.deviceRepo.WithTx(tx).CountByAccountID(ctx, accountID)
	if err != nil {
		return apperrors.Database(err)
	}
	if deviceCount >= maxDevices {
		return apperrors.DeviceLimitReached(deviceCount, maxDevices)
	}

	return nil
}

// IssueSyncToken mints a 30-minute token for the device-initiated sync
// flow: the parent generates it on the dashboard and types it into the
// desktop client, which then calls Claim.
func (s *PairingService) IssueSyncToken(ctx context.Context, accountID, deviceID string) (*model.PairingToken, string, error) {
	device, err := s.deviceRepo.FindByIDForAccount(ctx, deviceID, accountID)
	if err != nil {
		return nil, "", apperrors.Database(err)
	}
	if device == nil {
		return nil, "", apperrors.NotFound("device")
	}

	value, err := util.GenerateSyncToken()
	if err != nil {
		return nil, "", apperrors.Internal("failed to generate sync token").WithCause(err)
	}

	expiresAt := time.Now().Add(s.syncTokenTTL)

	token, err := s.tokenRepo.Create(ctx, model.CreatePairingTokenParams{
		Value:     value,
		Kind:      model.TokenKindSync,
		Platform:  device.Platform,
		DeviceID:  &device.ID,
		AccountID: &accountID,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, "", apperrors.Database(err)
	}

	if err := s.deviceRepo.SetSyncToken(ctx, deviceID, accountID, util.HashToken(value), expiresAt); err != nil {
		return nil, "", apperrors.Database(err)
	}

	log.Info().
		Str("deviceId", deviceID).
		Str("accountId", accountID).
		Time("expiresAt", expiresAt).
		Msg("sync token issued")

	return token, value, nil
}

// createToken generates a code and inserts it, retrying on the unique
// constraint instead of trusting alphabet entropy alone.
func (s *PairingService) createToken(ctx context.Context, params model.CreatePairingTokenParams, groups int) (*model.PairingToken, error) {
	var lastErr error
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		params.Value = generateCode(groups)
		token, err := s.tokenRepo.Create(ctx, params)
		if err == nil {
			return token, nil
		}
		if !repository.IsUniqueViolation(err) {
			return nil, apperrors.Database(err)
		}
		lastErr = err
	}
	return nil, apperrors.Internal("failed to generate a unique pairing code").WithCause(lastErr)
}

func generateCode(groups int) string {
	chars := []byte(pairingCodeChars)
	parts := make([]string, groups)

	for g := 0; g < groups; g++ {
		part := make([]byte, codeGroupLen)
		for i := 0; i < codeGroupLen; i++ {
			n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
			part[i] = chars[n.Int64()]
		}
		parts[g] = string(part)
	}

	return strings.Join(parts, "-")
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
