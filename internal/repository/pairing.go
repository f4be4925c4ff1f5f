package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kidspc/kidspc-server/internal/model"
)

type PairingTokenRepository interface {
	// FindByValue returns the row regardless of consumption or expiry;
	// the state machine is evaluated by the service at read time.
	FindByValue(ctx context.Context, value string) (*model.PairingToken, error)
	Create(ctx context.Context, params model.CreatePairingTokenParams) (*model.PairingToken, error)
	// Consume marks the token used and stores the binding. It is a single
	// conditional update: only one concurrent claimer sees ok=true, the
	// rest must treat the token as already used.
	Consume(ctx context.Context, value string, binding model.TokenBinding) (ok bool, err error)
	// DeleteExpired removes rows whose terminal state (expired or
	// consumed) is older than the retention horizon. Rows inside the
	// horizon are kept so reads keep reporting the terminal state.
	DeleteExpired(ctx context.Context, retention time.Duration) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) PairingTokenRepository
}

type pairingTokenRepo struct {
	db sqlxDB
}

func NewPairingTokenRepository(db *sqlx.DB) PairingTokenRepository {
	return &pairingTokenRepo{db: db}
}

func (r *pairingTokenRepo) WithTx(tx *sqlx.Tx) PairingTokenRepository {
	return &pairingTokenRepo{db: tx}
}

func (r *pairingTokenRepo) FindByValue(ctx context.Context, value string) (*model.PairingToken, error) {
	var token model.PairingToken
	err := r.db.GetContext(ctx, &token, `
		SELECT * FROM pairing_tokens WHERE value = $1
	`, value)
	return HandleNotFound(&token, err)
}

func (r *pairingTokenRepo) Create(ctx context.Context, params model.CreatePairingTokenParams) (*model.PairingToken, error) {
	var token model.PairingToken
	err := r.db.GetContext(ctx, &token, `
		INSERT INTO pairing_tokens (value, kind, platform, device_id, account_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.Value, params.Kind, params.Platform, params.DeviceID, params.AccountID, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *pairingTokenRepo) Consume(ctx context.Context, value string, binding model.TokenBinding) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE pairing_tokens SET
			used_at = $2,
			bound_account_id = $3,
			bound_device_id = $4,
			device_jwt = $5
		WHERE value = $1 AND used_at IS NULL
	`, value, time.Now(), binding.AccountID, binding.DeviceID, binding.DeviceJWT)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *pairingTokenRepo) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	// Tokens become inert when they expire or get consumed; rows stay
	// readable for the retention period so expired polls keep answering
	// expired, consumed polls stay idempotent, and paired devices can
	// retry past expiry. Only then do the rows go.
	cutoff := time.Now().Add(-retention)
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_tokens
		WHERE (used_at IS NULL AND expires_at < $1)
		OR (used_at IS NOT NULL AND used_at < $1)
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
