package twofa

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRecordNotFound is returned when no security record exists for a user
var ErrRecordNotFound = errors.New("security record not found")

// SecurityRecord represents the two-factor state of one user
type SecurityRecord struct {
	UserID         uuid.UUID
	TotpEnabled    bool
	TotpSecret     string
	SecretValid    bool
	BackupCodes    []string
	EnabledAt      time.Time
	EnabledAtValid bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SetPendingSecretParams represents parameters for storing an unconfirmed secret
type SetPendingSecretParams struct {
	UserID uuid.UUID
	Secret string
}

// EnableParams represents parameters for promoting a pending secret to enabled
type EnableParams struct {
	UserID      uuid.UUID
	BackupCodes []string
	EnabledAt   time.Time
}

// TwoFARepository defines the storage operations for two-factor state
type TwoFARepository interface {
	// GetByUserID returns the security record for a user, or ErrRecordNotFound
	GetByUserID(ctx context.Context, userID uuid.UUID) (SecurityRecord, error)

	// SetPendingSecret stores an unconfirmed secret, creating the record if
	// needed and replacing any prior pending secret
	SetPendingSecret(ctx context.Context, params SetPendingSecretParams) error

	// Enable marks two-factor as enabled and stores the backup codes
	Enable(ctx context.Context, params EnableParams) error

	// Disable clears the secret, backup codes and enablement timestamp
	Disable(ctx context.Context, userID uuid.UUID) error

	// ConsumeBackupCode removes one matching backup code. It reports whether
	// a code was consumed. The removal is atomic so two racing logins can
	// not both spend the same code.
	ConsumeBackupCode(ctx context.Context, userID uuid.UUID, code string) (bool, error)
}

// PostgresTwoFARepository implements TwoFARepository using PostgreSQL
type PostgresTwoFARepository struct {
	pool *pgxpool.Pool
}

// NewPostgresTwoFARepository creates a new PostgreSQL-based repository
func NewPostgresTwoFARepository(pool *pgxpool.Pool) *PostgresTwoFARepository {
	return &PostgresTwoFARepository{pool: pool}
}

func (r *PostgresTwoFARepository) GetByUserID(ctx context.Context, userID uuid.UUID) (SecurityRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT user_id, totp_enabled, totp_secret, totp_backup_codes, totp_enabled_at, created_at, updated_at
		FROM user_security
		WHERE user_id = $1
	`, userID)

	var record SecurityRecord
	var secret *string
	var enabledAt *time.Time
	err := row.Scan(&record.UserID, &record.TotpEnabled, &secret, &record.BackupCodes, &enabledAt, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SecurityRecord{}, ErrRecordNotFound
		}
		return SecurityRecord{}, err
	}

	if secret != nil {
		record.TotpSecret = *secret
		record.SecretValid = true
	}
	if enabledAt != nil {
		record.EnabledAt = *enabledAt
		record.EnabledAtValid = true
	}
	return record, nil
}

func (r *PostgresTwoFARepository) SetPendingSecret(ctx context.Context, params SetPendingSecretParams) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_security (user_id, totp_enabled, totp_secret)
		VALUES ($1, FALSE, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET totp_secret = EXCLUDED.totp_secret,
		    updated_at = now()
	`, params.UserID, params.Secret)
	return err
}

func (r *PostgresTwoFARepository) Enable(ctx context.Context, params EnableParams) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_security
		SET totp_enabled = TRUE,
		    totp_backup_codes = $2,
		    totp_enabled_at = $3,
		    updated_at = now()
		WHERE user_id = $1
	`, params.UserID, params.BackupCodes, params.EnabledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *PostgresTwoFARepository) Disable(ctx context.Context, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_security
		SET totp_enabled = FALSE,
		    totp_secret = NULL,
		    totp_backup_codes = NULL,
		    totp_enabled_at = NULL,
		    updated_at = now()
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ConsumeBackupCode relies on a conditional single-statement update so the
// read-check-remove is atomic at the row level.
func (r *PostgresTwoFARepository) ConsumeBackupCode(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_security
		SET totp_backup_codes = array_remove(totp_backup_codes, $2),
		    updated_at = now()
		WHERE user_id = $1
		  AND totp_enabled = TRUE
		  AND $2 = ANY(totp_backup_codes)
	`, userID, code)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
