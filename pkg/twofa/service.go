package twofa

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fluxstudio/flux-auth/pkg/audit"
	fluxerrors "github.com/fluxstudio/flux-auth/pkg/errors"
	"github.com/fluxstudio/flux-auth/pkg/notification"
)

// State of a user's two-factor enrollment
type State string

const (
	StateDisabled            State = "disabled"
	StatePendingVerification State = "pending_verification"
	StateEnabled             State = "enabled"
)

const BackupCodeCount = 8

// SetupResult is returned by BeginSetup
type SetupResult struct {
	Secret string
	QrCode string
}

// TwoFaService drives the per-user enrollment state machine:
// disabled -> pending verification -> enabled -> disabled.
type TwoFaService struct {
	repo                TwoFARepository
	totp                TotpProvider
	recorder            *audit.Recorder
	notificationManager *notification.NotificationManager
}

// TwoFaServiceOption configures a TwoFaService
type TwoFaServiceOption func(*TwoFaService)

// WithNotificationManager enables best-effort security alert emails
func WithNotificationManager(nm *notification.NotificationManager) TwoFaServiceOption {
	return func(s *TwoFaService) {
		s.notificationManager = nm
	}
}

// NewTwoFaService creates a new TwoFaService
func NewTwoFaService(repo TwoFARepository, totp TotpProvider, recorder *audit.Recorder, opts ...TwoFaServiceOption) *TwoFaService {
	service := &TwoFaService{
		repo:     repo,
		totp:     totp,
		recorder: recorder,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// StateOf derives the enrollment state from a security record
func StateOf(record SecurityRecord) State {
	switch {
	case record.TotpEnabled:
		return StateEnabled
	case record.SecretValid:
		return StatePendingVerification
	default:
		return StateDisabled
	}
}

// checkProvider guards every operation: a missing TOTP provider is a
// deploy-time fault and must surface as unavailable, not partial behavior.
func (s *TwoFaService) checkProvider() error {
	if s.totp == nil {
		return fluxerrors.New(fluxerrors.ErrCodeServiceUnavailable, "two-factor authentication is unavailable")
	}
	return nil
}

// BeginSetup generates a fresh secret for the user and stores it unconfirmed.
// Re-entry while pending simply replaces the prior secret.
func (s *TwoFaService) BeginSetup(ctx context.Context, userID uuid.UUID, accountName string) (SetupResult, error) {
	if err := s.checkProvider(); err != nil {
		return SetupResult{}, err
	}

	record, err := s.repo.GetByUserID(ctx, userID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return SetupResult{}, fluxerrors.InternalWrap(err, "failed to load security record")
	}
	if StateOf(record) == StateEnabled {
		return SetupResult{}, fluxerrors.New(fluxerrors.ErrCode2FAAlreadyEnabled, "two-factor authentication is already enabled")
	}

	secret, uri, err := s.totp.GenerateSecret(accountName)
	if err != nil {
		return SetupResult{}, fluxerrors.InternalWrap(err, "failed to generate secret")
	}

	qrCode, err := s.totp.RenderQr(uri)
	if err != nil {
		return SetupResult{}, fluxerrors.InternalWrap(err, "failed to render qr code")
	}

	if err := s.repo.SetPendingSecret(ctx, SetPendingSecretParams{UserID: userID, Secret: secret}); err != nil {
		return SetupResult{}, fluxerrors.InternalWrap(err, "failed to store pending secret")
	}

	slog.Info("Two-factor setup started", "userId", userID)
	return SetupResult{Secret: secret, QrCode: qrCode}, nil
}

// ConfirmSetup validates the first passcode against the pending secret and,
// on success, enables two-factor and issues the backup codes. The codes are
// returned exactly once and are not retrievable later.
func (s *TwoFaService) ConfirmSetup(ctx context.Context, userID uuid.UUID, email, code string) ([]string, error) {
	if err := s.checkProvider(); err != nil {
		return nil, err
	}

	record, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, fluxerrors.New(fluxerrors.ErrCode2FASetupNotStarted, "two-factor setup has not been started")
		}
		return nil, fluxerrors.InternalWrap(err, "failed to load security record")
	}

	switch StateOf(record) {
	case StateEnabled:
		return nil, fluxerrors.New(fluxerrors.ErrCode2FAAlreadyEnabled, "two-factor authentication is already enabled")
	case StateDisabled:
		return nil, fluxerrors.New(fluxerrors.ErrCode2FASetupNotStarted, "two-factor setup has not been started")
	}

	valid, err := s.totp.Verify(record.TotpSecret, code)
	if err != nil {
		return nil, fluxerrors.InternalWrap(err, "failed to validate passcode")
	}
	if !valid {
		return nil, fluxerrors.New(fluxerrors.ErrCode2FAInvalidCode, "invalid verification code")
	}

	backupCodes, err := generateBackupCodes(BackupCodeCount)
	if err != nil {
		return nil, fluxerrors.InternalWrap(err, "failed to generate backup codes")
	}

	enabledAt := time.Now().UTC()
	if err := s.repo.Enable(ctx, EnableParams{UserID: userID, BackupCodes: backupCodes, EnabledAt: enabledAt}); err != nil {
		return nil, fluxerrors.InternalWrap(err, "failed to enable two-factor")
	}

	s.recorder.Record(ctx, audit.ActionTwoFaEnabled, userID, nil)
	s.sendSecurityAlert(notification.TwoFaEnabledNotice, email, enabledAt)

	slog.Info("Two-factor enabled", "userId", userID)
	return backupCodes, nil
}

// Disable turns two-factor off. It accepts a current TOTP passcode only;
// backup codes are deliberately not honored here.
func (s *TwoFaService) Disable(ctx context.Context, userID uuid.UUID, email, code string) error {
	if err := s.checkProvider(); err != nil {
		return err
	}

	record, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return fluxerrors.New(fluxerrors.ErrCode2FANotEnabled, "two-factor authentication is not enabled")
		}
		return fluxerrors.InternalWrap(err, "failed to load security record")
	}
	if StateOf(record) != StateEnabled {
		return fluxerrors.New(fluxerrors.ErrCode2FANotEnabled, "two-factor authentication is not enabled")
	}

	valid, err := s.totp.Verify(record.TotpSecret, code)
	if err != nil {
		return fluxerrors.InternalWrap(err, "failed to validate passcode")
	}
	if !valid {
		return fluxerrors.New(fluxerrors.ErrCode2FAInvalidCode, "invalid verification code")
	}

	if err := s.repo.Disable(ctx, userID); err != nil {
		return fluxerrors.InternalWrap(err, "failed to disable two-factor")
	}

	s.recorder.Record(ctx, audit.ActionTwoFaDisabled, userID, nil)
	s.sendSecurityAlert(notification.TwoFaDisabledNotice, email, time.Now().UTC())

	slog.Info("Two-factor disabled", "userId", userID)
	return nil
}

// VerifyLogin validates a login-time code for a user who holds a pending-auth
// token. TOTP is tried first; on failure the code is matched against the
// remaining backup codes and consumed on match.
func (s *TwoFaService) VerifyLogin(ctx context.Context, userID uuid.UUID, code string) error {
	if err := s.checkProvider(); err != nil {
		return err
	}

	record, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return fluxerrors.New(fluxerrors.ErrCodeUserNotFound, "user not found")
		}
		return fluxerrors.InternalWrap(err, "failed to load security record")
	}
	// A pending-auth token for an account without two-factor should not
	// exist; answer as a code mismatch rather than leaking account state
	if StateOf(record) != StateEnabled {
		return fluxerrors.New(fluxerrors.ErrCode2FAInvalidCode, "invalid verification code")
	}

	valid, err := s.totp.Verify(record.TotpSecret, code)
	if err != nil {
		return fluxerrors.InternalWrap(err, "failed to validate passcode")
	}

	method := "totp"
	if !valid {
		consumed, err := s.repo.ConsumeBackupCode(ctx, userID, code)
		if err != nil {
			return fluxerrors.InternalWrap(err, "failed to check backup code")
		}
		if !consumed {
			return fluxerrors.New(fluxerrors.ErrCode2FAInvalidCode, "invalid verification code")
		}
		method = "backup_code"
	}

	s.recorder.Record(ctx, audit.ActionLoginTwoFa, userID, map[string]interface{}{"method": method})

	slog.Info("Two-factor login verified", "userId", userID, "method", method)
	return nil
}

// sendSecurityAlert emails the user about a security state change. Delivery
// is best effort; failures are logged and never fail the operation.
func (s *TwoFaService) sendSecurityAlert(noticeType notification.NoticeType, email string, at time.Time) {
	if s.notificationManager == nil || email == "" {
		return
	}
	err := s.notificationManager.Send(noticeType, notification.EmailSystem, notification.NotificationData{
		To:   email,
		Data: map[string]string{"Time": at.Format(time.RFC3339)},
	})
	if err != nil {
		slog.Error("Failed to send security alert", "noticeType", noticeType, "err", err)
	}
}

// generateBackupCodes creates count distinct short alphanumeric codes
func generateBackupCodes(count int) ([]string, error) {
	seen := make(map[string]struct{}, count)
	codes := make([]string, 0, count)
	for len(codes) < count {
		bytes := make([]byte, 10)
		if _, err := rand.Read(bytes); err != nil {
			return nil, fmt.Errorf("failed to generate random bytes: %w", err)
		}
		code := strings.ToLower(base32.StdEncoding.EncodeToString(bytes)[:10])
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}
