package twofa

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxstudio/flux-auth/pkg/audit"
	fluxerrors "github.com/fluxstudio/flux-auth/pkg/errors"
)

type memorySink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *memorySink) Record(ctx context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memorySink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	actions := make([]string, 0, len(s.events))
	for _, e := range s.events {
		actions = append(actions, e.Action)
	}
	return actions
}

type testEnv struct {
	service  *TwoFaService
	repo     *FileTwoFARepository
	recorder *audit.Recorder
	sink     *memorySink
	userID   uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := NewFileTwoFARepository(t.TempDir())
	require.NoError(t, err)

	sink := &memorySink{}
	recorder := audit.NewRecorder(sink)
	service := NewTwoFaService(repo, NewOtpProvider("FluxStudio"), recorder)

	return &testEnv{
		service:  service,
		repo:     repo,
		recorder: recorder,
		sink:     sink,
		userID:   uuid.New(),
	}
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now().UTC())
	require.NoError(t, err)
	return code
}

// enroll walks a fresh user through setup and confirmation
func enroll(t *testing.T, env *testEnv) (secret string, backupCodes []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := env.service.BeginSetup(ctx, env.userID, "user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, setup.Secret)
	require.True(t, strings.HasPrefix(setup.QrCode, "data:image/png;base64,"))

	backupCodes, err = env.service.ConfirmSetup(ctx, env.userID, "user@example.com", currentCode(t, setup.Secret))
	require.NoError(t, err)
	return setup.Secret, backupCodes
}

func TestConfirmSetup_BeforeBeginSetup(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.ConfirmSetup(context.Background(), env.userID, "user@example.com", "123456")
	assert.True(t, fluxerrors.IsCode(err, fluxerrors.ErrCode2FASetupNotStarted))
}

func TestBeginSetup_AlreadyEnabled(t *testing.T) {
	env := newTestEnv(t)
	enroll(t, env)

	_, err := env.service.BeginSetup(context.Background(), env.userID, "user@example.com")
	assert.True(t, fluxerrors.IsCode(err, fluxerrors.ErrCode2FAAlreadyEnabled))

	record, err := env.repo.GetByUserID(context.Background(), env.userID)
	require.NoError(t, err)
	assert.Equal(t, StateEnabled, StateOf(record))
}

func TestBeginSetup_ReplacesPendingSecret(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.service.BeginSetup(ctx, env.userID, "user@example.com")
	require.NoError(t, err)

	second, err := env.service.BeginSetup(ctx, env.userID, "user@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, first.Secret, second.Secret)

	// The first secret no longer confirms, the second does
	_, err = env.service.ConfirmSetup(ctx, env.userID, "user@example.com", currentCode(t, first.Secret))
	assert.True(t, fluxerrors.IsCode(err, fluxerrors.ErrCode2FAInvalidCode))

	_, err = env.service.ConfirmSetup(ctx, env.userID, "user@example.com", currentCode(t, second.Secret))
	assert.NoError(t, err)
}

func TestConfirmSetup_InvalidCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.BeginSetup(ctx, env.userID, "user@example.com")
	require.NoError(t, err)

	_, err = env.service.ConfirmSetup(ctx, env.userID, "user@example.com", "000000")
	assert.True(t, fluxerrors.IsCode(err, fluxerrors.ErrCode2FAInvalidCode))

	record, err := env.repo.GetByUserID(ctx, env.userID)
	require.NoError(t, err)
	assert.False(t, record.TotpEnabled)
	assert.Equal(t, StatePendingVerification, StateOf(record))
}

func TestConfirmSetup_Success(t *testing.T) {
	env := newTestEnv(t)
	_, backupCodes := enroll(t, env)

	require.Len(t, backupCodes, BackupCodeCount)
	seen := make(map[string]struct{})
	for _, code := range backupCodes {
		assert.NotEmpty(t, code)
		seen[code] = struct{}{}
	}
	assert.Len(t, seen, BackupCodeCount, "backup codes must be distinct")

	// Repeat confirmation is rejected once enabled
	_, err := env.service.ConfirmSetup(context.Background(), env.userID, "user@example.com", "123456")
	assert.True(t, fluxerrors.IsCode(err, fluxerrors.ErrCode2FAAlreadyEnabled))

	env.recorder.Wait()
	assert.Contains(t, env.sink.actions(), audit.ActionTwoFaEnabled)
}

func TestVerifyLogin_TotpCode(t *testing.T) {
	env := newTestEnv(t)
	secret, _ := enroll(t, env)

	err := env.service.VerifyLogin(context.Background(), env.userID, currentCode(t, secret))
	require.NoError(t, err)

	env.recorder.Wait()
	assert.Contains(t, env.sink.actions(), audit.ActionLoginTwoFa)
}

func TestVerifyLogin_BackupCodeSingleUse(t *testing.T) {
	env := newTestEnv(t)
	_, backupCodes := enroll(t, env)
	ctx := context.Background()

	// Spend the third backup code
	err := env.service.VerifyLogin(ctx, env.userID, backupCodes[2])
	require.NoError(t, err)

	// Replaying it fails
	err = env.service.VerifyLogin(ctx, env.userID, backupCodes[2])
	assert.True(t, fluxerrors.IsCode(err, fluxerrors.ErrCode2FAInvalidCode))

	// The other seven remain usable
	record, err := env.repo.GetByUserID(ctx, env.userID)
	require.NoError(t, err)
	assert.Len(t, record.BackupCodes, BackupCodeCount-1)
	assert.NotContains(t, record.BackupCodes, backupCodes[2])

	err = env.service.VerifyLogin(ctx, env.userID, backupCodes[0])
	assert.NoError(t, err)
}

func TestVerifyLogin_InvalidCode(t *testing.T) {
	env := newTestEnv(t)
	enroll(t, env)

	err := env.service.VerifyLogin(context.Background(), env.userID, "000000")
	assert.True(t, fluxerrors.IsCode(err, fluxerrors.ErrCode2FAInvalidCode))
}

func TestVerifyLogin_UnknownUser(t *testing.T) {
	env := newTestEnv(t)

	err := env.service.VerifyLogin(context.Background(), uuid.New(), "123456")
	assert.True(t, fluxerrors.IsCode(err, fluxerrors.ErrCodeUserNotFound))
}

func TestVerifyLogin_SetupNotConfirmed(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.service.BeginSetup(context.Background(), env.userID, "user@example.com")
	require.NoError(t, err)

	err = env.service.VerifyLogin(context.Background(), env.userID, currentCode(t, result.Secret))
	assert.True(t, fluxerrors.IsCode(err, fluxerrors.ErrCode2FAInvalidCode))
}

func TestDisable(t *testing.T) {
	env := newTestEnv(t)
	secret, _ := enroll(t, env)
	ctx := context.Background()

	err := env.service.Disable(ctx, env.userID, "user@example.com", currentCode(t, secret))
	require.NoError(t, err)

	record, err := env.repo.GetByUserID(ctx, env.userID)
	require.NoError(t, err)
	assert.False(t, record.TotpEnabled)
	assert.False(t, record.SecretValid)
	assert.Empty(t, record.BackupCodes)
	assert.False(t, record.EnabledAtValid)
	assert.Equal(t, StateDisabled, StateOf(record))

	// A second disable has nothing to disable
	err = env.service.Disable(ctx, env.userID, "user@example.com", currentCode(t, secret))
	assert.True(t, fluxerrors.IsCode(err, fluxerrors.ErrCode2FANotEnabled))

	env.recorder.Wait()
	assert.Contains(t, env.sink.actions(), audit.ActionTwoFaDisabled)
}

func TestDisable_InvalidCode(t *testing.T) {
	env := newTestEnv(t)
	enroll(t, env)

	err := env.service.Disable(context.Background(), env.userID, "user@example.com", "000000")
	assert.True(t, fluxerrors.IsCode(err, fluxerrors.ErrCode2FAInvalidCode))

	record, err := env.repo.GetByUserID(context.Background(), env.userID)
	require.NoError(t, err)
	assert.True(t, record.TotpEnabled)
}

func TestDisable_BackupCodeRejected(t *testing.T) {
	env := newTestEnv(t)
	_, backupCodes := enroll(t, env)

	// Backup codes work for login verification but never for disable
	err := env.service.Disable(context.Background(), env.userID, "user@example.com", backupCodes[0])
	assert.True(t, fluxerrors.IsCode(err, fluxerrors.ErrCode2FAInvalidCode))
}

func TestDisable_NeverStarted(t *testing.T) {
	env := newTestEnv(t)

	err := env.service.Disable(context.Background(), env.userID, "user@example.com", "123456")
	assert.True(t, fluxerrors.IsCode(err, fluxerrors.ErrCode2FANotEnabled))
}

func TestMissingProvider(t *testing.T) {
	repo, err := NewFileTwoFARepository(t.TempDir())
	require.NoError(t, err)
	service := NewTwoFaService(repo, nil, audit.NewRecorder())
	ctx := context.Background()
	userID := uuid.New()

	_, err = service.BeginSetup(ctx, userID, "user@example.com")
	assert.True(t, fluxerrors.IsCode(err, fluxerrors.ErrCodeServiceUnavailable))

	_, err = service.ConfirmSetup(ctx, userID, "user@example.com", "123456")
	assert.True(t, fluxerrors.IsCode(err, fluxerrors.ErrCodeServiceUnavailable))

	err = service.Disable(ctx, userID, "user@example.com", "123456")
	assert.True(t, fluxerrors.IsCode(err, fluxerrors.ErrCodeServiceUnavailable))

	err = service.VerifyLogin(ctx, userID, "123456")
	assert.True(t, fluxerrors.IsCode(err, fluxerrors.ErrCodeServiceUnavailable))
}

func TestGenerateBackupCodes(t *testing.T) {
	codes, err := generateBackupCodes(BackupCodeCount)
	require.NoError(t, err)
	require.Len(t, codes, BackupCodeCount)

	seen := make(map[string]struct{})
	for _, code := range codes {
		assert.Len(t, code, 10)
		assert.Equal(t, strings.ToLower(code), code)
		seen[code] = struct{}{}
	}
	assert.Len(t, seen, BackupCodeCount)
}
