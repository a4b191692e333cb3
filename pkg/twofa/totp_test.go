package twofa

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOtpProviderVerify(t *testing.T) {
	provider := NewOtpProvider("FluxStudio")

	secret, uri, err := provider.GenerateSecret("user@example.com")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/"))

	code, err := totp.GenerateCode(secret, time.Now().UTC())
	require.NoError(t, err)

	valid, err := provider.Verify(secret, code)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = provider.Verify(secret, "000000")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestOtpProviderVerify_WrongLength(t *testing.T) {
	provider := NewOtpProvider("FluxStudio")

	secret, _, err := provider.GenerateSecret("user@example.com")
	require.NoError(t, err)

	// Backup codes are 10 characters; a mismatch must not surface as an
	// error or the fallback matching never runs
	for _, code := range []string{"abcdefghij", "12345", "1234567", ""} {
		valid, err := provider.Verify(secret, code)
		require.NoError(t, err, "code %q", code)
		assert.False(t, valid)
	}
}
