package twofa

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	PERIOD = 30
	SKEW   = 1

	qrImageSize = 200
)

// TotpProvider is the capability surface for TOTP secret generation, code
// verification and provisioning QR rendering. It exists so the service can
// be constructed with a fake in tests and can detect a missing provider at
// startup instead of degrading silently.
type TotpProvider interface {
	// GenerateSecret creates a fresh shared secret for the account and
	// returns the secret along with its otpauth provisioning URI
	GenerateSecret(accountName string) (secret string, uri string, err error)

	// Verify checks a passcode against the secret
	Verify(secret, passcode string) (bool, error)

	// RenderQr renders a provisioning URI as a base64 PNG data URI
	RenderQr(uri string) (string, error)
}

// OtpProvider implements TotpProvider on RFC 6238 TOTP primitives
type OtpProvider struct {
	Issuer string
}

func NewOtpProvider(issuer string) *OtpProvider {
	return &OtpProvider{Issuer: issuer}
}

func (p *OtpProvider) GenerateSecret(accountName string) (string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.Issuer,
		AccountName: accountName,
	})
	if err != nil {
		slog.Error("Failed to generate totp secret", "account", accountName, "issuer", p.Issuer, "error", err)
		return "", "", err
	}
	slog.Info("Generated new totp secret", "account", accountName)
	return key.Secret(), key.URL(), nil
}

func (p *OtpProvider) Verify(secret, passcode string) (bool, error) {
	valid, err := totp.ValidateCustom(passcode, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    PERIOD,
		Skew:      SKEW,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		// A passcode that is not exactly 6 digits is a mismatch, not a
		// failure; callers fall through to backup-code matching
		if errors.Is(err, otp.ErrValidateInputInvalidLength) {
			return false, nil
		}
		slog.Error("Failed to validate totp passcode", "error", err)
		return false, err
	}
	return valid, nil
}

func (p *OtpProvider) RenderQr(uri string) (string, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return "", fmt.Errorf("failed to parse provisioning uri: %w", err)
	}

	img, err := key.Image(qrImageSize, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("failed to render qr image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode qr png: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
