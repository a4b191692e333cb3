// Package twofa implements TOTP two-factor enrollment and login verification
// for flux-auth.
//
// Each user moves through a small state machine: disabled -> pending
// verification (secret generated, not yet confirmed) -> enabled (confirmed,
// backup codes issued) -> back to disabled via an explicit disable. No other
// transitions exist.
//
// # Overview
//
// The twofa package provides:
//   - TOTP (Time-based One-Time Password, RFC 6238) enrollment
//   - QR code generation for authenticator apps
//   - Single-use backup codes as a login fallback
//   - Login-time verification against TOTP or a backup code
//   - PostgreSQL and file-based persistence
//
// # Basic Usage
//
//	import "github.com/fluxstudio/flux-auth/pkg/twofa"
//
//	repo, err := twofa.NewTwoFARepository("postgres", twofa.RepositoryConfig{Pool: pool})
//	if err != nil {
//		return err
//	}
//
//	service := twofa.NewTwoFaService(
//		repo,
//		twofa.NewOtpProvider("FluxStudio"),
//		recorder,
//		twofa.WithNotificationManager(notificationManager),
//	)
//
//	// Start enrollment: the user scans the QR code or enters the secret
//	setup, err := service.BeginSetup(ctx, userID, "user@example.com")
//
//	// Confirm with the first code from the authenticator app
//	backupCodes, err := service.ConfirmSetup(ctx, userID, "user@example.com", "123456")
//
//	// At login, after the pending-auth token is validated
//	err = service.VerifyLogin(ctx, userID, "123456")
//
// Backup codes are returned by ConfirmSetup exactly once and are not
// retrievable afterwards. At login TOTP is tried first; a code that fails
// TOTP is matched against the remaining backup codes and consumed on match.
// Disable accepts a current TOTP code only, never a backup code.
//
// Code verification accepts the current 30 second time step plus one step of
// clock drift on each side. The package does not rate limit verification
// attempts; throttling belongs to the surrounding HTTP layer.
package twofa
