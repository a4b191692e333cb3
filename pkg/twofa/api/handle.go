// Package api exposes the two-factor HTTP endpoints
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/fluxstudio/flux-auth/pkg/client"
	fluxerrors "github.com/fluxstudio/flux-auth/pkg/errors"
	"github.com/fluxstudio/flux-auth/pkg/tokengenerator"
	"github.com/fluxstudio/flux-auth/pkg/twofa"
)

type Handle struct {
	twoFaService *twofa.TwoFaService
	tokenService tokengenerator.TokenService
	cookieSetter tokengenerator.CookieSetter
}

// NewHandle creates a new Handle
func NewHandle(twoFaService *twofa.TwoFaService, tokenService tokengenerator.TokenService, cookieSetter tokengenerator.CookieSetter) *Handle {
	return &Handle{
		twoFaService: twoFaService,
		tokenService: tokenService,
		cookieSetter: cookieSetter,
	}
}

// Router mounts the two-factor endpoints. Setup, verify-setup and disable
// require an authenticated session and run behind the given middlewares;
// verify is public because its caller authenticates by pending-auth token.
func Router(h *Handle, authMiddlewares ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(authMiddlewares...)
		r.Post("/setup", h.PostSetup)
		r.Post("/verify-setup", h.PostVerifySetup)
		r.Post("/disable", h.PostDisable)
	})
	r.Post("/verify", h.PostVerify)
	return r
}

// Start two-factor enrollment for the authenticated user
// (POST /setup)
func (h *Handle) PostSetup(w http.ResponseWriter, r *http.Request) {
	authUser, ok := client.AuthUserFromContext(r.Context())
	if !ok {
		writeError(w, r, fluxerrors.Unauthorized("not authenticated"))
		return
	}

	result, err := h.twoFaService.BeginSetup(r.Context(), authUser.UserUuid, accountName(authUser))
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, SetupResponse{Success: true, Secret: result.Secret, QrCode: result.QrCode})
}

// Confirm enrollment with the first authenticator code
// (POST /verify-setup)
func (h *Handle) PostVerifySetup(w http.ResponseWriter, r *http.Request) {
	authUser, ok := client.AuthUserFromContext(r.Context())
	if !ok {
		writeError(w, r, fluxerrors.Unauthorized("not authenticated"))
		return
	}

	var data VerifySetupRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		writeError(w, r, fluxerrors.ValidationFailed("unable to parse request body"))
		return
	}
	if data.Code == "" {
		writeError(w, r, fluxerrors.ValidationFailed("code is required"))
		return
	}

	backupCodes, err := h.twoFaService.ConfirmSetup(r.Context(), authUser.UserUuid, authUser.ExtraClaims.Email, data.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, VerifySetupResponse{Success: true, BackupCodes: backupCodes})
}

// Turn two-factor off for the authenticated user
// (POST /disable)
func (h *Handle) PostDisable(w http.ResponseWriter, r *http.Request) {
	authUser, ok := client.AuthUserFromContext(r.Context())
	if !ok {
		writeError(w, r, fluxerrors.Unauthorized("not authenticated"))
		return
	}

	var data DisableRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		writeError(w, r, fluxerrors.ValidationFailed("unable to parse request body"))
		return
	}
	if data.Code == "" {
		writeError(w, r, fluxerrors.ValidationFailed("code is required"))
		return
	}

	if err := h.twoFaService.Disable(r.Context(), authUser.UserUuid, authUser.ExtraClaims.Email, data.Code); err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, SuccessResponse{Success: true})
}

// Complete a two-factor login with a pending-auth token and a code
// (POST /verify)
func (h *Handle) PostVerify(w http.ResponseWriter, r *http.Request) {
	var data VerifyRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		writeError(w, r, fluxerrors.ValidationFailed("unable to parse request body"))
		return
	}
	if data.TempToken == "" || data.Code == "" {
		writeError(w, r, fluxerrors.ValidationFailed("tempToken and code are required"))
		return
	}

	// Expired, malformed and wrong-type tokens collapse into one error so
	// the response does not reveal which check failed
	subject, _, err := h.tokenService.ParsePendingToken(data.TempToken)
	if err != nil {
		slog.Debug("Pending token rejected", "err", err)
		writeError(w, r, fluxerrors.New(fluxerrors.ErrCodeTokenInvalid, "invalid or expired token"))
		return
	}

	userID, err := uuid.Parse(subject)
	if err != nil {
		writeError(w, r, fluxerrors.New(fluxerrors.ErrCodeUserNotFound, "user not found"))
		return
	}

	if err := h.twoFaService.VerifyLogin(r.Context(), userID, data.Code); err != nil {
		writeError(w, r, err)
		return
	}

	tokens, err := h.tokenService.GenerateTokens(subject, nil)
	if err != nil {
		writeError(w, r, fluxerrors.InternalWrap(err, "failed to issue session tokens"))
		return
	}

	if h.cookieSetter != nil {
		for _, token := range tokens {
			if err := h.cookieSetter.SetCookie(w, token.Name, token.Token, token.Expiry); err != nil {
				slog.Error("Failed to set token cookie", "token", token.Name, "err", err)
			}
		}
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, VerifyResponse{
		Success:      true,
		AccessToken:  tokens[tokengenerator.ACCESS_TOKEN_NAME].Token,
		RefreshToken: tokens[tokengenerator.REFRESH_TOKEN_NAME].Token,
	})
}

// accountName picks the label embedded in the provisioning URI
func accountName(authUser *client.AuthUser) string {
	if authUser.ExtraClaims.Email != "" {
		return authUser.ExtraClaims.Email
	}
	return authUser.UserId
}

// writeError maps service errors onto the uniform failure payload
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := fluxerrors.GetCode(err)
	message := "internal server error"

	var fluxErr *fluxerrors.Error
	if errors.As(err, &fluxErr) {
		message = fluxErr.Message
	}

	status := fluxerrors.MapErrorCodeToHTTPStatus(code)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "code", code, "err", err)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Success: false, Error: message, Code: string(code)})
}
