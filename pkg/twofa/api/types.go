package api

// SetupResponse is returned by POST /setup
type SetupResponse struct {
	Success bool   `json:"success"`
	Secret  string `json:"secret"`
	QrCode  string `json:"qrCode"`
}

// VerifySetupRequest is the body of POST /verify-setup
type VerifySetupRequest struct {
	Code string `json:"code"`
}

// VerifySetupResponse carries the one-time backup code hand-off
type VerifySetupResponse struct {
	Success     bool     `json:"success"`
	BackupCodes []string `json:"backupCodes"`
}

// DisableRequest is the body of POST /disable
type DisableRequest struct {
	Code string `json:"code"`
}

// SuccessResponse is the plain success payload
type SuccessResponse struct {
	Success bool `json:"success"`
}

// VerifyRequest is the body of POST /verify
type VerifyRequest struct {
	TempToken string `json:"tempToken"`
	Code      string `json:"code"`
}

// VerifyResponse merges the success flag with the issued session tokens
type VerifyResponse struct {
	Success      bool   `json:"success"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// ErrorResponse is the uniform failure payload
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}
