package tokengenerator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token name constants
const (
	ACCESS_TOKEN_NAME  = "access_token"
	REFRESH_TOKEN_NAME = "refresh_token"
	PENDING_TOKEN_NAME = "pending_token"
)

// Default token expiry durations
const (
	DefaultAccessTokenExpiry  = 15 * time.Minute
	DefaultRefreshTokenExpiry = 24 * time.Hour
	DefaultPendingTokenExpiry = 10 * time.Minute
)

// TokenValue holds a signed token along with its expiry time
type TokenValue struct {
	Name   string
	Token  string
	Expiry time.Time
}

// TokenService issues session token pairs and pending-auth tokens, and
// validates pending-auth tokens handed back at the 2FA verification step.
type TokenService interface {
	// GenerateTokens creates an access/refresh token pair for the subject
	GenerateTokens(subject string, extraClaims map[string]interface{}) (map[string]TokenValue, error)

	// GeneratePendingToken creates a short-lived token carrying the
	// "2fa_pending" type claim for the subject
	GeneratePendingToken(subject string, extraClaims map[string]interface{}) (TokenValue, error)

	// ParsePendingToken validates a pending-auth token (signature, expiry,
	// type claim) and returns its subject. Expired, malformed and
	// wrong-type tokens all fail the same way.
	ParsePendingToken(tokenStr string) (string, jwt.MapClaims, error)
}

// DefaultTokenService implements TokenService
type DefaultTokenService struct {
	accessTokenGenerator  TokenGenerator
	refreshTokenGenerator TokenGenerator
	pendingTokenGenerator TokenGenerator

	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	pendingTokenExpiry time.Duration
}

// Option configures a DefaultTokenService
type Option func(*DefaultTokenService)

// WithAccessTokenExpiry sets the access token expiry duration
func WithAccessTokenExpiry(expiry time.Duration) Option {
	return func(s *DefaultTokenService) {
		if expiry > 0 {
			s.accessTokenExpiry = expiry
		}
	}
}

// WithRefreshTokenExpiry sets the refresh token expiry duration
func WithRefreshTokenExpiry(expiry time.Duration) Option {
	return func(s *DefaultTokenService) {
		if expiry > 0 {
			s.refreshTokenExpiry = expiry
		}
	}
}

// WithPendingTokenExpiry sets the pending-auth token expiry duration
func WithPendingTokenExpiry(expiry time.Duration) Option {
	return func(s *DefaultTokenService) {
		if expiry > 0 {
			s.pendingTokenExpiry = expiry
		}
	}
}

// NewDefaultTokenService creates a new token service
func NewDefaultTokenService(accessTokenGenerator, refreshTokenGenerator, pendingTokenGenerator TokenGenerator, opts ...Option) *DefaultTokenService {
	service := &DefaultTokenService{
		accessTokenGenerator:  accessTokenGenerator,
		refreshTokenGenerator: refreshTokenGenerator,
		pendingTokenGenerator: pendingTokenGenerator,
		accessTokenExpiry:     DefaultAccessTokenExpiry,
		refreshTokenExpiry:    DefaultRefreshTokenExpiry,
		pendingTokenExpiry:    DefaultPendingTokenExpiry,
	}

	for _, opt := range opts {
		opt(service)
	}

	slog.Info("Token service configured",
		"accessTokenExpiry", service.accessTokenExpiry,
		"refreshTokenExpiry", service.refreshTokenExpiry,
		"pendingTokenExpiry", service.pendingTokenExpiry)

	return service
}

// GenerateTokens creates an access/refresh token pair for the subject
func (s *DefaultTokenService) GenerateTokens(subject string, extraClaims map[string]interface{}) (map[string]TokenValue, error) {
	accessToken, accessExpiry, err := s.accessTokenGenerator.GenerateToken(subject, s.accessTokenExpiry, nil, extraClaims)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, refreshExpiry, err := s.refreshTokenGenerator.GenerateToken(subject, s.refreshTokenExpiry, nil, extraClaims)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return map[string]TokenValue{
		ACCESS_TOKEN_NAME:  {Name: ACCESS_TOKEN_NAME, Token: accessToken, Expiry: accessExpiry},
		REFRESH_TOKEN_NAME: {Name: REFRESH_TOKEN_NAME, Token: refreshToken, Expiry: refreshExpiry},
	}, nil
}

// GeneratePendingToken creates a short-lived pending-auth token for the subject
func (s *DefaultTokenService) GeneratePendingToken(subject string, extraClaims map[string]interface{}) (TokenValue, error) {
	token, expiry, err := s.pendingTokenGenerator.GenerateToken(subject, s.pendingTokenExpiry, nil, extraClaims)
	if err != nil {
		return TokenValue{}, fmt.Errorf("failed to generate pending token: %w", err)
	}
	return TokenValue{Name: PENDING_TOKEN_NAME, Token: token, Expiry: expiry}, nil
}

// ParsePendingToken validates a pending-auth token and returns its subject.
// Expiry is enforced by jwt.Parse; the type claim is checked here so that a
// regular access token can not stand in for a pending-auth token.
func (s *DefaultTokenService) ParsePendingToken(tokenStr string) (string, jwt.MapClaims, error) {
	token, err := s.pendingTokenGenerator.ParseToken(tokenStr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse pending token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", nil, fmt.Errorf("invalid pending token claims")
	}

	tokenType, _ := claims["type"].(string)
	if tokenType != PendingTokenType {
		return "", nil, fmt.Errorf("unexpected token type: %q", tokenType)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", nil, fmt.Errorf("pending token has no subject")
	}

	return subject, claims, nil
}
