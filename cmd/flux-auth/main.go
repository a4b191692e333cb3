package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"

	"github.com/fluxstudio/flux-auth/pkg/audit"
	"github.com/fluxstudio/flux-auth/pkg/client"
	"github.com/fluxstudio/flux-auth/pkg/notification"
	"github.com/fluxstudio/flux-auth/pkg/tokengenerator"
	"github.com/fluxstudio/flux-auth/pkg/twofa"
	twofaapi "github.com/fluxstudio/flux-auth/pkg/twofa/api"
)

type DbConfig struct {
	Host     string `env:"FLUX_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"FLUX_PG_PORT" env-default:"5432"`
	Database string `env:"FLUX_PG_DATABASE" env-default:"flux_auth_db"`
	User     string `env:"FLUX_PG_USER" env-default:"flux"`
	Password string `env:"FLUX_PG_PASSWORD" env-default:"pwd"`
	Schema   string `env:"FLUX_PG_SCHEMA" env-default:"public"`
}

func (d DbConfig) toDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s,public",
		d.User, d.Password, d.Host, d.Port, d.Database, d.Schema)
}

type JwtConfig struct {
	Secret             string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	Issuer             string `env:"JWT_ISSUER" env-default:"flux-auth"`
	Audience           string `env:"JWT_AUDIENCE" env-default:"flux-studio"`
	CookieHttpOnly     bool   `env:"COOKIE_HTTP_ONLY" env-default:"true"`
	CookieSecure       bool   `env:"COOKIE_SECURE" env-default:"true"`
	AccessTokenExpiry  string `env:"ACCESS_TOKEN_EXPIRY" env-default:"15m"`
	RefreshTokenExpiry string `env:"REFRESH_TOKEN_EXPIRY" env-default:"24h"`
	PendingTokenExpiry string `env:"PENDING_TOKEN_EXPIRY" env-default:"10m"`
}

type EmailConfig struct {
	Host     string `env:"EMAIL_HOST"`
	Port     uint16 `env:"EMAIL_PORT" env-default:"1025"`
	Username string `env:"EMAIL_USERNAME"`
	Password string `env:"EMAIL_PASSWORD"`
	From     string `env:"EMAIL_FROM" env-default:"noreply@fluxstudio.app"`
	TLS      bool   `env:"EMAIL_TLS" env-default:"false"`
}

type Config struct {
	DbConfig        DbConfig
	JwtConfig       JwtConfig
	EmailConfig     EmailConfig
	PersistenceType string `env:"PERSISTENCE_TYPE" env-default:"postgres"`
	DataDir         string `env:"DATA_DIR" env-default:"./data"`
	TotpIssuer      string `env:"TOTP_ISSUER" env-default:"FluxStudio"`
	TwoFaPrefix     string `env:"TWO_FA_PREFIX" env-default:"/api/2fa"`
}

// loadEnvFile loads environment variables from .env file if it exists.
// Only sets variables that are not already set in the environment.
func loadEnvFile() {
	execPath, err := os.Executable()
	if err != nil {
		slog.Error("Failed to get executable path", "error", err)
		return
	}

	envFile := filepath.Join(filepath.Dir(execPath), ".env")
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		cwd, err := os.Getwd()
		if err != nil {
			slog.Error("Failed to get current working directory", "error", err)
			return
		}
		envFile = filepath.Join(cwd, ".env")
	}

	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		return
	}

	slog.Info("Loading configuration from .env file", "path", envFile)
	if err := godotenv.Load(envFile); err != nil {
		slog.Error("Failed to load .env file", "error", err, "path", envFile)
	}
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration, using fallback", "value", value, "fallback", fallback)
		return fallback
	}
	return d
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	}))
	slog.SetDefault(logger)

	loadEnvFile()

	config := Config{}
	cleanenv.ReadEnv(&config)

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)

	// Storage
	repoConfig := twofa.RepositoryConfig{DataDir: config.DataDir}
	if config.PersistenceType == "postgres" || config.PersistenceType == "postgresql" {
		pool, err := pgxpool.New(context.Background(), config.DbConfig.toDatabaseURL())
		if err != nil {
			slog.Error("Failed creating dbpool", "db", config.DbConfig.Database, "host", config.DbConfig.Host, "port", config.DbConfig.Port, "user", config.DbConfig.User, "err", err)
			os.Exit(-1)
		}
		repoConfig.Pool = pool
	}

	twoFaRepo, err := twofa.NewTwoFARepository(config.PersistenceType, repoConfig)
	if err != nil {
		slog.Error("Failed creating 2FA repository", "persistenceType", config.PersistenceType, "err", err)
		os.Exit(-1)
	}

	// Security alert emails are optional; without an SMTP host the service
	// runs with alerts disabled
	serviceOpts := []twofa.TwoFaServiceOption{}
	if config.EmailConfig.Host != "" {
		notificationManager, err := notification.NewNotificationManagerWithOptions(
			notification.WithSMTP(notification.SMTPConfig{
				Host:     config.EmailConfig.Host,
				Port:     int(config.EmailConfig.Port),
				Username: config.EmailConfig.Username,
				Password: config.EmailConfig.Password,
				From:     config.EmailConfig.From,
				TLS:      config.EmailConfig.TLS,
			}),
			notification.WithDefaultTemplates(),
		)
		if err != nil {
			slog.Error("Failed to initialize notification manager", "err", err)
		} else {
			serviceOpts = append(serviceOpts, twofa.WithNotificationManager(notificationManager))
		}
	}

	recorder := audit.NewRecorder()
	totpProvider := twofa.NewOtpProvider(config.TotpIssuer)
	twoFaService := twofa.NewTwoFaService(twoFaRepo, totpProvider, recorder, serviceOpts...)

	// Tokens
	jwtConfig := config.JwtConfig
	accessTokenGenerator := tokengenerator.NewJwtTokenGenerator(jwtConfig.Secret, jwtConfig.Issuer, jwtConfig.Audience)
	refreshTokenGenerator := tokengenerator.NewJwtTokenGenerator(jwtConfig.Secret, jwtConfig.Issuer, jwtConfig.Audience)
	pendingTokenGenerator := tokengenerator.NewPendingTokenGenerator(jwtConfig.Secret, jwtConfig.Issuer, jwtConfig.Audience)

	tokenService := tokengenerator.NewDefaultTokenService(
		accessTokenGenerator,
		refreshTokenGenerator,
		pendingTokenGenerator,
		tokengenerator.WithAccessTokenExpiry(parseDuration(jwtConfig.AccessTokenExpiry, tokengenerator.DefaultAccessTokenExpiry)),
		tokengenerator.WithRefreshTokenExpiry(parseDuration(jwtConfig.RefreshTokenExpiry, tokengenerator.DefaultRefreshTokenExpiry)),
		tokengenerator.WithPendingTokenExpiry(parseDuration(jwtConfig.PendingTokenExpiry, tokengenerator.DefaultPendingTokenExpiry)),
	)
	cookieSetter := tokengenerator.NewCookieSetter(jwtConfig.CookieHttpOnly, jwtConfig.CookieSecure)

	// Routes
	twoFaHandle := twofaapi.NewHandle(twoFaService, tokenService, cookieSetter)
	jwtAuth := jwtauth.New("HS256", []byte(jwtConfig.Secret), nil)

	server.R.Mount(config.TwoFaPrefix, twofaapi.Router(twoFaHandle,
		client.Verifier(jwtAuth),
		jwtauth.Authenticator(jwtAuth),
		client.AuthUserMiddleware,
	))

	slog.Info("Two-factor endpoints mounted", "prefix", config.TwoFaPrefix, "persistence", config.PersistenceType)

	server.Run()
}
