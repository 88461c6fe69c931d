package app

import (
	"time"

	"qqbind/cmd/internal/token"
	"qqbind/cmd/internal/verify"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	PollInterval time.Duration
	PollTimeout  time.Duration
	TokenTTL     time.Duration

	// Optional status webhook. Empty disables callbacks.
	NotifyURL     string
	NotifyTimeout time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("QQBIND_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("QQBIND_LOG_LEVEL", "info"),
		LogFormat: EnvString("QQBIND_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("QQBIND_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("QQBIND_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("QQBIND_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("QQBIND_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("QQBIND_HTTP_MAX_HEADER_BYTES", 1<<20),

		CORSAllowedOrigins:   EnvStringSlice("QQBIND_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("QQBIND_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("QQBIND_CORS_MAX_AGE_SECONDS", 600),

		DatabaseURL: EnvString("QQBIND_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("QQBIND_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("QQBIND_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("QQBIND_READINESS_REQUIRE_DB", false),

		PollInterval: EnvDuration("QQBIND_POLL_INTERVAL", verify.DefaultPollInterval),
		PollTimeout:  EnvDuration("QQBIND_POLL_TIMEOUT", verify.DefaultPollTimeout),
		TokenTTL:     EnvDuration("QQBIND_TOKEN_TTL", token.DefaultTTL),

		NotifyURL:     EnvString("QQBIND_NOTIFY_URL", ""),
		NotifyTimeout: EnvDuration("QQBIND_NOTIFY_TIMEOUT", 5*time.Second),
	}
}
