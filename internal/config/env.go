package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Env holds the settings read from the process environment.
type Env struct {
	Port     int    `env:"PORT" envDefault:"3000"`
	Hostname string `env:"HOSTNAME"`
	Dev      bool   `env:"DEV"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	StorageURL     string `env:"STORAGE_URL" envDefault:"memory://"`
	StorageSSLCert string `env:"STORAGE_SSL_CERT"`
	StorageSSLKey  string `env:"STORAGE_SSL_KEY"`

	RedisURL   string `env:"REDIS_URL"`
	NoRedis    bool   `env:"NO_REDIS"`
	FlushRedis bool   `env:"FLUSH_REDIS" envDefault:"true"`
	WSBusURL   string `env:"WSBUS_URL"`
	NoWSBus    bool   `env:"NO_WSBUS"`

	SessionSecret         string        `env:"SESSION_SECRET"`
	SessionMaxAge         time.Duration `env:"SESSION_MAX_AGE"`
	SessionUpdateInterval time.Duration `env:"SESSION_UPDATE_INTERVAL"`
	CookiesSecure         bool          `env:"COOKIES_SECURE"`
	AuthSecret            string        `env:"AUTH_SECRET"`
	AuthTokenTTL          time.Duration `env:"AUTH_TOKEN_TTL"`

	Admins     string   `env:"ADMINS"`
	Public     []string `env:"PUBLIC" envSeparator:","`
	ForceHTTPS bool     `env:"FORCE_HTTPS"`
	BodyLimit  int64    `env:"BODY_PARSER_LIMIT" envDefault:"1048576"`

	PublicPath    string `env:"PUBLIC_PATH" envDefault:"public"`
	BuildDir      string `env:"BUILD_DIR" envDefault:"build/client"`
	AppsFile      string `env:"APPS_FILE"`
	AssetManifest string `env:"ASSET_MANIFEST"`
	AWSRegion     string `env:"AWS_REGION"`
	AWSEndpoint   string `env:"AWS_ENDPOINT_URL"`

	MetricsPath  string `env:"METRICS_PATH"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// LoadEnv parses Env from the environment.
func LoadEnv() (*Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &e, nil
}

// Addr is the listen address for Port.
func (e *Env) Addr() string {
	return fmt.Sprintf(":%d", e.Port)
}

// Level maps LogLevel to a slog level. Unknown values mean info.
func (e *Env) Level() slog.Level {
	switch strings.ToLower(e.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
