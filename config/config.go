// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds everything main needs to wire the service.
type Config struct {
	Port       string `env:"PORT" envDefault:"8080"`
	AppEnv     string `env:"APP_ENV" envDefault:"production"`
	AppVersion string `env:"APP_VERSION" envDefault:"dev"`

	DB    DBConfig
	Redis RedisConfig

	KafkaBroker      string `env:"KAFKA_BROKER"`
	KafkaTopic       string `env:"KAFKA_TOPIC" envDefault:"consent_events"`
	KafkaGroupID     string `env:"KAFKA_GROUP_ID" envDefault:"consent-indexer"`
	ElasticsearchURL string `env:"ELASTICSEARCH_URL"`
	ConsentIndex     string `env:"ELASTICSEARCH_INDEX" envDefault:"consents"`
	SentryDSN        string `env:"SENTRY_DSN"`
	CloudinaryURL    string `env:"CLOUDINARY_URL"`

	// ConsentAPIURL is where the wizard sends lookups and submissions.
	ConsentAPIURL string `env:"CONSENT_API_URL" envDefault:"http://localhost:8080/api/v1/consent"`

	ConsentUpstreamURL string   `env:"CONSENT_UPSTREAM_URL" envDefault:"http://localhost:8080/api/v1/consent"`
	MetricsUpstreamURL string   `env:"METRICS_UPSTREAM_URL"`
	QueueUpstreamURL   string   `env:"QUEUE_UPSTREAM_URL"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	CompletionPage    string        `env:"COMPLETION_PAGE" envDefault:"complete.html"`
	BackendTimeout    time.Duration `env:"BACKEND_TIMEOUT" envDefault:"10s"`
	WizardSessionTTL  time.Duration `env:"WIZARD_SESSION_TTL" envDefault:"30m"`
	LookupCacheTTL    time.Duration `env:"LOOKUP_CACHE_TTL" envDefault:"24h"`
	ConnectRetries    uint64        `env:"CONNECT_RETRIES" envDefault:"5"`
	ConnectRetryDelay time.Duration `env:"CONNECT_RETRY_DELAY" envDefault:"3s"`
	FacilityTimezone  string        `env:"FACILITY_TZ" envDefault:"Asia/Kolkata"`
}

// DBConfig is the Postgres connection.
type DBConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME" envDefault:"consent"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

// DSN renders the gorm postgres connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode,
	)
}

// RedisConfig is the cache connection.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if _, err := time.LoadLocation(cfg.FacilityTimezone); err != nil {
		return Config{}, fmt.Errorf("invalid FACILITY_TZ %q: %w", cfg.FacilityTimezone, err)
	}
	return cfg, nil
}

// Development reports whether the service runs locally.
func (c Config) Development() bool {
	return c.AppEnv == "development"
}

// NewLogger returns the process logger: text locally, JSON elsewhere.
func (c Config) NewLogger() *slog.Logger {
	if c.Development() {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "playzone-consent", "version", c.AppVersion)
}
