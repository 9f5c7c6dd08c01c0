package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	StorageS3     = "s3"
	StorageMemory = "memory"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	StorageDriver          string `mapstructure:"STORAGE_DRIVER"`
	StorageEndpoint        string `mapstructure:"STORAGE_ENDPOINT"`
	StorageAccountID       string `mapstructure:"STORAGE_ACCOUNT_ID"`
	StorageRegion          string `mapstructure:"STORAGE_REGION"`
	StorageBucket          string `mapstructure:"STORAGE_BUCKET"`
	StorageAccessKeyID     string `mapstructure:"STORAGE_ACCESS_KEY_ID"`
	StorageSecretAccessKey string `mapstructure:"STORAGE_SECRET_ACCESS_KEY"`
	SignedURLTTLSeconds    int    `mapstructure:"SIGNED_URL_TTL"`

	OpenAIAPIKey       string `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL      string `mapstructure:"OPENAI_BASE_URL"`
	TranscriptionModel string `mapstructure:"TRANSCRIPTION_MODEL"`
	SummaryModel       string `mapstructure:"SUMMARY_MODEL"`
	AutoSummary        bool   `mapstructure:"AUTO_SUMMARY"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "REQUEST_TIMEOUT",
	"STORAGE_DRIVER", "STORAGE_ENDPOINT", "STORAGE_ACCOUNT_ID", "STORAGE_REGION", "STORAGE_BUCKET",
	"STORAGE_ACCESS_KEY_ID", "STORAGE_SECRET_ACCESS_KEY", "SIGNED_URL_TTL",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "TRANSCRIPTION_MODEL", "SUMMARY_MODEL", "AUTO_SUMMARY",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("BODY_LIMIT", "30M")
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("STORAGE_DRIVER", StorageS3)
	v.SetDefault("STORAGE_REGION", "auto")
	v.SetDefault("SIGNED_URL_TTL", 3600)
	v.SetDefault("TRANSCRIPTION_MODEL", "whisper-1")
	v.SetDefault("SUMMARY_MODEL", "gpt-4.1")
	v.SetDefault("AUTO_SUMMARY", true)

	// Unmarshal only sees env vars that are bound explicitly.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedStorageEndpoint returns STORAGE_ENDPOINT, or the Cloudflare R2
// endpoint derived from STORAGE_ACCOUNT_ID when no endpoint is set.
func (c *Config) ResolvedStorageEndpoint() string {
	if c.StorageEndpoint != "" {
		return c.StorageEndpoint
	}
	if c.StorageAccountID != "" {
		return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.StorageAccountID)
	}
	return ""
}

// SignedURLTTL is the lifetime of presigned audio URLs.
func (c *Config) SignedURLTTL() time.Duration {
	return time.Duration(c.SignedURLTTLSeconds) * time.Second
}

// Validate checks that the configuration is safe to run. Object storage
// must be fully configured for the s3 driver; the in-memory driver is only
// accepted in development.
func (c *Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageS3:
		if c.StorageBucket == "" {
			errs = append(errs, errors.New("STORAGE_BUCKET is required for the s3 storage driver"))
		}
		if c.StorageAccessKeyID == "" || c.StorageSecretAccessKey == "" {
			errs = append(errs, errors.New("STORAGE_ACCESS_KEY_ID and STORAGE_SECRET_ACCESS_KEY are required for the s3 storage driver"))
		}
		if c.ResolvedStorageEndpoint() == "" {
			errs = append(errs, errors.New("STORAGE_ENDPOINT or STORAGE_ACCOUNT_ID is required for the s3 storage driver"))
		}
	case StorageMemory:
		if !c.IsDev() {
			errs = append(errs, fmt.Errorf("STORAGE_DRIVER=memory is only allowed in development (current ENV=%q)", c.Env))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StorageS3, StorageMemory, c.StorageDriver))
	}

	if c.IsProduction() && c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required in production"))
	}
	if c.SignedURLTTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("SIGNED_URL_TTL must be positive, got %d", c.SignedURLTTLSeconds))
	}
	if c.DBMinConns > c.DBMaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns))
	}

	return errors.Join(errs...)
}
