package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	StoreDriver     string `mapstructure:"STORE_DRIVER"`
	MongoURI        string `mapstructure:"MONGODB_URI"`
	MongoDatabase   string `mapstructure:"MONGODB_DATABASE"`
	CacheDriver     string `mapstructure:"CACHE_DRIVER"`
	RedisURL        string `mapstructure:"REDIS_URL"`
	CacheTable      string `mapstructure:"CACHE_TABLE"`
	AWSRegion       string `mapstructure:"AWS_REGION"`
	MigrationsDir   string `mapstructure:"MIGRATIONS_DIR"`
	MigrationSchema string `mapstructure:"MIGRATION_SCHEMA"`

	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`

	DiagnosisServiceURL  string        `mapstructure:"DIAGNOSIS_SERVICE_URL"`
	DiagnosisTimeout     time.Duration `mapstructure:"DIAGNOSIS_TIMEOUT"`
	DiagnosisMaxAttempts int           `mapstructure:"DIAGNOSIS_MAX_ATTEMPTS"`
	DiagnosisCacheTTL    time.Duration `mapstructure:"DIAGNOSIS_CACHE_TTL"`

	ServiceTokenSigningKey      string        `mapstructure:"SERVICE_TOKEN_SIGNING_KEY"`
	ServiceTokenSigningKeyParam string        `mapstructure:"SERVICE_TOKEN_SIGNING_KEY_PARAM"`
	ServiceTokenIssuer          string        `mapstructure:"SERVICE_TOKEN_ISSUER"`
	ServiceTokenAudience        string        `mapstructure:"SERVICE_TOKEN_AUDIENCE"`
	ServiceTokenLifetime        time.Duration `mapstructure:"SERVICE_TOKEN_LIFETIME"`

	SessionTTL          time.Duration `mapstructure:"SESSION_TTL"`
	ClinicalSessionTTL  time.Duration `mapstructure:"CLINICAL_SESSION_TTL"`
	ConsultationTTL     time.Duration `mapstructure:"CONSULTATION_TTL"`
	ExpirySweepInterval time.Duration `mapstructure:"EXPIRY_SWEEP_INTERVAL"`

	FallbackDayDoctorID     string `mapstructure:"FALLBACK_DAY_DOCTOR_ID"`
	FallbackEveningDoctorID string `mapstructure:"FALLBACK_EVENING_DOCTOR_ID"`

	PaymentCurrency     string `mapstructure:"PAYMENT_CURRENCY"`
	PaymentAutoComplete bool   `mapstructure:"PAYMENT_AUTO_COMPLETE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"STORE_DRIVER", "MONGODB_URI", "MONGODB_DATABASE",
	"CACHE_DRIVER", "REDIS_URL", "CACHE_TABLE", "AWS_REGION",
	"MIGRATIONS_DIR", "MIGRATION_SCHEMA",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS", "REQUEST_TIMEOUT",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"DIAGNOSIS_SERVICE_URL", "DIAGNOSIS_TIMEOUT", "DIAGNOSIS_MAX_ATTEMPTS", "DIAGNOSIS_CACHE_TTL",
	"SERVICE_TOKEN_SIGNING_KEY", "SERVICE_TOKEN_SIGNING_KEY_PARAM", "SERVICE_TOKEN_ISSUER",
	"SERVICE_TOKEN_AUDIENCE", "SERVICE_TOKEN_LIFETIME",
	"SESSION_TTL", "CLINICAL_SESSION_TTL", "CONSULTATION_TTL", "EXPIRY_SWEEP_INTERVAL",
	"FALLBACK_DAY_DOCTOR_ID", "FALLBACK_EVENING_DOCTOR_ID",
	"PAYMENT_CURRENCY", "PAYMENT_AUTO_COMPLETE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("MONGODB_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGODB_DATABASE", "telecare")
	v.SetDefault("CACHE_DRIVER", "memory")
	v.SetDefault("CACHE_TABLE", "telecare-cache")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("MIGRATION_SCHEMA", "public")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("DIAGNOSIS_SERVICE_URL", "http://localhost:8001")
	v.SetDefault("DIAGNOSIS_TIMEOUT", "30s")
	v.SetDefault("DIAGNOSIS_MAX_ATTEMPTS", 3)
	v.SetDefault("DIAGNOSIS_CACHE_TTL", "1h")
	v.SetDefault("SERVICE_TOKEN_ISSUER", "telecare")
	v.SetDefault("SERVICE_TOKEN_AUDIENCE", "diagnosis-service")
	v.SetDefault("SERVICE_TOKEN_LIFETIME", "1h")
	v.SetDefault("SESSION_TTL", "1h")
	v.SetDefault("CLINICAL_SESSION_TTL", "24h")
	v.SetDefault("CONSULTATION_TTL", "72h")
	v.SetDefault("EXPIRY_SWEEP_INTERVAL", "5m")
	v.SetDefault("PAYMENT_CURRENCY", "USD")
	v.SetDefault("PAYMENT_AUTO_COMPLETE", false)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.StoreDriver == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, all requests act as an admin.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}

	switch c.CacheDriver {
	case "memory", "dynamodb":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CACHE_DRIVER is \"redis\"")
		}
	default:
		return fmt.Errorf("CACHE_DRIVER must be \"memory\", \"redis\", or \"dynamodb\", got %q", c.CacheDriver)
	}

	if !c.IsDev() {
		if c.ServiceTokenSigningKey == "" && c.ServiceTokenSigningKeyParam == "" {
			return fmt.Errorf("SERVICE_TOKEN_SIGNING_KEY or SERVICE_TOKEN_SIGNING_KEY_PARAM is required outside development")
		}
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is required outside development")
		}
	}

	if c.DiagnosisMaxAttempts < 1 {
		return fmt.Errorf("DIAGNOSIS_MAX_ATTEMPTS must be at least 1, got %d", c.DiagnosisMaxAttempts)
	}

	for name, id := range map[string]string{
		"FALLBACK_DAY_DOCTOR_ID":     c.FallbackDayDoctorID,
		"FALLBACK_EVENING_DOCTOR_ID": c.FallbackEveningDoctorID,
	} {
		if id == "" {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			return fmt.Errorf("%s is not a valid UUID: %w", name, err)
		}
	}

	return nil
}

// FallbackDoctors returns the configured day and evening fallback doctor ids.
// Unset ids come back as uuid.Nil.
func (c *Config) FallbackDoctors() (day, evening uuid.UUID) {
	day, _ = uuid.Parse(c.FallbackDayDoctorID)
	evening, _ = uuid.Parse(c.FallbackEveningDoctorID)
	return day, evening
}

// ValidateStore checks only the record store settings. Processes that never
// serve requests, such as the scheduled expiry sweeper, use it instead of
// Validate.
func (c *Config) ValidateStore() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is \"postgres\"")
		}
	case "mongodb":
		if c.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required when STORE_DRIVER is \"mongodb\"")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be \"postgres\" or \"mongodb\", got %q", c.StoreDriver)
	}
	return nil
}
