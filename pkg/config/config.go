package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	NATS        NATSConfig
	Ledger      LedgerConfig
	Trust       TrustConfig
	RateLimit   RateLimitConfig
	Coupons     CouponConfig
	Fraud       FraudConfig
	Jobs        JobsConfig
	Attestation AttestationConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         string
	Environment  string
	ServiceName  string
	ReadTimeout  int
	WriteTimeout int
	CORSOrigins  string // Comma-separated list of allowed origins
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MaxConns       int
	MinConns       int
	MigrateOnStart bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret     string
	Expiration int // in hours
}

// NATSConfig holds the event bus connection settings
type NATSConfig struct {
	URL     string
	Stream  string
	Enabled bool
}

// LedgerConfig holds event intake settings
type LedgerConfig struct {
	MaxFutureSkew   time.Duration
	MaxEventAge     time.Duration
	NonceMaxAge     time.Duration
	LockTimeout     time.Duration
	VerifierTimeout time.Duration
	// EventPoints maps server-scored event types to their points value
	EventPoints    map[string]int
	HoneypotFields []string
	HoneypotEvents []string
}

// TrustConfig holds the trust scorer weights and status thresholds
type TrustConfig struct {
	Baseline              int
	AttestationValid      int
	AttestationInvalid    int
	ThirdPartyConfirmed   int
	NewAccountPenalty     int
	NewAccountAge         time.Duration
	EstablishedBonus      int
	EstablishedAge        time.Duration
	BurstSpacingPenalty   int
	BurstSpacing          time.Duration
	RapidSpacingPenalty   int
	RapidSpacing          time.Duration
	KnownDevice           int
	ConfirmedFraudPenalty int
	ValidateThreshold     int
	ReviewThreshold       int
}

// RateLimitConfig holds the per-user ledger velocity ceilings
type RateLimitConfig struct {
	EventsPerHour int
	EventsPerDay  int
	PointsPerHour int
	PointsPerDay  int
}

// CouponConfig holds coupon issuing configuration
type CouponConfig struct {
	HMACSecret        string
	DefaultExpiryDays int
	TemplateCacheTTL  time.Duration
}

// FraudConfig holds fraud insight engine settings
type FraudConfig struct {
	VelocityWindow    time.Duration
	VelocityThreshold float64 // fraction of the hourly event ceiling that raises an insight
	SweepLookback     time.Duration
}

// JobsConfig holds background job intervals
type JobsConfig struct {
	NoncePurgeInterval   time.Duration
	ReconcileInterval    time.Duration
	FraudSweepInterval   time.Duration
	CouponExpiryInterval time.Duration
	LockTTL              time.Duration
}

// AttestationConfig holds the device attestation verifier settings
type AttestationConfig struct {
	VerifierURL      string
	ProofURL         string
	APIKey           string
	Timeout          time.Duration
	FailureThreshold int
	BreakerCooldown  time.Duration
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ServiceName:  serviceName,
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 10),
			CORSOrigins:  getEnv("CORS_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", "postgres"),
			DBName:         getEnv("DB_NAME", "points_ledger"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MaxConns:       getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:       getEnvAsInt("DB_MIN_CONNS", 5),
			MigrateOnStart: getEnvAsBool("DB_MIGRATE_ON_START", false),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			Expiration: getEnvAsInt("JWT_EXPIRATION", 24),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Stream:  getEnv("NATS_STREAM", "LEDGER"),
			Enabled: getEnvAsBool("NATS_ENABLED", false),
		},
		Ledger: LedgerConfig{
			MaxFutureSkew:   getEnvAsDuration("LEDGER_MAX_FUTURE_SKEW", 10*time.Minute),
			MaxEventAge:     getEnvAsDuration("LEDGER_MAX_EVENT_AGE", 7*24*time.Hour),
			NonceMaxAge:     getEnvAsDuration("LEDGER_NONCE_MAX_AGE", 7*24*time.Hour),
			LockTimeout:     getEnvAsDuration("LEDGER_LOCK_TIMEOUT", 5*time.Second),
			VerifierTimeout: getEnvAsDuration("LEDGER_VERIFIER_TIMEOUT", 3*time.Second),
			EventPoints:     getEnvAsIntMap("LEDGER_EVENT_POINTS", DefaultEventPoints()),
			HoneypotFields:  getEnvAsList("LEDGER_HONEYPOT_FIELDS", []string{"hp_field", "website"}),
			HoneypotEvents:  getEnvAsList("LEDGER_HONEYPOT_EVENTS", []string{"bonus_unlock"}),
		},
		Trust:     DefaultTrustConfig(),
		RateLimit: DefaultRateLimitConfig(),
		Coupons: CouponConfig{
			HMACSecret:        getEnv("COUPON_HMAC_SECRET", "coupon-secret-change-in-production"),
			DefaultExpiryDays: getEnvAsInt("COUPON_DEFAULT_EXPIRY_DAYS", 30),
			TemplateCacheTTL:  getEnvAsDuration("COUPON_TEMPLATE_CACHE_TTL", time.Minute),
		},
		Fraud: FraudConfig{
			VelocityWindow:    getEnvAsDuration("FRAUD_VELOCITY_WINDOW", time.Hour),
			VelocityThreshold: getEnvAsFloat("FRAUD_VELOCITY_THRESHOLD", 0.5),
			SweepLookback:     getEnvAsDuration("FRAUD_SWEEP_LOOKBACK", time.Hour),
		},
		Jobs: JobsConfig{
			NoncePurgeInterval:   getEnvAsDuration("JOBS_NONCE_PURGE_INTERVAL", time.Hour),
			ReconcileInterval:    getEnvAsDuration("JOBS_RECONCILE_INTERVAL", 6*time.Hour),
			FraudSweepInterval:   getEnvAsDuration("JOBS_FRAUD_SWEEP_INTERVAL", 10*time.Minute),
			CouponExpiryInterval: getEnvAsDuration("JOBS_COUPON_EXPIRY_INTERVAL", 15*time.Minute),
			LockTTL:              getEnvAsDuration("JOBS_LOCK_TTL", 5*time.Minute),
		},
		Attestation: AttestationConfig{
			VerifierURL:      getEnv("ATTESTATION_VERIFIER_URL", ""),
			ProofURL:         getEnv("THIRD_PARTY_PROOF_URL", ""),
			APIKey:           getEnv("ATTESTATION_API_KEY", ""),
			Timeout:          getEnvAsDuration("ATTESTATION_TIMEOUT", 2*time.Second),
			FailureThreshold: getEnvAsInt("ATTESTATION_BREAKER_FAILURES", 5),
			BreakerCooldown:  getEnvAsDuration("ATTESTATION_BREAKER_COOLDOWN", 30*time.Second),
		},
	}

	cfg.RateLimit.EventsPerHour = getEnvAsInt("RATE_LIMIT_EVENTS_PER_HOUR", cfg.RateLimit.EventsPerHour)
	cfg.RateLimit.EventsPerDay = getEnvAsInt("RATE_LIMIT_EVENTS_PER_DAY", cfg.RateLimit.EventsPerDay)
	cfg.RateLimit.PointsPerHour = getEnvAsInt("RATE_LIMIT_POINTS_PER_HOUR", cfg.RateLimit.PointsPerHour)
	cfg.RateLimit.PointsPerDay = getEnvAsInt("RATE_LIMIT_POINTS_PER_DAY", cfg.RateLimit.PointsPerDay)

	cfg.Trust.ValidateThreshold = getEnvAsInt("TRUST_VALIDATE_THRESHOLD", cfg.Trust.ValidateThreshold)
	cfg.Trust.ReviewThreshold = getEnvAsInt("TRUST_REVIEW_THRESHOLD", cfg.Trust.ReviewThreshold)

	if cfg.Server.Environment == "production" {
		if err := cfg.validateProduction(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// DefaultEventPoints returns the server-side points table
func DefaultEventPoints() map[string]int {
	return map[string]int{
		"habit_completion":   10,
		"workout_completion": 25,
		"task_completion":    5,
		"goal_completion":    50,
		"streak_bonus":       20,
	}
}

// DefaultTrustConfig returns the default scorer weights
func DefaultTrustConfig() TrustConfig {
	return TrustConfig{
		Baseline:              50,
		AttestationValid:      40,
		AttestationInvalid:    -20,
		ThirdPartyConfirmed:   30,
		NewAccountPenalty:     -25,
		NewAccountAge:         24 * time.Hour,
		EstablishedBonus:      10,
		EstablishedAge:        30 * 24 * time.Hour,
		BurstSpacingPenalty:   -45,
		BurstSpacing:          time.Second,
		RapidSpacingPenalty:   -15,
		RapidSpacing:          10 * time.Second,
		KnownDevice:           15,
		ConfirmedFraudPenalty: -30,
		ValidateThreshold:     60,
		ReviewThreshold:       30,
	}
}

// DefaultRateLimitConfig returns the default velocity ceilings
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		EventsPerHour: 100,
		EventsPerDay:  500,
		PointsPerHour: 1000,
		PointsPerDay:  5000,
	}
}

func (c *Config) validateProduction() error {
	if strings.Contains(c.JWT.Secret, "change-in-production") {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	if strings.Contains(c.Coupons.HMACSecret, "change-in-production") || len(c.Coupons.HMACSecret) < 32 {
		return fmt.Errorf("COUPON_HMAC_SECRET must be at least 32 characters in production")
	}
	return nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// URL returns the database connection string in URL form, as used by migrations
func (c *DatabaseConfig) URL(scheme string) string {
	return fmt.Sprintf("%s://%s:%s@%s:%s/%s?sslmode=%s",
		scheme, c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAsIntMap parses "key=value,key=value" pairs
func getEnvAsIntMap(key string, defaultValue map[string]int) map[string]int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	out := make(map[string]int)
	for _, pair := range strings.Split(valueStr, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			continue
		}
		out[strings.TrimSpace(k)] = n
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
