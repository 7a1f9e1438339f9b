package config

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const minSecretBytes = 32

type Config struct {
	Env      string
	HTTPPort string
	LogLevel string

	DatabaseURL string

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisKeyPrefix     string
	RedisOpTimeout     time.Duration
	TokenStoreFallback bool
	MemoryStoreSweep   time.Duration

	JWTIssuer         string
	JWTAudience       string
	JWTSecret         []byte
	JWTPreviousSecret []byte
	JWTAccessTTL      time.Duration
	JWTRefreshTTL     time.Duration
	JWTLeeway         time.Duration

	SessionGraceTTL      time.Duration
	SessionMinTTL        time.Duration
	SessionRevokeWorkers int
	DefaultDeviceID      string

	AuthGateHardFail  bool
	AuthPublicPaths   []string
	LoginLockAttempts int
	LoginLockDuration time.Duration
	RequireVerified   bool
	BcryptCost        int
	AuthRateLimitRPM  int

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSamplingRatio    float64
	EnableOTelHTTP            bool

	ShutdownTimeout time.Duration
}

// Load reads an optional .env file, then the environment, then validates.
// Environment variables win over .env values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)
	ctx := context.Background()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("read config: %w", err)
			recordConfigLoad(ctx, v.GetString("APP_ENV"), outcomeFor(stageRead, err))
			return nil, err
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		recordConfigLoad(ctx, v.GetString("APP_ENV"), outcomeFor(stageParse, err))
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		err = fmt.Errorf("validate config: %w", err)
		recordConfigLoad(ctx, cfg.Env, outcomeFor(stageValidate, err))
		return nil, err
	}
	recordConfigLoad(ctx, cfg.Env, outcomeFor(stageValidate, nil))
	return cfg, nil
}

// ParseError reports a value that could not be decoded into its field.
type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string { return "parse " + e.Key + ": " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError lists every rule the loaded values break.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string { return strings.Join(e.Problems, "; ") }

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Env:                      v.GetString("APP_ENV"),
		HTTPPort:                 v.GetString("HTTP_PORT"),
		LogLevel:                 v.GetString("LOG_LEVEL"),
		DatabaseURL:              v.GetString("DATABASE_URL"),
		RedisAddr:                strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:            v.GetString("REDIS_PASSWORD"),
		RedisDB:                  v.GetInt("REDIS_DB"),
		RedisKeyPrefix:           v.GetString("REDIS_KEY_PREFIX"),
		TokenStoreFallback:       v.GetBool("TOKEN_STORE_FALLBACK"),
		JWTIssuer:                v.GetString("JWT_ISSUER"),
		JWTAudience:              v.GetString("JWT_AUDIENCE"),
		SessionRevokeWorkers:     v.GetInt("SESSION_REVOKE_WORKERS"),
		DefaultDeviceID:          v.GetString("DEFAULT_DEVICE_ID"),
		AuthGateHardFail:         v.GetBool("AUTH_GATE_HARD_FAIL"),
		AuthPublicPaths:          splitCSV(v.GetString("AUTH_PUBLIC_PATHS")),
		LoginLockAttempts:        v.GetInt("LOGIN_LOCK_ATTEMPTS"),
		RequireVerified:          v.GetBool("LOGIN_REQUIRE_VERIFIED_EMAIL"),
		BcryptCost:               v.GetInt("BCRYPT_COST"),
		AuthRateLimitRPM:         v.GetInt("AUTH_RATE_LIMIT_PER_MIN"),
		OTELServiceName:          v.GetString("OTEL_SERVICE_NAME"),
		OTELEnvironment:          v.GetString("OTEL_ENVIRONMENT"),
		OTELExporterOTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTELExporterOTLPInsecure: v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		OTELMetricsEnabled:       v.GetBool("OTEL_METRICS_ENABLED"),
		OTELTracingEnabled:       v.GetBool("OTEL_TRACING_ENABLED"),
		OTELLogsEnabled:          v.GetBool("OTEL_LOGS_ENABLED"),
		OTELTraceSamplingRatio:   v.GetFloat64("OTEL_TRACE_SAMPLING_RATIO"),
		EnableOTelHTTP:           v.GetBool("OTEL_HTTP_ENABLED"),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"REDIS_OP_TIMEOUT", &cfg.RedisOpTimeout},
		{"MEMORY_STORE_SWEEP_INTERVAL", &cfg.MemoryStoreSweep},
		{"JWT_ACCESS_TTL", &cfg.JWTAccessTTL},
		{"JWT_REFRESH_TTL", &cfg.JWTRefreshTTL},
		{"JWT_LEEWAY", &cfg.JWTLeeway},
		{"SESSION_GRACE_TTL", &cfg.SessionGraceTTL},
		{"SESSION_MIN_TTL", &cfg.SessionMinTTL},
		{"LOGIN_LOCK_DURATION", &cfg.LoginLockDuration},
		{"OTEL_METRICS_EXPORT_INTERVAL", &cfg.OTELMetricsExportInterval},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return nil, &ParseError{Key: d.key, Err: err}
		}
		*d.dst = parsed
	}

	secret, err := readSecret(v, "JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.JWTSecret = secret
	previous, err := readSecret(v, "JWT_PREVIOUS_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.JWTPreviousSecret = previous
	return cfg, nil
}

// readSecret prefers the raw value and falls back to <key>_BASE64.
func readSecret(v *viper.Viper, key string) ([]byte, error) {
	if raw := v.GetString(key); raw != "" {
		return []byte(raw), nil
	}
	encoded := strings.TrimSpace(v.GetString(key + "_BASE64"))
	if encoded == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &ParseError{Key: key + "_BASE64", Err: err}
	}
	return decoded, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "file:session-core.db?_busy_timeout=5000")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "")
	v.SetDefault("REDIS_OP_TIMEOUT", "500ms")
	v.SetDefault("TOKEN_STORE_FALLBACK", false)
	v.SetDefault("MEMORY_STORE_SWEEP_INTERVAL", "1m")

	v.SetDefault("JWT_ISSUER", "secure-session-core")
	v.SetDefault("JWT_AUDIENCE", "secure-session-core-api")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_SECRET_BASE64", "")
	v.SetDefault("JWT_PREVIOUS_SECRET", "")
	v.SetDefault("JWT_PREVIOUS_SECRET_BASE64", "")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "720h")
	v.SetDefault("JWT_LEEWAY", "30s")

	v.SetDefault("SESSION_GRACE_TTL", "1h")
	v.SetDefault("SESSION_MIN_TTL", "60s")
	v.SetDefault("SESSION_REVOKE_WORKERS", 8)
	v.SetDefault("DEFAULT_DEVICE_ID", "web")

	v.SetDefault("AUTH_GATE_HARD_FAIL", false)
	v.SetDefault("AUTH_PUBLIC_PATHS", "/,/favicon.ico,/health/**,/api/v1/auth/login,/api/v1/auth/reissue")
	v.SetDefault("LOGIN_LOCK_ATTEMPTS", 5)
	v.SetDefault("LOGIN_LOCK_DURATION", "30m")
	v.SetDefault("LOGIN_REQUIRE_VERIFIED_EMAIL", true)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("AUTH_RATE_LIMIT_PER_MIN", 30)

	v.SetDefault("OTEL_SERVICE_NAME", "secure-session-core")
	v.SetDefault("OTEL_ENVIRONMENT", "development")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	v.SetDefault("OTEL_METRICS_ENABLED", false)
	v.SetDefault("OTEL_TRACING_ENABLED", false)
	v.SetDefault("OTEL_LOGS_ENABLED", false)
	v.SetDefault("OTEL_METRICS_EXPORT_INTERVAL", "10s")
	v.SetDefault("OTEL_TRACE_SAMPLING_RATIO", 1.0)
	v.SetDefault("OTEL_HTTP_ENABLED", true)

	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
}

func (c *Config) Validate() error {
	var errs []string
	if c.HTTPPort == "" {
		errs = append(errs, "HTTP_PORT is required")
	}
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if len(c.JWTSecret) < minSecretBytes {
		errs = append(errs, "JWT_SECRET must be at least 32 bytes")
	}
	if len(c.JWTPreviousSecret) > 0 {
		if len(c.JWTPreviousSecret) < minSecretBytes {
			errs = append(errs, "JWT_PREVIOUS_SECRET must be at least 32 bytes")
		}
		if string(c.JWTPreviousSecret) == string(c.JWTSecret) {
			errs = append(errs, "JWT_PREVIOUS_SECRET must differ from JWT_SECRET")
		}
	}
	if c.JWTAccessTTL <= 0 || c.JWTAccessTTL > time.Hour {
		errs = append(errs, "JWT_ACCESS_TTL must be between 1s and 1h")
	}
	if c.JWTRefreshTTL <= 0 || c.JWTRefreshTTL > 90*24*time.Hour {
		errs = append(errs, "JWT_REFRESH_TTL must be between 1s and 90d")
	}
	if c.JWTLeeway < 0 || c.JWTLeeway > 5*time.Minute {
		errs = append(errs, "JWT_LEEWAY must be between 0 and 5m")
	}
	if c.SessionGraceTTL <= 0 {
		errs = append(errs, "SESSION_GRACE_TTL must be > 0")
	}
	if c.SessionMinTTL <= 0 {
		errs = append(errs, "SESSION_MIN_TTL must be > 0")
	}
	if c.SessionRevokeWorkers <= 0 {
		errs = append(errs, "SESSION_REVOKE_WORKERS must be > 0")
	}
	if c.RedisOpTimeout <= 0 {
		errs = append(errs, "REDIS_OP_TIMEOUT must be > 0")
	}
	if c.LoginLockAttempts <= 0 {
		errs = append(errs, "LOGIN_LOCK_ATTEMPTS must be > 0")
	}
	if c.LoginLockDuration <= 0 {
		errs = append(errs, "LOGIN_LOCK_DURATION must be > 0")
	}
	if c.AuthRateLimitRPM <= 0 {
		errs = append(errs, "AUTH_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, "BCRYPT_COST must be between 4 and 31")
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, "OTEL_TRACE_SAMPLING_RATIO must be between 0 and 1")
	}
	if c.OTELMetricsEnabled && c.OTELMetricsExportInterval <= 0 {
		errs = append(errs, "OTEL_METRICS_EXPORT_INTERVAL must be > 0")
	}
	if len(errs) > 0 {
		return &ValidationError{Problems: errs}
	}
	return nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trim := strings.TrimSpace(p)
		if trim != "" {
			out = append(out, trim)
		}
	}
	return out
}
