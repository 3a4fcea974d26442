package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"subyield/pkg/utils"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	ClockSystem = "system"
	ClockManual = "manual"
)

type Config struct {
	Port          string
	StorageDriver string
	PostgresURL   string
	// RedisURL selects the Redis working set when set; otherwise the scheduler keeps it in memory.
	RedisURL string

	JWTSecret []byte
	TokenTTL  time.Duration

	AdminAddress      string
	BackendAddress    string
	ProviderAddresses []string
	TreasuryAddress   string
	VaultAddress      string

	TokenDecimals  int32
	VaultAPYBps    int64
	SandboxEnabled bool
	Clock          string

	CheckInterval            time.Duration
	SchedulerConcurrency     int
	SchedulerJobTimeout      time.Duration
	SchedulerShutdownTimeout time.Duration
	SchedulerRunOnStart      bool
	CustodyCallTimeout       time.Duration

	RateLimitPerMinute int
	CORSOrigins        []string
	LogLevel           string
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	var errs []error
	addr := func(key string, required bool) string {
		raw := os.Getenv(key)
		if raw == "" {
			if required {
				errs = append(errs, fmt.Errorf("%s is required", key))
			}
			return ""
		}
		out, err := utils.NormalizeAddress(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return out
	}

	cfg := &Config{
		Port:          getEnvWithDefault("PORT", "8080"),
		StorageDriver: strings.ToLower(getEnvWithDefault("STORAGE_DRIVER", StorageMemory)),
		PostgresURL:   os.Getenv("POSTGRES_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSecret:     []byte(os.Getenv("JWT_SECRET")),

		AdminAddress:    addr("ADMIN_ADDRESS", true),
		BackendAddress:  addr("BACKEND_ADDRESS", true),
		TreasuryAddress: addr("TREASURY_ADDRESS", true),
		VaultAddress:    addr("SANDBOX_VAULT_ADDRESS", false),

		Clock:       strings.ToLower(getEnvWithDefault("CLOCK", ClockSystem)),
		LogLevel:    getEnvWithDefault("LOG_LEVEL", "info"),
		CORSOrigins: splitList(getEnvWithDefault("CORS_ORIGINS", "*")),
	}
	if cfg.VaultAddress == "" {
		cfg.VaultAddress = utils.MustNormalizeAddress("0x000000000000000000000000000000000000dead")
	}

	for _, p := range splitList(os.Getenv("PROVIDER_ADDRESSES")) {
		out, err := utils.NormalizeAddress(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("PROVIDER_ADDRESSES: %w", err))
			continue
		}
		cfg.ProviderAddresses = append(cfg.ProviderAddresses, out)
	}

	var err error
	collect := func(e error) {
		if e != nil {
			errs = append(errs, e)
		}
	}
	var decimals int
	decimals, err = getEnvInt("TOKEN_DECIMALS", 6)
	collect(err)
	cfg.TokenDecimals = int32(decimals)
	var apy int
	apy, err = getEnvInt("SANDBOX_VAULT_APY_BPS", 500)
	collect(err)
	cfg.VaultAPYBps = int64(apy)
	cfg.SandboxEnabled, err = getEnvBool("SANDBOX_ENABLED", false)
	collect(err)
	cfg.TokenTTL, err = getEnvDuration("JWT_TTL", 24*time.Hour)
	collect(err)
	cfg.CheckInterval, err = getEnvDuration("CHECK_INTERVAL", time.Hour)
	collect(err)
	cfg.SchedulerConcurrency, err = getEnvInt("SCHEDULER_CONCURRENCY", 8)
	collect(err)
	cfg.SchedulerJobTimeout, err = getEnvDuration("SCHEDULER_JOB_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.SchedulerShutdownTimeout, err = getEnvDuration("SCHEDULER_SHUTDOWN_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.SchedulerRunOnStart, err = getEnvBool("SCHEDULER_RUN_ON_START", true)
	collect(err)
	cfg.CustodyCallTimeout, err = getEnvDuration("CUSTODY_CALL_TIMEOUT", 10*time.Second)
	collect(err)
	cfg.RateLimitPerMinute, err = getEnvInt("RATE_LIMIT_PER_MINUTE", 120)
	collect(err)

	collect(cfg.validate())
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("POSTGRES_URL is required for the postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER %q must be memory or postgres", c.StorageDriver))
	}
	if c.Clock != ClockSystem && c.Clock != ClockManual {
		errs = append(errs, fmt.Errorf("CLOCK %q must be system or manual", c.Clock))
	}
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 bytes"))
	}
	if c.TokenDecimals < 0 || c.TokenDecimals > 18 {
		errs = append(errs, fmt.Errorf("TOKEN_DECIMALS %d out of range", c.TokenDecimals))
	}
	if c.VaultAPYBps < 0 {
		errs = append(errs, errors.New("SANDBOX_VAULT_APY_BPS must not be negative"))
	}
	if c.CheckInterval < time.Second {
		errs = append(errs, errors.New("CHECK_INTERVAL must be at least 1s"))
	}
	if c.SchedulerConcurrency < 1 {
		errs = append(errs, errors.New("SCHEDULER_CONCURRENCY must be positive"))
	}
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE must not be negative"))
	}
	return errors.Join(errs...)
}

// getEnvWithDefault returns environment variable or default value
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %q is not an integer", key, raw)
	}
	return v, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %q is not a boolean", key, raw)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %q is not a duration", key, raw)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
