// Package config loads process configuration from the environment, after
// merging an optional .env file.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is read once at startup and treated as immutable.
type Config struct {
	// Store
	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	// Auth
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Servers
	WebPort            string
	GRPCPort           string
	CORSAllowedOrigins []string
	HealthInterval     time.Duration
	// Peers allowed to set X-Forwarded-For / X-Real-IP. Empty trusts none.
	TrustedProxies     []netip.Prefix

	// Rate limit for register/login/refresh, per client IP
	RateLimitRPS   float64
	RateLimitBurst int

	// Logging
	LogLevel  string
	LogFormat string

	// Location decides what "today" is for slot listing and sweeping.
	Location *time.Location

	// Events; publishing is disabled when KafkaBrokers is empty
	KafkaBrokers []string
	KafkaTopic   string

	// Sweeper
	SlotRetentionDays int
	SweepSchedule     string
}

// Load reads .env (if present) and the environment. Variables already set in
// the environment win over .env.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var missing []string

	cfg.StoreDriver = getEnvString("STORE_DRIVER", DriverPostgres)
	switch cfg.StoreDriver {
	case DriverPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case DriverSQLite:
		cfg.SQLitePath = getEnvString("SQLITE_PATH", "booking.db")
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, cfg.StoreDriver)
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	tz := getEnvString("APP_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("APP_TIMEZONE: %w", err)
	}
	cfg.Location = loc

	cfg.AccessTokenTTL = getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute)
	cfg.RefreshTokenTTL = getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour)
	cfg.WebPort = getEnvString("WEB_PORT", "8080")
	cfg.GRPCPort = getEnvString("GRPC_PORT", "50051")
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	cfg.HealthInterval = getEnvDuration("HEALTH_INTERVAL", 10*time.Second)
	if cfg.TrustedProxies, err = parsePrefixes(getEnvList("TRUSTED_PROXIES", nil)); err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	cfg.RateLimitRPS = getEnvFloat("RATE_LIMIT_RPS", 5)
	cfg.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogFormat = getEnvString("LOG_FORMAT", "json")
	cfg.KafkaBrokers = getEnvList("KAFKA_BROKERS", nil)
	cfg.KafkaTopic = getEnvString("KAFKA_TOPIC", "appointments")
	cfg.SlotRetentionDays = getEnvInt("SLOT_RETENTION_DAYS", 30)
	cfg.SweepSchedule = getEnvString("SWEEP_SCHEDULE", "@daily")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// comma separated, blanks dropped
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// CIDRs or bare addresses
func parsePrefixes(vals []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, v := range vals {
		if addr, err := netip.ParseAddr(v); err == nil {
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(v)
		if err != nil {
			return nil, err
		}
		out = append(out, p.Masked())
	}
	return out, nil
}
