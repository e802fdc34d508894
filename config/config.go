// Package config loads and validates all process configuration from
// environment variables. Configuration is read once at boot; no .env file is
// assumed and nothing re-reads the environment afterwards.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Postgres (database of record, shared by the whole fleet)
	PGHost     string
	PGPort     int
	PGUser     string
	PGPassword string
	PGDatabase string
	PGSSLMode  string

	// Redis (shared cache + message bus)
	RedisURL string // redis:// or rediss:// for TLS

	// Instance identity
	ExchangeName     string // which exchange this instance runs
	UserID           string // owner of this instance's control channel
	AdminEmail       string
	AdminDisplayName string

	// Identity provider keys (federated login on the operator UI side)
	IdentityIssuer   string
	IdentityAudience string

	// Optional integrations
	DiscordWebhookURL string

	// Listeners
	APIAddr     string
	MetricsAddr string

	// Tunables
	MaxCachedCandles int // sorted-set trim depth per series
}

// Load reads configuration from environment variables with sensible defaults.
// It does not validate; call Validate before starting any subsystem.
func Load() *Config {
	return &Config{
		PGHost:     getEnv("PG_HOST", "localhost"),
		PGPort:     getEnvInt("PG_PORT", 5432),
		PGUser:     getEnv("PG_USER", "livermore"),
		PGPassword: os.Getenv("PG_PASSWORD"),
		PGDatabase: getEnv("PG_DATABASE", "livermore"),
		PGSSLMode:  getEnv("PG_SSLMODE", "prefer"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		ExchangeName:     os.Getenv("EXCHANGE_NAME"),
		UserID:           os.Getenv("LIVERMORE_USER_ID"),
		AdminEmail:       os.Getenv("ADMIN_EMAIL"),
		AdminDisplayName: getEnv("ADMIN_DISPLAY_NAME", os.Getenv("ADMIN_EMAIL")),

		IdentityIssuer:   os.Getenv("IDENTITY_ISSUER"),
		IdentityAudience: os.Getenv("IDENTITY_AUDIENCE"),

		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),

		APIAddr:     getEnv("API_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		MaxCachedCandles: getEnvInt("MAX_CACHED_CANDLES", 1000),
	}
}

// Validate type-checks every variable and reports all problems at once.
func (c *Config) Validate() error {
	var problems []string

	if c.PGHost == "" {
		problems = append(problems, "PG_HOST is empty")
	}
	if c.PGPort <= 0 || c.PGPort > 65535 {
		problems = append(problems, fmt.Sprintf("PG_PORT %d out of range", c.PGPort))
	}
	if c.PGUser == "" {
		problems = append(problems, "PG_USER is empty")
	}
	if c.PGDatabase == "" {
		problems = append(problems, "PG_DATABASE is empty")
	}

	u, err := url.Parse(c.RedisURL)
	if err != nil {
		problems = append(problems, fmt.Sprintf("REDIS_URL unparseable: %v", err))
	} else if u.Scheme != "redis" && u.Scheme != "rediss" {
		problems = append(problems, fmt.Sprintf("REDIS_URL scheme %q (want redis or rediss)", u.Scheme))
	}

	if c.ExchangeName == "" {
		problems = append(problems, "EXCHANGE_NAME is empty")
	}
	if c.UserID == "" {
		problems = append(problems, "LIVERMORE_USER_ID is empty (control channel owner)")
	}
	if c.AdminEmail == "" {
		problems = append(problems, "ADMIN_EMAIL is empty")
	}
	if c.DiscordWebhookURL != "" && !strings.HasPrefix(c.DiscordWebhookURL, "https://") {
		problems = append(problems, "DISCORD_WEBHOOK_URL must be https")
	}
	if c.MaxCachedCandles < 100 {
		problems = append(problems, fmt.Sprintf("MAX_CACHED_CANDLES %d too small (min 100)", c.MaxCachedCandles))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// PostgresDSN assembles the pgx connection string from the DSN parts.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PGUser), url.QueryEscape(c.PGPassword),
		c.PGHost, c.PGPort, c.PGDatabase, c.PGSSLMode)
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
