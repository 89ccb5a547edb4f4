package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv" // Used to load .env files
)

// Config carries everything the server needs from the environment. It is
// built once in main and handed to the components that need it, so nothing
// below main reads os.Getenv directly.
type Config struct {
	Port string

	// ServiceTokenSecret signs internal service-to-service tokens (HS256).
	// Must be at least 32 characters; issuance fails closed otherwise.
	ServiceTokenSecret string

	// UserJWTSecret verifies end-user session tokens minted by the
	// frontend's auth layer.
	UserJWTSecret string

	// ExtraAllowedIPs is appended to the built-in internal ranges.
	// Comma-separated CIDRs or single addresses.
	ExtraAllowedIPs []string

	// MCPBaseURL points at the external analysis backend.
	MCPBaseURL string

	// AdminKeyHash is a bcrypt hash of the ops key accepted by the
	// internal usage endpoint as a fallback credential. Optional.
	AdminKeyHash string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// InternalRPM rate-limits /internal endpoints per caller IP.
	InternalRPM int

	// UsageRetentionDays controls the daily purge of old usage rows.
	// Zero disables the purge job.
	UsageRetentionDays int

	CORSOrigins    []string
	TrustedProxies []string
}

// Load reads configuration from .env (when present) and the process
// environment, applying defaults. It does not validate the token secret;
// the auth layer owns that so a misconfigured secret degrades issuance
// rather than blocking startup.
func Load() *Config {
	if err := godotenv.Load(".env"); err != nil {
		// Env vars may be set in the system instead; keep going.
		log.Println("Warning: Could not load .env file:", err)
	}

	cfg := &Config{
		Port:               firstEnv("PORT", "FIBSCAN_PORT"),
		ServiceTokenSecret: firstEnv("SERVICE_TOKEN_SECRET", "FIBSCAN_SERVICE_TOKEN_SECRET"),
		UserJWTSecret:      os.Getenv("JWT_SECRET"),
		ExtraAllowedIPs:    splitList(os.Getenv("FIBSCAN_ALLOWED_IPS")),
		MCPBaseURL:         os.Getenv("FIBSCAN_MCP_URL"),
		AdminKeyHash:       os.Getenv("FIBSCAN_ADMIN_KEY_HASH"),
		RedisAddr:          os.Getenv("FIBSCAN_REDIS_ADDR"),
		RedisPassword:      os.Getenv("FIBSCAN_REDIS_PASSWORD"),
		RedisDB:            envInt("FIBSCAN_REDIS_DB", 0),
		InternalRPM:        envInt("FIBSCAN_INTERNAL_RPM", 60),
		UsageRetentionDays: envInt("FIBSCAN_USAGE_RETENTION_DAYS", 30),
		CORSOrigins:        splitList(os.Getenv("FIBSCAN_CORS_ORIGINS")),
		TrustedProxies:     splitList(os.Getenv("FIBSCAN_TRUSTED_PROXIES")),
	}
	if cfg.Port == "" {
		cfg.Port = "8081"
	}
	if cfg.MCPBaseURL == "" {
		cfg.MCPBaseURL = "http://localhost:8000"
	}
	return cfg
}

// Validate reports fatal misconfiguration that should stop startup.
func (c *Config) Validate() error {
	if c.UserJWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
