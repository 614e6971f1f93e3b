// Package config handles environment-variable configuration with an
// optional YAML seed file for bootstrapping credentials and API keys.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the gateway's runtime configuration (spec §6 "Environment
// variables", §6.1 additional ambient env vars).
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Compressor CompressorConfig
	Telemetry  TelemetryConfig
	CORS       CORSConfig
	Upstream   UpstreamConfig
	LogLevel   string

	// Credentials and Keys seed the store on first run, read from an
	// optional YAML file (spec §9: the original supports file-based seed
	// lists alongside the admin API).
	Credentials []CredentialEntry `yaml:"credentials"`
	Keys        []KeyEntry        `yaml:"keys"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds the gateway's own auth settings (spec §6 auth modes 1-2
// and the admin bearer check, SPEC_FULL §4.8).
type AuthConfig struct {
	ProxyAPIKey   string `yaml:"proxy_api_key"`
	AdminPassword string `yaml:"admin_password"`
}

// RateLimitConfig holds the default per-key rate limit.
type RateLimitConfig struct {
	PerMinute int64 `yaml:"per_minute"` // 0 disables
}

// CompressorConfig toggles the context compressor (spec §6
// `ENABLE_COMPRESSION`).
type CompressorConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TelemetryConfig holds observability settings (SPEC_FULL §6.1).
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// CORSConfig holds the allowed-origins list (SPEC_FULL §4.8).
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// UpstreamConfig holds the default region used to template the upstream
// endpoint URLs when a credential doesn't specify its own (SPEC_FULL §6.1).
type UpstreamConfig struct {
	Region string `yaml:"region"`
}

// CredentialEntry is a credential seed in the optional YAML file.
type CredentialEntry struct {
	AccessToken      string `yaml:"access_token"`
	RefreshToken     string `yaml:"refresh_token"`
	Region           string `yaml:"region"`
	ProfileID        string `yaml:"profile_id"`
	SubscriptionTier string `yaml:"subscription_tier"`
}

// KeyEntry is a proxy API key seed in the optional YAML file.
type KeyEntry struct {
	Name               string   `yaml:"name"`
	Key                string   `yaml:"key"` // plaintext kg-... key, hashed on bootstrap
	AllowedCredentials []string `yaml:"allowed_credentials"`
	AllowedModels      []string `yaml:"allowed_models"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load builds the gateway configuration from environment variables (spec
// §6, authoritative) and, if path is non-empty and exists, an optional YAML
// seed file for Credentials/Keys. Env vars always take precedence over
// file-level server/auth/rate-limit settings.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			data = expandEnv(data)
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "kirogate.db",
		},
		RateLimit: RateLimitConfig{
			PerMinute: 60,
		},
		Compressor: CompressorConfig{
			Enabled: true,
		},
		LogLevel: "info",
	}
}

// applyEnv overlays the spec's named environment variables onto cfg. Each
// var is optional; an unset var leaves the existing (default or
// file-loaded) value untouched.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("PROXY_API_KEY"); ok {
		cfg.Auth.ProxyAPIKey = v
	}
	if v, ok := os.LookupEnv("ADMIN_PASSWORD"); ok {
		cfg.Auth.AdminPassword = v
	}
	if v, ok := os.LookupEnv("PORT"); ok {
		cfg.Server.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("RATE_LIMIT_PER_MINUTE"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.RateLimit.PerMinute = n
		}
	}
	if v, ok := os.LookupEnv("ENABLE_COMPRESSION"); ok {
		cfg.Compressor.Enabled = parseBool(v, cfg.Compressor.Enabled)
	}
	if v, ok := os.LookupEnv("DB_PATH"); ok {
		cfg.Database.DSN = v
	}
	if v, ok := os.LookupEnv("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v, ok := os.LookupEnv("CORS_ALLOWED_ORIGINS"); ok {
		cfg.CORS.AllowedOrigins = splitCSV(v)
	}
	if v, ok := os.LookupEnv("UPSTREAM_REGION"); ok {
		cfg.Upstream.Region = v
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
