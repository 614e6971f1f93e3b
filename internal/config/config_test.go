package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  addr: ":9090"
  read_timeout: 10s
database:
  dsn: ":memory:"
credentials:
  - access_token: tok-1
    region: us-east-1
    subscription_tier: pro
keys:
  - name: test-key
    key: kg-testkey123456
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Database.DSN != ":memory:" {
		t.Errorf("dsn = %q, want %q", cfg.Database.DSN, ":memory:")
	}
	if len(cfg.Credentials) != 1 {
		t.Fatalf("credentials count = %d, want 1", len(cfg.Credentials))
	}
	if cfg.Credentials[0].AccessToken != "tok-1" {
		t.Errorf("credential access token = %q, want %q", cfg.Credentials[0].AccessToken, "tok-1")
	}
	if len(cfg.Keys) != 1 {
		t.Fatalf("keys count = %d, want 1", len(cfg.Keys))
	}
}

func TestExpandEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	t.Setenv("TEST_API_KEY", "sk-secret-123")

	result := expandEnv([]byte("key: ${TEST_API_KEY}"))
	if string(result) != "key: sk-secret-123" {
		t.Errorf("expandEnv = %q, want %q", string(result), "key: sk-secret-123")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	yaml := `{}`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":8000" {
		t.Errorf("default addr = %q, want %q", cfg.Server.Addr, ":8000")
	}
	if cfg.Database.DSN != "kirogate.db" {
		t.Errorf("default dsn = %q, want %q", cfg.Database.DSN, "kirogate.db")
	}
	if cfg.RateLimit.PerMinute != 60 {
		t.Errorf("default rate limit = %d, want 60", cfg.RateLimit.PerMinute)
	}
	if !cfg.Compressor.Enabled {
		t.Error("default compressor enabled = false, want true")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PROXY_API_KEY", "kg-envkey")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "120")
	t.Setenv("ENABLE_COMPRESSION", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg := defaultConfig()
	applyEnv(cfg)

	if cfg.Auth.ProxyAPIKey != "kg-envkey" {
		t.Errorf("proxy api key = %q, want %q", cfg.Auth.ProxyAPIKey, "kg-envkey")
	}
	if cfg.RateLimit.PerMinute != 120 {
		t.Errorf("rate limit = %d, want 120", cfg.RateLimit.PerMinute)
	}
	if cfg.Compressor.Enabled {
		t.Error("compressor enabled = true, want false")
	}
	if len(cfg.CORS.AllowedOrigins) != 2 {
		t.Fatalf("cors origins = %v, want 2 entries", cfg.CORS.AllowedOrigins)
	}
}
