package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := LoadFrom("")
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.BcryptCost != bcrypt.DefaultCost {
		t.Fatalf("expected default bcrypt cost %d, got %d", bcrypt.DefaultCost, cfg.BcryptCost)
	}
	if cfg.LoginAttemptsPerMinute != 5 {
		t.Fatalf("expected 5 login attempts per minute, got %d", cfg.LoginAttemptsPerMinute)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("DASHBOARD_TTL_SECONDS", "30")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-4")
	t.Setenv("BARCODE_DIR", " /tmp/codes ")

	cfg := LoadFrom("")
	if cfg.Address() != ":9191" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
	if cfg.DashboardTTL() != 30*time.Second {
		t.Fatalf("unexpected dashboard ttl %s", cfg.DashboardTTL())
	}
	if cfg.AccessTokenTTL() != 480*time.Minute {
		t.Fatalf("expected invalid token ttl to fall back, got %s", cfg.AccessTokenTTL())
	}
	if cfg.BarcodeDir != "/tmp/codes" {
		t.Fatalf("unexpected barcode dir %q", cfg.BarcodeDir)
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("REDIS_ADDR=cache:6379\nMAX_IMPORT_BYTES=2048\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg := LoadFrom(path)
	if cfg.RedisAddr != "cache:6379" {
		t.Fatalf("expected redis addr from file, got %q", cfg.RedisAddr)
	}
	if cfg.MaxImportBytes != 2048 {
		t.Fatalf("expected max import bytes from file, got %d", cfg.MaxImportBytes)
	}
}
