package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// These tests use t.Setenv and so cannot run in parallel.

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.StorageBackend != BackendMemory || cfg.CacheTTL != 5*time.Minute || cfg.ConnectionWindow != time.Hour {
		t.Fatalf("defaults=%+v", cfg)
	}
	if cfg.ReadSpacing != time.Second || cfg.WriteSpacing != 2*time.Second || cfg.QuotaCooldown != time.Minute {
		t.Fatalf("gate defaults=%+v", cfg)
	}
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "STORAGE_BACKEND=sqlite\nSQLITE_PATH=" + filepath.Join(dir, "x.db") + "\nCACHE_TTL=90s\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	// Cleared by t.Setenv on exit; godotenv.Load sets them for the process.
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("CACHE_TTL", "")
	os.Unsetenv("STORAGE_BACKEND")
	os.Unsetenv("SQLITE_PATH")
	os.Unsetenv("CACHE_TTL")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.StorageBackend != BackendSQLite || cfg.CacheTTL != 90*time.Second {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoadMissingDotenvIsFine(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("Load() err=%v", err)
	}
}

func TestLoadParseError(t *testing.T) {
	t.Setenv("CACHE_TTL", "five minutes")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("Load() err=%v, want parse env error", err)
	}
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	cases := []struct {
		name   string
		mutate func(*App)
		want   string
	}{
		{"google without sheet", func(c *App) { c.StorageBackend = BackendGoogle; c.GoogleCredentialsFile = "sa.json" }, "SPREADSHEET_ID"},
		{"google without credentials", func(c *App) { c.StorageBackend = BackendGoogle; c.SpreadsheetID = "abc" }, "GOOGLE_CREDENTIALS"},
		{"postgres without url", func(c *App) { c.StorageBackend = BackendPostgres }, "DATABASE_URL"},
		{"unknown backend", func(c *App) { c.StorageBackend = "excel" }, "STORAGE_BACKEND"},
		{"unknown cache", func(c *App) { c.CacheBackend = "memcached" }, "CACHE_BACKEND"},
		{"redis cache without namespace", func(c *App) { c.CacheBackend = "redis"; c.CacheNamespace = "" }, "CACHE_NAMESPACE"},
		{"redis cache namespace of colons", func(c *App) { c.CacheBackend = "redis"; c.CacheNamespace = ":" }, "CACHE_NAMESPACE"},
		{"queue under cache namespace", func(c *App) {
			c.CacheBackend, c.QueueBackend = "redis", "redis"
			c.CacheNamespace, c.QueueKey = "rollbook", "rollbook:queue"
		}, "QUEUE_KEY"},
		{"zero ttl", func(c *App) { c.CacheTTL = 0 }, "CACHE_TTL"},
		{"prod default key", func(c *App) { c.Env = "prod" }, "JWT_SIGNING_KEY"},
	}
	for _, tc := range cases {
		cfg := base
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: Validate() err=%v, want mention of %s", tc.name, err, tc.want)
		}
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("defaults Validate() err=%v", err)
	}
}
