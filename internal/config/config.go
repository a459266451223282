package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendGoogle   = "google"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env      string `env:"APP_ENV" envDefault:"dev"`
	HTTPPort string `env:"HTTP_PORT" envDefault:"8081"`

	StorageBackend        string `env:"STORAGE_BACKEND" envDefault:"memory"`
	GoogleCredentialsFile string `env:"GOOGLE_CREDENTIALS_FILE"`
	GoogleCredentialsJSON string `env:"GOOGLE_CREDENTIALS_JSON"`
	SpreadsheetID         string `env:"SPREADSHEET_ID"`
	DatabaseURL           string `env:"DATABASE_URL"`
	SQLitePath            string `env:"SQLITE_PATH" envDefault:"rollbook.db"`

	CacheBackend   string        `env:"CACHE_BACKEND" envDefault:"memory"`
	CacheNamespace string        `env:"CACHE_NAMESPACE" envDefault:"rollbook:cache"`
	CacheTTL       time.Duration `env:"CACHE_TTL" envDefault:"5m"`
	RedisAddr      string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	ConnectionWindow time.Duration `env:"CONNECTION_WINDOW" envDefault:"1h"`
	ProbeInterval    time.Duration `env:"PROBE_INTERVAL" envDefault:"0s"`
	ReadSpacing      time.Duration `env:"READ_SPACING" envDefault:"1s"`
	WriteSpacing     time.Duration `env:"WRITE_SPACING" envDefault:"2s"`
	QuotaCooldown    time.Duration `env:"QUOTA_COOLDOWN" envDefault:"60s"`
	CallTimeout      time.Duration `env:"CALL_TIMEOUT" envDefault:"30s"`

	QueueBackend string `env:"QUEUE_BACKEND" envDefault:"memory"`
	QueueKey     string `env:"QUEUE_KEY" envDefault:"rollbook:queue"`

	JWTIssuer       string        `env:"JWT_ISSUER" envDefault:"rollbook"`
	JWTSigningKey   string        `env:"JWT_SIGNING_KEY" envDefault:"dev-signing-secret-change"`
	AccessTTL       time.Duration `env:"ACCESS_TTL" envDefault:"12h"`
	RateLimitPerMin int           `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
}

// Load reads dotenv (when it exists) into the environment and parses App.
// Variables already set in the environment win over the file.
func Load(dotenv string) (App, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return App{}, fmt.Errorf("load %s: %w", dotenv, err)
			}
		} else {
			log.Printf("config: loaded %s", dotenv)
		}
	}
	cfg, err := env.ParseAs[App]()
	if err != nil {
		return App{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return App{}, err
	}
	return cfg, nil
}

// Validate rejects settings the store cannot start with.
func (c App) Validate() error {
	var errs []error
	switch c.StorageBackend {
	case BackendGoogle:
		if c.SpreadsheetID == "" {
			errs = append(errs, errors.New("SPREADSHEET_ID is required for the google backend"))
		}
		if c.GoogleCredentialsFile == "" && c.GoogleCredentialsJSON == "" {
			errs = append(errs, errors.New("GOOGLE_CREDENTIALS_FILE or GOOGLE_CREDENTIALS_JSON is required for the google backend"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}
	if c.CacheBackend != "memory" && c.CacheBackend != "redis" {
		errs = append(errs, fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend))
	}
	if c.QueueBackend != "memory" && c.QueueBackend != "redis" {
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend))
	}
	if c.CacheBackend == "redis" {
		// Clear deletes everything under the namespace.
		ns := strings.TrimRight(c.CacheNamespace, ":")
		switch {
		case ns == "":
			errs = append(errs, errors.New("CACHE_NAMESPACE is required for the redis cache"))
		case c.QueueBackend == "redis" && (c.QueueKey == ns || strings.HasPrefix(c.QueueKey, ns+":")):
			errs = append(errs, fmt.Errorf("QUEUE_KEY %q must not live under CACHE_NAMESPACE %q", c.QueueKey, c.CacheNamespace))
		}
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}
	if c.ConnectionWindow <= 0 {
		errs = append(errs, errors.New("CONNECTION_WINDOW must be positive"))
	}
	if c.ReadSpacing < 0 || c.WriteSpacing < 0 || c.QuotaCooldown < 0 || c.ProbeInterval < 0 {
		errs = append(errs, errors.New("spacing, cooldown and probe interval must not be negative"))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, errors.New("CALL_TIMEOUT must be positive"))
	}
	if c.Env == "prod" && c.JWTSigningKey == "dev-signing-secret-change" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY must be set in prod"))
	}
	return errors.Join(errs...)
}
