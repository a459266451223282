// Package bootstrap wires the store and its dependencies from config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"rollbook/internal/cache"
	"rollbook/internal/clock"
	"rollbook/internal/config"
	"rollbook/internal/conn"
	"rollbook/internal/gate"
	"rollbook/internal/metrics"
	"rollbook/internal/queue"
	"rollbook/internal/records"
	"rollbook/internal/sheets"
	"rollbook/internal/sheets/googlesheets"
	"rollbook/internal/sheets/memory"
	"rollbook/internal/sheets/sqlsheet"
)

// App is everything a binary needs, built once at startup.
type App struct {
	Store    *records.Store
	Queue    queue.Queue
	Registry *prometheus.Registry

	closers []func() error
}

// New builds the store for cfg. Nothing touches the backend until the
// first store call.
func New(cfg config.App) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app := &App{Registry: prometheus.NewRegistry()}
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.New(app.Registry)
	clk := clock.NewSystem()

	connector, err := app.connector(cfg)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" || cfg.QueueBackend == "redis" {
		redisClient = cache.NewRedisClient(cfg.RedisAddr)
		app.closers = append(app.closers, redisClient.Close)
	}

	var c cache.Cache
	if cfg.CacheBackend == "redis" {
		c = cache.NewRedis(redisClient, cfg.CacheNamespace, cfg.CacheTTL)
	} else {
		c = cache.NewMemory(cfg.CacheTTL, clk)
	}

	if cfg.QueueBackend == "redis" {
		app.Queue = queue.NewRedisQueue(redisClient, cfg.QueueKey)
	} else {
		app.Queue = queue.NewInMemory(64)
	}

	g := gate.New(gate.Config{
		ReadSpacing:   cfg.ReadSpacing,
		WriteSpacing:  cfg.WriteSpacing,
		QuotaCooldown: cfg.QuotaCooldown,
		CallTimeout:   cfg.CallTimeout,
	}, clk, rec)
	cm := conn.New(connector, g, clk, rec, conn.Config{
		Window:        cfg.ConnectionWindow,
		ProbeInterval: cfg.ProbeInterval,
	})
	app.Store = records.NewStore(cm, g, c, clk, rec)
	log.Printf("bootstrap: storage=%s cache=%s queue=%s", cfg.StorageBackend, cfg.CacheBackend, cfg.QueueBackend)
	return app, nil
}

func (a *App) connector(cfg config.App) (sheets.Connector, error) {
	switch cfg.StorageBackend {
	case config.BackendGoogle:
		opts, err := googlesheets.CredentialOptions(cfg.GoogleCredentialsFile, cfg.GoogleCredentialsJSON)
		if err != nil {
			return nil, err
		}
		return googlesheets.New(cfg.SpreadsheetID, opts...)
	case config.BackendPostgres:
		c, err := sqlsheet.Open(sqlsheet.DriverPostgres, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	case config.BackendSQLite:
		c, err := sqlsheet.Open(sqlsheet.DriverSQLite, sqlsheet.SQLitePath(cfg.SQLitePath))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	case config.BackendMemory:
		return memory.New(), nil
	}
	return nil, fmt.Errorf("bootstrap: unknown storage backend %q", cfg.StorageBackend)
}

// Init creates missing tables. Binaries call it at startup and carry on
// when it fails; the store retries the connection on the next call.
func (a *App) Init(ctx context.Context) error {
	if err := a.Store.EnsureTables(ctx); err != nil {
		return fmt.Errorf("ensure tables: %w", err)
	}
	return nil
}

// MetricsHandler serves the app registry.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
