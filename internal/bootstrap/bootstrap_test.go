package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"rollbook/internal/config"
	"rollbook/internal/queue"
	"rollbook/internal/records"
)

// testConfig has no request spacing so tests run on the system clock.
func testConfig() config.App {
	return config.App{
		Env:              "test",
		StorageBackend:   config.BackendMemory,
		CacheBackend:     "memory",
		CacheNamespace:   "test:cache",
		CacheTTL:         5 * time.Minute,
		ConnectionWindow: time.Hour,
		CallTimeout:      5 * time.Second,
		QueueBackend:     "memory",
		QueueKey:         "test:queue",
		JWTSigningKey:    "k",
	}
}

func mark(t *testing.T, app *App) {
	t.Helper()
	ctx := context.Background()
	if err := app.Init(ctx); err != nil {
		t.Fatalf("Init() err=%v", err)
	}
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	res, err := app.Store.SaveAttendance(ctx, []records.Attendance{{Date: day, FullName: "Jane Doe", Group: "Youth"}})
	if err != nil || res.Written != 1 {
		t.Fatalf("SaveAttendance()=%+v,%v", res, err)
	}
	names, err := app.Store.GetExistingAttendance(ctx, day, "Youth")
	if err != nil || !names.Has("Jane Doe") {
		t.Fatalf("GetExistingAttendance()=%v,%v", names, err)
	}
}

func TestNew_Memory(t *testing.T) {
	t.Parallel()
	app, err := New(testConfig())
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	if _, ok := app.Queue.(*queue.InMemory); !ok {
		t.Fatalf("queue=%T, want in-memory", app.Queue)
	}
	mark(t, app)

	rec := httptest.NewRecorder()
	app.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "rollbook_backend_calls_total") {
		t.Fatalf("metrics output lacks backend calls")
	}
}

func TestNew_SQLiteWithRedis(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.StorageBackend = config.BackendSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "rollbook.db")
	cfg.CacheBackend = "redis"
	cfg.QueueBackend = "redis"
	cfg.RedisAddr = mr.Addr()

	app, err := New(cfg)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	if _, ok := app.Queue.(*queue.RedisQueue); !ok {
		t.Fatalf("queue=%T, want redis", app.Queue)
	}
	mark(t, app)
	if keys := mr.Keys(); len(keys) == 0 {
		t.Fatalf("no cache keys written to redis")
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.StorageBackend = config.BackendGoogle
	if _, err := New(cfg); err == nil {
		t.Fatalf("New() err=nil for google backend without sheet")
	}
}
