package sqlsheet

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"rollbook/internal/sheets"
	"rollbook/internal/sheets/sheetstest"
)

func TestContract_SQLiteConnector(t *testing.T) {
	sheetstest.RunSession(t, func(t *testing.T) (sheets.Connector, func()) {
		t.Helper()
		path := filepath.Join(t.TempDir(), "sheets.db")
		c, err := Open(DriverSQLite, SQLitePath(path))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return c, func() { _ = c.Close() }
	})
}

func TestOpen_RejectsUnknownDriverAndEmptyDSN(t *testing.T) {
	t.Parallel()

	if _, err := Open("mysql", "x"); err == nil {
		t.Fatalf("Open(mysql) err=nil, want error")
	}
	if _, err := Open(DriverSQLite, "  "); err == nil {
		t.Fatalf("Open(empty dsn) err=nil, want error")
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	lite := &Connector{driver: DriverSQLite}
	if got := lite.rebind(`SELECT 1 WHERE a = $1 AND b = $12`); got != `SELECT 1 WHERE a = ? AND b = ?` {
		t.Fatalf("rebind(sqlite)=%q", got)
	}
	pg := &Connector{driver: DriverPostgres}
	if got := pg.rebind(`a = $1`); got != `a = $1` {
		t.Fatalf("rebind(pgx)=%q", got)
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"invalid password", &pgconn.PgError{Code: "28P01"}, sheets.ErrUnauthenticated},
		{"invalid authorization", &pgconn.PgError{Code: "28000"}, sheets.ErrUnauthenticated},
		{"too many connections", &pgconn.PgError{Code: "53300"}, sheets.ErrQuotaExceeded},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := mapError(tt.err); !errors.Is(got, tt.want) {
				t.Fatalf("mapError(%v)=%v, want %v", tt.err, got, tt.want)
			}
		})
	}

	plain := errors.New("boom")
	if got := mapError(plain); got != plain {
		t.Fatalf("mapError(plain)=%v, want passthrough", got)
	}
	if mapError(nil) != nil {
		t.Fatalf("mapError(nil) != nil")
	}
}
