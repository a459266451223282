package sqlsheet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"rollbook/internal/sheets"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sheet_tables (
		name   TEXT PRIMARY KEY,
		header TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sheet_rows (
		table_name TEXT   NOT NULL,
		position   BIGINT NOT NULL,
		cells      TEXT   NOT NULL,
		PRIMARY KEY (table_name, position)
	)`,
}

var placeholder = regexp.MustCompile(`\$\d+`)

// Connector stores sheet tables in a SQL database.
type Connector struct {
	db     *sql.DB
	driver string
}

// Open creates a connector for a Postgres (pgx) or SQLite database.
// The connection is verified lazily by Connect.
func Open(driver, dsn string) (*Connector, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlsheet: dsn is required")
	}
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("sqlsheet: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlsheet: open: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}
	return &Connector{db: db, driver: driver}, nil
}

// SQLitePath builds a modernc SQLite DSN for a file path.
func SQLitePath(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Close closes the underlying database.
func (c *Connector) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Connect verifies connectivity, applies the schema and returns a session.
func (c *Connector) Connect(ctx context.Context) (sheets.Session, error) {
	if err := c.db.PingContext(ctx); err != nil {
		return nil, mapError(fmt.Errorf("sqlsheet: ping: %w", err))
	}
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return nil, mapError(fmt.Errorf("sqlsheet: migrate: %w", err))
		}
	}
	return &session{c: c}, nil
}

func (c *Connector) rebind(query string) string {
	if c.driver == DriverSQLite {
		return placeholder.ReplaceAllString(query, "?")
	}
	return query
}

type session struct {
	c *Connector
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *session) Probe(ctx context.Context) error {
	return mapError(s.c.db.PingContext(ctx))
}

func (s *session) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.c.db.QueryContext(ctx, `SELECT name FROM sheet_tables ORDER BY name`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, mapError(rows.Err())
}

func (s *session) CreateTable(ctx context.Context, name string, header sheets.Row) error {
	h, err := encodeRow(header)
	if err != nil {
		return err
	}
	_, err = s.c.db.ExecContext(ctx, s.c.rebind(`INSERT INTO sheet_tables (name, header) VALUES ($1, $2)`), name, h)
	return mapError(err)
}

func (s *session) ReadTable(ctx context.Context, name string) (sheets.Table, error) {
	var t sheets.Table
	header, err := s.header(ctx, s.c.db, name)
	if err != nil {
		return t, err
	}
	t.Header = header

	rows, err := s.c.db.QueryContext(ctx, s.c.rebind(`
		SELECT cells FROM sheet_rows
		WHERE table_name = $1
		ORDER BY position
	`), name)
	if err != nil {
		return sheets.Table{}, mapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return sheets.Table{}, err
		}
		row, err := decodeRow(raw)
		if err != nil {
			return sheets.Table{}, err
		}
		t.Rows = append(t.Rows, row)
	}
	return t, mapError(rows.Err())
}

func (s *session) AppendRows(ctx context.Context, name string, rows []sheets.Row) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.header(ctx, tx, name); err != nil {
			return err
		}
		var last int64
		if err := tx.QueryRowContext(ctx, s.c.rebind(`
			SELECT COALESCE(MAX(position), 0) FROM sheet_rows WHERE table_name = $1
		`), name).Scan(&last); err != nil {
			return err
		}
		return s.insertRows(ctx, tx, name, last, rows)
	})
}

func (s *session) ReplaceRows(ctx context.Context, name string, header sheets.Row, rows []sheets.Row) error {
	h, err := encodeRow(header)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.c.rebind(`UPDATE sheet_tables SET header = $1 WHERE name = $2`), h, name)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("sqlsheet: %q: %w", name, sheets.ErrTableNotFound)
		}
		if _, err := tx.ExecContext(ctx, s.c.rebind(`DELETE FROM sheet_rows WHERE table_name = $1`), name); err != nil {
			return err
		}
		return s.insertRows(ctx, tx, name, 0, rows)
	})
}

func (s *session) UpdateRow(ctx context.Context, name string, index int, row sheets.Row) error {
	cells, err := encodeRow(row)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		pos, err := s.position(ctx, tx, name, index)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.c.rebind(`
			UPDATE sheet_rows SET cells = $1 WHERE table_name = $2 AND position = $3
		`), cells, name, pos)
		return err
	})
}

func (s *session) DeleteRow(ctx context.Context, name string, index int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		pos, err := s.position(ctx, tx, name, index)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.c.rebind(`
			DELETE FROM sheet_rows WHERE table_name = $1 AND position = $2
		`), name, pos)
		return err
	})
}

func (s *session) header(ctx context.Context, q querier, name string) (sheets.Row, error) {
	var raw string
	err := q.QueryRowContext(ctx, s.c.rebind(`SELECT header FROM sheet_tables WHERE name = $1`), name).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlsheet: %q: %w", name, sheets.ErrTableNotFound)
		}
		return nil, mapError(err)
	}
	return decodeRow(raw)
}

// position resolves a 0-based data-row index to its stored position.
func (s *session) position(ctx context.Context, tx *sql.Tx, name string, index int) (int64, error) {
	if _, err := s.header(ctx, tx, name); err != nil {
		return 0, err
	}
	if index < 0 {
		return 0, fmt.Errorf("sqlsheet: %q row %d: %w", name, index, sheets.ErrRowOutOfRange)
	}
	var pos int64
	err := tx.QueryRowContext(ctx, s.c.rebind(`
		SELECT position FROM sheet_rows
		WHERE table_name = $1
		ORDER BY position
		LIMIT 1 OFFSET $2
	`), name, index).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("sqlsheet: %q row %d: %w", name, index, sheets.ErrRowOutOfRange)
	}
	return pos, err
}

func (s *session) insertRows(ctx context.Context, tx *sql.Tx, name string, after int64, rows []sheets.Row) error {
	stmt, err := tx.PrepareContext(ctx, s.c.rebind(`
		INSERT INTO sheet_rows (table_name, position, cells) VALUES ($1, $2, $3)
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, row := range rows {
		cells, err := encodeRow(row)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, name, after+int64(i)+1, cells); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.c.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit())
}

func encodeRow(r sheets.Row) (string, error) {
	if r == nil {
		r = sheets.Row{}
	}
	b, err := json.Marshal([]string(r))
	if err != nil {
		return "", fmt.Errorf("sqlsheet: encode row: %w", err)
	}
	return string(b), nil
}

func decodeRow(raw string) (sheets.Row, error) {
	var cells []string
	if err := json.Unmarshal([]byte(raw), &cells); err != nil {
		return nil, fmt.Errorf("sqlsheet: decode row: %w", err)
	}
	return sheets.Row(cells), nil
}

// mapError translates Postgres auth and connection-limit failures to the
// port's sentinels. Errors that already carry a sentinel pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "28000", "28P01":
			return fmt.Errorf("%w: %v", sheets.ErrUnauthenticated, err)
		case "53300":
			return fmt.Errorf("%w: %v", sheets.ErrQuotaExceeded, err)
		}
	}
	return err
}
