// Package sheets defines the backend port: a remote store made of named
// tables, each with a header row followed by data rows of string cells.
package sheets

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrQuotaExceeded indicates the backend throttled the call.
	ErrQuotaExceeded = errors.New("backend quota exceeded")

	// ErrUnauthenticated indicates the session is no longer valid and
	// the caller must re-authenticate.
	ErrUnauthenticated = errors.New("backend session unauthenticated")

	// ErrTableNotFound indicates the named table does not exist.
	ErrTableNotFound = errors.New("table not found")

	// ErrRowOutOfRange indicates a targeted row index past the end of a table.
	ErrRowOutOfRange = errors.New("row index out of range")
)

// Row is one untyped record as stored by the backend.
type Row []string

// Cell returns the cell at i, or "" when the row is shorter.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// Table is the untyped content of a table.
type Table struct {
	Header Row
	Rows   []Row
}

// Column returns the index of the header cell matching name
// case-insensitively, or -1.
func (t Table) Column(name string) int {
	for i, h := range t.Header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

// Connector performs full authentication against the backend.
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

// Session is an authenticated handle to one backing dataset.
//
// Row indexes are 0-based and count data rows only (the header is not a row).
type Session interface {
	// Probe is a cheap liveness check (e.g. fetch top-level metadata).
	Probe(ctx context.Context) error

	ListTables(ctx context.Context) ([]string, error)
	CreateTable(ctx context.Context, name string, header Row) error

	ReadTable(ctx context.Context, name string) (Table, error)

	AppendRows(ctx context.Context, name string, rows []Row) error
	// ReplaceRows rewrites the whole table as one batch.
	ReplaceRows(ctx context.Context, name string, header Row, rows []Row) error
	UpdateRow(ctx context.Context, name string, index int, row Row) error
	DeleteRow(ctx context.Context, name string, index int) error
}
