package memory

import (
	"context"
	"fmt"
	"sync"

	"rollbook/internal/sheets"
)

// Operation names used by Calls and FailNext.
const (
	OpConnect = "connect"
	OpProbe   = "probe"
	OpList    = "list"
	OpCreate  = "create"
	OpRead    = "read"
	OpAppend  = "append"
	OpReplace = "replace"
	OpUpdate  = "update"
	OpDelete  = "delete"
)

// Backend is an in-memory implementation of sheets.Connector.
// It is safe for concurrent use and supports injected failures,
// which makes it the backend of choice for tests and local dev.
type Backend struct {
	mu sync.Mutex

	tables map[string]*sheets.Table
	order  []string

	// generation is bumped by Revoke; sessions from older generations
	// fail with sheets.ErrUnauthenticated.
	generation int

	calls    map[string]int
	failures map[string][]error
}

func New() *Backend {
	return &Backend{
		tables:   make(map[string]*sheets.Table),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
	}
}

// Connect authenticates and returns a session bound to the current generation.
func (b *Backend) Connect(ctx context.Context) (sheets.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, OpConnect); err != nil {
		return nil, err
	}
	return &session{b: b, generation: b.generation}, nil
}

// FailNext queues errors returned by the next calls of op, one per call.
func (b *Backend) FailNext(op string, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = append(b.failures[op], errs...)
}

// Calls reports how many times op was attempted, failed attempts included.
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// Revoke invalidates every session handed out so far.
func (b *Backend) Revoke() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generation++
}

// Seed creates (or replaces) a table with the given content.
func (b *Backend) Seed(name string, header sheets.Row, rows ...sheets.Row) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tables[name]; !ok {
		b.order = append(b.order, name)
	}
	b.tables[name] = &sheets.Table{Header: cloneRow(header), Rows: cloneRows(rows)}
}

// Rows returns a copy of the data rows of a table; nil when it does not exist.
func (b *Backend) Rows(name string) []sheets.Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tables[name]
	if !ok {
		return nil
	}
	return cloneRows(t.Rows)
}

// HasTable reports whether the table exists.
func (b *Backend) HasTable(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.tables[name]
	return ok
}

// enter counts the call and pops an injected failure. Callers hold b.mu.
func (b *Backend) enter(ctx context.Context, op string) error {
	b.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if q := b.failures[op]; len(q) > 0 {
		err := q[0]
		b.failures[op] = q[1:]
		return err
	}
	return nil
}

type session struct {
	b          *Backend
	generation int
}

func (s *session) begin(ctx context.Context, op string) error {
	if err := s.b.enter(ctx, op); err != nil {
		return err
	}
	if s.generation != s.b.generation {
		return fmt.Errorf("memory: session revoked: %w", sheets.ErrUnauthenticated)
	}
	return nil
}

func (s *session) table(name string) (*sheets.Table, error) {
	t, ok := s.b.tables[name]
	if !ok {
		return nil, fmt.Errorf("memory: %q: %w", name, sheets.ErrTableNotFound)
	}
	return t, nil
}

func (s *session) Probe(ctx context.Context) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.begin(ctx, OpProbe)
}

func (s *session) ListTables(ctx context.Context) ([]string, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if err := s.begin(ctx, OpList); err != nil {
		return nil, err
	}
	out := make([]string, len(s.b.order))
	copy(out, s.b.order)
	return out, nil
}

func (s *session) CreateTable(ctx context.Context, name string, header sheets.Row) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if err := s.begin(ctx, OpCreate); err != nil {
		return err
	}
	if _, ok := s.b.tables[name]; ok {
		return fmt.Errorf("memory: table %q already exists", name)
	}
	s.b.tables[name] = &sheets.Table{Header: cloneRow(header)}
	s.b.order = append(s.b.order, name)
	return nil
}

func (s *session) ReadTable(ctx context.Context, name string) (sheets.Table, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if err := s.begin(ctx, OpRead); err != nil {
		return sheets.Table{}, err
	}
	t, err := s.table(name)
	if err != nil {
		return sheets.Table{}, err
	}
	return sheets.Table{Header: cloneRow(t.Header), Rows: cloneRows(t.Rows)}, nil
}

func (s *session) AppendRows(ctx context.Context, name string, rows []sheets.Row) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if err := s.begin(ctx, OpAppend); err != nil {
		return err
	}
	t, err := s.table(name)
	if err != nil {
		return err
	}
	t.Rows = append(t.Rows, cloneRows(rows)...)
	return nil
}

func (s *session) ReplaceRows(ctx context.Context, name string, header sheets.Row, rows []sheets.Row) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if err := s.begin(ctx, OpReplace); err != nil {
		return err
	}
	t, err := s.table(name)
	if err != nil {
		return err
	}
	t.Header = cloneRow(header)
	t.Rows = cloneRows(rows)
	return nil
}

func (s *session) UpdateRow(ctx context.Context, name string, index int, row sheets.Row) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if err := s.begin(ctx, OpUpdate); err != nil {
		return err
	}
	t, err := s.table(name)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(t.Rows) {
		return fmt.Errorf("memory: %q row %d: %w", name, index, sheets.ErrRowOutOfRange)
	}
	t.Rows[index] = cloneRow(row)
	return nil
}

func (s *session) DeleteRow(ctx context.Context, name string, index int) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if err := s.begin(ctx, OpDelete); err != nil {
		return err
	}
	t, err := s.table(name)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(t.Rows) {
		return fmt.Errorf("memory: %q row %d: %w", name, index, sheets.ErrRowOutOfRange)
	}
	t.Rows = append(t.Rows[:index], t.Rows[index+1:]...)
	return nil
}

func cloneRow(r sheets.Row) sheets.Row {
	if r == nil {
		return nil
	}
	out := make(sheets.Row, len(r))
	copy(out, r)
	return out
}

func cloneRows(rows []sheets.Row) []sheets.Row {
	out := make([]sheets.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, cloneRow(r))
	}
	return out
}
