// Package records is the data-access layer for members and attendance.
// Every backend call goes through the connection manager and the request
// gate; whole-table reads are memoized in the read cache.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"rollbook/internal/cache"
	"rollbook/internal/clock"
	"rollbook/internal/conn"
	"rollbook/internal/gate"
	"rollbook/internal/metrics"
	"rollbook/internal/sheets"
)

// Store owns the cache and the connection for both tables.
type Store struct {
	conn    *conn.Manager
	gate    *gate.Gate
	cache   cache.Cache
	clock   clock.Clock
	metrics *metrics.Recorder

	// Read-check-write sequences are serialized per table.
	membersMu    sync.Mutex
	attendanceMu sync.Mutex

	// generations counts invalidations per cache table. A read that raced
	// a write sees a newer generation and does not store its snapshot.
	cacheMu     sync.Mutex
	generations map[string]uint64
}

func NewStore(cm *conn.Manager, g *gate.Gate, c cache.Cache, clk clock.Clock, rec *metrics.Recorder) *Store {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Store{
		conn:        cm,
		gate:        g,
		cache:       c,
		clock:       clk,
		metrics:     rec,
		generations: make(map[string]uint64),
	}
}

// StoreStatus is the admin view of the store.
type StoreStatus struct {
	Connection conn.Status `json:"connection"`
	Cache      cache.Stats `json:"cache"`
	CacheError string      `json:"cache_error,omitempty"`
}

// EnsureTables creates missing tables with their header rows.
func (s *Store) EnsureTables(ctx context.Context) error {
	const op = "ensure_tables"
	sess, err := s.session(ctx, op)
	if err != nil {
		return err
	}
	names, err := gate.Call(ctx, s.gate, gate.Read, "list_tables", sess.ListTables)
	if err != nil {
		return s.backendError(op, err)
	}
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[n] = true
	}
	for _, t := range []struct {
		name   string
		header sheets.Row
	}{{MembersTable, MembersHeader}, {AttendanceTable, AttendanceHeader}} {
		if have[t.name] {
			continue
		}
		if err := s.createTable(ctx, sess, t.name, t.header); err != nil {
			return s.backendError(op, err)
		}
	}
	return nil
}

func (s *Store) ClearCache(ctx context.Context) error {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	for _, table := range []string{membersCache, attendanceCache} {
		s.generations[table]++
	}
	if err := s.cache.Clear(ctx); err != nil {
		return &Error{Kind: KindConnection, Op: "clear_cache", Message: "cannot reach cache", Err: err}
	}
	log.Printf("records: cache cleared")
	return nil
}

func (s *Store) Status(ctx context.Context) StoreStatus {
	st := StoreStatus{Connection: s.conn.Status()}
	cs, err := s.cache.Stats(ctx)
	if err != nil {
		st.CacheError = err.Error()
	}
	st.Cache = cs
	return st
}

func (s *Store) Reconnect(ctx context.Context) error {
	if err := s.conn.Reconnect(ctx); err != nil {
		return s.backendError("reconnect", err)
	}
	return nil
}

// session returns a live backend session or a connection error.
func (s *Store) session(ctx context.Context, op string) (sheets.Session, error) {
	sess, err := s.conn.EnsureConnected(ctx)
	if err != nil {
		log.Printf("records: %s: connect failed: %v", op, err)
		kind := KindConnection
		if errors.Is(err, sheets.ErrQuotaExceeded) {
			kind = KindQuota
		}
		return nil, &Error{Kind: kind, Op: op, Err: err}
	}
	return sess, nil
}

// readTable reads a whole table, creating it when missing.
func (s *Store) readTable(ctx context.Context, sess sheets.Session, name string, header sheets.Row) (sheets.Table, error) {
	t, err := gate.Call(ctx, s.gate, gate.Read, "read_table", func(ctx context.Context) (sheets.Table, error) {
		return sess.ReadTable(ctx, name)
	})
	if isTableNotFound(err) {
		if err := s.createTable(ctx, sess, name, header); err != nil {
			return sheets.Table{}, err
		}
		return sheets.Table{Header: header}, nil
	}
	return t, err
}

func (s *Store) createTable(ctx context.Context, sess sheets.Session, name string, header sheets.Row) error {
	err := s.gate.Do(ctx, gate.Write, "create_table", func(ctx context.Context) error {
		return sess.CreateTable(ctx, name, header)
	})
	if err == nil {
		log.Printf("records: created missing table %q", name)
	}
	return err
}

// backendError maps a backend failure to the store's error kinds.
func (s *Store) backendError(op string, err error) error {
	var own *Error
	if errors.As(err, &own) {
		return err
	}
	log.Printf("records: %s failed: %v", op, err)
	switch {
	case errors.Is(err, sheets.ErrQuotaExceeded):
		return &Error{Kind: KindQuota, Op: op, Err: err}
	case errors.Is(err, sheets.ErrUnauthenticated):
		s.conn.MarkDisconnected(err.Error())
		return &Error{Kind: KindConnection, Op: op, Err: err}
	default:
		return &Error{Kind: KindConnection, Op: op, Err: err}
	}
}

// invalidate drops every cached read of table. It must run after the
// backend write has completed.
func (s *Store) invalidate(ctx context.Context, table string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.generations[table]++
	n, err := s.cache.Invalidate(ctx, cache.Prefix(table))
	if err != nil {
		log.Printf("records: invalidate %s cache: %v", table, err)
		return
	}
	if n > 0 {
		log.Printf("records: invalidated %d %s cache entries", n, table)
	}
}

func (s *Store) generation(table string) uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.generations[table]
}

// cacheGet returns the decoded entry for key. Cache failures count as misses.
func cacheGet[T any](ctx context.Context, s *Store, table, key string) (T, bool) {
	var v T
	b, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		log.Printf("records: cache get %s: %v", key, err)
	case ok:
		if err := json.Unmarshal(b, &v); err == nil {
			s.metrics.CacheRequest(table, true)
			return v, true
		}
		log.Printf("records: discarding undecodable cache entry %s", key)
	}
	s.metrics.CacheRequest(table, false)
	return v, false
}

// cacheSet stores v under key unless table was invalidated since gen was
// taken, in which case v may predate the write.
func (s *Store) cacheSet(ctx context.Context, table string, gen uint64, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.generations[table] != gen {
		log.Printf("records: %s changed during read, not caching %s", table, key)
		return
	}
	if err := s.cache.Set(ctx, key, b); err != nil {
		log.Printf("records: cache set %s: %v", key, err)
	}
}

// loadCached serves key from the cache when allowed, otherwise loads and
// stores the result.
func loadCached[T any](ctx context.Context, s *Store, table, key string, useCache bool, load func(context.Context) (T, error)) (T, error) {
	if useCache {
		if v, ok := cacheGet[T](ctx, s, table, key); ok {
			return v, nil
		}
	}
	gen := s.generation(table)
	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	s.cacheSet(ctx, table, gen, key, v)
	return v, nil
}

func isTableNotFound(err error) bool {
	return errors.Is(err, sheets.ErrTableNotFound)
}
