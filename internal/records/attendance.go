package records

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"rollbook/internal/cache"
	"rollbook/internal/gate"
	"rollbook/internal/sheets"
)

// LoadAttendance returns attendance rows matching f. Filtered views are
// derived from the cached unfiltered set, and are cached under their own
// key only when that set came straight from the backend, so no view is
// older than one TTL.
func (s *Store) LoadAttendance(ctx context.Context, useCache bool, f AttendanceFilter) ([]Attendance, error) {
	allKey := cache.Key(attendanceCache, "load", nil)
	if f.IsZero() {
		return loadCached(ctx, s, attendanceCache, allKey, useCache, s.fetchAttendance)
	}

	key := cache.Key(attendanceCache, "load", f.params())
	if useCache {
		if v, ok := cacheGet[[]Attendance](ctx, s, attendanceCache, key); ok {
			return v, nil
		}
		if all, ok := cacheGet[[]Attendance](ctx, s, attendanceCache, allKey); ok {
			return f.Apply(all), nil
		}
	}

	gen := s.generation(attendanceCache)
	all, err := s.fetchAttendance(ctx)
	if err != nil {
		return nil, err
	}
	out := f.Apply(all)
	s.cacheSet(ctx, attendanceCache, gen, allKey, all)
	s.cacheSet(ctx, attendanceCache, gen, key, out)
	return out, nil
}

func (s *Store) fetchAttendance(ctx context.Context) ([]Attendance, error) {
	const op = "load_attendance"
	sess, err := s.session(ctx, op)
	if err != nil {
		return nil, err
	}
	t, err := s.readTable(ctx, sess, AttendanceTable, AttendanceHeader)
	if err != nil {
		return nil, s.backendError(op, err)
	}
	recs, dropped := attendanceFromTable(t)
	if dropped > 0 {
		log.Printf("records: dropped %d attendance rows with no valid date or name", dropped)
	}
	return recs, nil
}

// GetExistingAttendance returns the names already recorded for a date and group.
func (s *Store) GetExistingAttendance(ctx context.Context, date time.Time, group string) (NameSet, error) {
	if date.IsZero() || NormalizeKey(group) == "" {
		return nil, validationError("get_existing_attendance", "date and group are required", nil)
	}
	day := DateOnly(date)
	recs, err := s.LoadAttendance(ctx, true, AttendanceFilter{From: day, To: day, Group: group})
	if err != nil {
		return nil, err
	}
	out := make(NameSet, len(recs))
	for _, r := range recs {
		out[r.FullName] = struct{}{}
	}
	return out, nil
}

// SaveAttendance appends the records whose (date, name, group) is not
// stored yet and not repeated earlier in the batch. The batch is rejected
// as a whole when a record lacks a date, name or group.
func (s *Store) SaveAttendance(ctx context.Context, recs []Attendance) (SaveResult, error) {
	const op = "save_attendance"
	cleaned, err := validateAttendance(op, recs)
	if err != nil {
		return SaveResult{}, err
	}
	if len(cleaned) == 0 {
		return SaveResult{}, nil
	}

	s.attendanceMu.Lock()
	defer s.attendanceMu.Unlock()

	sess, err := s.session(ctx, op)
	if err != nil {
		return SaveResult{}, err
	}
	t, err := s.readTable(ctx, sess, AttendanceTable, AttendanceHeader)
	if err != nil {
		return SaveResult{}, s.backendError(op, err)
	}
	existing, _ := attendanceFromTable(t)
	seen := make(map[AttendanceKey]bool, len(existing)+len(cleaned))
	for _, a := range existing {
		seen[a.Key()] = true
	}

	var (
		res  SaveResult
		rows []sheets.Row
		now  = s.clock.Now()
	)
	for _, a := range cleaned {
		k := a.Key()
		if seen[k] {
			res.Skipped++
			res.SkippedKeys = append(res.SkippedKeys, k)
			continue
		}
		seen[k] = true
		a.Timestamp = now
		rows = append(rows, attendanceRow(t.Header, a))
	}
	if res.Skipped > 0 {
		log.Printf("records: skipped %d duplicate attendance records", res.Skipped)
	}
	if len(rows) == 0 {
		return res, nil
	}

	err = s.gate.Do(ctx, gate.Write, "append_rows", func(ctx context.Context) error {
		return sess.AppendRows(ctx, AttendanceTable, rows)
	})
	if err != nil {
		return SaveResult{}, s.backendError(op, err)
	}
	res.Written = len(rows)
	s.invalidate(ctx, attendanceCache)
	return res, nil
}

// UpdateAttendanceRecord replaces the fields named in changes on the row
// identified by key.
func (s *Store) UpdateAttendanceRecord(ctx context.Context, key AttendanceKey, changes AttendanceChanges) (Attendance, error) {
	const op = "update_attendance"
	key = NewAttendanceKey(key.Date, key.FullName, key.Group)
	if err := validateKey(op, key); err != nil {
		return Attendance{}, err
	}

	s.attendanceMu.Lock()
	defer s.attendanceMu.Unlock()

	sess, t, rows, err := s.attendanceSnapshot(ctx, op)
	if err != nil {
		return Attendance{}, err
	}
	target, ok := locate(rows, key)
	if !ok {
		return Attendance{}, notFound(op, key)
	}

	updated := CleanAttendance(changes.apply(target.rec))
	updated.Timestamp = target.rec.Timestamp
	if _, err := validateAttendance(op, []Attendance{updated}); err != nil {
		return Attendance{}, err
	}
	if nk := updated.Key(); nk != target.rec.Key() {
		if other, clash := locate(rows, nk); clash && other.index != target.index {
			return Attendance{}, &Error{
				Kind:    KindDuplicate,
				Op:      op,
				Message: fmt.Sprintf("%s is already marked present for %s on %s", other.rec.FullName, other.rec.Group, other.rec.Date.Format(DateLayout)),
				Details: map[string]any{"key": nk.String()},
			}
		}
	}

	row := attendanceRow(t.Header, updated)
	err = s.gate.Do(ctx, gate.Write, "update_row", func(ctx context.Context) error {
		return sess.UpdateRow(ctx, AttendanceTable, target.index, row)
	})
	if err != nil {
		if errors.Is(err, sheets.ErrRowOutOfRange) {
			return Attendance{}, notFound(op, key)
		}
		return Attendance{}, s.backendError(op, err)
	}
	s.invalidate(ctx, attendanceCache)
	return updated, nil
}

// DeleteAttendanceRecord removes the row identified by key.
func (s *Store) DeleteAttendanceRecord(ctx context.Context, key AttendanceKey) error {
	const op = "delete_attendance"
	key = NewAttendanceKey(key.Date, key.FullName, key.Group)
	if err := validateKey(op, key); err != nil {
		return err
	}

	s.attendanceMu.Lock()
	defer s.attendanceMu.Unlock()

	sess, _, rows, err := s.attendanceSnapshot(ctx, op)
	if err != nil {
		return err
	}
	target, ok := locate(rows, key)
	if !ok {
		return notFound(op, key)
	}
	err = s.gate.Do(ctx, gate.Write, "delete_row", func(ctx context.Context) error {
		return sess.DeleteRow(ctx, AttendanceTable, target.index)
	})
	if err != nil {
		if errors.Is(err, sheets.ErrRowOutOfRange) {
			return notFound(op, key)
		}
		return s.backendError(op, err)
	}
	s.invalidate(ctx, attendanceCache)
	log.Printf("records: deleted attendance %s", key)
	return nil
}

// attendanceSnapshot reads the table fresh, keeping row indexes.
func (s *Store) attendanceSnapshot(ctx context.Context, op string) (sheets.Session, sheets.Table, []indexedAttendance, error) {
	sess, err := s.session(ctx, op)
	if err != nil {
		return nil, sheets.Table{}, nil, err
	}
	t, err := s.readTable(ctx, sess, AttendanceTable, AttendanceHeader)
	if err != nil {
		return nil, sheets.Table{}, nil, s.backendError(op, err)
	}
	rows, _ := attendanceRows(t)
	return sess, t, rows, nil
}

func locate(rows []indexedAttendance, key AttendanceKey) (indexedAttendance, bool) {
	for _, r := range rows {
		if r.rec.Key() == key {
			return r, true
		}
	}
	return indexedAttendance{}, false
}

func notFound(op string, key AttendanceKey) error {
	return &Error{Kind: KindNotFound, Op: op, Details: map[string]any{"key": key.String()}}
}

func validateKey(op string, key AttendanceKey) error {
	if key.Date.IsZero() || key.FullName == "" || key.Group == "" {
		return validationError(op, "date, full name and group identify an attendance record", nil)
	}
	return nil
}

func validateAttendance(op string, recs []Attendance) ([]Attendance, error) {
	out := make([]Attendance, 0, len(recs))
	problems := map[string]any{}
	for i, r := range recs {
		c := CleanAttendance(r)
		var missing []string
		if c.Date.IsZero() {
			missing = append(missing, "date")
		}
		if c.FullName == "" {
			missing = append(missing, "full_name")
		}
		if c.Group == "" {
			missing = append(missing, "group")
		}
		if len(missing) > 0 {
			problems[fmt.Sprintf("%d", i)] = missing
			continue
		}
		out = append(out, c)
	}
	if len(problems) > 0 {
		msg := "date, full name and group are required"
		if len(recs) > 1 {
			msg = fmt.Sprintf("%d of %d attendance records are missing a date, full name or group", len(problems), len(recs))
		}
		return nil, validationError(op, msg, problems)
	}
	return out, nil
}
