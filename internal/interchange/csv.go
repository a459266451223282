// Package interchange moves member and attendance records in and out as CSV.
package interchange

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"rollbook/internal/records"
	"rollbook/internal/sheets"
)

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("interchange: missing column")

// LineError points at the input line a record came from.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }
func (e *LineError) Unwrap() error { return e.Err }

func WriteMembers(w io.Writer, members []records.Member) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(records.MembersHeader); err != nil {
		return err
	}
	for _, m := range members {
		if err := cw.Write([]string{m.MembershipNumber, m.FullName, m.Group, m.Email, m.Phone}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteAttendance(w io.Writer, recs []records.Attendance) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(records.AttendanceHeader); err != nil {
		return err
	}
	for _, a := range recs {
		ts := ""
		if !a.Timestamp.IsZero() {
			ts = a.Timestamp.Format(records.TimestampLayout)
		}
		row := []string{a.Date.Format(records.DateLayout), a.MembershipNumber, a.FullName, a.Group, "Present", ts}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadMembers parses a member export. Full Name and Group columns are
// required; the rest are optional and may come in any order.
func ReadMembers(r io.Reader) ([]records.Member, error) {
	var out []records.Member
	err := scan(r, records.MembersHeader, []string{"Full Name", "Group"}, func(line int, get func(string) string) error {
		m := records.CleanMember(records.Member{
			MembershipNumber: get("Membership Number"),
			FullName:         get("Full Name"),
			Group:            get("Group"),
			Email:            get("Email"),
			Phone:            get("Phone"),
		})
		if m == (records.Member{}) {
			return nil
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

// ReadAttendance parses an attendance export, timestamps included. The
// store stamps rows itself when they are saved.
func ReadAttendance(r io.Reader) ([]records.Attendance, error) {
	var out []records.Attendance
	err := scan(r, records.AttendanceHeader, []string{"Date", "Full Name", "Group"}, func(line int, get func(string) string) error {
		raw := get("Date")
		date, ok := records.ParseDate(raw)
		if !ok {
			return &LineError{Line: line, Err: fmt.Errorf("unreadable date %q", raw)}
		}
		a := records.CleanAttendance(records.Attendance{
			Date:             date,
			MembershipNumber: get("Membership Number"),
			FullName:         get("Full Name"),
			Group:            get("Group"),
		})
		if ts := records.CleanValue(get("Timestamp")); ts != "" {
			if parsed, err := parseTimestamp(ts); err == nil {
				a.Timestamp = parsed
			} else {
				return &LineError{Line: line, Err: err}
			}
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

// scan reads the header, checks required columns, and calls row for each
// non-blank record with a lookup by column name.
func scan(r io.Reader, known sheets.Row, required []string, row func(line int, get func(string) string) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("interchange: read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	t := sheets.Table{Header: header}
	cols := make(map[string]int, len(known))
	for _, name := range known {
		cols[name] = t.Column(name)
	}
	for _, name := range required {
		if cols[name] < 0 {
			return fmt.Errorf("%w %q", ErrMissingColumn, name)
		}
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("interchange: %w", err)
		}
		if blankRecord(rec) {
			continue
		}
		line, _ := cr.FieldPos(0)
		get := func(name string) string { return sheets.Row(rec).Cell(cols[name]) }
		if err := row(line, get); err != nil {
			return err
		}
	}
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(records.TimestampLayout, s)
	if err == nil {
		return t, nil
	}
	if t, err2 := time.Parse(time.RFC3339, s); err2 == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unreadable timestamp %q", s)
}
