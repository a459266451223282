package records

import (
	"strings"
	"time"

	"rollbook/internal/sheets"
)

var emptyTokens = map[string]bool{
	"nan":  true,
	"none": true,
	"null": true,
	"n/a":  true,
	"na":   true,
	"-":    true,
	"--":   true,
}

var dateLayouts = []string{
	DateLayout,
	TimestampLayout,
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
}

// NormalizeKey is the comparison form of a name or group: whitespace
// collapsed and lowercased.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// CleanValue trims and collapses whitespace and maps empty-like
// placeholders to "".
func CleanValue(s string) string {
	v := strings.Join(strings.Fields(s), " ")
	if emptyTokens[strings.ToLower(v)] {
		return ""
	}
	return v
}

// cleanMembershipNumber undoes the float coercion spreadsheets apply to
// numeric ids ("1001.0" becomes "1001").
func cleanMembershipNumber(s string) string {
	v := CleanValue(s)
	if n := strings.TrimSuffix(v, ".0"); n != v && n != "" && isDigits(n) {
		return n
	}
	return v
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func CleanMember(m Member) Member {
	return Member{
		MembershipNumber: cleanMembershipNumber(m.MembershipNumber),
		FullName:         CleanValue(m.FullName),
		Group:            CleanValue(m.Group),
		Email:            CleanValue(m.Email),
		Phone:            CleanValue(m.Phone),
	}
}

func CleanAttendance(a Attendance) Attendance {
	return Attendance{
		Date:             DateOnly(a.Date),
		MembershipNumber: cleanMembershipNumber(a.MembershipNumber),
		FullName:         CleanValue(a.FullName),
		Group:            CleanValue(a.Group),
		Status:           StatusPresent,
		Timestamp:        a.Timestamp,
	}
}

// ParseDate accepts the date shapes spreadsheets commonly hold.
func ParseDate(s string) (time.Time, bool) {
	s = CleanValue(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOnly(t), true
		}
	}
	return time.Time{}, false
}

func parseTimestamp(s string) time.Time {
	s = CleanValue(s)
	for _, layout := range []string{TimestampLayout, time.RFC3339, DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// columns maps header names to indexes of a table.
type columns map[string]int

func columnsOf(t sheets.Table, header sheets.Row) columns {
	c := make(columns, len(header))
	for _, name := range header {
		c[name] = t.Column(name)
	}
	return c
}

func (c columns) get(r sheets.Row, name string) string {
	return r.Cell(c[name])
}

func blank(r sheets.Row) bool {
	for _, v := range r {
		if CleanValue(v) != "" {
			return false
		}
	}
	return true
}

// membersFromTable converts raw rows; rows with every field empty are
// dropped. Columns are found by header name.
func membersFromTable(t sheets.Table) []Member {
	cols := columnsOf(t, MembersHeader)
	out := make([]Member, 0, len(t.Rows))
	for _, r := range t.Rows {
		if blank(r) {
			continue
		}
		m := CleanMember(Member{
			MembershipNumber: cols.get(r, "Membership Number"),
			FullName:         cols.get(r, "Full Name"),
			Group:            cols.get(r, "Group"),
			Email:            cols.get(r, "Email"),
			Phone:            cols.get(r, "Phone"),
		})
		if m == (Member{}) {
			continue
		}
		out = append(out, m)
	}
	return out
}

type indexedAttendance struct {
	index int
	rec   Attendance
}

// attendanceRows converts raw rows keeping their data-row index. Rows
// with an unparseable date or no name are dropped and counted.
func attendanceRows(t sheets.Table) (rows []indexedAttendance, dropped int) {
	cols := columnsOf(t, AttendanceHeader)
	rows = make([]indexedAttendance, 0, len(t.Rows))
	for i, r := range t.Rows {
		if blank(r) {
			continue
		}
		date, ok := ParseDate(cols.get(r, "Date"))
		name := CleanValue(cols.get(r, "Full Name"))
		if !ok || name == "" {
			dropped++
			continue
		}
		a := CleanAttendance(Attendance{
			Date:             date,
			MembershipNumber: cols.get(r, "Membership Number"),
			FullName:         name,
			Group:            cols.get(r, "Group"),
			Timestamp:        parseTimestamp(cols.get(r, "Timestamp")),
		})
		rows = append(rows, indexedAttendance{index: i, rec: a})
	}
	return rows, dropped
}

func attendanceFromTable(t sheets.Table) ([]Attendance, int) {
	rows, dropped := attendanceRows(t)
	out := make([]Attendance, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.rec)
	}
	return out, dropped
}

// layoutRow places values under the table's own header, falling back to
// the canonical header when the table has none.
func layoutRow(header, canonical sheets.Row, values map[string]string) sheets.Row {
	if len(header) == 0 {
		header = canonical
	}
	row := make(sheets.Row, len(header))
	for i, h := range header {
		for name, v := range values {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				row[i] = v
				break
			}
		}
	}
	return row
}

func memberValues(m Member) map[string]string {
	return map[string]string{
		"Membership Number": m.MembershipNumber,
		"Full Name":         m.FullName,
		"Group":             m.Group,
		"Email":             m.Email,
		"Phone":             m.Phone,
	}
}

func attendanceValues(a Attendance) map[string]string {
	ts := ""
	if !a.Timestamp.IsZero() {
		ts = a.Timestamp.Format(TimestampLayout)
	}
	return map[string]string{
		"Date":              a.Date.Format(DateLayout),
		"Membership Number": a.MembershipNumber,
		"Full Name":         a.FullName,
		"Group":             a.Group,
		"Status":            "Present",
		"Timestamp":         ts,
	}
}

func memberRow(m Member) sheets.Row {
	return layoutRow(MembersHeader, MembersHeader, memberValues(m))
}

func attendanceRow(header sheets.Row, a Attendance) sheets.Row {
	return layoutRow(header, AttendanceHeader, attendanceValues(a))
}
