package records

import (
	"encoding/json"
	"testing"
	"time"

	"rollbook/internal/sheets"
)

func TestCleanValue(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"  Jane   Doe ": "Jane Doe",
		"nan":           "",
		"NaN":           "",
		" None ":        "",
		"N/A":           "",
		"--":            "",
		"Nana":          "Nana",
		"":              "",
	}
	for in, want := range cases {
		if got := CleanValue(in); got != want {
			t.Errorf("CleanValue(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestCleanMembershipNumber(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"1001.0": "1001",
		"1001":   "1001",
		"A1.0":   "A1.0",
		".0":     ".0",
		"null":   "",
	}
	for in, want := range cases {
		if got := cleanMembershipNumber(in); got != want {
			t.Errorf("cleanMembershipNumber(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestParseDate(t *testing.T) {
	t.Parallel()
	want := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-03-10", "2024-03-10 18:30:00", "2024/03/10", "03/10/2024", "3/10/2024"} {
		got, ok := ParseDate(in)
		if !ok || !got.Equal(want) {
			t.Errorf("ParseDate(%q)=%v,%v, want %v", in, got, ok, want)
		}
	}
	for _, in := range []string{"", "nan", "yesterday"} {
		if _, ok := ParseDate(in); ok {
			t.Errorf("ParseDate(%q) ok, want failure", in)
		}
	}
}

func TestAttendanceRows_KeepsIndexesAndDropsBadRows(t *testing.T) {
	t.Parallel()
	tbl := sheets.Table{
		Header: sheets.Row{"Full Name", "Date", "Group"},
		Rows: []sheets.Row{
			{"Jane Doe", "2024-03-10", "Youth"},
			{"", "", ""},
			{"Ghost", "someday", "Youth"},
			{"John Roe", "3/10/2024", "Adults"},
		},
	}
	rows, dropped := attendanceRows(tbl)
	if dropped != 1 {
		t.Fatalf("dropped=%d, want 1", dropped)
	}
	if len(rows) != 2 || rows[0].index != 0 || rows[1].index != 3 {
		t.Fatalf("rows=%+v", rows)
	}
	if rows[1].rec.Status != StatusPresent {
		t.Fatalf("status=%q", rows[1].rec.Status)
	}
}

func TestAttendanceRow_FollowsTableHeader(t *testing.T) {
	t.Parallel()
	a := Attendance{
		Date:      time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		FullName:  "Jane Doe",
		Group:     "Youth",
		Timestamp: time.Date(2024, 3, 10, 9, 15, 0, 0, time.UTC),
	}
	row := attendanceRow(sheets.Row{"group", "Full Name", "Notes", "Date", "Status", "Timestamp"}, a)
	want := sheets.Row{"Youth", "Jane Doe", "", "2024-03-10", "Present", "2024-03-10 09:15:00"}
	for i := range want {
		if row.Cell(i) != want[i] {
			t.Fatalf("row=%v, want %v", row, want)
		}
	}
	if got := attendanceRow(nil, a); len(got) != len(AttendanceHeader) {
		t.Fatalf("row without header=%v", got)
	}
}

func TestAttendanceJSON(t *testing.T) {
	t.Parallel()
	in := Attendance{
		Date:      time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		FullName:  "Jane Doe",
		Group:     "Youth",
		Status:    StatusPresent,
		Timestamp: time.Date(2024, 3, 10, 9, 15, 0, 0, time.UTC),
	}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() err=%v", err)
	}
	const want = `{"date":"2024-03-10","membership_number":"","full_name":"Jane Doe","group":"Youth","status":"present","timestamp":"2024-03-10 09:15:00"}`
	if string(b) != want {
		t.Fatalf("Marshal()=%s\nwant %s", b, want)
	}
	var out Attendance
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal() err=%v", err)
	}
	if !out.Date.Equal(in.Date) || !out.Timestamp.Equal(in.Timestamp) || out.FullName != in.FullName || out.Status != in.Status {
		t.Fatalf("Unmarshal()=%+v, want %+v", out, in)
	}
	if err := json.Unmarshal([]byte(`{"date":"10 March"}`), &out); err == nil {
		t.Fatalf("Unmarshal(bad date) err=nil")
	}
}
