package interchange

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"rollbook/internal/records"
)

func TestMembersRoundTrip(t *testing.T) {
	t.Parallel()
	in := []records.Member{
		{MembershipNumber: "1001", FullName: "Jane Doe", Group: "Youth", Email: "jane@example.com"},
		{FullName: "Roe, John", Group: "Adults", Phone: "+44 20 7946 0000"},
	}
	var buf bytes.Buffer
	if err := WriteMembers(&buf, in); err != nil {
		t.Fatalf("WriteMembers() err=%v", err)
	}
	if !strings.HasPrefix(buf.String(), "Membership Number,Full Name,Group,Email,Phone\n") {
		t.Fatalf("header line=%q", strings.SplitN(buf.String(), "\n", 2)[0])
	}
	out, err := ReadMembers(&buf)
	if err != nil {
		t.Fatalf("ReadMembers() err=%v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("ReadMembers()=%+v", out)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("member %d=%+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestReadMembers_HeadersAnyOrderAndCase(t *testing.T) {
	t.Parallel()
	src := "\ufeffgroup,FULL NAME,notes\nYouth,  Jane  Doe ,x\n,,\nAdults,John Roe,\n"
	out, err := ReadMembers(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ReadMembers() err=%v", err)
	}
	if len(out) != 2 || out[0].FullName != "Jane Doe" || out[1].Group != "Adults" {
		t.Fatalf("ReadMembers()=%+v", out)
	}
}

func TestReadMembers_MissingColumn(t *testing.T) {
	t.Parallel()
	_, err := ReadMembers(strings.NewReader("Full Name,Email\nJane Doe,j@x\n"))
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("ReadMembers() err=%v, want missing column", err)
	}
}

func TestReadMembers_Empty(t *testing.T) {
	t.Parallel()
	out, err := ReadMembers(strings.NewReader(""))
	if err != nil || len(out) != 0 {
		t.Fatalf("ReadMembers(empty)=%v,%v", out, err)
	}
}

func TestAttendanceRoundTrip(t *testing.T) {
	t.Parallel()
	in := []records.Attendance{{
		Date:      time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		FullName:  "Jane Doe",
		Group:     "Youth",
		Status:    records.StatusPresent,
		Timestamp: time.Date(2024, 3, 10, 9, 15, 0, 0, time.UTC),
	}}
	var buf bytes.Buffer
	if err := WriteAttendance(&buf, in); err != nil {
		t.Fatalf("WriteAttendance() err=%v", err)
	}
	out, err := ReadAttendance(&buf)
	if err != nil {
		t.Fatalf("ReadAttendance() err=%v", err)
	}
	if len(out) != 1 {
		t.Fatalf("ReadAttendance()=%+v", out)
	}
	got := out[0]
	if !got.Date.Equal(in[0].Date) || !got.Timestamp.Equal(in[0].Timestamp) || got.Key() != in[0].Key() || got.Status != records.StatusPresent {
		t.Fatalf("ReadAttendance()=%+v, want %+v", got, in[0])
	}
}

func TestReadAttendance_ReportsLine(t *testing.T) {
	t.Parallel()
	src := "Date,Full Name,Group\n2024-03-10,Jane Doe,Youth\n\nsometime,John Roe,Adults\n"
	_, err := ReadAttendance(strings.NewReader(src))
	var le *LineError
	if !errors.As(err, &le) {
		t.Fatalf("ReadAttendance() err=%v, want *LineError", err)
	}
	if le.Line != 4 {
		t.Fatalf("line=%d, want 4", le.Line)
	}
}
