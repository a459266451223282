package records

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"time"

	"rollbook/internal/sheets"
)

// Backend table names and their header rows.
const (
	MembersTable    = "Members"
	AttendanceTable = "Attendance"
)

var (
	MembersHeader    = sheets.Row{"Membership Number", "Full Name", "Group", "Email", "Phone"}
	AttendanceHeader = sheets.Row{"Date", "Membership Number", "Full Name", "Group", "Status", "Timestamp"}
)

const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02 15:04:05"

	// StatusPresent is the only status ever stored; absences are not rows.
	StatusPresent = "present"
)

// Cache key prefixes, one per table.
const (
	membersCache    = "members"
	attendanceCache = "attendance"
)

// Member is a person tracked for attendance. Empty string is the only
// representation of an absent optional field.
type Member struct {
	MembershipNumber string `json:"membership_number"`
	FullName         string `json:"full_name"`
	Group            string `json:"group"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
}

// MemberKey identifies duplicate members.
type MemberKey struct {
	FullName string `json:"full_name"`
	Group    string `json:"group"`
}

func (m Member) Key() MemberKey {
	return MemberKey{FullName: NormalizeKey(m.FullName), Group: NormalizeKey(m.Group)}
}

// Attendance is one person present at one group meeting on one date.
type Attendance struct {
	Date             time.Time
	MembershipNumber string
	FullName         string
	Group            string
	Status           string
	Timestamp        time.Time
}

// AttendanceKey is the natural key of an attendance row.
type AttendanceKey struct {
	Date     time.Time
	FullName string
	Group    string
}

func (a Attendance) Key() AttendanceKey {
	return NewAttendanceKey(a.Date, a.FullName, a.Group)
}

// NewAttendanceKey normalizes the parts of a natural key.
func NewAttendanceKey(date time.Time, fullName, group string) AttendanceKey {
	return AttendanceKey{Date: DateOnly(date), FullName: NormalizeKey(fullName), Group: NormalizeKey(group)}
}

func (k AttendanceKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Date.Format(DateLayout), k.FullName, k.Group)
}

type attendanceJSON struct {
	Date             string `json:"date"`
	MembershipNumber string `json:"membership_number"`
	FullName         string `json:"full_name"`
	Group            string `json:"group"`
	Status           string `json:"status,omitempty"`
	Timestamp        string `json:"timestamp,omitempty"`
}

func (a Attendance) MarshalJSON() ([]byte, error) {
	out := attendanceJSON{
		MembershipNumber: a.MembershipNumber,
		FullName:         a.FullName,
		Group:            a.Group,
		Status:           a.Status,
	}
	if !a.Date.IsZero() {
		out.Date = a.Date.Format(DateLayout)
	}
	if !a.Timestamp.IsZero() {
		out.Timestamp = a.Timestamp.Format(TimestampLayout)
	}
	return json.Marshal(out)
}

func (a *Attendance) UnmarshalJSON(b []byte) error {
	var in attendanceJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*a = Attendance{
		MembershipNumber: in.MembershipNumber,
		FullName:         in.FullName,
		Group:            in.Group,
		Status:           in.Status,
	}
	if in.Date != "" {
		d, err := time.Parse(DateLayout, in.Date)
		if err != nil {
			return fmt.Errorf("date: %w", err)
		}
		a.Date = d
	}
	if in.Timestamp != "" {
		ts, err := time.Parse(TimestampLayout, in.Timestamp)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		a.Timestamp = ts
	}
	return nil
}

func (k AttendanceKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(attendanceJSON{
		Date:     k.Date.Format(DateLayout),
		FullName: k.FullName,
		Group:    k.Group,
	})
}

func (k *AttendanceKey) UnmarshalJSON(b []byte) error {
	var a Attendance
	if err := a.UnmarshalJSON(b); err != nil {
		return err
	}
	*k = a.Key()
	return nil
}

// AttendanceFilter narrows LoadAttendance. Zero fields do not filter.
// From and To are inclusive dates.
type AttendanceFilter struct {
	From  time.Time
	To    time.Time
	Group string
}

func (f AttendanceFilter) IsZero() bool {
	return f.From.IsZero() && f.To.IsZero() && NormalizeKey(f.Group) == ""
}

func (f AttendanceFilter) params() url.Values {
	v := url.Values{}
	if !f.From.IsZero() {
		v.Set("from", f.From.Format(DateLayout))
	}
	if !f.To.IsZero() {
		v.Set("to", f.To.Format(DateLayout))
	}
	if g := NormalizeKey(f.Group); g != "" {
		v.Set("group", g)
	}
	return v
}

func (f AttendanceFilter) Match(a Attendance) bool {
	d := DateOnly(a.Date)
	if !f.From.IsZero() && d.Before(DateOnly(f.From)) {
		return false
	}
	if !f.To.IsZero() && d.After(DateOnly(f.To)) {
		return false
	}
	if g := NormalizeKey(f.Group); g != "" && NormalizeKey(a.Group) != g {
		return false
	}
	return true
}

func (f AttendanceFilter) Apply(in []Attendance) []Attendance {
	out := make([]Attendance, 0, len(in))
	for _, a := range in {
		if f.Match(a) {
			out = append(out, a)
		}
	}
	return out
}

// NameSet is a set of full names as stored.
type NameSet map[string]struct{}

// Has compares names after normalization.
func (s NameSet) Has(name string) bool {
	want := NormalizeKey(name)
	for n := range s {
		if NormalizeKey(n) == want {
			return true
		}
	}
	return false
}

func (s NameSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// SaveResult reports the outcome of SaveAttendance.
type SaveResult struct {
	Written     int             `json:"written"`
	Skipped     int             `json:"skipped"`
	SkippedKeys []AttendanceKey `json:"skipped_keys,omitempty"`
}

// MergeResult reports the outcome of MergeMembers.
type MergeResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// DuplicateGroup is a set of members sharing a MemberKey.
type DuplicateGroup struct {
	Key     MemberKey `json:"key"`
	Members []Member  `json:"members"`
}

// AttendanceChanges lists the fields an update replaces. Nil means unchanged.
type AttendanceChanges struct {
	Date             *time.Time `json:"-"`
	MembershipNumber *string    `json:"membership_number,omitempty"`
	FullName         *string    `json:"full_name,omitempty"`
	Group            *string    `json:"group,omitempty"`
}

func (c AttendanceChanges) apply(a Attendance) Attendance {
	if c.Date != nil {
		a.Date = *c.Date
	}
	if c.MembershipNumber != nil {
		a.MembershipNumber = *c.MembershipNumber
	}
	if c.FullName != nil {
		a.FullName = *c.FullName
	}
	if c.Group != nil {
		a.Group = *c.Group
	}
	return a
}

// DateOnly truncates t to its calendar date at UTC midnight.
func DateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
