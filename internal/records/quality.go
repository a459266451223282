package records

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// QualityReport lists data problems found in the stored tables.
type QualityReport struct {
	GeneratedAt         time.Time        `json:"generated_at"`
	Members             int              `json:"members"`
	AttendanceRecords   int              `json:"attendance_records"`
	DuplicateMembers    []DuplicateGroup `json:"duplicate_members"`
	IncompleteMembers   []Member         `json:"incomplete_members"`
	OrphanedNames       []string         `json:"orphaned_names"`
	FutureAttendance    []Attendance     `json:"future_attendance"`
	DuplicateAttendance []AttendanceKey  `json:"duplicate_attendance"`
	FirstDate           string           `json:"first_date,omitempty"`
	LastDate            string           `json:"last_date,omitempty"`
	Issues              []string         `json:"issues"`
}

// QualityReport reads both tables bypassing the cache.
func (s *Store) QualityReport(ctx context.Context) (QualityReport, error) {
	members, err := s.LoadMembers(ctx, false)
	if err != nil {
		return QualityReport{}, err
	}
	att, err := s.LoadAttendance(ctx, false, AttendanceFilter{})
	if err != nil {
		return QualityReport{}, err
	}
	return buildQualityReport(members, att, s.clock.Now()), nil
}

func buildQualityReport(members []Member, att []Attendance, now time.Time) QualityReport {
	r := QualityReport{
		GeneratedAt:         now,
		Members:             len(members),
		AttendanceRecords:   len(att),
		DuplicateMembers:    findDuplicateMembers(members),
		IncompleteMembers:   []Member{},
		OrphanedNames:       []string{},
		FutureAttendance:    []Attendance{},
		DuplicateAttendance: []AttendanceKey{},
		Issues:              []string{},
	}
	if r.DuplicateMembers == nil {
		r.DuplicateMembers = []DuplicateGroup{}
	}

	known := make(map[string]bool, len(members))
	for _, m := range members {
		if m.FullName == "" || m.Group == "" {
			r.IncompleteMembers = append(r.IncompleteMembers, m)
		}
		if k := NormalizeKey(m.FullName); k != "" {
			known[k] = true
		}
	}

	today := DateOnly(now)
	orphans := map[string]string{}
	counts := map[AttendanceKey]int{}
	var first, last time.Time
	for _, a := range att {
		if k := NormalizeKey(a.FullName); !known[k] {
			if _, ok := orphans[k]; !ok {
				orphans[k] = a.FullName
			}
		}
		if a.Date.After(today) {
			r.FutureAttendance = append(r.FutureAttendance, a)
		}
		k := a.Key()
		counts[k]++
		if counts[k] == 2 {
			r.DuplicateAttendance = append(r.DuplicateAttendance, k)
		}
		if first.IsZero() || a.Date.Before(first) {
			first = a.Date
		}
		if a.Date.After(last) {
			last = a.Date
		}
	}
	for _, name := range orphans {
		r.OrphanedNames = append(r.OrphanedNames, name)
	}
	sort.Strings(r.OrphanedNames)
	if !first.IsZero() {
		r.FirstDate = first.Format(DateLayout)
		r.LastDate = last.Format(DateLayout)
	}

	if n := len(r.DuplicateMembers); n > 0 {
		r.Issues = append(r.Issues, fmt.Sprintf("%d groups of duplicate member records", n))
	}
	if n := len(r.IncompleteMembers); n > 0 {
		r.Issues = append(r.Issues, fmt.Sprintf("%d members missing a full name or group", n))
	}
	if n := len(r.OrphanedNames); n > 0 {
		r.Issues = append(r.Issues, fmt.Sprintf("%d names in attendance are not in the member list", n))
	}
	if n := len(r.FutureAttendance); n > 0 {
		r.Issues = append(r.Issues, fmt.Sprintf("%d attendance records dated in the future", n))
	}
	if n := len(r.DuplicateAttendance); n > 0 {
		r.Issues = append(r.Issues, fmt.Sprintf("%d duplicated attendance entries", n))
	}
	return r
}
