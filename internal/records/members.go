package records

import (
	"context"
	"fmt"
	"log"

	"rollbook/internal/cache"
	"rollbook/internal/gate"
	"rollbook/internal/sheets"
)

// LoadMembers returns every member, from the cache when useCache is set
// and a valid entry exists. An empty table yields an empty slice.
func (s *Store) LoadMembers(ctx context.Context, useCache bool) ([]Member, error) {
	return loadCached(ctx, s, membersCache, cache.Key(membersCache, "load", nil), useCache, s.fetchMembers)
}

func (s *Store) fetchMembers(ctx context.Context) ([]Member, error) {
	const op = "load_members"
	sess, err := s.session(ctx, op)
	if err != nil {
		return nil, err
	}
	t, err := s.readTable(ctx, sess, MembersTable, MembersHeader)
	if err != nil {
		return nil, s.backendError(op, err)
	}
	return membersFromTable(t), nil
}

// SaveMembers replaces the member table in one batch. The whole batch is
// rejected before any backend call if one record is invalid.
func (s *Store) SaveMembers(ctx context.Context, members []Member) error {
	const op = "save_members"
	cleaned, err := validateMembers(op, members)
	if err != nil {
		return err
	}

	s.membersMu.Lock()
	defer s.membersMu.Unlock()

	sess, err := s.session(ctx, op)
	if err != nil {
		return err
	}
	return s.replaceMembers(ctx, sess, op, cleaned)
}

// AddMember appends one member unless a member with the same normalized
// name and group exists.
func (s *Store) AddMember(ctx context.Context, m Member) (Member, error) {
	const op = "add_member"
	cleaned, err := validateMembers(op, []Member{m})
	if err != nil {
		return Member{}, err
	}
	m = cleaned[0]

	s.membersMu.Lock()
	defer s.membersMu.Unlock()

	sess, err := s.session(ctx, op)
	if err != nil {
		return Member{}, err
	}
	t, err := s.readTable(ctx, sess, MembersTable, MembersHeader)
	if err != nil {
		return Member{}, s.backendError(op, err)
	}
	current := membersFromTable(t)
	key := m.Key()
	for _, c := range current {
		if c.Key() == key {
			return Member{}, &Error{
				Kind:    KindDuplicate,
				Op:      op,
				Message: fmt.Sprintf("%s is already a member of %s", c.FullName, c.Group),
				Details: map[string]any{"full_name": c.FullName, "group": c.Group},
			}
		}
	}

	if err := s.replaceMembers(ctx, sess, op, append(current, m)); err != nil {
		return Member{}, err
	}
	log.Printf("records: added member %q to %q", m.FullName, m.Group)
	return m, nil
}

// MergeMembers adds the members whose normalized name and group are not
// stored yet, in one replace. Used by bulk import.
func (s *Store) MergeMembers(ctx context.Context, members []Member) (MergeResult, error) {
	const op = "merge_members"
	cleaned, err := validateMembers(op, members)
	if err != nil {
		return MergeResult{}, err
	}
	if len(cleaned) == 0 {
		return MergeResult{}, nil
	}

	s.membersMu.Lock()
	defer s.membersMu.Unlock()

	sess, err := s.session(ctx, op)
	if err != nil {
		return MergeResult{}, err
	}
	t, err := s.readTable(ctx, sess, MembersTable, MembersHeader)
	if err != nil {
		return MergeResult{}, s.backendError(op, err)
	}
	current := membersFromTable(t)
	seen := make(map[MemberKey]bool, len(current)+len(cleaned))
	for _, c := range current {
		seen[c.Key()] = true
	}
	var res MergeResult
	for _, m := range cleaned {
		k := m.Key()
		if seen[k] {
			res.Skipped++
			continue
		}
		seen[k] = true
		current = append(current, m)
		res.Added++
	}
	if res.Added == 0 {
		return res, nil
	}
	if err := s.replaceMembers(ctx, sess, op, current); err != nil {
		return MergeResult{}, err
	}
	log.Printf("records: merged %d members, skipped %d", res.Added, res.Skipped)
	return res, nil
}

// FindDuplicates groups members sharing a normalized name and group.
func (s *Store) FindDuplicates(ctx context.Context) ([]DuplicateGroup, error) {
	members, err := s.LoadMembers(ctx, true)
	if err != nil {
		return nil, err
	}
	return findDuplicateMembers(members), nil
}

func (s *Store) replaceMembers(ctx context.Context, sess sheets.Session, op string, members []Member) error {
	rows := make([]sheets.Row, 0, len(members))
	for _, m := range members {
		rows = append(rows, memberRow(m))
	}
	replace := func(ctx context.Context) error {
		return sess.ReplaceRows(ctx, MembersTable, MembersHeader, rows)
	}
	err := s.gate.Do(ctx, gate.Write, "replace_rows", replace)
	if isTableNotFound(err) {
		if err = s.createTable(ctx, sess, MembersTable, MembersHeader); err == nil {
			err = s.gate.Do(ctx, gate.Write, "replace_rows", replace)
		}
	}
	if err != nil {
		return s.backendError(op, err)
	}
	s.invalidate(ctx, membersCache)
	return nil
}

func validateMembers(op string, members []Member) ([]Member, error) {
	out := make([]Member, 0, len(members))
	problems := map[string]any{}
	for i, m := range members {
		c := CleanMember(m)
		var missing []string
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
		msg := "full name and group are required"
		if len(members) > 1 {
			msg = fmt.Sprintf("%d of %d members are missing a full name or group", len(problems), len(members))
		}
		return nil, validationError(op, msg, problems)
	}
	return out, nil
}

func findDuplicateMembers(members []Member) []DuplicateGroup {
	var order []MemberKey
	groups := make(map[MemberKey][]Member)
	for _, m := range members {
		k := m.Key()
		if k.FullName == "" {
			continue
		}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], m)
	}
	var out []DuplicateGroup
	for _, k := range order {
		if len(groups[k]) > 1 {
			out = append(out, DuplicateGroup{Key: k, Members: groups[k]})
		}
	}
	return out
}
