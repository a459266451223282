// Package sheetstest holds the behaviour every sheets.Connector adapter must share.
package sheetstest

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"rollbook/internal/sheets"
)

type CleanupFunc = func()

type ConnectorFactory func(t *testing.T) (sheets.Connector, CleanupFunc)

func RunSession(t *testing.T, newConnector ConnectorFactory) {
	t.Helper()
	ctx := context.Background()

	c, cleanup := newConnector(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	s, err := c.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Probe(ctx); err != nil {
		t.Fatalf("Probe: %v", err)
	}

	if _, err := s.ReadTable(ctx, "Members"); !errors.Is(err, sheets.ErrTableNotFound) {
		t.Fatalf("ReadTable(missing) err=%v, want ErrTableNotFound", err)
	}

	header := sheets.Row{"Full Name", "Group"}
	if err := s.CreateTable(ctx, "Members", header); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	names, err := s.ListTables(ctx)
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if !contains(names, "Members") {
		t.Fatalf("ListTables()=%v, want Members", names)
	}

	got, err := s.ReadTable(ctx, "Members")
	if err != nil {
		t.Fatalf("ReadTable(empty): %v", err)
	}
	if !reflect.DeepEqual(got.Header, header) || len(got.Rows) != 0 {
		t.Fatalf("ReadTable(empty)=%+v", got)
	}

	if err := s.AppendRows(ctx, "Members", []sheets.Row{{"Jane Doe", "Youth"}, {"John Roe", "Adults"}}); err != nil {
		t.Fatalf("AppendRows: %v", err)
	}
	if err := s.AppendRows(ctx, "Members", []sheets.Row{{"Ann Poe", "Choir"}}); err != nil {
		t.Fatalf("AppendRows(second): %v", err)
	}
	got = mustRead(t, s, "Members")
	wantRows := []sheets.Row{{"Jane Doe", "Youth"}, {"John Roe", "Adults"}, {"Ann Poe", "Choir"}}
	if !reflect.DeepEqual(got.Rows, wantRows) {
		t.Fatalf("rows after append=%v, want %v", got.Rows, wantRows)
	}

	if err := s.UpdateRow(ctx, "Members", 1, sheets.Row{"John Roe", "Choir"}); err != nil {
		t.Fatalf("UpdateRow: %v", err)
	}
	if err := s.DeleteRow(ctx, "Members", 0); err != nil {
		t.Fatalf("DeleteRow: %v", err)
	}
	got = mustRead(t, s, "Members")
	wantRows = []sheets.Row{{"John Roe", "Choir"}, {"Ann Poe", "Choir"}}
	if !reflect.DeepEqual(got.Rows, wantRows) {
		t.Fatalf("rows after update/delete=%v, want %v", got.Rows, wantRows)
	}

	if err := s.DeleteRow(ctx, "Members", 5); !errors.Is(err, sheets.ErrRowOutOfRange) {
		t.Fatalf("DeleteRow(out of range) err=%v, want ErrRowOutOfRange", err)
	}
	if err := s.UpdateRow(ctx, "Members", -1, sheets.Row{"x", "y"}); !errors.Is(err, sheets.ErrRowOutOfRange) {
		t.Fatalf("UpdateRow(out of range) err=%v, want ErrRowOutOfRange", err)
	}

	// ReplaceRows shrinks the table and rewrites the header.
	newHeader := sheets.Row{"Full Name", "Group", "Email"}
	if err := s.ReplaceRows(ctx, "Members", newHeader, []sheets.Row{{"Solo", "Youth", "solo@example.com"}}); err != nil {
		t.Fatalf("ReplaceRows: %v", err)
	}
	got = mustRead(t, s, "Members")
	if !reflect.DeepEqual(got.Header, newHeader) {
		t.Fatalf("header after replace=%v, want %v", got.Header, newHeader)
	}
	if len(got.Rows) != 1 || got.Rows[0].Cell(2) != "solo@example.com" {
		t.Fatalf("rows after replace=%v", got.Rows)
	}

	if err := s.ReplaceRows(ctx, "Members", newHeader, nil); err != nil {
		t.Fatalf("ReplaceRows(empty): %v", err)
	}
	if got = mustRead(t, s, "Members"); len(got.Rows) != 0 {
		t.Fatalf("rows after empty replace=%v", got.Rows)
	}

	if err := s.AppendRows(ctx, "Attendance", []sheets.Row{{"x"}}); !errors.Is(err, sheets.ErrTableNotFound) {
		t.Fatalf("AppendRows(missing) err=%v, want ErrTableNotFound", err)
	}
}

func mustRead(t *testing.T, s sheets.Session, name string) sheets.Table {
	t.Helper()
	got, err := s.ReadTable(context.Background(), name)
	if err != nil {
		t.Fatalf("ReadTable(%s): %v", name, err)
	}
	return got
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
